// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion sequences UWB position packets and IMU samples through
// the Kalman estimator.
package fusion

import (
	"context"
	"errors"
	"log"
	"sync"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/kalman"
	"github.com/relabs-tech/indoor_positioning/internal/uwb"
)

var ErrAlreadyStarted = errors.New("orchestrator already started")

// Sampler supplies the latest world-frame IMU sample.
type Sampler interface {
	Sample() imu.Sample
}

// Stage is an IMU stage: a Sink for sensor vectors and a Sampler.
type Stage interface {
	imu.Sink
	Sampler
}

// EstimateListener receives every estimate produced by HandlePacket.
// Listeners run on the caller's goroutine and must not block.
type EstimateListener interface {
	OnEstimate(kalman.Estimate)
}

// ListenerFunc adapts a function to EstimateListener.
type ListenerFunc func(kalman.Estimate)

func (f ListenerFunc) OnEstimate(e kalman.Estimate) { f(e) }

// Orchestrator owns the tracking lifecycle.
type Orchestrator struct {
	mu sync.Mutex

	stage     Stage
	source    imu.Source
	estimator *kalman.Estimator
	listeners []EstimateListener

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	packets metrics.Counter
	dropped metrics.Counter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSource sets the IMU source started and stopped with the orchestrator.
// Without it, sensor vectors are expected to be pushed into the stage by
// the caller.
func WithSource(src imu.Source) Option {
	return func(o *Orchestrator) { o.source = src }
}

// WithRegistry registers packet counters in r instead of the default
// registry.
func WithRegistry(r metrics.Registry) Option {
	return func(o *Orchestrator) {
		o.packets = metrics.GetOrRegisterCounter("fusion.packets", r)
		o.dropped = metrics.GetOrRegisterCounter("fusion.packets_dropped", r)
	}
}

func New(stage Stage, est *kalman.Estimator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stage:     stage,
		estimator: est,
	}
	WithRegistry(metrics.DefaultRegistry)(o)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddListener registers l for subsequent estimates.
func (o *Orchestrator) AddListener(l EstimateListener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// Start begins IMU sampling. Packets are accepted until Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrAlreadyStarted
	}
	o.running = true

	if o.source == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done
	go func() {
		defer close(done)
		if err := o.source.Run(ctx, o.stage); err != nil {
			log.Printf("fusion: IMU source stopped: %v", err)
		}
	}()
	return nil
}

// Stop halts IMU sampling and discards the tracking session. It waits for
// the IMU source to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.estimator.Reset()
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether the orchestrator accepts packets.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// ResetTracking discards the current session without stopping IMU
// sampling. The next fix starts a new session.
func (o *Orchestrator) ResetTracking() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.estimator.Reset()
}

// HandlePacket runs one fusion cycle for a raw tag packet.
//
// The first fix of a session only configures the estimator and yields no
// estimate. Packets of the wrong length, or received while stopped, are
// dropped. ok is false whenever no estimate was produced.
func (o *Orchestrator) HandlePacket(p []byte) (kalman.Estimate, bool, error) {
	o.mu.Lock()
	est, ok, err := o.handle(p)
	listeners := o.listeners
	o.mu.Unlock()

	if ok {
		for _, l := range listeners {
			l.OnEstimate(est)
		}
	}
	return est, ok, err
}

func (o *Orchestrator) handle(p []byte) (kalman.Estimate, bool, error) {
	o.packets.Inc(1)

	if !o.running {
		o.dropped.Inc(1)
		return kalman.Estimate{}, false, nil
	}
	if err := uwb.CheckLength(p); err != nil {
		o.dropped.Inc(1)
		log.Printf("fusion: dropping packet: %v", err)
		return kalman.Estimate{}, false, nil
	}

	fix := uwb.Decode(p)
	if !o.estimator.Configured() {
		o.estimator.Configure(kalman.PositionOf(fix))
		log.Printf("fusion: tracking session %s started at (%.3f, %.3f, %.3f)",
			o.estimator.Session(), fix.X, fix.Y, fix.Z)
		return kalman.Estimate{}, false, nil
	}

	sample := o.stage.Sample()
	if err := o.estimator.Predict(sample.Acceleration); err != nil {
		return kalman.Estimate{}, false, err
	}
	return o.estimator.Update(fix, sample.Acceleration, sample.Orientation)
}
