// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/kalman"
	"github.com/relabs-tech/indoor_positioning/internal/uwb"
)

type recordingSink struct {
	acc, grv, mag []imu.Vector
}

func (s *recordingSink) SetAccelerometer(v imu.Vector) { s.acc = append(s.acc, v) }
func (s *recordingSink) SetGravity(v imu.Vector)       { s.grv = append(s.grv, v) }
func (s *recordingSink) SetMagneticField(v imu.Vector) { s.mag = append(s.mag, v) }

func TestApplyReading(t *testing.T) {
	sink := &recordingSink{}

	require.NoError(t, applyReading(sink, []byte(`{"source":"host","kind":"acc","x":0.1,"y":0.2,"z":9.8}`)))
	require.NoError(t, applyReading(sink, []byte(`{"kind":"GRV","x":0,"y":0,"z":9.81}`)))
	require.NoError(t, applyReading(sink, []byte(`{"kind":"mag","x":22,"y":5,"z":-40}`)))

	assert.Equal(t, []imu.Vector{{X: 0.1, Y: 0.2, Z: 9.8}}, sink.acc)
	assert.Equal(t, []imu.Vector{{Z: 9.81}}, sink.grv)
	assert.Equal(t, []imu.Vector{{X: 22, Y: 5, Z: -40}}, sink.mag)
}

func TestApplyReadingErrors(t *testing.T) {
	sink := &recordingSink{}

	assert.Error(t, applyReading(sink, []byte(`not json`)))
	err := applyReading(sink, []byte(`{"kind":"gyro","x":1}`))
	assert.ErrorIs(t, err, imu.ErrUnknownKind)
	assert.Empty(t, sink.acc)
}

func TestTeeSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	tee := teeSink{a, b}

	tee.SetAccelerometer(imu.Vector{X: 1})
	tee.SetGravity(imu.Vector{Y: 2})
	tee.SetMagneticField(imu.Vector{Z: 3})

	for _, s := range []*recordingSink{a, b} {
		assert.Len(t, s.acc, 1)
		assert.Len(t, s.grv, 1)
		assert.Len(t, s.mag, 1)
	}
}

func TestPrintEstimate(t *testing.T) {
	var buf bytes.Buffer
	printEstimate(&buf, kalman.Estimate{
		Seq:      7,
		Raw:      uwb.LocationFix{X: 1.25, Y: -0.5, Z: 1.5, Quality: 90},
		Filtered: kalman.Position{X: 1.2, Y: -0.45, Z: 1.5},
	})

	out := buf.String()
	assert.Contains(t, out, "[EST    7]")
	assert.Contains(t, out, "raw x= 1.250 y=-0.500")
	assert.Contains(t, out, "q=  90")
	assert.Contains(t, out, "filtered x= 1.200 y=-0.450 z= 1.500")
}

func TestFormatCounters(t *testing.T) {
	r := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("b.second", r).Inc(2)
	metrics.GetOrRegisterCounter("a.first", r).Inc(5)
	metrics.GetOrRegisterGauge("gauge", r).Update(1)

	assert.Equal(t, "a.first=5 b.second=2", formatCounters(r))
}

type blockingSource struct{}

func (blockingSource) Run(ctx context.Context, _ imu.Sink) error {
	<-ctx.Done()
	return nil
}

type failingSource struct{}

func (failingSource) Run(context.Context, imu.Sink) error {
	return errors.New("device gone")
}

type countingCloser struct{ n atomic.Int32 }

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return nil
}

func TestClosingSourceClosesOnCancel(t *testing.T) {
	closer := &countingCloser{}
	src := closingSource{Source: blockingSource{}, closer: closer}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, &recordingSink{}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("source did not stop")
	}
	assert.Eventually(t, func() bool { return closer.n.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClosingSourceKeepsDeviceOnError(t *testing.T) {
	closer := &countingCloser{}
	src := closingSource{Source: failingSource{}, closer: closer}

	ctx, cancel := context.WithCancel(context.Background())
	err := src.Run(ctx, &recordingSink{})
	cancel()

	assert.EqualError(t, err, "device gone")
	assert.Equal(t, int32(0), closer.n.Load())
}
