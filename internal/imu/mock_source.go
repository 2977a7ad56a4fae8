// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"context"
	"math"
	"time"
)

// MockSource generates smoothly changing sensor vectors for a device lying
// flat and slowly turning, with a gentle oscillating acceleration.
type MockSource struct {
	Interval time.Duration
}

func NewMockSource(interval time.Duration) *MockSource {
	return &MockSource{Interval: interval}
}

func (m *MockSource) Run(ctx context.Context, sink Sink) error {
	start := time.Now()
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			m.emit(sink, t.Sub(start).Seconds())
		}
	}
}

func (m *MockSource) emit(sink Sink, elapsed float64) {
	heading := elapsed * 0.2
	sink.SetGravity(Vector{Z: 9.81})
	sink.SetMagneticField(Vector{
		X: 22 * math.Sin(heading),
		Y: 22 * math.Cos(heading),
		Z: -40,
	})
	sink.SetAccelerometer(Vector{
		X: 0.4 * math.Sin(elapsed),
		Y: 0.3 * math.Cos(elapsed*0.7),
	})
}
