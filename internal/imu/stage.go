// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"sync"

	"github.com/relabs-tech/indoor_positioning/internal/orientation"
)

// DefaultDeadBand is the per-axis noise gate applied to world acceleration.
// The vertical axis is noisier on handheld devices.
var DefaultDeadBand = Vector{X: 0.05, Y: 0.05, Z: 0.25}

// Stage caches the latest accelerometer, gravity and magnetic field vectors
// and turns them into a world-frame acceleration plus orientation on demand.
type Stage struct {
	mu sync.Mutex

	accel    Vector
	gravity  Vector
	magnetic Vector

	declination float64
	deadBand    Vector

	last Sample
}

// StageOption configures a Stage.
type StageOption func(*Stage)

// WithDeclination adds a fixed magnetic declination (degrees) to yaw.
func WithDeclination(deg float64) StageOption {
	return func(s *Stage) { s.declination = deg }
}

// WithDeadBand overrides DefaultDeadBand. A zero vector disables the gate.
func WithDeadBand(band Vector) StageOption {
	return func(s *Stage) { s.deadBand = band }
}

func NewStage(opts ...StageOption) *Stage {
	s := &Stage{deadBand: DefaultDeadBand}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAccelerometer stores the latest linear acceleration (gravity removed),
// device frame, m/s².
func (s *Stage) SetAccelerometer(v Vector) {
	s.mu.Lock()
	s.accel = v
	s.mu.Unlock()
}

// SetGravity stores the latest gravity vector, device frame, m/s².
func (s *Stage) SetGravity(v Vector) {
	s.mu.Lock()
	s.gravity = v
	s.mu.Unlock()
}

// SetMagneticField stores the latest geomagnetic field, device frame, µT.
func (s *Stage) SetMagneticField(v Vector) {
	s.mu.Lock()
	s.magnetic = v
	s.mu.Unlock()
}

// Sample rotates the latest acceleration into the world frame.
// When no rotation can be built (no data yet, free fall, field parallel to
// gravity) the previous sample is returned unchanged.
func (s *Stage) Sample() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := orientation.RotationMatrix(s.gravity.array(), s.magnetic.array())
	if !ok {
		return s.last
	}

	w := r.Apply(s.accel.array())
	acc := Acceleration{
		X: -gate(w[0], s.deadBand.X),
		Y: -gate(w[1], s.deadBand.Y),
		Z: -gate(w[2], s.deadBand.Z),
	}

	pose := orientation.PoseFromRotation(r, s.declination)
	s.last = Sample{
		Acceleration: acc,
		Orientation:  pose,
		Compass:      orientation.CompassDirection(pose.Yaw),
	}
	return s.last
}

func gate(v, threshold float64) float64 {
	if v > -threshold && v < threshold {
		return 0
	}
	return v
}
