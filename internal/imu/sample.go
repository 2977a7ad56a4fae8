// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"context"
	"math"

	"github.com/relabs-tech/indoor_positioning/internal/orientation"
)

// Vector is a 3-axis sensor reading or a derived world-frame quantity.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the euclidean length of v.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func (v Vector) array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Acceleration is a world-frame acceleration in m/s², positive towards
// north, east and up.
type Acceleration = Vector

// Sample is one output of the IMU stage.
type Sample struct {
	Acceleration Acceleration          `json:"acceleration"`
	Orientation  orientation.Pose      `json:"orientation"`
	Compass      orientation.Direction `json:"compass,omitempty"`
}

// Sink receives device-frame sensor vectors as they arrive.
// Stage is the production implementation.
type Sink interface {
	SetAccelerometer(v Vector)
	SetGravity(v Vector)
	SetMagneticField(v Vector)
}

// Source pushes sensor vectors into a Sink until ctx is cancelled or the
// underlying device fails.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}
