// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds of device-frame vectors carried by a Reading.
const (
	KindAccelerometer = "acc"
	KindGravity       = "grv"
	KindMagnetic      = "mag"
)

var ErrUnknownKind = errors.New("unknown IMU vector kind")

// Reading is the wire form of a single sensor vector, published by the IMU
// producer and consumed by the fusion service.
type Reading struct {
	Source string  `json:"source"`
	Kind   string  `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
	Time   string  `json:"time"`
}

// Vector returns the reading's components.
func (r Reading) Vector() Vector {
	return Vector{X: r.X, Y: r.Y, Z: r.Z}
}

// Apply routes the reading to the matching Sink setter.
func Apply(sink Sink, r Reading) error {
	switch strings.ToLower(r.Kind) {
	case KindAccelerometer:
		sink.SetAccelerometer(r.Vector())
	case KindGravity:
		sink.SetGravity(r.Vector())
	case KindMagnetic:
		sink.SetMagneticField(r.Vector())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	return nil
}
