// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kalman

import (
	"time"

	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/uwb"
)

// Position in metres, same frame as the UWB anchors.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PositionOf returns the coordinates of a fix.
func PositionOf(f uwb.LocationFix) Position {
	return Position{X: f.X, Y: f.Y, Z: f.Z}
}

// Estimate is the result of one update cycle.
type Estimate struct {
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`

	Raw      uwb.LocationFix `json:"raw"`
	Filtered Position        `json:"filtered"`

	RawAcceleration      imu.Acceleration `json:"raw_acc"`
	FilteredAcceleration imu.Acceleration `json:"filtered_acc"`
	Velocity             imu.Vector       `json:"velocity"`
}
