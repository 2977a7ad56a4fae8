// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
)

// Pose is the device orientation in degrees.
// Yaw is measured clockwise from magnetic north, corrected by the
// declination passed to PoseFromRotation.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// PoseFromRotation extracts yaw/pitch/roll from a rotation matrix built by
// RotationMatrix. declination (degrees) is added to yaw and the result is
// wrapped to (-180, 180].
func PoseFromRotation(r Rotation, declination float64) Pose {
	yaw := math.Atan2(r[1], r[4])
	pitch := math.Asin(clamp(-r[7], -1, 1))
	roll := math.Atan2(-r[6], r[8])

	return Pose{
		Roll:  roll * 180.0 / math.Pi,
		Pitch: pitch * 180.0 / math.Pi,
		Yaw:   wrapDegrees(yaw*180.0/math.Pi + declination),
	}
}

func wrapDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
