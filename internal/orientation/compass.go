// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import "math"

// Direction is a coarse compass heading.
type Direction string

const (
	DirectionNone  Direction = ""
	DirectionNorth Direction = "N"
	DirectionEast  Direction = "E"
	DirectionSouth Direction = "S"
	DirectionWest  Direction = "W"
)

// Headings measured in the deployment room for each cardinal direction.
// They are not 90° apart because of local magnetic disturbances.
var headings = []struct {
	dir Direction
	yaw float64
}{
	{DirectionNorth, 12},
	{DirectionEast, 97},
	{DirectionSouth, -174},
	{DirectionWest, -85},
}

// headingTolerance in degrees.
const headingTolerance = 2.0

// CompassDirection maps a yaw (degrees) to N/E/S/W when it is within
// headingTolerance of a calibrated heading (exclusive), DirectionNone otherwise.
func CompassDirection(yaw float64) Direction {
	for _, h := range headings {
		if math.Abs(wrapDegrees(yaw-h.yaw)) < headingTolerance {
			return h.dir
		}
	}
	return DirectionNone
}
