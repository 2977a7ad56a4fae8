// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import "gonum.org/v1/gonum/spatial/r3"

// StandardGravity in m/s².
const StandardGravity = 9.80665

// Rotation is a row-major 3x3 matrix mapping device-frame vectors into the
// world frame (rows: east, north, up).
type Rotation [9]float64

// RotationMatrix builds the device-to-world rotation from a gravity vector
// and a geomagnetic field vector, both in device coordinates.
//
// ok is false when the device is close to free fall (|g|² below 1% of
// standard gravity²) or when the field is nearly parallel to gravity.
func RotationMatrix(gravity, geomagnetic [3]float64) (r Rotation, ok bool) {
	g := vec(gravity)
	const freeFall = StandardGravity * StandardGravity / 100
	if r3.Norm2(g) < freeFall {
		return r, false
	}

	// east = field × gravity
	h := r3.Cross(vec(geomagnetic), g)
	normH := r3.Norm(h)
	if normH < 0.1 {
		return r, false
	}
	h = r3.Scale(1/normH, h)
	a := r3.Unit(g)
	m := r3.Cross(a, h)

	return Rotation{
		h.X, h.Y, h.Z,
		m.X, m.Y, m.Z,
		a.X, a.Y, a.Z,
	}, true
}

func vec(v [3]float64) r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// Apply returns r·v.
func (r Rotation) Apply(v [3]float64) [3]float64 {
	return [3]float64{
		r[0]*v[0] + r[1]*v[1] + r[2]*v[2],
		r[3]*v[0] + r[4]*v[1] + r[5]*v[2],
		r[6]*v[0] + r[7]*v[1] + r[8]*v[2],
	}
}
