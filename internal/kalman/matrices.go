// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kalman

import (
	"gonum.org/v1/gonum/mat"
)

const (
	// StateSize is the length of [x y z vx vy vz ax ay az].
	StateSize = 9
	// MeasurementSize is the length of [x y z ax ay az].
	MeasurementSize = 6
)

// State indices.
const (
	ix = iota
	iy
	iz
	ivx
	ivy
	ivz
	iax
	iay
	iaz
)

// transition returns the constant-acceleration model F for time step dt:
// position integrates velocity and half acceleration, velocity integrates
// acceleration, acceleration is held.
func transition(dt float64) *mat.Dense {
	f := mat.NewDense(StateSize, StateSize, nil)
	half := 0.5 * dt * dt
	for i := 0; i < StateSize; i++ {
		f.Set(i, i, 1)
	}
	for axis := 0; axis < 3; axis++ {
		f.Set(ix+axis, ivx+axis, dt)
		f.Set(ix+axis, iax+axis, half)
		f.Set(ivx+axis, iax+axis, dt)
	}
	return f
}

// observation maps the state onto [x y z ax ay az].
func observation() *mat.Dense {
	h := mat.NewDense(MeasurementSize, StateSize, nil)
	for axis := 0; axis < 3; axis++ {
		h.Set(axis, ix+axis, 1)
		h.Set(3+axis, iax+axis, 1)
	}
	return h
}

func diagonal(d []float64) *mat.DiagDense {
	return mat.NewDiagDense(len(d), append([]float64(nil), d...))
}

// symmetrize replaces m with (m + mᵀ)/2.
func symmetrize(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for j := i + 1; j < r; j++ {
			v := 0.5 * (m.At(i, j) + m.At(j, i))
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}
