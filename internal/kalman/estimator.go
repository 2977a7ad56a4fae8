// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package kalman implements the adaptive constant-acceleration Kalman
// filter that fuses UWB position fixes with world-frame acceleration.
//
// State is [x y z vx vy vz ax ay az]; measurements are [x y z ax ay az].
// Process noise is scaled every prediction by the squared magnitude of the
// current acceleration, so the filter trusts its model while the device is
// still and follows the fixes while it moves.
package kalman

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/orientation"
	"github.com/relabs-tech/indoor_positioning/internal/uwb"
)

var ErrNotConfigured = errors.New("estimator not configured")

// ResetEvent describes a covariance reset caused by a degenerate update.
type ResetEvent struct {
	Session string
	Seq     uint64
	Time    time.Time
}

// ResetObserver is notified after a covariance reset, outside the
// estimator lock.
type ResetObserver func(ResetEvent)

// Option configures an Estimator.
type Option func(*Estimator)

// WithClock replaces time.Now. It drives the height-change window and the
// timestamps of estimates.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// WithMetrics sets the counters updated by the estimator.
func WithMetrics(m *Metrics) Option {
	return func(e *Estimator) { e.metrics = m }
}

// WithResetObserver registers fn for covariance resets.
func WithResetObserver(fn ResetObserver) Option {
	return func(e *Estimator) { e.onReset = fn }
}

// Estimator is safe for concurrent use. Predict and Update must follow a
// Configure; after Reset the estimator is unconfigured again.
type Estimator struct {
	mu sync.Mutex

	tuning  Tuning
	now     func() time.Time
	metrics *Metrics
	onReset ResetObserver

	f  *mat.Dense
	h  *mat.Dense
	p0 *mat.DiagDense
	q0 *mat.DiagDense
	r0 *mat.DiagDense

	configured        bool
	session           string
	seq               uint64
	heightChangeUntil time.Time

	x *mat.VecDense
	p *mat.Dense

	// workspace, sized once
	q      *mat.Dense
	r      *mat.Dense
	xp     *mat.VecDense
	fp     *mat.Dense
	z      *mat.VecDense
	hx     *mat.VecDense
	y      *mat.VecDense
	hp     *mat.Dense
	s      *mat.Dense
	ssym   *mat.SymDense
	chol   mat.Cholesky
	sinvHP *mat.Dense
	k      *mat.Dense
	ky     *mat.VecDense
	khp    *mat.Dense
}

// New builds an unconfigured estimator for the given tuning.
func New(t Tuning, opts ...Option) (*Estimator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	e := &Estimator{
		tuning: t,
		now:    time.Now,

		f:  transition(t.TimeStep),
		h:  observation(),
		p0: diagonal(t.InitialCovariance),
		q0: diagonal(t.ProcessNoise),
		r0: diagonal(t.MeasurementNoise),

		x: mat.NewVecDense(StateSize, nil),
		p: mat.NewDense(StateSize, StateSize, nil),

		q:      mat.NewDense(StateSize, StateSize, nil),
		r:      mat.NewDense(MeasurementSize, MeasurementSize, nil),
		xp:     mat.NewVecDense(StateSize, nil),
		fp:     mat.NewDense(StateSize, StateSize, nil),
		z:      mat.NewVecDense(MeasurementSize, nil),
		hx:     mat.NewVecDense(MeasurementSize, nil),
		y:      mat.NewVecDense(MeasurementSize, nil),
		hp:     mat.NewDense(MeasurementSize, StateSize, nil),
		s:      mat.NewDense(MeasurementSize, MeasurementSize, nil),
		ssym:   mat.NewSymDense(MeasurementSize, nil),
		sinvHP: mat.NewDense(MeasurementSize, StateSize, nil),
		k:      mat.NewDense(StateSize, MeasurementSize, nil),
		ky:     mat.NewVecDense(StateSize, nil),
		khp:    mat.NewDense(StateSize, StateSize, nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e, nil
}

// Configure starts a tracking session at the given position with zero
// velocity and acceleration. Calling it again restarts the session.
func (e *Estimator) Configure(initial Position) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.x.Zero()
	e.x.SetVec(ix, initial.X)
	e.x.SetVec(iy, initial.Y)
	e.x.SetVec(iz, initial.Z)
	e.p.Copy(e.p0)

	e.configured = true
	e.session = uuid.Must(uuid.NewV4()).String()
	e.seq = 0
	e.heightChangeUntil = time.Time{}
}

// Reset discards the session. The next fix has to Configure again.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.configured = false
	e.session = ""
	e.seq = 0
	e.heightChangeUntil = time.Time{}
	e.x.Zero()
	e.p.Zero()
}

// Configured reports whether a session is active.
func (e *Estimator) Configured() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configured
}

// Session returns the active session ID, empty when unconfigured.
func (e *Estimator) Session() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Variance returns the diagonal of the state covariance.
func (e *Estimator) Variance() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := make([]float64, StateSize)
	for i := range d {
		d[i] = e.p.At(i, i)
	}
	return d
}

// Predict advances the state by one time step. The process noise is the
// baseline scaled by ‖a‖².
func (e *Estimator) Predict(a imu.Acceleration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.configured {
		return fmt.Errorf("predict: %w", ErrNotConfigured)
	}

	e.q.Copy(e.q0)
	if e.now().Before(e.heightChangeUntil) {
		e.q.Set(iz, iz, e.tuning.HeightChangeProcessNoise)
	}
	norm := a.Norm()
	e.q.Scale(norm*norm, e.q)

	// x = F·x
	e.xp.MulVec(e.f, e.x)
	e.x.CopyVec(e.xp)

	// P = F·P·Fᵀ + Q
	e.fp.Mul(e.f, e.p)
	e.p.Mul(e.fp, e.f.T())
	e.p.Add(e.p, e.q)

	e.metrics.Predictions.Inc(1)
	return nil
}

// Update corrects the state with a position fix and the measured world
// acceleration. o selects how much the vertical acceleration is trusted.
//
// ok is false when the innovation covariance is not positive definite: the
// state covariance is then reset to its initial value, the mean is kept and
// no estimate is produced.
func (e *Estimator) Update(fix uwb.LocationFix, a imu.Acceleration, o orientation.Pose) (Estimate, bool, error) {
	e.mu.Lock()
	est, ok, reset, err := e.update(fix, a, o)
	e.mu.Unlock()

	if reset != nil {
		log.Printf("kalman: session %s seq %d: innovation covariance not positive definite, covariance reset",
			reset.Session, reset.Seq)
		if e.onReset != nil {
			e.onReset(*reset)
		}
	}
	return est, ok, err
}

func (e *Estimator) update(fix uwb.LocationFix, a imu.Acceleration, o orientation.Pose) (Estimate, bool, *ResetEvent, error) {
	if !e.configured {
		return Estimate{}, false, nil, fmt.Errorf("update: %w", ErrNotConfigured)
	}

	now := e.now()
	if math.Abs(a.Z) >= e.tuning.HeightChangeThreshold {
		e.heightChangeUntil = now.Add(e.tuning.HeightChangeWindow)
		e.metrics.HeightChanges.Inc(1)
	}

	// y = z - H·x
	e.z.SetVec(0, fix.X)
	e.z.SetVec(1, fix.Y)
	e.z.SetVec(2, fix.Z)
	e.z.SetVec(3, a.X)
	e.z.SetVec(4, a.Y)
	e.z.SetVec(5, a.Z)
	e.hx.MulVec(e.h, e.x)
	e.y.SubVec(e.z, e.hx)

	e.r.Copy(e.r0)
	if math.Abs(o.Roll) > e.tuning.RollThreshold {
		e.r.Set(5, 5, e.tuning.VerticalNoiseReliable)
	} else {
		e.r.Set(5, 5, e.tuning.VerticalNoiseUnreliable)
	}

	// S = H·P·Hᵀ + R
	e.hp.Mul(e.h, e.p)
	e.s.Mul(e.hp, e.h.T())
	e.s.Add(e.s, e.r)
	for i := 0; i < MeasurementSize; i++ {
		for j := i; j < MeasurementSize; j++ {
			e.ssym.SetSym(i, j, 0.5*(e.s.At(i, j)+e.s.At(j, i)))
		}
	}

	// K = P·Hᵀ·S⁻¹ = (S⁻¹·H·P)ᵀ
	if !e.chol.Factorize(e.ssym) {
		return Estimate{}, false, e.resetCovariance(now), nil
	}
	if err := e.chol.SolveTo(e.sinvHP, e.hp); err != nil {
		return Estimate{}, false, e.resetCovariance(now), nil
	}
	e.k.Copy(e.sinvHP.T())

	// x = x + K·y
	e.ky.MulVec(e.k, e.y)
	e.x.AddVec(e.x, e.ky)

	// P = P - K·H·P
	e.khp.Mul(e.k, e.hp)
	e.p.Sub(e.p, e.khp)
	symmetrize(e.p)

	e.seq++
	e.metrics.Updates.Inc(1)

	return Estimate{
		Session: e.session,
		Seq:     e.seq,
		Time:    now,
		Raw:     fix,
		Filtered: Position{
			X: e.x.AtVec(ix),
			Y: e.x.AtVec(iy),
			Z: e.x.AtVec(iz),
		},
		RawAcceleration: a,
		FilteredAcceleration: imu.Acceleration{
			X: e.x.AtVec(iax),
			Y: e.x.AtVec(iay),
			Z: e.x.AtVec(iaz),
		},
		Velocity: imu.Vector{
			X: e.x.AtVec(ivx),
			Y: e.x.AtVec(ivy),
			Z: e.x.AtVec(ivz),
		},
	}, true, nil, nil
}

func (e *Estimator) resetCovariance(now time.Time) *ResetEvent {
	e.p.Copy(e.p0)
	e.metrics.CovarianceResets.Inc(1)
	return &ResetEvent{Session: e.session, Seq: e.seq, Time: now}
}
