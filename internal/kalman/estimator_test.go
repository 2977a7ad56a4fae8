// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kalman

import (
	"bytes"
	"log"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/orientation"
	"github.com/relabs-tech/indoor_positioning/internal/uwb"
)

var (
	still   = imu.Acceleration{}
	flat    = orientation.Pose{}
	upright = orientation.Pose{Roll: 80}
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEstimator(t *testing.T, opts ...Option) *Estimator {
	t.Helper()
	opts = append([]Option{WithMetrics(NewMetrics(metrics.NewRegistry()))}, opts...)
	e, err := New(DefaultTuning(), opts...)
	require.NoError(t, err)
	return e
}

func cycle(t *testing.T, e *Estimator, fix uwb.LocationFix, a imu.Acceleration, o orientation.Pose) Estimate {
	t.Helper()
	require.NoError(t, e.Predict(a))
	est, ok, err := e.Update(fix, a, o)
	require.NoError(t, err)
	require.True(t, ok)
	return est
}

func TestPredictAndUpdateRequireConfigure(t *testing.T) {
	e := newTestEstimator(t)

	assert.ErrorIs(t, e.Predict(still), ErrNotConfigured)
	_, ok, err := e.Update(uwb.LocationFix{}, still, flat)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, ok)

	e.Configure(Position{X: 1, Y: 1, Z: 1})
	e.Reset()
	assert.False(t, e.Configured())
	assert.ErrorIs(t, e.Predict(still), ErrNotConfigured)
}

func TestConfigureIsIdempotent(t *testing.T) {
	e := newTestEstimator(t)
	start := Position{X: 0.3, Y: -0.2, Z: 1.5}

	e.Configure(start)
	x1 := mat.VecDenseCopyOf(e.x)
	p1 := mat.DenseCopyOf(e.p)
	first := e.Session()

	cycle(t, e, uwb.LocationFix{X: 2, Y: 2, Z: 1}, imu.Acceleration{X: 1}, flat)
	e.Configure(start)

	assert.True(t, mat.Equal(x1, e.x))
	assert.True(t, mat.Equal(p1, e.p))
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, e.Session())
}

func TestStaticFixesKeepPositionAndShrinkHorizontalVariance(t *testing.T) {
	e := newTestEstimator(t)
	fix := uwb.LocationFix{X: 1, Y: 1, Z: 1.5, Quality: -1}
	e.Configure(PositionOf(fix))

	prev := e.Variance()
	for i := 1; i <= 4; i++ {
		est := cycle(t, e, fix, still, flat)

		assert.Equal(t, uint64(i), est.Seq)
		assert.Equal(t, fix, est.Raw)
		assert.InDelta(t, 1.0, est.Filtered.X, 1e-9)
		assert.InDelta(t, 1.0, est.Filtered.Y, 1e-9)
		assert.InDelta(t, 1.5, est.Filtered.Z, 1e-9)

		v := e.Variance()
		assert.Less(t, v[ix], prev[ix], "cycle %d", i)
		assert.Less(t, v[iy], prev[iy], "cycle %d", i)
		assert.Less(t, v[iz], 0.002, "cycle %d", i)
		prev = v
	}
}

func TestFirstUpdateCovariance(t *testing.T) {
	e := newTestEstimator(t)
	e.Configure(Position{X: 1, Y: 1, Z: 1.5})
	cycle(t, e, uwb.LocationFix{X: 1, Y: 1, Z: 1.5}, still, flat)

	v := e.Variance()
	assert.InDelta(t, 0.0080639, v[ix], 1e-6)
	assert.InDelta(t, 0.0071937, v[iy], 1e-6)
	assert.InDelta(t, 0.0010102, v[iz], 1e-6)
}

func TestStationaryConvergence(t *testing.T) {
	e := newTestEstimator(t)
	e.Configure(Position{X: 0.3, Y: -0.2, Z: 1.5})

	var est Estimate
	for i := 0; i < 20; i++ {
		est = cycle(t, e, uwb.LocationFix{Z: 1.5}, still, flat)
	}

	assert.InDelta(t, 0, est.Filtered.X, 0.05)
	assert.InDelta(t, 0, est.Filtered.Y, 0.05)
	assert.InDelta(t, 1.5, est.Filtered.Z, 0.05)

	v := e.Variance()
	assert.Less(t, v[ix], 0.01)
	assert.Less(t, v[iy], 0.01)
}

func TestHighAccelerationTracksFixesFaster(t *testing.T) {
	slow := newTestEstimator(t)
	fast := newTestEstimator(t)
	slow.Configure(Position{Z: 1.5})
	fast.Configure(Position{Z: 1.5})

	fix := uwb.LocationFix{X: 1, Z: 1.5}
	for i := 0; i < 5; i++ {
		s := cycle(t, slow, fix, imu.Acceleration{Z: 0.1}, flat)
		f := cycle(t, fast, fix, imu.Acceleration{Z: 5.0}, flat)

		assert.Less(t, math.Abs(1-f.Filtered.X), math.Abs(1-s.Filtered.X), "cycle %d", i)
	}
}

func TestUprightDeviceTrustsVerticalAcceleration(t *testing.T) {
	reliable := newTestEstimator(t)
	unreliable := newTestEstimator(t)
	reliable.Configure(Position{Z: 1.5})
	unreliable.Configure(Position{Z: 1.5})

	a := imu.Acceleration{Z: 1.5}
	fix := uwb.LocationFix{Z: 1.5}
	var r, u Estimate
	for i := 0; i < 3; i++ {
		r = cycle(t, reliable, fix, a, upright)
		u = cycle(t, unreliable, fix, a, flat)
	}

	assert.Greater(t, u.FilteredAcceleration.Z, 0.0)
	assert.Greater(t, r.FilteredAcceleration.Z, 2*u.FilteredAcceleration.Z)
}

func TestHeightChangeRaisesVerticalProcessNoise(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := metrics.NewRegistry()
	e := newTestEstimator(t, WithClock(clock.now), WithMetrics(NewMetrics(reg)))
	e.Configure(Position{Z: 1.5})

	_, ok, err := e.Update(uwb.LocationFix{Z: 1.5}, imu.Acceleration{Z: -2.5}, flat)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), NewMetrics(reg).HeightChanges.Count())

	before := e.Variance()[iz]
	clock.advance(time.Second)
	require.NoError(t, e.Predict(imu.Acceleration{Z: 1}))
	boosted := e.Variance()[iz] - before
	assert.Greater(t, boosted, 99.0)

	clock.advance(1500 * time.Millisecond)
	before = e.Variance()[iz]
	require.NoError(t, e.Predict(imu.Acceleration{Z: 1}))
	assert.Less(t, e.Variance()[iz]-before, 1.0)
}

func TestDegenerateUpdateResetsCovariance(t *testing.T) {
	reg := metrics.NewRegistry()
	var events []ResetEvent
	e := newTestEstimator(t,
		WithMetrics(NewMetrics(reg)),
		WithResetObserver(func(ev ResetEvent) { events = append(events, ev) }),
	)
	e.Configure(Position{X: 1, Y: 2, Z: 1.5})
	cycle(t, e, uwb.LocationFix{X: 1, Y: 2, Z: 1.5}, still, flat)

	mean := mat.VecDenseCopyOf(e.x)
	r, c := e.p.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			e.p.Set(i, j, math.NaN())
		}
	}

	_, ok, err := e.Update(uwb.LocationFix{X: 1, Y: 2, Z: 1.5}, still, flat)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mat.Equal(mean, e.x))
	assert.True(t, mat.Equal(e.p0, e.p))
	assert.Equal(t, int64(1), NewMetrics(reg).CovarianceResets.Count())
	require.Len(t, events, 1)
	assert.Equal(t, e.Session(), events[0].Session)

	est := cycle(t, e, uwb.LocationFix{X: 1, Y: 2, Z: 1.5}, still, flat)
	for _, v := range []float64{est.Filtered.X, est.Filtered.Y, est.Filtered.Z} {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
	}
	for _, v := range e.Variance() {
		assert.False(t, math.IsNaN(v))
	}
}

func TestDegenerateUpdateIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	var observed int
	e := newTestEstimator(t, WithResetObserver(func(ResetEvent) { observed++ }))
	e.Configure(Position{X: 1, Y: 2, Z: 1.5})

	// A NaN acceleration poisons the predicted covariance.
	require.NoError(t, e.Predict(imu.Acceleration{X: math.NaN()}))
	_, ok, err := e.Update(uwb.LocationFix{X: 1, Y: 2, Z: 1.5}, still, flat)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, observed)
	assert.Equal(t, 1, strings.Count(buf.String(), "covariance reset"))
}

func TestCovarianceStaysSymmetric(t *testing.T) {
	e := newTestEstimator(t)
	e.Configure(Position{Z: 1.5})
	for i := 0; i < 10; i++ {
		cycle(t, e, uwb.LocationFix{X: 0.1 * float64(i), Y: -0.05 * float64(i), Z: 1.5},
			imu.Acceleration{X: 0.3, Y: -0.2, Z: 0.1}, upright)
	}
	assert.True(t, mat.Equal(e.p, e.p.T()))
}
