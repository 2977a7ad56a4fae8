// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kalman

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultTuningIsValid(t *testing.T) {
	require.NoError(t, DefaultTuning().Validate())
}

func TestLoadTuningOverridesOnlyGivenKeys(t *testing.T) {
	path := writeFile(t, `
time_step: 0.05
roll_threshold_deg: 45
height_change_window: 1500ms
measurement_noise: [0.09, 0.09, 4000, 0.002, 0.0001, 10000]
`)
	got, err := LoadTuning(path)
	require.NoError(t, err)

	def := DefaultTuning()
	assert.Equal(t, 0.05, got.TimeStep)
	assert.Equal(t, 45.0, got.RollThreshold)
	assert.Equal(t, 1500*time.Millisecond, got.HeightChangeWindow)
	assert.Equal(t, []float64{0.09, 0.09, 4000, 0.002, 0.0001, 10000}, got.MeasurementNoise)
	assert.Equal(t, def.ProcessNoise, got.ProcessNoise)
	assert.Equal(t, def.InitialCovariance, got.InitialCovariance)
}

func TestLoadTuningRejectsBadDiagonal(t *testing.T) {
	path := writeFile(t, "process_noise: [0.01, 0.01]\n")
	_, err := LoadTuning(path)
	assert.ErrorIs(t, err, ErrInvalidTuning)
}

func TestLoadTuningRejectsZeroInitialVariance(t *testing.T) {
	path := writeFile(t, "initial_covariance: [0.01, 0.01, 0, 0.01, 0.01, 0.001, 0.01, 0.01, 0.01]\n")
	_, err := LoadTuning(path)
	assert.ErrorIs(t, err, ErrInvalidTuning)
}

func TestLoadTuningMissingFile(t *testing.T) {
	_, err := LoadTuning(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewRejectsInvalidTuning(t *testing.T) {
	tun := DefaultTuning()
	tun.TimeStep = 0
	_, err := New(tun)
	assert.ErrorIs(t, err, ErrInvalidTuning)
}

func TestTransitionMatrix(t *testing.T) {
	f := transition(0.1)
	assert.Equal(t, 1.0, f.At(ix, ix))
	assert.Equal(t, 0.1, f.At(iy, ivy))
	assert.InDelta(t, 0.005, f.At(iz, iaz), 1e-15)
	assert.Equal(t, 0.1, f.At(ivx, iax))
	assert.Equal(t, 0.0, f.At(ix, iay))
}
