// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kalman

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning is the noise model of the estimator. Diagonals are variances in
// state order [x y z vx vy vz ax ay az] and measurement order
// [x y z ax ay az].
type Tuning struct {
	TimeStep float64 `yaml:"time_step"`

	InitialCovariance []float64 `yaml:"initial_covariance"`
	ProcessNoise      []float64 `yaml:"process_noise"`
	MeasurementNoise  []float64 `yaml:"measurement_noise"`

	// Vertical acceleration measurement noise, switched on device roll.
	// It replaces the az entry of MeasurementNoise on every update.
	// Upright devices (|roll| above RollThreshold) measure vertical
	// acceleration more reliably.
	VerticalNoiseReliable   float64 `yaml:"vertical_noise_reliable"`
	VerticalNoiseUnreliable float64 `yaml:"vertical_noise_unreliable"`
	RollThreshold           float64 `yaml:"roll_threshold_deg"`

	// When |az| reaches HeightChangeThreshold in an update, the z process
	// noise is raised to HeightChangeProcessNoise for HeightChangeWindow.
	HeightChangeThreshold    float64       `yaml:"height_change_threshold"`
	HeightChangeProcessNoise float64       `yaml:"height_change_process_noise"`
	HeightChangeWindow       time.Duration `yaml:"height_change_window"`
}

// DefaultTuning returns the profile the estimator was tuned with on the
// DWM1001 setup: 10 Hz fixes, decimetre-level x/y accuracy, poor z.
func DefaultTuning() Tuning {
	return Tuning{
		TimeStep: 0.1,
		InitialCovariance: []float64{
			0.01, 0.01, 0.001,
			0.01, 0.01, 0.001,
			0.01, 0.01, 0.01,
		},
		ProcessNoise: []float64{
			0.01, 0.01, 1e-7,
			0.01, 0.01, 1e-6,
			0.01, 0.01, 1e-6,
		},
		MeasurementNoise: []float64{
			0.04, 0.025, 5000,
			0.002, 0.0001, 10000,
		},
		VerticalNoiseReliable:    10000,
		VerticalNoiseUnreliable:  50000,
		RollThreshold:            50,
		HeightChangeThreshold:    2.0,
		HeightChangeProcessNoise: 100,
		HeightChangeWindow:       2 * time.Second,
	}
}

var ErrInvalidTuning = errors.New("invalid tuning")

// Validate checks dimensions and signs.
func (t Tuning) Validate() error {
	if !(t.TimeStep > 0) {
		return fmt.Errorf("%w: time_step must be > 0, got %v", ErrInvalidTuning, t.TimeStep)
	}
	if err := checkDiagonal("initial_covariance", t.InitialCovariance, StateSize, true); err != nil {
		return err
	}
	if err := checkDiagonal("process_noise", t.ProcessNoise, StateSize, false); err != nil {
		return err
	}
	if err := checkDiagonal("measurement_noise", t.MeasurementNoise, MeasurementSize, false); err != nil {
		return err
	}
	if t.VerticalNoiseReliable < 0 || t.VerticalNoiseUnreliable < 0 {
		return fmt.Errorf("%w: vertical noise must be >= 0", ErrInvalidTuning)
	}
	if t.HeightChangeWindow < 0 {
		return fmt.Errorf("%w: height_change_window must be >= 0", ErrInvalidTuning)
	}
	return nil
}

func checkDiagonal(name string, d []float64, n int, positive bool) error {
	if len(d) != n {
		return fmt.Errorf("%w: %s needs %d values, got %d", ErrInvalidTuning, name, n, len(d))
	}
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || (positive && v == 0) {
			return fmt.Errorf("%w: %s[%d] = %v", ErrInvalidTuning, name, i, v)
		}
	}
	return nil
}

// LoadTuning reads a YAML profile. Keys missing from the file keep their
// DefaultTuning value.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("failed to parse tuning file %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return t, nil
}
