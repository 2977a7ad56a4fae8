// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package kalman

import (
	metrics "github.com/rcrowley/go-metrics"
)

// Metrics are the estimator's diagnostic counters.
type Metrics struct {
	Predictions      metrics.Counter
	Updates          metrics.Counter
	CovarianceResets metrics.Counter
	HeightChanges    metrics.Counter
}

// NewMetrics registers the counters in r, or in metrics.DefaultRegistry when
// r is nil. Counters already present in r are reused.
func NewMetrics(r metrics.Registry) *Metrics {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	return &Metrics{
		Predictions:      metrics.GetOrRegisterCounter("kalman.predictions", r),
		Updates:          metrics.GetOrRegisterCounter("kalman.updates", r),
		CovarianceResets: metrics.GetOrRegisterCounter("kalman.covariance_resets", r),
		HeightChanges:    metrics.GetOrRegisterCounter("kalman.height_changes", r),
	}
}
