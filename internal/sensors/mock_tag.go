// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"math"
	"time"

	"github.com/relabs-tech/indoor_positioning/internal/uwb"
)

// MockTag emits position packets for a tag walking a circle, for running
// the fusion service without hardware.
type MockTag struct {
	Center   uwb.LocationFix
	Radius   float64
	Interval time.Duration
}

func NewMockTag(interval time.Duration) *MockTag {
	return &MockTag{
		Center:   uwb.LocationFix{X: 2, Y: 2, Z: 1.2, Quality: 80},
		Radius:   1,
		Interval: interval,
	}
}

// Fix returns the position after elapsed seconds at walking pace.
func (m *MockTag) Fix(elapsed float64) uwb.LocationFix {
	angle := elapsed * 0.5 / m.Radius
	return uwb.LocationFix{
		X:       m.Center.X + m.Radius*math.Cos(angle),
		Y:       m.Center.Y + m.Radius*math.Sin(angle),
		Z:       m.Center.Z,
		Quality: m.Center.Quality,
	}
}

func (m *MockTag) Run(ctx context.Context, handle PacketHandler) error {
	start := time.Now()
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			handle(uwb.Encode(m.Fix(t.Sub(start).Seconds())))
		}
	}
}
