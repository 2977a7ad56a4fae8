// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	accel, gravity, magnetic []Vector
}

func (r *recordingSink) SetAccelerometer(v Vector) { r.accel = append(r.accel, v) }
func (r *recordingSink) SetGravity(v Vector)       { r.gravity = append(r.gravity, v) }
func (r *recordingSink) SetMagneticField(v Vector) { r.magnetic = append(r.magnetic, v) }

func TestParseSentence(t *testing.T) {
	line := FormatSentence(KindGravity, Vector{X: 0.1, Y: -0.25, Z: 9.8})
	assert.True(t, strings.HasPrefix(line, "$PIMU,GRV,"))

	m, err := ParseSentence(line)
	require.NoError(t, err)
	assert.Equal(t, KindGravity, m.Kind)
	assert.InDelta(t, 0.1, m.X, 1e-9)
	assert.InDelta(t, -0.25, m.Y, 1e-9)
	assert.InDelta(t, 9.8, m.Z, 1e-9)
}

func TestParseSentenceBadChecksum(t *testing.T) {
	_, err := ParseSentence("$PIMU,ACC,1.0,2.0,3.0*00")
	assert.Error(t, err)
}

func TestNMEAReaderRoutesVectors(t *testing.T) {
	input := strings.Join([]string{
		FormatSentence(KindAccelerometer, Vector{X: 1, Y: 2, Z: 3}),
		"garbage line",
		FormatSentence(KindGravity, Vector{Z: 9.81}),
		"$PIMU,ACC,1.0,2.0,3.0*00",
		FormatSentence(KindMagnetic, Vector{Y: 22, Z: -40}),
		FormatSentence("xyz", Vector{}),
	}, "\r\n")

	sink := &recordingSink{}
	err := NewNMEAReader("test", strings.NewReader(input)).Run(context.Background(), sink)
	require.NoError(t, err)

	require.Len(t, sink.accel, 1)
	assert.Equal(t, Vector{X: 1, Y: 2, Z: 3}, sink.accel[0])
	require.Len(t, sink.gravity, 1)
	assert.Equal(t, Vector{Z: 9.81}, sink.gravity[0])
	require.Len(t, sink.magnetic, 1)
	assert.Equal(t, Vector{Y: 22, Z: -40}, sink.magnetic[0])
}

func TestApplyUnknownKind(t *testing.T) {
	err := Apply(&recordingSink{}, Reading{Kind: "gyro"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestMockSourceFeedsStage(t *testing.T) {
	s := NewStage()
	(&MockSource{}).emit(s, 0)

	got := s.Sample()
	assert.InDelta(t, 0, got.Orientation.Yaw, 1e-9)
	assert.InDelta(t, 0, got.Orientation.Roll, 1e-9)
}
