// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package uwb decodes the position packets reported by a UWB tag.
//
// Packet layout (14 bytes):
//
//	[0]      mode marker (0 = position only)
//	[1:5]    x, int32 little-endian, millimetres
//	[5:9]    y, int32 little-endian, millimetres
//	[9:13]   z, int32 little-endian, millimetres
//	[13]     quality factor, signed
package uwb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// PacketSize is the length of a position packet.
const PacketSize = 14

// ModePosition marks a packet carrying only the tag position.
const ModePosition byte = 0

var ErrPacketLength = errors.New("invalid position packet length")

// LocationFix is one tag position in metres.
type LocationFix struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Quality int8    `json:"quality"`
}

// Valid reports whether p has the length of a position packet.
func Valid(p []byte) bool {
	return len(p) == PacketSize
}

// CheckLength returns ErrPacketLength, wrapped with the actual length,
// when p is not a position packet.
func CheckLength(p []byte) error {
	if !Valid(p) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrPacketLength, len(p), PacketSize)
	}
	return nil
}

// Decode converts a position packet into a LocationFix.
// p must be PacketSize bytes long.
func Decode(p []byte) LocationFix {
	return LocationFix{
		X:       millimetres(p[1:5]),
		Y:       millimetres(p[5:9]),
		Z:       millimetres(p[9:13]),
		Quality: int8(p[13]),
	}
}

// Encode is the inverse of Decode. Coordinates are rounded to whole
// millimetres.
func Encode(f LocationFix) []byte {
	p := make([]byte, PacketSize)
	p[0] = ModePosition
	binary.LittleEndian.PutUint32(p[1:5], uint32(toMillimetres(f.X)))
	binary.LittleEndian.PutUint32(p[5:9], uint32(toMillimetres(f.Y)))
	binary.LittleEndian.PutUint32(p[9:13], uint32(toMillimetres(f.Z)))
	p[13] = byte(f.Quality)
	return p
}

func millimetres(b []byte) float64 {
	return float64(int32(binary.LittleEndian.Uint32(b))) / 1000.0
}

func toMillimetres(m float64) int32 {
	return int32(math.Round(m * 1000))
}
