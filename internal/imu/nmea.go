// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/adrianmo/go-nmea"
)

// TypeIMU is the data type of the proprietary $PIMU sentence:
//
//	$PIMU,<ACC|GRV|MAG>,<x>,<y>,<z>*CS
const TypeIMU = "IMU"

// IMUSentence carries one device-frame vector.
type IMUSentence struct {
	nmea.BaseSentence
	Kind string
	X    float64
	Y    float64
	Z    float64
}

func parseIMUSentence(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	m := IMUSentence{
		BaseSentence: s,
		Kind:         strings.ToLower(p.String(0, "kind")),
		X:            p.Float64(1, "x"),
		Y:            p.Float64(2, "y"),
		Z:            p.Float64(3, "z"),
	}
	return m, p.Err()
}

var sentenceParser = nmea.SentenceParser{
	CustomParsers: map[string]nmea.ParserFunc{
		TypeIMU: parseIMUSentence,
	},
}

// ParseSentence parses a single $PIMU line.
func ParseSentence(line string) (IMUSentence, error) {
	s, err := sentenceParser.Parse(line)
	if err != nil {
		return IMUSentence{}, err
	}
	m, ok := s.(IMUSentence)
	if !ok {
		return IMUSentence{}, fmt.Errorf("unexpected sentence type %q", s.DataType())
	}
	return m, nil
}

// FormatSentence renders a vector as a checksummed $PIMU line.
func FormatSentence(kind string, v Vector) string {
	body := fmt.Sprintf("PIMU,%s,%.4f,%.4f,%.4f", strings.ToUpper(kind), v.X, v.Y, v.Z)
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, cs)
}

// NMEAReader streams $PIMU sentences from a serial port or any other reader.
// Other sentence types and malformed lines are logged and skipped.
type NMEAReader struct {
	name string
	r    io.Reader
}

func NewNMEAReader(name string, r io.Reader) *NMEAReader {
	return &NMEAReader{name: name, r: r}
}

// Run reads until EOF, a read error or cancellation.
// Cancellation only takes effect between lines; close the underlying
// reader to interrupt a blocked read. Read errors after cancellation are
// not reported.
func (n *NMEAReader) Run(ctx context.Context, sink Sink) error {
	scanner := bufio.NewScanner(n.r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}

		m, err := ParseSentence(line)
		if err != nil {
			log.Printf("%s: skipping sentence %q: %v", n.name, line, err)
			continue
		}

		r := Reading{Source: n.name, Kind: m.Kind, X: m.X, Y: m.Y, Z: m.Z}
		if err := Apply(sink, r); err != nil {
			log.Printf("%s: %v", n.name, err)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("%s: read: %w", n.name, err)
	}
	return nil
}
