// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/indoor_positioning/internal/uwb"
)

// DWM1001 UART TLV API.
const (
	tlvPosGet      = 0x02
	tlvReturnValue = 0x40
	tlvPosition    = 0x41
	positionLength = 13

	// maxResyncBytes bounds the scan for a status TLV after line noise.
	maxResyncBytes = 64
)

var (
	ErrTagResponse = errors.New("unexpected tag response")
	ErrTagStatus   = errors.New("tag returned error status")
)

// PacketHandler receives 14-byte position packets.
type PacketHandler func(packet []byte)

// Tag polls a DWM1001 tag for its position over the UART TLV API.
type Tag struct {
	name     string
	port     io.ReadWriter
	closer   io.Closer
	interval time.Duration
}

// OpenTag opens the tag's serial port (8N1).
func OpenTag(portName string, baud int, interval time.Duration) (*Tag, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tag: open %s: %w", portName, err)
	}
	log.Printf("tag: serial port opened on %s at %d baud", portName, baud)

	t := NewTag(portName, port, interval)
	t.closer = port
	return t, nil
}

// NewTag wraps an already open connection to a tag.
func NewTag(name string, port io.ReadWriter, interval time.Duration) *Tag {
	return &Tag{name: name, port: port, interval: interval}
}

func (t *Tag) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// ReadPacket issues dwm_pos_get and returns the position as a packet
// in uwb wire format.
func (t *Tag) ReadPacket() ([]byte, error) {
	if _, err := t.port.Write([]byte{tlvPosGet, 0x00}); err != nil {
		return nil, fmt.Errorf("tag %s: write request: %w", t.name, err)
	}

	status, err := t.syncStatus()
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, fmt.Errorf("tag %s: dwm_pos_get: %w %d", t.name, ErrTagStatus, status)
	}

	header := make([]byte, 2)
	if _, err := io.ReadFull(t.port, header); err != nil {
		return nil, fmt.Errorf("tag %s: read position header: %w", t.name, err)
	}
	if header[0] != tlvPosition || header[1] != positionLength {
		return nil, fmt.Errorf("tag %s: %w: position TLV header % X", t.name, ErrTagResponse, header)
	}

	packet := make([]byte, uwb.PacketSize)
	packet[0] = uwb.ModePosition
	if _, err := io.ReadFull(t.port, packet[1:]); err != nil {
		return nil, fmt.Errorf("tag %s: read position: %w", t.name, err)
	}
	return packet, nil
}

// syncStatus scans forward to the 0x40 0x01 status TLV, skipping stray
// bytes left on the line, and returns its value byte.
func (t *Tag) syncStatus() (byte, error) {
	window := make([]byte, 2)
	if _, err := io.ReadFull(t.port, window); err != nil {
		return 0, fmt.Errorf("tag %s: read status: %w", t.name, err)
	}
	skipped := 0
	for window[0] != tlvReturnValue || window[1] != 0x01 {
		if skipped == maxResyncBytes {
			return 0, fmt.Errorf("tag %s: %w: no status TLV within %d bytes", t.name, ErrTagResponse, maxResyncBytes)
		}
		window[0] = window[1]
		if _, err := io.ReadFull(t.port, window[1:]); err != nil {
			return 0, fmt.Errorf("tag %s: read status: %w", t.name, err)
		}
		skipped++
	}
	if skipped > 0 {
		log.Printf("tag %s: skipped %d stray bytes before status", t.name, skipped)
	}

	value := window[:1]
	if _, err := io.ReadFull(t.port, value); err != nil {
		return 0, fmt.Errorf("tag %s: read status: %w", t.name, err)
	}
	return value[0], nil
}

// Run polls the tag every interval until ctx is cancelled. Error statuses
// and malformed replies are logged and skipped; I/O errors end the loop.
func (t *Tag) Run(ctx context.Context, handle PacketHandler) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		packet, err := t.ReadPacket()
		if errors.Is(err, ErrTagStatus) || errors.Is(err, ErrTagResponse) {
			log.Printf("%v", err)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		handle(packet)
	}
}
