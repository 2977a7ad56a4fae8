// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/orientation"
)

// gravityAlpha is the low-pass coefficient separating gravity from linear
// acceleration.
const gravityAlpha = 0.8

// HostIMU reads an MPU9250 and its AK8963 magnetometer over I²C and feeds
// linear acceleration, gravity and magnetic field into an imu.Sink.
type HostIMU struct {
	name     string
	mpu      *i2c.Dev
	mag      *i2c.Dev
	closer   io.Closer
	interval time.Duration

	accelScale float64    // m/s² per LSB
	magAdj     [3]float64 // factory sensitivity adjustment

	gravity  imu.Vector
	primed   bool
	lastMag  imu.Vector
	haveMag  bool
	overflow int
}

// OpenHostIMU initialises periph, opens the named I²C bus ("" for the
// first one) and configures the sensors.
func OpenHostIMU(busName string, accelRange byte, interval time.Duration) (*HostIMU, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host IMU: periph host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("host IMU: open I2C bus %q: %w", busName, err)
	}
	h, err := NewHostIMU(bus.String(), bus, accelRange, interval)
	if err != nil {
		bus.Close()
		return nil, err
	}
	h.closer = bus
	return h, nil
}

// NewHostIMU configures the sensors on an open bus.
func NewHostIMU(name string, bus i2c.Bus, accelRange byte, interval time.Duration) (*HostIMU, error) {
	if int(accelRange) >= len(accelLSBPerG) {
		return nil, fmt.Errorf("host IMU: accelerometer range %d out of 0-3", accelRange)
	}
	h := &HostIMU{
		name:       name,
		mpu:        &i2c.Dev{Bus: bus, Addr: mpuAddr},
		mag:        &i2c.Dev{Bus: bus, Addr: akAddr},
		interval:   interval,
		accelScale: orientation.StandardGravity / accelLSBPerG[accelRange],
	}

	id, err := readReg(h.mpu, regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: read WHO_AM_I: %w", name, err)
	}
	if id != whoAmIMPU9250 {
		log.Printf("%s IMU: unexpected WHO_AM_I 0x%02X, continuing", name, id)
	}

	steps := []struct {
		dev  *i2c.Dev
		reg  byte
		val  byte
		what string
	}{
		{h.mpu, regPwrMgmt1, 0x00, "wake"},
		{h.mpu, regAccelConfig, accelRange << 3, "set accel range"},
		{h.mpu, regIntPinCfg, bypassEnable, "enable I2C bypass"},
		{h.mag, akCNTL1, akPowerDown, "power down magnetometer"},
		{h.mag, akCNTL1, akFuseROM, "enter fuse ROM mode"},
	}
	for _, s := range steps {
		if err := writeReg(s.dev, s.reg, s.val); err != nil {
			return nil, fmt.Errorf("%s IMU: %s: %w", name, s.what, err)
		}
	}
	log.Printf("%s IMU: accelerometer range set to %d (±%dg)", name, accelRange, []int{2, 4, 8, 16}[accelRange])

	if wia, err := readReg(h.mag, akWIA); err != nil {
		return nil, fmt.Errorf("%s IMU: read magnetometer ID: %w", name, err)
	} else if wia != akWhoAmI {
		log.Printf("%s IMU: WARNING: magnetometer WHO_AM_I = 0x%02X", name, wia)
	}

	asa := make([]byte, 3)
	if err := h.mag.Tx([]byte{akASAX}, asa); err != nil {
		return nil, fmt.Errorf("%s IMU: read magnetometer sensitivity: %w", name, err)
	}
	for i, v := range asa {
		h.magAdj[i] = (float64(v)-128)/256 + 1
	}

	if err := writeReg(h.mag, akCNTL1, akPowerDown); err != nil {
		return nil, fmt.Errorf("%s IMU: power down magnetometer: %w", name, err)
	}
	if err := writeReg(h.mag, akCNTL1, akContinuous16); err != nil {
		return nil, fmt.Errorf("%s IMU: start magnetometer: %w", name, err)
	}
	log.Printf("%s IMU: mag sensitivity adj: X=%.4f Y=%.4f Z=%.4f", name, h.magAdj[0], h.magAdj[1], h.magAdj[2])

	return h, nil
}

func (h *HostIMU) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}

// ReadAccel returns the raw acceleration (gravity included), m/s².
func (h *HostIMU) ReadAccel() (imu.Vector, error) {
	buf := make([]byte, 6)
	if err := h.mpu.Tx([]byte{regAccelXOutH}, buf); err != nil {
		return imu.Vector{}, fmt.Errorf("%s IMU accel: %w", h.name, err)
	}
	return imu.Vector{
		X: float64(int16(binary.BigEndian.Uint16(buf[0:2]))) * h.accelScale,
		Y: float64(int16(binary.BigEndian.Uint16(buf[2:4]))) * h.accelScale,
		Z: float64(int16(binary.BigEndian.Uint16(buf[4:6]))) * h.accelScale,
	}, nil
}

// ReadMag returns the magnetic field in µT, aligned to the accelerometer
// axes. ok is false when no new measurement is ready or it overflowed.
func (h *HostIMU) ReadMag() (v imu.Vector, ok bool, err error) {
	st1, err := readReg(h.mag, akST1)
	if err != nil {
		return v, false, fmt.Errorf("%s IMU mag status: %w", h.name, err)
	}
	if st1&akDataReady == 0 {
		return v, false, nil
	}

	// Reading through ST2 releases the data registers for the next sample.
	buf := make([]byte, akFrameRegisters)
	if err := h.mag.Tx([]byte{akHXL}, buf); err != nil {
		return v, false, fmt.Errorf("%s IMU mag data: %w", h.name, err)
	}
	if buf[akST2-akHXL]&akOverflow != 0 {
		h.overflow++
		return v, false, nil
	}

	x := float64(int16(binary.LittleEndian.Uint16(buf[0:2]))) * akMicroTeslaLSB * h.magAdj[0]
	y := float64(int16(binary.LittleEndian.Uint16(buf[2:4]))) * akMicroTeslaLSB * h.magAdj[1]
	z := float64(int16(binary.LittleEndian.Uint16(buf[4:6]))) * akMicroTeslaLSB * h.magAdj[2]

	// AK8963 x/y are swapped relative to the accelerometer and z is inverted.
	return imu.Vector{X: y, Y: x, Z: -z}, true, nil
}

// Poll reads both sensors once and pushes the derived vectors into sink.
func (h *HostIMU) Poll(sink imu.Sink) error {
	raw, err := h.ReadAccel()
	if err != nil {
		return err
	}
	mag, ok, err := h.ReadMag()
	if err != nil {
		return err
	}
	if ok {
		h.lastMag = mag
		h.haveMag = true
	}

	if !h.primed {
		h.gravity = raw
		h.primed = true
	} else {
		h.gravity = imu.Vector{
			X: gravityAlpha*h.gravity.X + (1-gravityAlpha)*raw.X,
			Y: gravityAlpha*h.gravity.Y + (1-gravityAlpha)*raw.Y,
			Z: gravityAlpha*h.gravity.Z + (1-gravityAlpha)*raw.Z,
		}
	}

	sink.SetGravity(h.gravity)
	sink.SetAccelerometer(imu.Vector{
		X: raw.X - h.gravity.X,
		Y: raw.Y - h.gravity.Y,
		Z: raw.Z - h.gravity.Z,
	})
	if h.haveMag {
		sink.SetMagneticField(h.lastMag)
	}
	return nil
}

// Run polls the sensors every interval until ctx is cancelled. Read errors
// are logged and the sample skipped.
func (h *HostIMU) Run(ctx context.Context, sink imu.Sink) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if h.overflow > 0 {
				log.Printf("%s IMU: %d magnetometer overflows", h.name, h.overflow)
			}
			return nil
		case <-ticker.C:
			if err := h.Poll(sink); err != nil {
				log.Printf("%s IMU: %v", h.name, err)
			}
		}
	}
}

func readReg(d *i2c.Dev, reg byte) (byte, error) {
	buf := []byte{0}
	if err := d.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeReg(d *i2c.Dev, reg, val byte) error {
	return d.Tx([]byte{reg, val}, nil)
}
