// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// MPU9250 registers used by HostIMU.
const (
	mpuAddr = 0x68

	regAccelConfig = 0x1C // ACCEL_FS_SEL in bits 4:3
	regIntPinCfg   = 0x37 // BYPASS_EN = bit 1
	regAccelXOutH  = 0x3B // 6 bytes, big-endian X/Y/Z
	regPwrMgmt1    = 0x6B
	regWhoAmI      = 0x75

	whoAmIMPU9250 = 0x71
	bypassEnable  = 0x02
)

// AK8963 magnetometer, reachable on the host bus once bypass is enabled.
const (
	akAddr = 0x0C

	akWIA   = 0x00
	akST1   = 0x02 // DRDY = bit 0
	akHXL   = 0x03 // 6 bytes little-endian X/Y/Z, followed by ST2
	akST2   = 0x09 // HOFL = bit 3
	akCNTL1 = 0x0A
	akASAX  = 0x10 // 3 bytes sensitivity adjustment

	akWhoAmI         = 0x48
	akPowerDown      = 0x00
	akFuseROM        = 0x0F
	akContinuous16   = 0x16 // 16-bit output, continuous mode 2 (100 Hz)
	akDataReady      = 0x01
	akOverflow       = 0x08
	akMicroTeslaLSB  = 0.15 // 16-bit output
	akFrameRegisters = 7    // HXL..ST2
)

// accelLSBPerG for ACCEL_FS_SEL 0..3 (±2, ±4, ±8, ±16 g).
var accelLSBPerG = [4]float64{16384, 8192, 4096, 2048}
