// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// IMU sources understood by the fusion service.
const (
	IMUSourceMQTT = "mqtt" // readings published by imu_producer
	IMUSourceNMEA = "nmea" // $PIMU sentences on a serial port
	IMUSourceHost = "host" // MPU9250 on the local I²C bus
	IMUSourceMock = "mock"
)

// TagPortMock selects the simulated tag instead of a serial port.
const TagPortMock = "mock"

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDFusion   string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string

	// Topics
	TopicIMU      string // imu.Reading JSON
	TopicEstimate string // kalman.Estimate JSON
	TopicReset    string // any message resets tracking

	// UWB tag
	TagSerialPort   string
	TagBaudRate     int
	TagPollInterval int // milliseconds

	// IMU
	IMUSource         string
	IMUSerialPort     string
	IMUBaudRate       int
	IMUI2CBus         string
	IMUAccelRange     byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUSampleInterval int  // milliseconds

	// IMU stage
	MagneticDeclination float64 // degrees, added to yaw
	DeadBandX           float64
	DeadBandY           float64
	DeadBandZ           float64

	// Filter
	TuningFile string // empty = built-in tuning

	// Web Server
	WebServerPort int

	// Logging
	LogFile       string // empty = stderr only
	LogMaxSizeMB  int
	LogMaxBackups int
}

// defaults for keys that may be omitted.
func defaults() *Config {
	return &Config{
		MQTTClientIDFusion:   "indoor-fusion",
		MQTTClientIDProducer: "indoor-imu-producer",
		MQTTClientIDConsole:  "indoor-console",
		TopicIMU:             "indoor/imu",
		TopicEstimate:        "indoor/estimate",
		TopicReset:           "indoor/fusion/reset",
		TagBaudRate:          115200,
		TagPollInterval:      100,
		IMUSource:            IMUSourceMQTT,
		IMUBaudRate:          115200,
		IMUSampleInterval:    20,
		DeadBandX:            0.05,
		DeadBandY:            0.05,
		DeadBandZ:            0.25,
		WebServerPort:        8080,
		LogMaxSizeMB:         10,
		LogMaxBackups:        3,
	}
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parsePositiveInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %d", key, v)
	}
	return v, nil
}

func parseNonNegativeFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must be >= 0, got %v", key, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_FUSION":
		c.MQTTClientIDFusion = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_IMU":
		c.TopicIMU = value
	case "TOPIC_ESTIMATE":
		c.TopicEstimate = value
	case "TOPIC_RESET":
		c.TopicReset = value

	// UWB tag
	case "TAG_SERIAL_PORT":
		c.TagSerialPort = value
	case "TAG_BAUD_RATE":
		c.TagBaudRate, err = parsePositiveInt(key, value)
	case "TAG_POLL_INTERVAL":
		c.TagPollInterval, err = parsePositiveInt(key, value)

	// IMU
	case "IMU_SOURCE":
		switch value {
		case IMUSourceMQTT, IMUSourceNMEA, IMUSourceHost, IMUSourceMock:
			c.IMUSource = value
		default:
			return fmt.Errorf("IMU_SOURCE must be one of mqtt, nmea, host, mock, got %q", value)
		}
	case "IMU_SERIAL_PORT":
		c.IMUSerialPort = value
	case "IMU_BAUD_RATE":
		c.IMUBaudRate, err = parsePositiveInt(key, value)
	case "IMU_I2C_BUS":
		c.IMUI2CBus = value
	case "IMU_ACCEL_RANGE":
		rangeVal, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, perr)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_SAMPLE_INTERVAL":
		c.IMUSampleInterval, err = parsePositiveInt(key, value)

	// IMU stage
	case "MAGNETIC_DECLINATION":
		decl, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			return fmt.Errorf("invalid MAGNETIC_DECLINATION %q: %w", value, perr)
		}
		if decl < -180 || decl > 180 {
			return fmt.Errorf("MAGNETIC_DECLINATION must be within ±180, got %v", decl)
		}
		c.MagneticDeclination = decl
	case "DEAD_BAND_X":
		c.DeadBandX, err = parseNonNegativeFloat(key, value)
	case "DEAD_BAND_Y":
		c.DeadBandY, err = parseNonNegativeFloat(key, value)
	case "DEAD_BAND_Z":
		c.DeadBandZ, err = parseNonNegativeFloat(key, value)

	// Filter
	case "TUNING_FILE":
		c.TuningFile = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, perr)
		}
		if port < 0 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 0-65535 (0 disables), got %d", port)
		}
		c.WebServerPort = port

	// Logging
	case "LOG_FILE":
		c.LogFile = value
	case "LOG_MAX_SIZE_MB":
		c.LogMaxSizeMB, err = parsePositiveInt(key, value)
	case "LOG_MAX_BACKUPS":
		backups, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid LOG_MAX_BACKUPS %q: %w", value, perr)
		}
		if backups < 0 {
			return fmt.Errorf("LOG_MAX_BACKUPS must be >= 0, got %d", backups)
		}
		c.LogMaxBackups = backups

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks the fields every binary needs and that the selected IMU
// source has what it needs. TAG_SERIAL_PORT is checked by the fusion
// service, the only binary that opens the tag.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.IMUSource == IMUSourceNMEA && c.IMUSerialPort == "" {
		return fmt.Errorf("IMU_SERIAL_PORT is required when IMU_SOURCE=%s", IMUSourceNMEA)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
