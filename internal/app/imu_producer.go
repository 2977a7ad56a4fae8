// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"log"
	"time"

	"github.com/relabs-tech/indoor_positioning/internal/config"
	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/sensors"
)

const producerLogInterval = time.Second

// teeSink forwards every vector to all sinks.
type teeSink []imu.Sink

func (t teeSink) SetAccelerometer(v imu.Vector) {
	for _, s := range t {
		s.SetAccelerometer(v)
	}
}

func (t teeSink) SetGravity(v imu.Vector) {
	for _, s := range t {
		s.SetGravity(v)
	}
}

func (t teeSink) SetMagneticField(v imu.Vector) {
	for _, s := range t {
		s.SetMagneticField(v)
	}
}

// RunIMUProducer reads the host MPU9250 and publishes accelerometer,
// gravity and magnetic field readings to MQTT. A local IMU stage is kept
// only to log orientation.
func RunIMUProducer(ctx context.Context) error {
	log.Println("starting indoor-positioning IMU producer (IMU → MQTT)")
	cfg := config.Get()

	interval := time.Duration(cfg.IMUSampleInterval) * time.Millisecond
	var (
		src    imu.Source
		source string
	)
	if cfg.IMUSource == config.IMUSourceMock {
		log.Println("using mock IMU source")
		src, source = imu.NewMockSource(interval), "mock"
	} else {
		h, err := sensors.OpenHostIMU(cfg.IMUI2CBus, cfg.IMUAccelRange, interval)
		if err != nil {
			return err
		}
		defer h.Close()
		src, source = h, "host"
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	stage := imu.NewStage(
		imu.WithDeclination(cfg.MagneticDeclination),
		imu.WithDeadBand(imu.Vector{X: cfg.DeadBandX, Y: cfg.DeadBandY, Z: cfg.DeadBandZ}),
	)
	sink := teeSink{
		stage,
		&mqttReadingSink{client: client, topic: cfg.TopicIMU, source: source, now: time.Now},
	}

	go func() {
		ticker := time.NewTicker(producerLogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				s := stage.Sample()
				log.Printf("%s tick: pose R=%.2f P=%.2f Y=%.2f %s | world acc ax=%.2f ay=%.2f az=%.2f",
					t.Format(time.RFC3339),
					s.Orientation.Roll, s.Orientation.Pitch, s.Orientation.Yaw, s.Compass,
					s.Acceleration.X, s.Acceleration.Y, s.Acceleration.Z,
				)
			}
		}
	}()

	log.Printf("publishing IMU readings to %s every %s", cfg.TopicIMU, interval)
	return src.Run(ctx, sink)
}
