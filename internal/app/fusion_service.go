// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/indoor_positioning/internal/config"
	"github.com/relabs-tech/indoor_positioning/internal/fusion"
	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/kalman"
	"github.com/relabs-tech/indoor_positioning/internal/sensors"
)

const statsInterval = time.Minute

// packetSource delivers raw tag packets until ctx is cancelled.
type packetSource interface {
	Run(ctx context.Context, handle sensors.PacketHandler) error
}

// closingSource closes the underlying device when the run context ends, so
// blocked reads return.
type closingSource struct {
	imu.Source
	closer io.Closer
}

func (s closingSource) Run(ctx context.Context, sink imu.Sink) error {
	stop := context.AfterFunc(ctx, func() { s.closer.Close() })
	defer stop()
	return s.Source.Run(ctx, sink)
}

// RunFusion runs the positioning service until ctx is cancelled or a
// component fails.
func RunFusion(ctx context.Context) error {
	cfg := config.Get()
	log.Println("starting indoor-positioning fusion service")

	tuning := kalman.DefaultTuning()
	if cfg.TuningFile != "" {
		var err error
		if tuning, err = kalman.LoadTuning(cfg.TuningFile); err != nil {
			return err
		}
		log.Printf("filter tuning loaded from %s", cfg.TuningFile)
	}
	log.Printf("filter: dt=%.3fs roll threshold=%.0f° height change >= %.1f m/s² for %s",
		tuning.TimeStep, tuning.RollThreshold, tuning.HeightChangeThreshold, tuning.HeightChangeWindow)

	est, err := kalman.New(tuning)
	if err != nil {
		return err
	}

	stage := imu.NewStage(
		imu.WithDeclination(cfg.MagneticDeclination),
		imu.WithDeadBand(imu.Vector{X: cfg.DeadBandX, Y: cfg.DeadBandY, Z: cfg.DeadBandZ}),
	)

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDFusion)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	src, srcCloser, err := newIMUSource(cfg, client)
	if err != nil {
		return err
	}
	defer srcCloser.Close()

	orch := fusion.New(stage, est, fusion.WithSource(src))
	hub := NewHub()
	orch.AddListener(hub)
	orch.AddListener(&estimatePublisher{client: client, topic: cfg.TopicEstimate})

	err = subscribe(client, cfg.TopicReset, func(_ mqtt.Client, _ mqtt.Message) {
		log.Println("fusion: tracking reset requested")
		orch.ResetTracking()
	})
	if err != nil {
		return err
	}

	tag, err := newPacketSource(cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := orch.Start(gctx); err != nil {
		return err
	}
	defer orch.Stop()

	g.Go(func() error {
		err := tag.Run(gctx, func(p []byte) {
			if _, _, err := orch.HandlePacket(p); err != nil {
				log.Printf("fusion: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("tag: %w", err)
		}
		return nil
	})

	if cfg.WebServerPort > 0 {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
			Handler: hub.Handler(),
		}
		g.Go(func() error {
			log.Printf("web server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		logStats(gctx, metrics.DefaultRegistry, statsInterval)
		return nil
	})

	err = g.Wait()
	log.Println("fusion: shutting down")
	return err
}

// newIMUSource builds the source selected by IMU_SOURCE. The closer releases
// the device once the service is done with it.
func newIMUSource(cfg *config.Config, client mqtt.Client) (imu.Source, io.Closer, error) {
	interval := time.Duration(cfg.IMUSampleInterval) * time.Millisecond

	switch cfg.IMUSource {
	case config.IMUSourceMQTT:
		log.Printf("IMU source: MQTT topic %s", cfg.TopicIMU)
		return &mqttIMUSource{client: client, topic: cfg.TopicIMU}, nopCloser{}, nil

	case config.IMUSourceNMEA:
		port, err := openSerial(cfg.IMUSerialPort, cfg.IMUBaudRate)
		if err != nil {
			return nil, nil, fmt.Errorf("IMU serial: %w", err)
		}
		log.Printf("IMU source: NMEA on %s at %d baud", cfg.IMUSerialPort, cfg.IMUBaudRate)
		return closingSource{Source: imu.NewNMEAReader(cfg.IMUSerialPort, port), closer: port}, port, nil

	case config.IMUSourceHost:
		h, err := sensors.OpenHostIMU(cfg.IMUI2CBus, cfg.IMUAccelRange, interval)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("IMU source: MPU9250 on I2C bus %q", cfg.IMUI2CBus)
		return h, h, nil

	case config.IMUSourceMock:
		log.Println("IMU source: mock")
		return imu.NewMockSource(interval), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown IMU source %q", cfg.IMUSource)
}

func newPacketSource(cfg *config.Config) (packetSource, error) {
	if cfg.TagSerialPort == "" {
		return nil, fmt.Errorf("TAG_SERIAL_PORT is required (device path or %q)", config.TagPortMock)
	}
	interval := time.Duration(cfg.TagPollInterval) * time.Millisecond
	if strings.EqualFold(cfg.TagSerialPort, config.TagPortMock) {
		log.Println("tag: mock")
		return sensors.NewMockTag(interval), nil
	}
	tag, err := sensors.OpenTag(cfg.TagSerialPort, cfg.TagBaudRate, interval)
	if err != nil {
		return nil, err
	}
	return closingTag{Tag: tag}, nil
}

type closingTag struct {
	*sensors.Tag
}

func (t closingTag) Run(ctx context.Context, handle sensors.PacketHandler) error {
	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()
	return t.Tag.Run(ctx, handle)
}

// openSerial is replaced in tests.
var openSerial = openSerialPort

func openSerialPort(portName string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
}

// logStats periodically logs every counter in r.
func logStats(ctx context.Context, r metrics.Registry, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("stats: %s", formatCounters(r))
		}
	}
}

func formatCounters(r metrics.Registry) string {
	var parts []string
	r.Each(func(name string, m interface{}) {
		if c, ok := m.(metrics.Counter); ok {
			parts = append(parts, fmt.Sprintf("%s=%d", name, c.Count()))
		}
	})
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
