// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_positioning/internal/imu"
	"github.com/relabs-tech/indoor_positioning/internal/kalman"
)

const publishTimeout = 100 * time.Millisecond

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	log.Printf("connected to MQTT broker at %s as %s", broker, clientID)
	return client, nil
}

func subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	token := client.Subscribe(topic, 0, handler)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT subscribe %s: %w", topic, token.Error())
	}
	log.Printf("subscribed to MQTT topic %s", topic)
	return nil
}

// publishJSON publishes v without blocking the caller for longer than
// publishTimeout.
func publishJSON(client mqtt.Client, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal (%s): %w", topic, err)
	}
	token := client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish %s: timeout", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("MQTT publish %s: %w", topic, token.Error())
	}
	return nil
}

// applyReading decodes an imu.Reading payload into sink.
func applyReading(sink imu.Sink, payload []byte) error {
	var r imu.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("IMU reading unmarshal: %w", err)
	}
	return imu.Apply(sink, r)
}

// mqttIMUSource feeds readings published on topic into the IMU stage.
type mqttIMUSource struct {
	client mqtt.Client
	topic  string
}

func (s *mqttIMUSource) Run(ctx context.Context, sink imu.Sink) error {
	err := subscribe(s.client, s.topic, func(_ mqtt.Client, msg mqtt.Message) {
		if err := applyReading(sink, msg.Payload()); err != nil {
			log.Printf("fusion: %v", err)
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	if token := s.client.Unsubscribe(s.topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		log.Printf("MQTT unsubscribe %s: %v", s.topic, token.Error())
	}
	return nil
}

// mqttReadingSink publishes every vector it receives as an imu.Reading.
type mqttReadingSink struct {
	client mqtt.Client
	topic  string
	source string
	now    func() time.Time
}

func (s *mqttReadingSink) publish(kind string, v imu.Vector) {
	r := imu.Reading{
		Source: s.source,
		Kind:   kind,
		X:      v.X,
		Y:      v.Y,
		Z:      v.Z,
		Time:   s.now().Format(time.RFC3339Nano),
	}
	if err := publishJSON(s.client, s.topic, false, r); err != nil {
		log.Printf("%s: %v", s.source, err)
	}
}

func (s *mqttReadingSink) SetAccelerometer(v imu.Vector) { s.publish(imu.KindAccelerometer, v) }
func (s *mqttReadingSink) SetGravity(v imu.Vector)       { s.publish(imu.KindGravity, v) }
func (s *mqttReadingSink) SetMagneticField(v imu.Vector) { s.publish(imu.KindMagnetic, v) }

// estimatePublisher is a fusion.EstimateListener publishing to MQTT.
type estimatePublisher struct {
	client mqtt.Client
	topic  string
}

func (p *estimatePublisher) OnEstimate(e kalman.Estimate) {
	if err := publishJSON(p.client, p.topic, false, e); err != nil {
		log.Printf("fusion: %v", err)
	}
}
