// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/indoor_positioning/internal/config"
	"github.com/relabs-tech/indoor_positioning/internal/kalman"
)

func printEstimate(w io.Writer, e kalman.Estimate) {
	fmt.Fprintf(w,
		"[EST %4d] raw x=%6.3f y=%6.3f z=%6.3f q=%4d | filtered x=%6.3f y=%6.3f z=%6.3f | acc ax=%6.2f ay=%6.2f az=%6.2f\n",
		e.Seq,
		e.Raw.X, e.Raw.Y, e.Raw.Z, e.Raw.Quality,
		e.Filtered.X, e.Filtered.Y, e.Filtered.Z,
		e.FilteredAcceleration.X, e.FilteredAcceleration.Y, e.FilteredAcceleration.Z,
	)
}

// RunConsoleMQTT prints every estimate published by the fusion service.
func RunConsoleMQTT(ctx context.Context) error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	var session string
	err = subscribe(client, cfg.TopicEstimate, func(_ mqtt.Client, msg mqtt.Message) {
		var e kalman.Estimate
		if err := json.Unmarshal(msg.Payload(), &e); err != nil {
			log.Printf("console: estimate unmarshal error: %v", err)
			return
		}
		if e.Session != session {
			session = e.Session
			fmt.Printf("[SESSION] %s\n", session)
		}
		printEstimate(os.Stdout, e)
	})
	if err != nil {
		return err
	}

	err = subscribe(client, cfg.TopicReset, func(_ mqtt.Client, _ mqtt.Message) {
		fmt.Println("[RESET] tracking reset requested")
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}
