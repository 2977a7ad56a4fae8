// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/indoor_positioning/internal/app"
)

func main() {
	cmd := app.NewCommand("imu_producer", "Read the MPU9250 and publish IMU readings to MQTT", app.RunIMUProducer)
	cobra.CheckErr(cmd.ExecuteContext(context.Background()))
}
