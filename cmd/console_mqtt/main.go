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
	cmd := app.NewCommand("console_mqtt", "Print filtered position estimates from MQTT", app.RunConsoleMQTT)
	cobra.CheckErr(cmd.ExecuteContext(context.Background()))
}
