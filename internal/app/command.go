// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/indoor_positioning/internal/config"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "./configs/fusion_config.txt"

// NewCommand wraps run in a cobra command that loads the configuration,
// sets up logging and cancels the context on SIGINT/SIGTERM.
func NewCommand(use, short string, run func(ctx context.Context) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:          use,
		Short:        short,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if err := config.InitGlobal(path); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			closer := SetupLogging(config.Get())
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
	}
	cmd.Flags().StringP("config", "c", DefaultConfigPath, "`<path>` to the configuration file")
	return cmd
}
