// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/relabs-tech/indoor_positioning/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging sends the standard logger to stderr and, when LOG_FILE is
// set, to a size-rotated file as well. Close the returned value on exit.
func SetupLogging(cfg *config.Config) io.Closer {
	if cfg.LogFile == "" {
		return nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		LocalTime:  true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	log.Printf("logging to %s (max %d MB, %d backups)", cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	return lj
}
