// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the global zerolog logger from the loaded config:
// console output, optional rotated file output and the configured level.
func (c *AppConfig) SetupLogging(version string) error {
	setLogLevel(c.Config.LogLevel)

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	var writer io.Writer = console
	if c.Config.LogPath != "" {
		dir := filepath.Dir(c.Config.LogPath)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}

		maxSize := c.Config.LogMaxSize
		if maxSize <= 0 {
			maxSize = 50
		}
		maxBackups := c.Config.LogMaxBackups
		if maxBackups < 0 {
			maxBackups = 0
		}

		rotator := &lumberjack.Logger{
			Filename:   c.Config.LogPath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		writer = io.MultiWriter(console, rotator)
	}

	log.Logger = log.Logger.Output(writer).With().Str("version", version).Logger()

	return nil
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
