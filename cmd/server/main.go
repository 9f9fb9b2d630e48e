// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/examguard/internal/config"
	"github.com/tomtom215/examguard/internal/logging"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("store", cfg.Store.Backend).
		Bool("redis", cfg.Notify.RedisURL != "").
		Bool("kafka", len(cfg.Notify.KafkaBrokers) > 0).
		Msg("Starting Examguard with supervisor tree")

	if cfg.ShouldWarnAboutCORS() {
		logging.Warn().Msg("CORS allows any origin; restrict CORS_ORIGINS outside development")
	}
	watchLogLevel()

	a, err := newApp(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize components")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := a.run(ctx)
	stop()

	a.close()

	if runErr != nil {
		logging.Error().Err(runErr).Msg("Supervisor tree stopped with error")
		os.Exit(1)
	}
	logging.Info().Msg("Server stopped gracefully")
}

// watchLogLevel reapplies logging.level whenever the config file changes.
// Other settings need a restart.
func watchLogLevel() {
	path := config.ConfigFilePath()
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		reloaded, err := config.Load()
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Ignoring invalid config file change")
			return
		}
		logging.SetLevelString(reloaded.Logging.Level)
		logging.Info().Str("level", reloaded.Logging.Level).Msg("Log level reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
	}
}
