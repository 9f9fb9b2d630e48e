// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package main

import (
	"github.com/tomtom215/examguard/internal/authz"
	"github.com/tomtom215/examguard/internal/config"
	"github.com/tomtom215/examguard/internal/ingest"
	"github.com/tomtom215/examguard/internal/models"
	"github.com/tomtom215/examguard/internal/notify"
	"github.com/tomtom215/examguard/internal/session"
	"github.com/tomtom215/examguard/internal/store"
	"github.com/tomtom215/examguard/internal/supervisor"
	ws "github.com/tomtom215/examguard/internal/websocket"
)

// The functions below translate configuration sections into the option
// structs of each package, so that internal packages do not import config.

func badgerConfig(c *config.StoreConfig) store.BadgerConfig {
	return store.BadgerConfig{
		Path:             c.Path,
		InMemory:         c.InMemory,
		SyncWrites:       c.SyncWrites,
		MemTableSize:     c.MemTableSize,
		ValueLogFileSize: c.ValueLogFileSize,
		NumCompactors:    c.NumCompactors,
		Compression:      c.Compression,
		GCInterval:       c.GCInterval,
		GCRatio:          c.GCRatio,
	}
}

func resilienceConfig(c *config.StoreConfig) store.ResilienceConfig {
	rc := store.DefaultResilienceConfig()
	rc.CallTimeout = c.CallTimeout
	rc.MaxRetries = c.MaxRetries
	rc.InitialBackoff = c.InitialBackoff
	rc.MaxBackoff = c.MaxBackoff
	rc.BreakerTimeout = c.BreakerTimeout
	rc.FailureThreshold = c.FailureThreshold
	return rc
}

func pipelineConfig(c *config.IngestConfig) ingest.Config {
	return ingest.Config{
		Limits: models.ValidationLimits{
			MaxClockSkew:    c.MaxClockSkew,
			MaxEventAge:     c.MaxEventAge,
			MaxPayloadBytes: c.MaxPayloadBytes,
		},
		DedupCapacity: c.DedupCapacity,
		DedupTTL:      c.DedupTTL,
	}
}

func evaluatorConfig(c *config.IngestConfig) ingest.EvaluatorConfig {
	return ingest.EvaluatorConfig{
		Workers:     c.Workers,
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
		Timeout:     c.EvaluateTimeout,
	}
}

func sessionPolicy(c *config.SessionConfig) session.Policy {
	return session.Policy{
		SuspendThreshold:    c.SuspendThreshold,
		SuspendOnDisconnect: c.SuspendOnDisconnect,
	}
}

func hubConfig(c *config.WebSocketConfig) ws.Config {
	return ws.Config{
		RateLimit:        c.RateLimit,
		RateBurst:        c.RateBurst,
		SendBuffer:       c.SendBuffer,
		PongWait:         c.HeartbeatInterval,
		WriteWait:        c.WriteTimeout,
		MaxMessageSize:   c.MaxMessageSize,
		OperationTimeout: c.OperationTimeout,
	}
}

func busConfig(c *config.NotifyConfig) notify.Config {
	bc := notify.DefaultConfig()
	bc.OutputBuffer = c.OutputBuffer
	bc.CloseTimeout = c.CloseTimeout
	bc.RetryMaxRetries = c.RetryMaxRetries
	bc.RetryInitialInterval = c.RetryInitialInterval
	bc.RetryMaxInterval = c.RetryMaxInterval
	return bc
}

func kafkaConfig(c *config.NotifyConfig) notify.KafkaConfig {
	return notify.KafkaConfig{
		Brokers:      c.KafkaBrokers,
		Topic:        c.KafkaTopic,
		BatchTimeout: c.KafkaBatchTimeout,
		WriteTimeout: c.KafkaWriteTimeout,
	}
}

func enforcerConfig(c *config.SecurityConfig) *authz.EnforcerConfig {
	return &authz.EnforcerConfig{
		ModelPath:      c.CasbinModelPath,
		PolicyPath:     c.CasbinPolicyPath,
		AutoReload:     c.CasbinPolicyPath != "" && c.CasbinReloadInterval > 0,
		ReloadInterval: c.CasbinReloadInterval,
		CacheSize:      c.CasbinCacheSize,
		CacheTTL:       c.CasbinCacheTTL,
	}
}

func treeConfig(c *config.SupervisorConfig) supervisor.TreeConfig {
	return supervisor.TreeConfig{
		FailureThreshold: c.FailureThreshold,
		FailureDecay:     c.FailureDecay,
		FailureBackoff:   c.FailureBackoff,
		ShutdownTimeout:  c.ShutdownTimeout,
	}
}
