// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/examguard/internal/flagging"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/examguard/config.yaml",
	"/etc/examguard/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3857,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		WebSocket: WebSocketConfig{
			HeartbeatInterval: 60 * time.Second,
			WriteTimeout:      10 * time.Second,
			MaxMessageSize:    64 * 1024,
			SendBuffer:        256,
			RateLimit:         50,
			RateBurst:         100,
			OperationTimeout:  5 * time.Second,
		},
		Registry: RegistryConfig{
			SweepInterval: 15 * time.Second,
			IdleTimeout:   90 * time.Second,
		},
		Ingest: IngestConfig{
			MaxClockSkew:    30 * time.Second,
			MaxEventAge:     15 * time.Minute,
			MaxPayloadBytes: 16 * 1024,
			DedupCapacity:   100000,
			DedupTTL:        30 * time.Minute,
			Workers:         4,
			MaxAttempts:     5,
			RetryDelay:      200 * time.Millisecond,
			EvaluateTimeout: 5 * time.Second,
		},
		Flagging: flagging.DefaultSettings(),
		Session: SessionConfig{
			SuspendThreshold:    3,
			SuspendOnDisconnect: false,
		},
		Store: StoreConfig{
			Backend:          "badger",
			Path:             "/data/examguard",
			SyncWrites:       true,
			MemTableSize:     64 << 20,
			ValueLogFileSize: 256 << 20,
			NumCompactors:    2,
			Compression:      true,
			GCInterval:       10 * time.Minute,
			GCRatio:          0.5,
			CallTimeout:      2 * time.Second,
			MaxRetries:       3,
			InitialBackoff:   50 * time.Millisecond,
			MaxBackoff:       1 * time.Second,
			BreakerTimeout:   30 * time.Second,
			FailureThreshold: 5,
		},
		Analytics: AnalyticsConfig{
			CacheSize: 1024,
		},
		Notify: NotifyConfig{
			OutputBuffer:         1024,
			CloseTimeout:         10 * time.Second,
			RetryMaxRetries:      5,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     5 * time.Second,
			DedupSize:            10000,
			RedisChannel:         "examguard.notifications",
			KafkaTopic:           "examguard.notifications",
			KafkaBatchTimeout:    50 * time.Millisecond,
			KafkaWriteTimeout:    10 * time.Second,
		},
		Security: SecurityConfig{
			TokenTTL:             12 * time.Hour,
			JWTIssuer:            "examguard",
			RateLimitReqs:        100,
			RateLimitWindow:      1 * time.Minute,
			RateLimitDisabled:    false,
			CORSOrigins:          []string{},
			CasbinReloadInterval: 30 * time.Second,
			CasbinCacheSize:      1024,
			CasbinCacheTTL:       5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf with layered sources.
// Priority order (later overrides earlier):
//  1. Default values (from defaultConfig)
//  2. Config file (if found)
//  3. Environment variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	//   HTTP_PORT -> server.port
	//   SUSPEND_THRESHOLD -> session.suspend_threshold
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ConfigFilePath returns the config file Load would read, or "" when none
// exists.
func ConfigFilePath() string {
	return findConfigFile()
}

// findConfigFile searches for a config file in the default locations.
// Returns empty string if no config file is found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists the koanf paths that accept comma-separated strings
// from environment variables.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"notify.kafka_brokers",
	"flagging.disabled",
}

// processSliceFields converts comma-separated string values to slices.
// Environment variables are always strings, so ALLOWED_ORIGINS="a,b" must be
// split before unmarshaling into []string.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (defaults or YAML)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_port":             "server.port",
	"http_host":             "server.host",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// WebSocket
	"ws_heartbeat_interval": "websocket.heartbeat_interval",
	"ws_write_timeout":      "websocket.write_timeout",
	"ws_max_message_size":   "websocket.max_message_size",
	"ws_send_buffer":        "websocket.send_buffer",
	"ws_rate_limit":         "websocket.rate_limit",
	"ws_rate_burst":         "websocket.rate_burst",
	"ws_operation_timeout":  "websocket.operation_timeout",

	// Registry
	"connection_sweep_interval": "registry.sweep_interval",
	"connection_idle_timeout":   "registry.idle_timeout",

	// Ingest
	"ingest_max_clock_skew":    "ingest.max_clock_skew",
	"ingest_max_event_age":     "ingest.max_event_age",
	"ingest_max_payload_bytes": "ingest.max_payload_bytes",
	"ingest_dedup_capacity":    "ingest.dedup_capacity",
	"ingest_dedup_ttl":         "ingest.dedup_ttl",
	"evaluator_workers":        "ingest.workers",
	"evaluator_max_attempts":   "ingest.max_attempts",
	"evaluator_retry_delay":    "ingest.retry_delay",
	"evaluator_timeout":        "ingest.evaluate_timeout",

	// Flagging
	"flagging_window_size":    "flagging.window_size",
	"flagging_disabled_rules": "flagging.disabled",

	// Session policy
	"suspend_threshold":     "session.suspend_threshold",
	"suspend_on_disconnect": "session.suspend_on_disconnect",

	// Store
	"store_backend":          "store.backend",
	"badger_path":            "store.path",
	"badger_in_memory":       "store.in_memory",
	"badger_sync_writes":     "store.sync_writes",
	"badger_gc_interval":     "store.gc_interval",
	"badger_gc_ratio":        "store.gc_ratio",
	"store_call_timeout":     "store.call_timeout",
	"store_max_retries":      "store.max_retries",
	"store_breaker_timeout":  "store.breaker_timeout",
	"store_breaker_failures": "store.failure_threshold",

	// Analytics
	"analytics_cache_size": "analytics.cache_size",

	// Notifications
	"notify_max_retries": "notify.retry_max_retries",
	"redis_url":          "notify.redis_url",
	"redis_channel":      "notify.redis_channel",
	"kafka_brokers":      "notify.kafka_brokers",
	"kafka_topic":        "notify.kafka_topic",

	// Security
	"jwt_secret":             "security.jwt_secret",
	"jwt_token_ttl":          "security.token_ttl",
	"jwt_issuer":             "security.jwt_issuer",
	"rate_limit_requests":    "security.rate_limit_reqs",
	"rate_limit_window":      "security.rate_limit_window",
	"disable_rate_limit":     "security.rate_limit_disabled",
	"allowed_origins":        "security.cors_origins",
	"cors_origins":           "security.cors_origins",
	"casbin_model_path":      "security.casbin_model_path",
	"casbin_policy_path":     "security.casbin_policy_path",
	"casbin_reload_interval": "security.casbin_reload_interval",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf paths.
// Unmapped variables return "" and are skipped, so unrelated environment
// variables never leak into the configuration.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile invokes callback whenever the file at path changes.
// Errors from the watcher are ignored; the callback decides whether to reload.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
