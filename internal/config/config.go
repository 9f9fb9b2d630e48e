// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package config

import (
	"time"

	"github.com/tomtom215/examguard/internal/flagging"
)

// Config holds all application configuration.
//
// Configuration is loaded in layers, each overriding the previous:
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, config.yaml, /etc/examguard/config.yaml)
//  3. Environment variables (see envTransformFunc for the accepted names)
//
// Sections:
//   - Server: HTTP listener and shutdown behaviour
//   - WebSocket: candidate connection heartbeat, flood control and buffers
//   - Registry: idle connection sweeping
//   - Ingest: event validation limits, deduplication and rule evaluation workers
//   - Flagging: rule window and per-rule thresholds
//   - Session: suspension policy
//   - Store: Badger storage and the retry/circuit breaker wrapper around it
//   - Analytics: summary cache sizing
//   - Notify: side-effect bus and optional Redis/Kafka alert sinks
//   - Security: host JWTs, Casbin authorization, CORS and HTTP rate limiting
//   - Logging: zerolog level and format
//   - Supervisor: suture restart policy
type Config struct {
	Server     ServerConfig      `koanf:"server"`
	WebSocket  WebSocketConfig   `koanf:"websocket"`
	Registry   RegistryConfig    `koanf:"registry"`
	Ingest     IngestConfig      `koanf:"ingest"`
	Flagging   flagging.Settings `koanf:"flagging"`
	Session    SessionConfig     `koanf:"session"`
	Store      StoreConfig       `koanf:"store"`
	Analytics  AnalyticsConfig   `koanf:"analytics"`
	Notify     NotifyConfig      `koanf:"notify"`
	Security   SecurityConfig    `koanf:"security"`
	Logging    LoggingConfig     `koanf:"logging"`
	Supervisor SupervisorConfig  `koanf:"supervisor"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // "development", "staging" or "production"
}

// WebSocketConfig holds candidate connection settings.
type WebSocketConfig struct {
	// HeartbeatInterval is how long a connection may stay silent before the
	// read deadline expires. Pings go out at 90% of it.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// MaxMessageSize caps inbound frames in bytes.
	MaxMessageSize int64 `koanf:"max_message_size"`

	// SendBuffer is the outbound queue length per connection. A connection
	// whose queue fills up is dropped.
	SendBuffer int `koanf:"send_buffer"`

	// RateLimit and RateBurst configure the per-connection token bucket.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	// OperationTimeout bounds the work done for one inbound frame.
	OperationTimeout time.Duration `koanf:"operation_timeout"`
}

// RegistryConfig controls idle connection sweeping.
type RegistryConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	IdleTimeout   time.Duration `koanf:"idle_timeout"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	// MaxClockSkew is how far a client timestamp may run ahead of the server clock.
	MaxClockSkew time.Duration `koanf:"max_clock_skew"`

	// MaxEventAge is how far a client timestamp may lag behind the server clock.
	MaxEventAge time.Duration `koanf:"max_event_age"`

	MaxPayloadBytes int           `koanf:"max_payload_bytes"`
	DedupCapacity   int           `koanf:"dedup_capacity"`
	DedupTTL        time.Duration `koanf:"dedup_ttl"`

	// Rule evaluation workers.
	Workers         int           `koanf:"workers"`
	MaxAttempts     int           `koanf:"max_attempts"`
	RetryDelay      time.Duration `koanf:"retry_delay"`
	EvaluateTimeout time.Duration `koanf:"evaluate_timeout"`
}

// SessionConfig holds the suspension policy.
type SessionConfig struct {
	// SuspendThreshold is the number of high severity flags that suspends a
	// session.
	SuspendThreshold int `koanf:"suspend_threshold"`

	// SuspendOnDisconnect suspends an in-progress session when its connection
	// is lost instead of only notifying hosts.
	SuspendOnDisconnect bool `koanf:"suspend_on_disconnect"`
}

// StoreConfig selects and tunes the storage backend.
type StoreConfig struct {
	// Backend is "badger" (default) or "memory".
	Backend string `koanf:"backend"`

	// Badger settings
	Path             string        `koanf:"path"`
	InMemory         bool          `koanf:"in_memory"`
	SyncWrites       bool          `koanf:"sync_writes"`
	MemTableSize     int64         `koanf:"mem_table_size"`
	ValueLogFileSize int64         `koanf:"value_log_file_size"`
	NumCompactors    int           `koanf:"num_compactors"`
	Compression      bool          `koanf:"compression"`
	GCInterval       time.Duration `koanf:"gc_interval"`
	GCRatio          float64       `koanf:"gc_ratio"`

	// Retry and circuit breaker settings
	CallTimeout      time.Duration `koanf:"call_timeout"`
	MaxRetries       int           `koanf:"max_retries"`
	InitialBackoff   time.Duration `koanf:"initial_backoff"`
	MaxBackoff       time.Duration `koanf:"max_backoff"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold"`
}

// AnalyticsConfig sizes the per-session summary cache.
type AnalyticsConfig struct {
	CacheSize int `koanf:"cache_size"`
}

// NotifyConfig holds side-effect bus and external sink settings.
//
// Environment Variables:
//   - REDIS_URL: Publish notifications to Redis when set (e.g. redis://localhost:6379/0)
//   - REDIS_CHANNEL: Redis channel (default: examguard.notifications)
//   - KAFKA_BROKERS: Comma-separated brokers; enables the Kafka sink when set
//   - KAFKA_TOPIC: Kafka topic (default: examguard.notifications)
type NotifyConfig struct {
	OutputBuffer         int64         `koanf:"output_buffer"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	DedupSize            int           `koanf:"dedup_size"`

	RedisURL     string `koanf:"redis_url"`
	RedisChannel string `koanf:"redis_channel"`

	KafkaBrokers      []string      `koanf:"kafka_brokers"`
	KafkaTopic        string        `koanf:"kafka_topic"`
	KafkaBatchTimeout time.Duration `koanf:"kafka_batch_timeout"`
	KafkaWriteTimeout time.Duration `koanf:"kafka_write_timeout"`
}

// SecurityConfig holds authentication and authorization settings
type SecurityConfig struct {
	// JWTSecret signs host bearer tokens. Required; at least 32 characters.
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
	JWTIssuer string        `koanf:"jwt_issuer"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`

	// Casbin settings. Empty paths use the embedded model and policy.
	CasbinModelPath      string        `koanf:"casbin_model_path"`
	CasbinPolicyPath     string        `koanf:"casbin_policy_path"`
	CasbinReloadInterval time.Duration `koanf:"casbin_reload_interval"`
	CasbinCacheSize      int           `koanf:"casbin_cache_size"`
	CasbinCacheTTL       time.Duration `koanf:"casbin_cache_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// JSON is recommended for production (structured, machine-parseable).
	// Console is human-readable for development.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	// Adds slight performance overhead.
	// Default: false
	Caller bool `koanf:"caller"`
}

// SupervisorConfig holds suture restart policy settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Load reads configuration from defaults, the optional config file and the
// environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
