// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/examguard/internal/flagging"
)

// minJWTSecretLength matches auth.MinSecretLength.
const minJWTSecretLength = 32

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateWebSocket,
		c.validateRegistry,
		c.validateIngest,
		c.validateFlagging,
		c.validateSession,
		c.validateStore,
		c.validateNotify,
		c.validateSecurity,
		c.validateSupervisor,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return c.validateLogging()
}

// validateServer validates the HTTP listener
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if !validEnvironments[strings.ToLower(c.Server.Environment)] {
		return fmt.Errorf("ENVIRONMENT must be one of: development, staging, production")
	}
	return nil
}

var validEnvironments = map[string]bool{
	"development": true,
	"staging":     true,
	"production":  true,
}

// validateWebSocket validates candidate connection settings
func (c *Config) validateWebSocket() error {
	ws := c.WebSocket
	if ws.HeartbeatInterval < time.Second {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL must be at least 1s, got %v", ws.HeartbeatInterval)
	}
	if ws.WriteTimeout <= 0 {
		return fmt.Errorf("WS_WRITE_TIMEOUT must be positive")
	}
	if ws.MaxMessageSize < 1024 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be at least 1024 bytes")
	}
	if ws.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be at least 1")
	}
	if ws.RateLimit <= 0 || ws.RateBurst < 1 {
		return fmt.Errorf("WS_RATE_LIMIT and WS_RATE_BURST must be positive")
	}
	return nil
}

// validateRegistry validates idle sweeping. The idle timeout may not be
// shorter than the heartbeat.
func (c *Config) validateRegistry() error {
	if c.Registry.SweepInterval <= 0 {
		return fmt.Errorf("CONNECTION_SWEEP_INTERVAL must be positive")
	}
	if c.Registry.IdleTimeout < c.WebSocket.HeartbeatInterval {
		return fmt.Errorf("CONNECTION_IDLE_TIMEOUT (%v) must not be shorter than WS_HEARTBEAT_INTERVAL (%v)",
			c.Registry.IdleTimeout, c.WebSocket.HeartbeatInterval)
	}
	return nil
}

// validateIngest validates event limits and evaluation workers
func (c *Config) validateIngest() error {
	in := c.Ingest
	if in.MaxClockSkew < 0 || in.MaxEventAge <= 0 {
		return fmt.Errorf("INGEST_MAX_CLOCK_SKEW must be non-negative and INGEST_MAX_EVENT_AGE positive")
	}
	if in.MaxPayloadBytes < 1 {
		return fmt.Errorf("INGEST_MAX_PAYLOAD_BYTES must be positive")
	}
	if in.DedupCapacity < 1 {
		return fmt.Errorf("INGEST_DEDUP_CAPACITY must be positive")
	}
	if in.Workers < 1 || in.Workers > 256 {
		return fmt.Errorf("EVALUATOR_WORKERS must be between 1 and 256")
	}
	if in.MaxAttempts < 1 {
		return fmt.Errorf("EVALUATOR_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// validateFlagging validates rule settings by building a throwaway engine
// from them.
func (c *Config) validateFlagging() error {
	if c.Flagging.WindowSize < 1 {
		return fmt.Errorf("FLAGGING_WINDOW_SIZE must be at least 1")
	}
	if _, err := flagging.NewEngineFromSettings(c.Flagging); err != nil {
		return fmt.Errorf("flagging configuration is invalid: %w", err)
	}
	return nil
}

// validateSession validates the suspension policy
func (c *Config) validateSession() error {
	if c.Session.SuspendThreshold < 1 {
		return fmt.Errorf("SUSPEND_THRESHOLD must be at least 1")
	}
	return nil
}

// validateStore validates the storage backend
func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "memory":
		return nil
	case "badger":
	default:
		return fmt.Errorf("STORE_BACKEND must be one of: badger, memory")
	}

	if c.Store.Path == "" && !c.Store.InMemory {
		return fmt.Errorf("BADGER_PATH is required unless BADGER_IN_MEMORY=true")
	}
	if c.Store.GCRatio <= 0 || c.Store.GCRatio >= 1 {
		return fmt.Errorf("BADGER_GC_RATIO must be between 0 and 1 (exclusive)")
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("STORE_MAX_RETRIES must not be negative")
	}
	if c.Store.FailureThreshold < 1 {
		return fmt.Errorf("STORE_BREAKER_FAILURES must be at least 1")
	}
	return nil
}

// validateNotify validates the optional external sinks
func (c *Config) validateNotify() error {
	if c.Notify.RetryMaxRetries < 0 {
		return fmt.Errorf("NOTIFY_MAX_RETRIES must not be negative")
	}
	if c.Notify.RedisURL != "" {
		if err := validateRedisURL(c.Notify.RedisURL); err != nil {
			return err
		}
	}
	for _, broker := range c.Notify.KafkaBrokers {
		if err := validateBrokerAddress(broker); err != nil {
			return err
		}
	}
	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// validateSecurity validates security configuration
func (c *Config) validateSecurity() error {
	if err := c.validateJWT(); err != nil {
		return err
	}
	if err := c.validateCORS(); err != nil {
		return err
	}
	return c.validateRateLimits()
}

// validateJWT validates the host token signer
func (c *Config) validateJWT() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Security.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("JWT_TOKEN_TTL must be positive")
	}
	return nil
}

// validateCORS rejects wildcard CORS in production.
func (c *Config) validateCORS() error {
	if c.hasWildcardCORS() && c.IsProduction() {
		return fmt.Errorf("CORS_ORIGINS=* (wildcard) is not allowed in production. " +
			"Set specific origins: ALLOWED_ORIGINS=https://proctor.example.com " +
			"or use ENVIRONMENT=development for testing purposes")
	}
	return nil
}

// hasWildcardCORS checks if CORS is configured with wildcard origins
func (c *Config) hasWildcardCORS() bool {
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// ShouldWarnAboutCORS returns true if CORS configuration has security concerns
// that should be logged at startup
func (c *Config) ShouldWarnAboutCORS() bool {
	return c.hasWildcardCORS()
}

// Rate limit constants
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

// validateRateLimits validates HTTP rate limiting bounds
func (c *Config) validateRateLimits() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

// validateSupervisor validates the restart policy
func (c *Config) validateSupervisor() error {
	if c.Supervisor.FailureThreshold <= 0 || c.Supervisor.FailureDecay <= 0 {
		return fmt.Errorf("SUPERVISOR_FAILURE_THRESHOLD and SUPERVISOR_FAILURE_DECAY must be positive")
	}
	if c.Supervisor.ShutdownTimeout <= 0 {
		return fmt.Errorf("SUPERVISOR_SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}
