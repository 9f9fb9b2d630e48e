// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package config provides centralized configuration management for Examguard.

Configuration is loaded with Koanf in three layers, each overriding the
previous one:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, ./config.yaml, /etc/examguard/config.yaml
 3. Environment variables, mapped explicitly by envTransformFunc

Unmapped environment variables are ignored. Slice settings (ALLOWED_ORIGINS,
KAFKA_BROKERS, FLAGGING_DISABLED_RULES) accept comma-separated values.

# Environment Variables

Server:
  - HTTP_HOST, HTTP_PORT (default: 0.0.0.0:3857)
  - HTTP_TIMEOUT, HTTP_SHUTDOWN_TIMEOUT
  - ENVIRONMENT: development, staging or production

Candidate connections:
  - WS_HEARTBEAT_INTERVAL: silence allowed before a connection is dropped (default: 60s)
  - WS_RATE_LIMIT, WS_RATE_BURST: per-connection frame budget (default: 50/s, burst 100)
  - WS_SEND_BUFFER, WS_MAX_MESSAGE_SIZE, WS_WRITE_TIMEOUT
  - CONNECTION_SWEEP_INTERVAL, CONNECTION_IDLE_TIMEOUT

Ingestion and flagging:
  - INGEST_MAX_CLOCK_SKEW (default: 30s), INGEST_MAX_EVENT_AGE (default: 15m)
  - INGEST_MAX_PAYLOAD_BYTES, INGEST_DEDUP_CAPACITY, INGEST_DEDUP_TTL
  - EVALUATOR_WORKERS, EVALUATOR_MAX_ATTEMPTS, EVALUATOR_RETRY_DELAY
  - FLAGGING_WINDOW_SIZE, FLAGGING_DISABLED_RULES
  - SUSPEND_THRESHOLD (default: 3), SUSPEND_ON_DISCONNECT

Storage:
  - STORE_BACKEND: badger (default) or memory
  - BADGER_PATH, BADGER_IN_MEMORY, BADGER_SYNC_WRITES, BADGER_GC_INTERVAL
  - STORE_CALL_TIMEOUT, STORE_MAX_RETRIES, STORE_BREAKER_FAILURES

Notifications:
  - REDIS_URL, REDIS_CHANNEL
  - KAFKA_BROKERS, KAFKA_TOPIC

Security:
  - JWT_SECRET (required, min 32 chars), JWT_TOKEN_TTL, JWT_ISSUER
  - ALLOWED_ORIGINS / CORS_ORIGINS
  - RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW, DISABLE_RATE_LIMIT
  - CASBIN_MODEL_PATH, CASBIN_POLICY_PATH

Logging:
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

# Validation

Load fails on the first invalid section. Every message names the environment
variable to fix, e.g. "JWT_SECRET must be at least 32 characters".
*/
package config
