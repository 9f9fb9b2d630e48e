// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package main is the entry point for the Examguard server.

Examguard watches online exam sessions as they happen. Candidate clients
stream behaviour events over a WebSocket; the server stores them with
gap-free per-session sequence numbers, evaluates flagging rules over a
sliding window, moves sessions through their status lifecycle and notifies
proctoring hosts.

# Application Architecture

Long-running components run under a Suture v4 supervisor tree:

	RootSupervisor ("examguard")
	├── DataSupervisor ("data-layer")
	│   └── Badger value log GC (badger backend only)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Notification bus (Watermill router)
	│   ├── Rule evaluator workers
	│   ├── WebSocket hub
	│   └── Idle connection sweeper
	└── APISupervisor ("api-layer")
	    └── HTTP server

The bus starts first. Publishers are added only after its router reports
running, so no notification is published into a router that is not yet
subscribed.

Startup order:

 1. Configuration: Koanf v2 (defaults, YAML file, environment)
 2. Logging: zerolog, JSON or console
 3. Store: Badger (or in-memory) behind retries and a circuit breaker
 4. Flagging engine, Casbin enforcer, session state machine
 5. Notification bus with hub, Redis and Kafka sinks
 6. Ingestion pipeline, analytics aggregator, WebSocket hub
 7. HTTP server: chi router with the middleware stack

# Configuration

Priority: environment variables > config file > defaults.

	HTTP_PORT=3857              # HTTP listen port
	ENVIRONMENT=production      # development, staging or production
	LOG_LEVEL=info              # trace, debug, info, warn, error
	LOG_FORMAT=json             # json or console
	JWT_SECRET=<32+ chars>      # signs host bearer tokens (required)
	CORS_ORIGINS=https://proctor.example.com
	STORE_BACKEND=badger        # badger or memory
	BADGER_PATH=/data/examguard
	SUSPEND_THRESHOLD=3         # high severity flags before suspension
	REDIS_URL=redis://redis:6379/0
	KAFKA_BROKERS=kafka-1:9092,kafka-2:9092

# Signal Handling

SIGINT and SIGTERM cancel the root context. The supervisor stops the HTTP
server gracefully, drains the evaluator and closes candidate connections,
then the store, sinks and enforcer are closed in reverse creation order.

# Example Usage

	export JWT_SECRET=$(openssl rand -base64 32)
	export CORS_ORIGINS=http://localhost:5173
	export STORE_BACKEND=memory
	./examguard
*/
package main
