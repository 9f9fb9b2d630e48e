// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package supervisor runs Examguard's long-lived services under a suture v4
supervisor tree.

# Tree Layout

	examguard
	├── data-layer
	│   └── badger-gc (when the Badger store is configured)
	├── messaging-layer
	│   ├── notification-bus
	│   ├── evaluator
	│   ├── websocket-hub
	│   └── idle-sweeper
	└── api-layer
	    └── http-server

Each layer is its own supervisor, so a service that keeps failing backs off
inside its layer without restarting the others. Supervisor events are logged
through sutureslog using the zerolog slog adapter from internal/logging.

# Startup Order

Suture starts the services of a supervisor in no particular order. The
notification bus uses an in-process pub/sub that drops messages published
before its router subscribes, so main adds the bus first, starts the tree
and calls AwaitReady on the bus's Running channel before adding the
services that publish.

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	tree.AddMessagingService(bus)
	errCh := tree.ServeBackground(ctx)
	if err := tree.AwaitReady(ctx, "notification-bus", bus.Running(), 5*time.Second); err != nil {
	    return err
	}
	tree.AddMessagingService(evaluator)
	tree.AddAPIService(services.NewHTTPServerService(server, timeout))

# Configuration

TreeConfig maps to the supervisor section of the configuration. Zero values
take suture's defaults: threshold 5, decay 30s, backoff 15s and a 10s
per-service shutdown timeout.
*/
package supervisor
