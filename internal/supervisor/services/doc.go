// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package services adapts components whose lifecycle does not already match
suture.Service to the supervisor tree.

Most Examguard components (the WebSocket hub, the idle sweeper, the
evaluator workers, the notification bus and the Badger GC loop) implement
Serve(ctx) error themselves and are added to the tree directly. The HTTP
server is the exception: net/http blocks in ListenAndServe and stops through
Shutdown, so HTTPServerService translates that pattern:

	server := &http.Server{Addr: addr, Handler: router.Setup()}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

On context cancellation the server drains in-flight requests for up to the
shutdown timeout. A listener failure is returned as an error so suture
restarts the service with backoff.
*/
package services
