// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package api provides the HTTP surface of Examguard.

Candidate clients stream events over the WebSocket endpoint; proctoring hosts
and dashboards use the REST endpoints to create and inspect sessions, read
flags and analytics, and override session status.

Routes:

	GET  /api/v1/health                     health with store, hub and breaker state
	GET  /api/v1/health/live                liveness check
	GET  /api/v1/health/ready               readiness check (503 until the store answers)
	GET  /api/v1/ws                         candidate WebSocket upgrade
	POST /api/v1/sessions                   create a session
	GET  /api/v1/sessions/{id}              session state
	GET  /api/v1/sessions/{id}/events       event log page (?after=&limit=)
	GET  /api/v1/sessions/{id}/flags        flags raised for the session
	GET  /api/v1/sessions/{id}/transitions  status history
	GET  /api/v1/sessions/{id}/analytics    analytics summary
	POST /api/v1/sessions/{id}/complete     end-of-session signal
	POST /api/v1/sessions/{id}/override     host status override (bearer token)
	GET  /api/v1/rules                      flagging rules with counters
	PUT  /api/v1/rules/{id}                 enable, disable or reconfigure a rule (admin)
	GET  /metrics                           Prometheus metrics

Responses:

Every JSON endpoint answers with an APIResponse envelope:

	{
	  "success": true,
	  "data": {...},
	  "meta": {"request_id": "...", "timestamp": "...", "duration_ms": 3}
	}

Errors set success to false and carry a machine-readable code:

	{
	  "success": false,
	  "error": {"code": "INVALID_TRANSITION", "message": "...", "request_id": "..."}
	}

Domain errors map to status codes in respondDomainError: unknown sessions
and rules are 404, rejected transitions and concurrent status changes are
409, missing host capability is 403 and an unavailable store is 503.

Middleware:

The global stack adds request and correlation ids to the logging context,
resolves the client IP, recovers panics, answers CORS preflight and records
Prometheus request metrics. Route groups add per-IP rate limits via
go-chi/httprate and security headers. Host-only routes authenticate with
bearer JWTs (internal/auth) and rule writes are authorized with Casbin
(internal/authz).

Usage:

	handler := api.NewHandler(api.HandlerDeps{...})
	chiMW := api.NewChiMiddlewareFromSecurity(&cfg.Security)
	authn := auth.NewMiddleware(jwtManager, api.WriteAuthFailure)
	authzMW := authz.NewMiddleware(enforcer, api.WriteAuthFailure)
	srv := &http.Server{Handler: api.NewRouter(handler, chiMW, authn, authzMW).Setup()}
*/
package api
