// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package logging provides zerolog-based structured logging for Examguard.
//
// A single global logger is configured at startup from the logging section
// of the configuration and shared by every package. JSON output is the
// default; console output is available for local development.
//
// # Quick Start
//
//	logging.Init(logging.Config{
//	    Level:  cfg.Logging.Level,
//	    Format: cfg.Logging.Format,
//	    Caller: cfg.Logging.Caller,
//	})
//
//	logging.Info().Str("addr", addr).Msg("server listening")
//	logging.Err(err).Str("session_id", id).Msg("append failed")
//
// # Context Fields
//
// HTTP middleware stores request and correlation ids in the request
// context; the ingestion pipeline adds the session id. Ctx and its
// shorthands add whichever ids are present:
//
//	ctx = logging.ContextWithSessionID(ctx, sessionID)
//	logging.CtxWarn(ctx).Uint64("sequence", seq).Msg("duplicate event dropped")
//
// # Audit Logging
//
// AuditLogger records host overrides, flagging rule changes and rejected
// authentication on a dedicated "audit" component. Credential-bearing
// values are masked before they are written.
//
// # Adapters
//
// NewSlogLogger bridges zerolog to log/slog for the suture supervisor tree
// (via sutureslog). NewWatermillAdapter does the same for the Watermill
// event bus.
//
// # Testing
//
//	var buf bytes.Buffer
//	logger := logging.NewTestLogger(&buf)
package logging
