// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package ingest accepts telemetry events into session logs and schedules
// their rule evaluation.
//
// Ingest Flow:
//
//	connection -> SessionOf -> session lock -> dedup -> Validate
//	           -> status check -> AppendEvent(latest+1) -> Receipt
//	                                          |
//	                                          v
//	                          Evaluator.Schedule (async, sharded)
//	                                          |
//	                                          v
//	               Window -> flagging.Engine -> session.Machine.RecordFlags
//
// Sequence numbers start at 1 and are gap-free per session: they are assigned
// and appended while the session lock is held, and the store rejects any
// append that is not exactly latest+1. An event is durable before its receipt
// is returned.
//
// Retried events carrying a client_event_id already accepted for the session
// return the original receipt with Duplicate set. Remembered ids live in a
// bounded LRU, so very old retries are treated as new events.
//
// Evaluation runs on sharded workers keyed by session id. It reads committed
// windows only and never blocks ingestion.
package ingest
