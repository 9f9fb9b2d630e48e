// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package models defines the value types shared by every Examguard component.

Key Components:

  - Session: one monitored contest attempt with a lifecycle status
  - Event / RawEvent: telemetry as received and as committed to the session log
  - Flag: a suspicion signal produced by the flagging rules
  - Transition: one entry of a session's status history
  - Connection: a live transport link, never persisted
  - AnalyticsSummary: a derived fold over the session log

Model Categories:

1. Persisted records:
  - Session, Event, Flag, Transition

2. Ephemeral records:
  - Connection, Notification

3. Derived records:
  - AnalyticsSummary

Errors shared across packages live in errors.go and are matched with errors.Is / errors.As.

Thread Safety:
All models are plain values. Values handed out by the store are copies and may be read
concurrently; nothing in this package mutates shared state.
*/
package models
