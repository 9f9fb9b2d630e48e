// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package flagging provides the rules that turn a window of session telemetry
// into suspicion flags.
//
// Evaluation Architecture:
//
//	Event log -> trailing window -> Engine.Evaluate -> []Flag -> session machine
//	                                  |
//	                                  v
//	                           Rule (paste_burst, focus_loss, ...)
//
// Rules are pure functions of the window and their own configuration. They
// never read the wall clock, storage or any other session, so replaying the
// same window produces the same flags with the same ids. Flag ids are derived
// from session, rule and triggering sequence range.
//
// Built-in rules:
//   - paste_burst: 3 or more pastes within 60s (medium)
//   - focus_loss: more than 60s unfocused in total within the window (low)
//   - clipboard_submission: submission within 30s of a clipboard read with
//     no keystroke burst in between (high)
//   - tab_switch_burst: 5 or more tab switches within 120s (low)
//   - network_instability: 3 or more network losses within 300s (low)
//
// All time spans are measured on server receipt time. Thresholds and
// severities are configurable per rule through Engine.Configure.
package flagging
