// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package models

// AnalyticsSummary is a derived fold over one session log. It is never authoritative.
type AnalyticsSummary struct {
	SessionID         string              `json:"session_id"`
	Status            SessionStatus       `json:"status"`
	LatestSequence    uint64              `json:"latest_sequence"`
	TotalEvents       int                 `json:"total_events"`
	EventCounts       map[EventType]int   `json:"event_counts"`
	FlagCounts        map[Severity]int    `json:"flag_counts"`
	FlaggedDurationMs int64               `json:"flagged_duration_ms"`
	SessionDurationMs int64               `json:"session_duration_ms"`
	PastesPerMinute   float64             `json:"pastes_per_minute"`
	FocusChanges      int                 `json:"focus_changes"`
	StatusHistory     []StatusHistoryItem `json:"status_history,omitempty"`
}

// StatusHistoryItem is a compact view of one transition inside a summary.
type StatusHistoryItem struct {
	From    SessionStatus `json:"from"`
	To      SessionStatus `json:"to"`
	Trigger Trigger       `json:"trigger"`
	AtMs    int64         `json:"at_ms"`
}
