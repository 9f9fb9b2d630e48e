// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity is the suspicion level of a flag.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// SequenceRange is an inclusive range of sequence numbers.
type SequenceRange struct {
	First uint64 `json:"first"`
	Last  uint64 `json:"last"`
}

// Overlaps reports whether the two ranges share at least one sequence number.
func (r SequenceRange) Overlaps(other SequenceRange) bool {
	return r.First <= other.Last && other.First <= r.Last
}

// Flag is a suspicion signal produced by a rule over a window of events.
type Flag struct {
	ID        string        `json:"flag_id"`
	RuleID    string        `json:"rule_id"`
	Severity  Severity      `json:"severity"`
	SessionID string        `json:"session_id"`
	Range     SequenceRange `json:"triggering_sequence_range"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// flagNamespace scopes deterministic flag ids.
var flagNamespace = uuid.MustParse("6f1d3c52-8a0e-4c1b-9a57-3b8e2f4d7c10")

// FlagID derives a stable id from the flag identity, so the same window always yields the same id.
func FlagID(sessionID, ruleID string, r SequenceRange) string {
	key := fmt.Sprintf("%s/%s/%d-%d", sessionID, ruleID, r.First, r.Last)
	return uuid.NewSHA1(flagNamespace, []byte(key)).String()
}
