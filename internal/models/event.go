// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// EventType is the closed set of telemetry kinds a client may report.
type EventType string

const (
	EventKeystrokeBurst EventType = "keystroke-burst"
	EventPaste          EventType = "paste"
	EventCopy           EventType = "copy"
	EventFocusLoss      EventType = "focus-loss"
	EventFocusGain      EventType = "focus-gain"
	EventTabSwitch      EventType = "tab-switch"
	EventClipboardRead  EventType = "clipboard-read"
	EventNetworkLoss    EventType = "network-loss"
	EventNetworkRestore EventType = "network-restore"
	EventSave           EventType = "save"
	EventSubmission     EventType = "submission"
)

// EventTypes lists every known event type in a stable order.
var EventTypes = []EventType{
	EventKeystrokeBurst,
	EventPaste,
	EventCopy,
	EventFocusLoss,
	EventFocusGain,
	EventTabSwitch,
	EventClipboardRead,
	EventNetworkLoss,
	EventNetworkRestore,
	EventSave,
	EventSubmission,
}

// Known reports whether t belongs to the closed event type set.
func (t EventType) Known() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RawEvent is an event as sent by a client, before validation and sequencing.
type RawEvent struct {
	ClientEventID string          `json:"client_event_id,omitempty" validate:"omitempty,max=128"`
	Type          EventType       `json:"event_type" validate:"required"`
	OccurredAt    time.Time       `json:"occurred_at" validate:"required"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Event is one immutable record of a session log.
type Event struct {
	SessionID     string          `json:"session_id"`
	Sequence      uint64          `json:"sequence_number"`
	ClientEventID string          `json:"client_event_id,omitempty"`
	Type          EventType       `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	ReceivedAt    time.Time       `json:"received_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// OrderingKey returns the key events of one session are ordered by.
func OrderingKey(e Event) uint64 {
	return e.Sequence
}
