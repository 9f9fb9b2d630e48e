// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package models

import "time"

// Connection is one live transport link. SessionID is empty until the client associates.
type Connection struct {
	ID          string    `json:"connection_id"`
	SessionID   string    `json:"session_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Associated reports whether the connection is bound to a session.
func (c Connection) Associated() bool {
	return c.SessionID != ""
}

// NotificationKind distinguishes outbound side effects.
type NotificationKind string

const (
	NotificationStatus NotificationKind = "status"
	NotificationFlag   NotificationKind = "flag"
	NotificationLost   NotificationKind = "connection_lost"
)

// Notification is an outbound side effect of a transition, flag or lost connection.
// ID is stable across redeliveries so receivers can drop duplicates.
type Notification struct {
	ID           string           `json:"id"`
	Kind         NotificationKind `json:"kind"`
	SessionID    string           `json:"session_id"`
	ConnectionID string           `json:"connection_id,omitempty"`
	Transition   *Transition      `json:"transition,omitempty"`
	Flag         *Flag            `json:"flag,omitempty"`
	At           time.Time        `json:"at"`
}
