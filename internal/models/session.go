// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package models

import "time"

// SessionStatus is the lifecycle status of a monitored session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFlagged   SessionStatus = "flagged"
	StatusSuspended SessionStatus = "suspended"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusFlagged, StatusSuspended:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition may leave s.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusSuspended
}

// Session is one monitored contest attempt by one user.
type Session struct {
	ID        string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	ContestID string        `json:"contest_id,omitempty"`
	Language  string        `json:"language"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewSessionRequest is the payload accepted when a monitored attempt begins.
type NewSessionRequest struct {
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
	UserID    string `json:"user_id" validate:"required,max=128"`
	ContestID string `json:"contest_id,omitempty" validate:"omitempty,max=128"`
	Language  string `json:"language" validate:"required,max=32"`
}

// Touch returns t when it moves UpdatedAt forward, otherwise the current UpdatedAt.
// UpdatedAt never decreases, even when the wall clock does.
func (s *Session) Touch(t time.Time) time.Time {
	if t.After(s.UpdatedAt) {
		s.UpdatedAt = t
	}
	return s.UpdatedAt
}
