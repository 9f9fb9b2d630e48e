// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package models

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is matched by every *ValidationError.
var ErrInvalidEvent = errors.New("invalid event")

// ErrNotAssociated is returned when a connection has no live, non-terminal session.
var ErrNotAssociated = errors.New("connection not associated with an active session")

// ErrUnknownSession is returned when a session id has no record in the store.
var ErrUnknownSession = errors.New("unknown session")

// ErrUnknownConnection is returned for connection ids the registry does not hold.
var ErrUnknownConnection = errors.New("unknown connection")

// ErrConnectionExists is returned when registering a connection id twice.
var ErrConnectionExists = errors.New("connection already registered")

// ErrAlreadyAssociated is returned when a session already has a live connection,
// or the connection is bound to a different session.
var ErrAlreadyAssociated = errors.New("session already associated with a live connection")

// ErrInvalidTransition is matched by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrStoreUnavailable marks transient store failures. Callers may retry.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrSequenceConflict is returned when an append does not carry the next sequence number.
var ErrSequenceConflict = errors.New("sequence conflict")

// ErrStatusConflict is returned by compare-and-set when the current status differs from the expected one.
var ErrStatusConflict = errors.New("status changed concurrently")

// ErrSessionExists is returned when creating a session whose id is taken.
var ErrSessionExists = errors.New("session already exists")

// ErrForbidden is returned when an actor lacks the host capability.
var ErrForbidden = errors.New("actor lacks host capability")

// ValidationError describes why a raw event was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid event: %s", e.Reason)
	}
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidEvent.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidEvent
}

// TransitionError records a rejected status transition. The session is left unchanged.
type TransitionError struct {
	SessionID string
	From      SessionStatus
	Trigger   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: session %s cannot apply %q from %q", e.SessionID, e.Trigger, e.From)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
