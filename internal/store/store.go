// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package store persists sessions, their append-only event logs, flags and
// status transitions.
//
// Two implementations share the Store interface:
//
//   - MemoryStore: process-local maps, used in tests and single-node demos.
//   - BadgerStore: durable BadgerDB-backed store; every mutating call is one
//     ACID transaction so a crash never leaves a partial append.
//
// Resilient decorates either with a per-call timeout, bounded exponential retry
// of ErrStoreUnavailable failures and a circuit breaker.
//
// Optimistic checks are enforced inside the store: AppendEvent rejects any
// sequence number other than latest+1 with ErrSequenceConflict, and
// CompareAndSetStatus rejects a stale expected status with ErrStatusConflict.
package store

import (
	"context"
	"time"

	"github.com/tomtom215/examguard/internal/models"
)

// Store is the persistence contract used by the ingest pipeline, the session
// state machine and the analytics aggregator.
type Store interface {
	// CreateSession inserts a new session. Returns models.ErrSessionExists on
	// duplicate id.
	CreateSession(ctx context.Context, s models.Session) error

	// GetSession returns the session or models.ErrUnknownSession.
	GetSession(ctx context.Context, id string) (models.Session, error)

	// ListSessions returns all sessions ordered by id.
	ListSessions(ctx context.Context) ([]models.Session, error)

	// AppendEvent appends ev to its session log. ev.Sequence must equal
	// LatestSequence+1, otherwise models.ErrSequenceConflict. The session's
	// updated_at is advanced to ev.ReceivedAt in the same write.
	AppendEvent(ctx context.Context, ev models.Event) error

	// LatestSequence returns the highest committed sequence number (0 if none).
	LatestSequence(ctx context.Context, sessionID string) (uint64, error)

	// Events returns events with from <= sequence <= to, ascending. A zero to
	// means through the latest event.
	Events(ctx context.Context, sessionID string, from, to uint64) ([]models.Event, error)

	// Window returns at most size events ending at upTo, ascending.
	Window(ctx context.Context, sessionID string, upTo uint64, size int) ([]models.Event, error)

	// CompareAndSetStatus moves the session from expected to tr.To and appends
	// tr atomically. Returns the updated session, or models.ErrStatusConflict
	// when the stored status differs from expected.
	CompareAndSetStatus(ctx context.Context, sessionID string, expected models.SessionStatus, tr models.Transition) (models.Session, error)

	// Transitions returns the session's transition history, oldest first.
	Transitions(ctx context.Context, sessionID string) ([]models.Transition, error)

	// AppendFlags persists flags not already stored (by flag id) and returns
	// only the newly stored ones, in input order. Storing any flag advances
	// the session's UpdatedAt to the newest stored flag's CreatedAt.
	AppendFlags(ctx context.Context, sessionID string, flags []models.Flag) ([]models.Flag, error)

	// Flags returns the session's flags in the order they were stored.
	Flags(ctx context.Context, sessionID string) ([]models.Flag, error)

	// Ping reports whether the store can serve requests.
	Ping(ctx context.Context) error

	// Close releases resources. Further calls fail with ErrStoreClosed.
	Close() error
}

// latestFlagAt returns the newest CreatedAt among flags.
func latestFlagAt(flags []models.Flag) time.Time {
	var latest time.Time
	for _, f := range flags {
		if f.CreatedAt.After(latest) {
			latest = f.CreatedAt
		}
	}
	return latest
}
