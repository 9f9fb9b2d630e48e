// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package registry tracks live client connections and their session association.
//
// A connection is registered when its socket opens, associated with exactly one
// session, touched on every inbound frame and removed on close or idle sweep.
// A session has at most one live connection; a second association attempt is
// rejected rather than displacing the first.
//
// Registry state is guarded by a single RWMutex. Touch only takes the read lock
// and bumps an atomic timestamp, so the per-frame hot path never serializes
// behind associations or sweeps. Lost-connection handlers always run after the
// lock is released.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
)

// Reasons passed to LostHandler.
const (
	ReasonClosed      = "closed"
	ReasonIdleTimeout = "idle_timeout"
)

// SessionLookup is the slice of the store the registry needs.
type SessionLookup interface {
	GetSession(ctx context.Context, id string) (models.Session, error)
}

// LostHandler is invoked when an associated connection goes away.
type LostHandler func(conn models.Connection, reason string)

type entry struct {
	id          string
	sessionID   string
	connectedAt time.Time
	lastSeen    atomic.Int64 // unix nanos
}

func (e *entry) snapshot() models.Connection {
	return models.Connection{
		ID:          e.id,
		SessionID:   e.sessionID,
		ConnectedAt: e.connectedAt,
		LastSeenAt:  time.Unix(0, e.lastSeen.Load()).UTC(),
	}
}

// Registry is the process-wide connection table.
type Registry struct {
	sessions SessionLookup
	now      func() time.Time

	mu        sync.RWMutex
	conns     map[string]*entry
	bySession map[string]string

	handlersMu sync.RWMutex
	handlers   []LostHandler
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry backed by sessions for association checks.
func New(sessions SessionLookup, opts ...Option) *Registry {
	r := &Registry{
		sessions:  sessions,
		now:       time.Now,
		conns:     make(map[string]*entry),
		bySession: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnConnectionLost registers fn to run whenever an associated connection is
// removed by Disconnect or Sweep.
func (r *Registry) OnConnectionLost(fn LostHandler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers = append(r.handlers, fn)
}

// Register adds a new, unassociated connection.
func (r *Registry) Register(connectionID string) (models.Connection, error) {
	if connectionID == "" {
		return models.Connection{}, fmt.Errorf("%w: empty connection id", models.ErrUnknownConnection)
	}

	now := r.now().UTC()
	e := &entry{id: connectionID, connectedAt: now}
	e.lastSeen.Store(now.UnixNano())

	r.mu.Lock()
	if _, exists := r.conns[connectionID]; exists {
		r.mu.Unlock()
		return models.Connection{}, fmt.Errorf("%w: %s", models.ErrConnectionExists, connectionID)
	}
	r.conns[connectionID] = e
	n := len(r.conns)
	r.mu.Unlock()

	metrics.SetActiveConnections(n)
	return e.snapshot(), nil
}

// Associate binds a connection to a session. Re-associating the same pair is a
// no-op. The session must exist and must not be in a terminal status.
func (r *Registry) Associate(ctx context.Context, connectionID, sessionID string) error {
	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("%w: session %s is %s", models.ErrNotAssociated, sessionID, sess.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownConnection, connectionID)
	}
	if e.sessionID == sessionID {
		return nil
	}
	if e.sessionID != "" {
		return fmt.Errorf("%w: connection %s is bound to session %s", models.ErrAlreadyAssociated, connectionID, e.sessionID)
	}
	if holder, taken := r.bySession[sessionID]; taken {
		return fmt.Errorf("%w: session %s is held by connection %s", models.ErrAlreadyAssociated, sessionID, holder)
	}

	e.sessionID = sessionID
	r.bySession[sessionID] = connectionID
	e.lastSeen.Store(r.now().UnixNano())
	return nil
}

// Touch records activity on a connection.
func (r *Registry) Touch(connectionID string) error {
	r.mu.RLock()
	e, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownConnection, connectionID)
	}

	now := r.now().UnixNano()
	for {
		prev := e.lastSeen.Load()
		if now <= prev || e.lastSeen.CompareAndSwap(prev, now) {
			return nil
		}
	}
}

// Get returns a snapshot of the connection.
func (r *Registry) Get(connectionID string) (models.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return models.Connection{}, fmt.Errorf("%w: %s", models.ErrUnknownConnection, connectionID)
	}
	return e.snapshot(), nil
}

// SessionOf returns the session a connection is bound to, or
// models.ErrNotAssociated.
func (r *Registry) SessionOf(connectionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[connectionID]
	if !ok {
		return "", fmt.Errorf("%w: unknown connection %s", models.ErrNotAssociated, connectionID)
	}
	if e.sessionID == "" {
		return "", fmt.Errorf("%w: connection %s has not associated", models.ErrNotAssociated, connectionID)
	}
	return e.sessionID, nil
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Disconnect removes a connection. Returns false if it was not registered.
// Lost handlers fire if the connection was associated.
func (r *Registry) Disconnect(connectionID string) bool {
	r.mu.Lock()
	e, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(e)
	n := len(r.conns)
	r.mu.Unlock()

	metrics.SetActiveConnections(n)

	conn := e.snapshot()
	if conn.Associated() {
		r.fireLost(conn, ReasonClosed)
	}
	return true
}

// Sweep removes connections idle for longer than idleThreshold and returns
// them. Candidates are collected under the read lock and each is re-checked
// under the write lock before removal, so a connection touched in between
// survives.
func (r *Registry) Sweep(idleThreshold time.Duration) []models.Connection {
	cutoff := r.now().Add(-idleThreshold).UnixNano()

	r.mu.RLock()
	var stale []string
	for id, e := range r.conns {
		if e.lastSeen.Load() < cutoff {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	if len(stale) == 0 {
		return nil
	}
	sort.Strings(stale)

	var removed []models.Connection
	for _, id := range stale {
		r.mu.Lock()
		e, ok := r.conns[id]
		if !ok || e.lastSeen.Load() >= cutoff {
			r.mu.Unlock()
			continue
		}
		r.removeLocked(e)
		r.mu.Unlock()

		removed = append(removed, e.snapshot())
	}

	metrics.SetActiveConnections(r.Len())

	for _, conn := range removed {
		logging.Info().
			Str("connection_id", conn.ID).
			Str("session_id", conn.SessionID).
			Time("last_seen_at", conn.LastSeenAt).
			Msg("Swept idle connection")
		if conn.Associated() {
			r.fireLost(conn, ReasonIdleTimeout)
		}
	}
	return removed
}

// Reset drops every connection without firing handlers. Used at shutdown and
// between tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.conns = make(map[string]*entry)
	r.bySession = make(map[string]string)
	r.mu.Unlock()

	metrics.SetActiveConnections(0)
}

// removeLocked must be called with r.mu held for writing.
func (r *Registry) removeLocked(e *entry) {
	delete(r.conns, e.id)
	if e.sessionID != "" && r.bySession[e.sessionID] == e.id {
		delete(r.bySession, e.sessionID)
	}
}

func (r *Registry) fireLost(conn models.Connection, reason string) {
	metrics.RecordConnectionLost(reason)

	r.handlersMu.RLock()
	handlers := append([]LostHandler(nil), r.handlers...)
	r.handlersMu.RUnlock()

	for _, h := range handlers {
		h(conn, reason)
	}
}
