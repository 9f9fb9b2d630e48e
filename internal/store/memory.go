// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/examguard/internal/models"
)

// ErrStoreClosed is returned by every call after Close.
var ErrStoreClosed = errors.New("store is closed")

type sessionData struct {
	session     models.Session
	events      []models.Event
	flags       []models.Flag
	flagIDs     map[string]struct{}
	transitions []models.Transition
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData
	closed   bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*sessionData)}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("%w: %s", models.ErrSessionExists, s.ID)
	}
	m.sessions[s.ID] = &sessionData{session: s, flagIDs: make(map[string]struct{})}
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, err := m.lookup(id)
	if err != nil {
		return models.Session{}, err
	}
	return d.session, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]models.Session, 0, len(m.sessions))
	for _, d := range m.sessions {
		out = append(out, d.session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.lookup(ev.SessionID)
	if err != nil {
		return err
	}

	latest := uint64(len(d.events))
	if ev.Sequence != latest+1 {
		return fmt.Errorf("%w: session %s expected %d, got %d", models.ErrSequenceConflict, ev.SessionID, latest+1, ev.Sequence)
	}

	d.events = append(d.events, ev)
	d.session.Touch(ev.ReceivedAt)
	return nil
}

func (m *MemoryStore) LatestSequence(ctx context.Context, sessionID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, err := m.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	return uint64(len(d.events)), nil
}

func (m *MemoryStore) Events(ctx context.Context, sessionID string, from, to uint64) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return sliceEvents(d.events, from, to), nil
}

func (m *MemoryStore) Window(ctx context.Context, sessionID string, upTo uint64, size int) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	from, to := windowBounds(uint64(len(d.events)), upTo, size)
	if to == 0 {
		return nil, nil
	}
	return sliceEvents(d.events, from, to), nil
}

func (m *MemoryStore) CompareAndSetStatus(ctx context.Context, sessionID string, expected models.SessionStatus, tr models.Transition) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.lookup(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	if d.session.Status != expected {
		return d.session, fmt.Errorf("%w: session %s is %s, expected %s", models.ErrStatusConflict, sessionID, d.session.Status, expected)
	}

	d.session.Status = tr.To
	d.session.Touch(tr.At)
	d.transitions = append(d.transitions, tr)
	return d.session, nil
}

func (m *MemoryStore) Transitions(ctx context.Context, sessionID string) ([]models.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]models.Transition(nil), d.transitions...), nil
}

func (m *MemoryStore) AppendFlags(ctx context.Context, sessionID string, flags []models.Flag) ([]models.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	var added []models.Flag
	for _, f := range flags {
		if _, seen := d.flagIDs[f.ID]; seen {
			continue
		}
		d.flagIDs[f.ID] = struct{}{}
		d.flags = append(d.flags, f)
		added = append(added, f)
	}
	if len(added) > 0 {
		d.session.Touch(latestFlagAt(added))
	}
	return added, nil
}

func (m *MemoryStore) Flags(ctx context.Context, sessionID string) ([]models.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return append([]models.Flag(nil), d.flags...), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// lookup must be called with the lock held.
func (m *MemoryStore) lookup(id string) (*sessionData, error) {
	if m.closed {
		return nil, ErrStoreClosed
	}
	d, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownSession, id)
	}
	return d, nil
}

// windowBounds clamps a window request against the latest sequence number.
// A zero upTo means the latest event. Returns to == 0 for an empty window.
func windowBounds(latest, upTo uint64, size int) (from, to uint64) {
	if upTo == 0 || upTo > latest {
		upTo = latest
	}
	if upTo == 0 || size <= 0 {
		return 0, 0
	}
	from = 1
	if upTo > uint64(size) {
		from = upTo - uint64(size) + 1
	}
	return from, upTo
}

// sliceEvents copies events[from..to] (1-based, inclusive) out of a dense log.
func sliceEvents(events []models.Event, from, to uint64) []models.Event {
	latest := uint64(len(events))
	if from == 0 {
		from = 1
	}
	if to == 0 || to > latest {
		to = latest
	}
	if from > to {
		return nil
	}
	return append([]models.Event(nil), events[from-1:to]...)
}
