// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package session owns session status.
//
// Every status change goes through Machine, which looks the move up in a single
// transition table, writes it to the store with a compare-and-set on the
// previous status and then publishes a notification. Writes for one session are
// serialized by the shared per-session lock; notifications are published after
// the lock is released and are at-least-once, idempotent by transition or flag
// id.
//
// A flagged session only returns to active through a host override.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
	"github.com/tomtom215/examguard/internal/sessionlock"
)

// Authorization vocabulary for host actions.
const (
	ResourceSessions = "sessions"
	ActionOverride   = "override"
)

// maxCASAttempts bounds re-reads after a concurrent status change.
const maxCASAttempts = 3

// lostNamespace scopes connection-lost notification ids.
var lostNamespace = uuid.MustParse("2b4f8e61-0c7d-4d3a-8f15-6e9a1c2b7d40")

// Store is the slice of the store the machine needs.
type Store interface {
	CreateSession(ctx context.Context, s models.Session) error
	GetSession(ctx context.Context, id string) (models.Session, error)
	CompareAndSetStatus(ctx context.Context, sessionID string, expected models.SessionStatus, tr models.Transition) (models.Session, error)
	AppendFlags(ctx context.Context, sessionID string, flags []models.Flag) ([]models.Flag, error)
	Flags(ctx context.Context, sessionID string) ([]models.Flag, error)
}

// Publisher delivers notifications to interested parties.
type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

// Authorizer decides whether an actor may perform action on resource.
type Authorizer interface {
	Authorize(actor models.Actor, resource, action string) (bool, error)
}

// Policy holds the tunable parts of the machine.
type Policy struct {
	// SuspendThreshold is the number of medium-or-higher flags that suspends
	// a session.
	SuspendThreshold int

	// SuspendOnDisconnect suspends a session whose connection is lost.
	SuspendOnDisconnect bool
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{SuspendThreshold: 3}
}

// Machine applies status transitions.
type Machine struct {
	store     Store
	locks     *sessionlock.Locks
	publisher Publisher
	authz     Authorizer
	policy    Policy
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithPolicy overrides the default policy.
func WithPolicy(p Policy) Option {
	return func(m *Machine) {
		if p.SuspendThreshold < 1 {
			p.SuspendThreshold = DefaultPolicy().SuspendThreshold
		}
		m.policy = p
	}
}

// NewMachine creates a machine. locks must be the same set the ingest pipeline
// uses. publisher may be nil, in which case notifications are dropped.
func NewMachine(store Store, locks *sessionlock.Locks, publisher Publisher, authz Authorizer, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		locks:     locks,
		publisher: publisher,
		authz:     authz,
		policy:    DefaultPolicy(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the active policy.
func (m *Machine) Policy() Policy {
	return m.policy
}

// Create starts a new active session. An empty SessionID gets a generated id.
func (m *Machine) Create(ctx context.Context, req models.NewSessionRequest) (models.Session, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	now := m.now().UTC()
	s := models.Session{
		ID:        id,
		UserID:    req.UserID,
		ContestID: req.ContestID,
		Language:  req.Language,
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return models.Session{}, err
	}

	metrics.RecordSessionCreated()
	logging.Info().
		Str("session_id", s.ID).
		Str("user_id", s.UserID).
		Str("language", s.Language).
		Msg("Session created")
	return s, nil
}

// End applies the end-of-session signal.
func (m *Machine) End(ctx context.Context, sessionID string) (models.Session, error) {
	s, _, err := m.Apply(ctx, sessionID, models.TriggerEnd, models.SystemActor, "")
	return s, err
}

// Override moves a session to status on behalf of a host. The actor must hold
// the override capability, otherwise models.ErrForbidden.
func (m *Machine) Override(ctx context.Context, sessionID string, status models.SessionStatus, actor models.Actor, reason string) (models.Session, error) {
	if err := m.authorize(actor); err != nil {
		return models.Session{}, err
	}

	trigger, ok := overrideTriggers[status]
	if !ok {
		current, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return models.Session{}, err
		}
		return models.Session{}, m.invalid(sessionID, current.Status, fmt.Sprintf("override to %s", status))
	}

	s, _, err := m.Apply(ctx, sessionID, trigger, actor, reason)
	return s, err
}

// ConnectionLost handles a connection going away. A connection_lost
// notification is always published; status changes only when the policy
// suspends on disconnect and the session is not already terminal.
func (m *Machine) ConnectionLost(ctx context.Context, conn models.Connection, reason string) error {
	m.publish(ctx, models.Notification{
		ID:           uuid.NewSHA1(lostNamespace, []byte(conn.ID+"/"+conn.SessionID+"/"+reason)).String(),
		Kind:         models.NotificationLost,
		SessionID:    conn.SessionID,
		ConnectionID: conn.ID,
		At:           m.now().UTC(),
	})

	if !m.policy.SuspendOnDisconnect {
		return nil
	}

	s, err := m.store.GetSession(ctx, conn.SessionID)
	if err != nil {
		return err
	}
	if s.Status.Terminal() {
		return nil
	}
	_, _, err = m.Apply(ctx, conn.SessionID, models.TriggerDisconnectPolicy, models.SystemActor, reason)
	if errors.Is(err, models.ErrInvalidTransition) {
		// Raced with another transition into a terminal status.
		return nil
	}
	return err
}

// RecordFlags persists flags raised for a session and applies the status
// trigger they imply. A flag whose range overlaps the most recent flag of the
// same rule is suppressed. Returns the flags that were newly stored.
func (m *Machine) RecordFlags(ctx context.Context, sessionID string, flags []models.Flag) ([]models.Flag, error) {
	if len(flags) == 0 {
		return nil, nil
	}

	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.Flags(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, err
	}

	accepted := suppressOverlapping(existing, flags)
	stored, err := m.store.AppendFlags(ctx, sessionID, accepted)
	if err != nil {
		unlock()
		return nil, err
	}

	var pending []models.Notification
	if trigger, ok := m.flagTrigger(existing, stored); ok {
		_, tr, err := m.applyLocked(ctx, sessionID, trigger, models.SystemActor, flagReason(stored))
		switch {
		case errors.Is(err, models.ErrInvalidTransition):
			// Flags raised after the session ended are kept for the record.
		case err != nil:
			unlock()
			return stored, err
		case tr != nil:
			pending = append(pending, statusNotification(*tr))
		}
	}
	unlock()

	for i := range stored {
		f := stored[i]
		metrics.RecordFlag(f.RuleID, string(f.Severity))
		logging.Info().
			Str("session_id", sessionID).
			Str("rule", f.RuleID).
			Str("severity", string(f.Severity)).
			Uint64("first_seq", f.Range.First).
			Uint64("last_seq", f.Range.Last).
			Msg("Flag raised")
		m.publish(ctx, models.Notification{
			ID:        f.ID,
			Kind:      models.NotificationFlag,
			SessionID: sessionID,
			Flag:      &f,
			At:        f.CreatedAt,
		})
	}
	for _, n := range pending {
		m.publish(ctx, n)
	}
	return stored, nil
}

// Apply fires trigger on the session. It returns the resulting session and the
// recorded transition, which is nil when the table maps the move to a no-op.
func (m *Machine) Apply(ctx context.Context, sessionID string, trigger models.Trigger, actor models.Actor, reason string) (models.Session, *models.Transition, error) {
	if hostTrigger(trigger) {
		if err := m.authorize(actor); err != nil {
			return models.Session{}, nil, err
		}
	}

	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return models.Session{}, nil, err
	}
	s, tr, err := m.applyLocked(ctx, sessionID, trigger, actor, reason)
	unlock()

	if err == nil && tr != nil {
		m.publish(ctx, statusNotification(*tr))
	}
	return s, tr, err
}

// applyLocked must run with the session lock held.
func (m *Machine) applyLocked(ctx context.Context, sessionID string, trigger models.Trigger, actor models.Actor, reason string) (models.Session, *models.Transition, error) {
	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return models.Session{}, nil, err
		}

		to, ok := Next(current.Status, trigger)
		if !ok {
			return current, nil, m.invalid(sessionID, current.Status, string(trigger))
		}
		if to == current.Status {
			return current, nil, nil
		}

		tr := models.Transition{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			From:      current.Status,
			To:        to,
			Trigger:   trigger,
			Actor:     actor,
			Reason:    reason,
			At:        current.UpdatedAt,
		}
		if now := m.now().UTC(); now.After(tr.At) {
			tr.At = now
		}

		updated, err := m.store.CompareAndSetStatus(ctx, sessionID, current.Status, tr)
		if errors.Is(err, models.ErrStatusConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return models.Session{}, nil, err
		}

		metrics.RecordTransition(string(tr.From), string(tr.To), string(trigger))
		logging.Info().
			Str("session_id", sessionID).
			Str("from", string(tr.From)).
			Str("to", string(tr.To)).
			Str("trigger", string(trigger)).
			Str("actor", actor.ID).
			Msg("Session status changed")
		return updated, &tr, nil
	}
	return models.Session{}, nil, lastErr
}

func (m *Machine) invalid(sessionID string, from models.SessionStatus, trigger string) error {
	metrics.RecordInvalidTransition(string(from), trigger)
	logging.Warn().
		Str("session_id", sessionID).
		Str("from", string(from)).
		Str("trigger", trigger).
		Msg("Rejected status transition")
	return &models.TransitionError{SessionID: sessionID, From: from, Trigger: trigger}
}

func (m *Machine) authorize(actor models.Actor) error {
	if m.authz == nil {
		return fmt.Errorf("%w: no authorizer configured", models.ErrForbidden)
	}
	ok, err := m.authz.Authorize(actor, ResourceSessions, ActionOverride)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", actor.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s (%s)", models.ErrForbidden, actor.ID, actor.Role)
	}
	return nil
}

// flagTrigger derives the trigger implied by newly stored flags. existing is
// the flag history before this batch.
func (m *Machine) flagTrigger(existing, stored []models.Flag) (models.Trigger, bool) {
	var high, medium bool
	for _, f := range stored {
		switch {
		case f.Severity == models.SeverityHigh:
			high = true
		case f.Severity == models.SeverityMedium:
			medium = true
		}
	}
	if high {
		return models.TriggerFlagHigh, true
	}
	if !medium {
		return "", false
	}

	count := 0
	for _, f := range existing {
		if f.Severity.AtLeast(models.SeverityMedium) {
			count++
		}
	}
	for _, f := range stored {
		if f.Severity.AtLeast(models.SeverityMedium) {
			count++
		}
	}
	if count >= m.policy.SuspendThreshold {
		return models.TriggerFlagThreshold, true
	}
	return models.TriggerFlagMedium, true
}

func (m *Machine) publish(ctx context.Context, n models.Notification) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, n); err != nil {
		logging.Error().Err(err).
			Str("notification_id", n.ID).
			Str("kind", string(n.Kind)).
			Str("session_id", n.SessionID).
			Msg("Failed to publish notification")
	}
}

// suppressOverlapping drops candidates whose range overlaps the latest flag of
// the same rule, considering both history and earlier candidates.
func suppressOverlapping(existing, candidates []models.Flag) []models.Flag {
	latest := make(map[string]models.Flag)
	seen := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		latest[f.RuleID] = f
		seen[f.ID] = struct{}{}
	}

	var out []models.Flag
	for _, f := range candidates {
		if _, dup := seen[f.ID]; dup {
			continue
		}
		if prev, ok := latest[f.RuleID]; ok && prev.Range.Overlaps(f.Range) {
			continue
		}
		out = append(out, f)
		latest[f.RuleID] = f
		seen[f.ID] = struct{}{}
	}
	return out
}

func statusNotification(tr models.Transition) models.Notification {
	return models.Notification{
		ID:         tr.ID,
		Kind:       models.NotificationStatus,
		SessionID:  tr.SessionID,
		Transition: &tr,
		At:         tr.At,
	}
}

func flagReason(flags []models.Flag) string {
	if len(flags) == 1 {
		return "flag " + flags[0].RuleID
	}
	reason := "flags"
	for _, f := range flags {
		reason += " " + f.RuleID
	}
	return reason
}
