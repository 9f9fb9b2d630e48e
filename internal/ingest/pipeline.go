// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/examguard/internal/cache"
	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
	"github.com/tomtom215/examguard/internal/sessionlock"
	"github.com/tomtom215/examguard/internal/store"
)

// DefaultDedupCapacity is the number of recent client event ids remembered
// across all sessions.
const DefaultDedupCapacity = 50000

// Associations resolves the session a connection is bound to.
type Associations interface {
	SessionOf(connectionID string) (string, error)
}

// Scheduler receives committed events for asynchronous rule evaluation.
type Scheduler interface {
	Schedule(sessionID string, sequence uint64)
}

// Config configures a Pipeline.
type Config struct {
	// Limits bounds acceptable raw events.
	Limits models.ValidationLimits

	// DedupCapacity sizes the recent client event id cache.
	DedupCapacity int

	// DedupTTL expires remembered ids; zero keeps them until evicted.
	DedupTTL time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Limits:        models.DefaultValidationLimits(),
		DedupCapacity: DefaultDedupCapacity,
	}
}

// Receipt is the accepted result of an ingest.
type Receipt struct {
	SessionID      string    `json:"session_id"`
	SequenceNumber uint64    `json:"sequence_number"`
	ReceivedAt     time.Time `json:"received_at"`
	Duplicate      bool      `json:"duplicate"`
}

// Pipeline validates, sequences and appends events.
type Pipeline struct {
	store     store.Store
	conns     Associations
	locks     *sessionlock.Locks
	scheduler Scheduler
	dedup     *cache.LRUCache[Receipt]
	limits    models.ValidationLimits
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for received_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline. locks must be shared with the session
// machine. scheduler may be nil when evaluation is not wanted.
func NewPipeline(st store.Store, conns Associations, locks *sessionlock.Locks, scheduler Scheduler, cfg Config, opts ...Option) *Pipeline {
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = DefaultDedupCapacity
	}
	p := &Pipeline{
		store:     st,
		conns:     conns,
		locks:     locks,
		scheduler: scheduler,
		dedup:     cache.NewLRUCache[Receipt](cfg.DedupCapacity, cfg.DedupTTL),
		limits:    cfg.Limits,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest accepts raw from a connection. The connection must be associated with
// a non-terminal session. The event is durably appended before a receipt is
// returned; rule evaluation happens afterwards, asynchronously.
func (p *Pipeline) Ingest(ctx context.Context, connectionID string, raw models.RawEvent) (Receipt, error) {
	sessionID, err := p.conns.SessionOf(connectionID)
	if err != nil {
		p.reject(connectionID, "", raw, err)
		return Receipt{}, err
	}
	return p.IngestSession(ctx, sessionID, raw)
}

// IngestSession accepts raw for a session already resolved from its connection.
func (p *Pipeline) IngestSession(ctx context.Context, sessionID string, raw models.RawEvent) (Receipt, error) {
	start := time.Now()

	receipt, err := p.ingest(ctx, sessionID, raw)
	if err != nil {
		p.reject("", sessionID, raw, err)
		return Receipt{}, err
	}
	if receipt.Duplicate {
		metrics.RecordDuplicate()
		return receipt, nil
	}

	metrics.RecordIngest(string(raw.Type), time.Since(start))
	if p.scheduler != nil {
		p.scheduler.Schedule(sessionID, receipt.SequenceNumber)
	}
	return receipt, nil
}

func (p *Pipeline) ingest(ctx context.Context, sessionID string, raw models.RawEvent) (Receipt, error) {
	unlock, err := p.locks.Lock(ctx, sessionID)
	if err != nil {
		return Receipt{}, err
	}
	defer unlock()

	// Terminal sessions accept nothing, not even a retry of an event they
	// already hold.
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return Receipt{}, err
	}
	if sess.Status.Terminal() {
		return Receipt{}, fmt.Errorf("%w: session %s is %s", models.ErrNotAssociated, sessionID, sess.Status)
	}

	key := dedupKey(sessionID, raw.ClientEventID)
	if key != "" {
		if prev, ok := p.dedup.Get(key); ok {
			prev.Duplicate = true
			return prev, nil
		}
	}

	ev, err := models.Validate(raw, p.now(), p.limits)
	if err != nil {
		return Receipt{}, err
	}

	latest, err := p.store.LatestSequence(ctx, sessionID)
	if err != nil {
		return Receipt{}, err
	}

	ev.SessionID = sessionID
	ev.Sequence = latest + 1
	if err := p.append(ctx, ev); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{SessionID: sessionID, SequenceNumber: ev.Sequence, ReceivedAt: ev.ReceivedAt}
	if key != "" {
		p.dedup.Add(key, receipt)
	}

	logging.Debug().
		Str("session_id", sessionID).
		Uint64("sequence", ev.Sequence).
		Str("event_type", string(ev.Type)).
		Msg("Event accepted")
	return receipt, nil
}

// append writes ev. A sequence conflict can mean an earlier attempt of this
// same write committed before its response was lost, so the slot is read back
// and accepted if it holds this event.
func (p *Pipeline) append(ctx context.Context, ev models.Event) error {
	err := p.store.AppendEvent(ctx, ev)
	if !errors.Is(err, models.ErrSequenceConflict) {
		return err
	}

	stored, rerr := p.store.Events(ctx, ev.SessionID, ev.Sequence, ev.Sequence)
	if rerr != nil || len(stored) != 1 {
		return err
	}
	got := stored[0]
	if got.Type == ev.Type && got.ClientEventID == ev.ClientEventID && got.ReceivedAt.Equal(ev.ReceivedAt) {
		return nil
	}
	return err
}

func (p *Pipeline) reject(connectionID, sessionID string, raw models.RawEvent, err error) {
	reason := metrics.RejectReason(err)
	metrics.RecordIngestRejected(reason)

	evt := logging.Debug()
	if models.IsRetryable(err) {
		evt = logging.Warn()
	}
	evt.Err(err).
		Str("connection_id", connectionID).
		Str("session_id", sessionID).
		Str("event_type", string(raw.Type)).
		Str("reason", reason).
		Msg("Event rejected")
}

// Forget drops remembered client event ids for a session. Called when a
// session ends so its ids stop occupying the cache.
func (p *Pipeline) Forget(sessionID string) int {
	prefix := sessionID + "\x00"
	return p.dedup.RemoveFunc(func(key string) bool {
		return len(key) > len(prefix) && key[:len(prefix)] == prefix
	})
}

// DedupStats returns recent-id cache statistics.
func (p *Pipeline) DedupStats() cache.Stats {
	return p.dedup.Stats()
}

func dedupKey(sessionID, clientEventID string) string {
	if clientEventID == "" {
		return ""
	}
	return sessionID + "\x00" + clientEventID
}
