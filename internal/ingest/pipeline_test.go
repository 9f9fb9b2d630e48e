// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/examguard/internal/flagging"
	"github.com/tomtom215/examguard/internal/models"
	"github.com/tomtom215/examguard/internal/registry"
	"github.com/tomtom215/examguard/internal/session"
	"github.com/tomtom215/examguard/internal/sessionlock"
	"github.com/tomtom215/examguard/internal/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// stepClock advances by step on every read.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// anyConnection binds every connection id to one session.
type anyConnection string

func (a anyConnection) SessionOf(string) (string, error) {
	return string(a), nil
}

// recordingScheduler remembers scheduled jobs.
type recordingScheduler struct {
	mu   sync.Mutex
	jobs []uint64
}

func (s *recordingScheduler) Schedule(_ string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, seq)
}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type hostOnly struct{}

func (hostOnly) Authorize(actor models.Actor, _, _ string) (bool, error) {
	return actor.Role == models.RoleHost, nil
}

func newSession(t *testing.T, st store.Store, id string) {
	t.Helper()
	err := st.CreateSession(context.Background(), models.Session{
		ID: id, UserID: "u1", Language: "go", Status: models.StatusActive, CreatedAt: t0, UpdatedAt: t0,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
}

func raw(typ models.EventType, occurred time.Time, clientID string) models.RawEvent {
	return models.RawEvent{ClientEventID: clientID, Type: typ, OccurredAt: occurred}
}

func TestPipeline_GapFreeSequences(t *testing.T) {
	st := store.NewMemoryStore()
	newSession(t, st, "s1")
	newSession(t, st, "s2")
	sched := &recordingScheduler{}
	p := NewPipeline(st, nil, sessionlock.New(), sched, DefaultConfig(), WithClock(func() time.Time { return t0 }))

	for i := 1; i <= 5; i++ {
		for _, sid := range []string{"s1", "s2"} {
			r, err := p.IngestSession(context.Background(), sid, raw(models.EventSave, t0, ""))
			if err != nil {
				t.Fatalf("IngestSession(%s) error = %v", sid, err)
			}
			if r.SequenceNumber != uint64(i) {
				t.Errorf("%s sequence = %d, want %d", sid, r.SequenceNumber, i)
			}
		}
	}

	events, _ := st.Events(context.Background(), "s1", 1, 0)
	for i, ev := range events {
		if ev.Sequence != uint64(i+1) {
			t.Errorf("event %d has sequence %d", i, ev.Sequence)
		}
	}
	if sched.count() != 10 {
		t.Errorf("scheduled = %d, want 10", sched.count())
	}
}

func TestPipeline_DuplicateClientEventID(t *testing.T) {
	st := store.NewMemoryStore()
	newSession(t, st, "s1")
	sched := &recordingScheduler{}
	p := NewPipeline(st, anyConnection("s1"), sessionlock.New(), sched, DefaultConfig(), WithClock(func() time.Time { return t0 }))

	first, err := p.Ingest(context.Background(), "c1", raw(models.EventPaste, t0, "evt-1"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	_, _ = p.Ingest(context.Background(), "c1", raw(models.EventSave, t0, "evt-2"))

	again, err := p.Ingest(context.Background(), "c1", raw(models.EventPaste, t0, "evt-1"))
	if err != nil {
		t.Fatalf("retry Ingest() error = %v", err)
	}
	if !again.Duplicate || again.SequenceNumber != first.SequenceNumber {
		t.Errorf("retry receipt = %+v, want duplicate of sequence %d", again, first.SequenceNumber)
	}

	latest, _ := st.LatestSequence(context.Background(), "s1")
	if latest != 2 {
		t.Errorf("LatestSequence() = %d, want 2", latest)
	}
	if sched.count() != 2 {
		t.Errorf("scheduled = %d, want 2 (duplicates are not re-evaluated)", sched.count())
	}

	// The same client id in another session is a different event.
	newSession(t, st, "s2")
	r, err := p.IngestSession(context.Background(), "s2", raw(models.EventPaste, t0, "evt-1"))
	if err != nil || r.Duplicate {
		t.Errorf("other session receipt = %+v, %v; want fresh event", r, err)
	}

	if n := p.Forget("s1"); n != 2 {
		t.Errorf("Forget(s1) removed %d ids, want 2", n)
	}
}

func TestPipeline_ConcurrentIngestSameSession(t *testing.T) {
	st := store.NewMemoryStore()
	newSession(t, st, "s1")
	p := NewPipeline(st, anyConnection("s1"), sessionlock.New(), nil, DefaultConfig())

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	seqs := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.Ingest(context.Background(), fmt.Sprintf("conn-%d", i), raw(models.EventKeystrokeBurst, time.Now(), fmt.Sprintf("e-%d", i)))
			if err != nil {
				errs <- err
				return
			}
			seqs <- r.SequenceNumber
		}(i)
	}
	wg.Wait()
	close(errs)
	close(seqs)

	for err := range errs {
		t.Errorf("Ingest() error = %v", err)
	}

	seen := make(map[uint64]bool)
	for s := range seqs {
		if seen[s] {
			t.Errorf("sequence %d assigned twice", s)
		}
		seen[s] = true
	}
	for i := uint64(1); i <= n; i++ {
		if !seen[i] {
			t.Errorf("sequence %d missing", i)
		}
	}

	events, _ := st.Events(context.Background(), "s1", 1, 0)
	if len(events) != n {
		t.Errorf("log length = %d, want %d", len(events), n)
	}
}

func TestPipeline_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, st store.Store)
		conns   Associations
		event   models.RawEvent
		wantErr error
	}{
		{
			name:    "unassociated connection",
			conns:   registry.New(store.NewMemoryStore()),
			event:   raw(models.EventSave, t0, ""),
			wantErr: models.ErrNotAssociated,
		},
		{
			name:    "unknown event type",
			conns:   anyConnection("s1"),
			event:   raw(models.EventType("screenshot"), t0, ""),
			wantErr: models.ErrInvalidEvent,
		},
		{
			name:    "clock skew beyond tolerance",
			conns:   anyConnection("s1"),
			event:   raw(models.EventPaste, t0.Add(31*time.Second), ""),
			wantErr: models.ErrInvalidEvent,
		},
		{
			name:    "stale event",
			conns:   anyConnection("s1"),
			event:   raw(models.EventPaste, t0.Add(-time.Hour), ""),
			wantErr: models.ErrInvalidEvent,
		},
		{
			name:    "unknown session",
			conns:   anyConnection("ghost"),
			event:   raw(models.EventSave, t0, ""),
			wantErr: models.ErrUnknownSession,
		},
		{
			name: "completed session",
			prepare: func(t *testing.T, st store.Store) {
				_, err := st.CompareAndSetStatus(context.Background(), "s1", models.StatusActive, models.Transition{
					ID: "tr-1", SessionID: "s1", From: models.StatusActive, To: models.StatusCompleted,
					Trigger: models.TriggerEnd, Actor: models.SystemActor, At: t0,
				})
				if err != nil {
					t.Fatalf("CompareAndSetStatus() error = %v", err)
				}
			},
			conns:   anyConnection("s1"),
			event:   raw(models.EventSave, t0, ""),
			wantErr: models.ErrNotAssociated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			newSession(t, st, "s1")
			if tt.prepare != nil {
				tt.prepare(t, st)
			}
			sched := &recordingScheduler{}
			p := NewPipeline(st, tt.conns, sessionlock.New(), sched, DefaultConfig(), WithClock(func() time.Time { return t0 }))

			_, err := p.Ingest(context.Background(), "c1", tt.event)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Ingest() error = %v, want %v", err, tt.wantErr)
			}

			latest, _ := st.LatestSequence(context.Background(), "s1")
			if latest != 0 {
				t.Errorf("LatestSequence() = %d after rejection, want 0", latest)
			}
			if sched.count() != 0 {
				t.Error("rejected events must not be scheduled")
			}
		})
	}
}

func TestPipeline_TerminalSessionRejectsBeforeDedupAndValidation(t *testing.T) {
	tests := []struct {
		name  string
		event models.RawEvent
	}{
		{"retried client event id", raw(models.EventPaste, t0, "evt-1")},
		{"invalid event", raw(models.EventType("bogus"), t0, "evt-2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			newSession(t, st, "s1")
			locks := sessionlock.New()
			machine := session.NewMachine(st, locks, nil, hostOnly{}, session.WithClock(func() time.Time { return t0 }))
			p := NewPipeline(st, anyConnection("s1"), locks, nil, DefaultConfig(), WithClock(func() time.Time { return t0 }))

			if _, err := p.Ingest(context.Background(), "c1", raw(models.EventPaste, t0, "evt-1")); err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			if _, err := machine.End(context.Background(), "s1"); err != nil {
				t.Fatalf("End() error = %v", err)
			}

			r, err := p.Ingest(context.Background(), "c1", tt.event)
			if !errors.Is(err, models.ErrNotAssociated) {
				t.Fatalf("Ingest() = %+v, %v; want ErrNotAssociated", r, err)
			}
			if errors.Is(err, models.ErrInvalidEvent) {
				t.Error("terminal status should be reported before validation")
			}
			if latest, _ := st.LatestSequence(context.Background(), "s1"); latest != 1 {
				t.Errorf("LatestSequence() = %d, want 1", latest)
			}
		})
	}
}

func TestPipeline_SkewRejectionDoesNotAdvanceCounter(t *testing.T) {
	st := store.NewMemoryStore()
	newSession(t, st, "s1")
	p := NewPipeline(st, anyConnection("s1"), sessionlock.New(), nil, DefaultConfig(), WithClock(func() time.Time { return t0 }))

	_, err := p.Ingest(context.Background(), "c1", raw(models.EventPaste, t0.Add(5*time.Minute), ""))
	var verr *models.ValidationError
	if !errors.As(err, &verr) || verr.Field != "occurred_at" {
		t.Fatalf("Ingest() error = %v, want occurred_at ValidationError", err)
	}

	r, err := p.Ingest(context.Background(), "c1", raw(models.EventPaste, t0, ""))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if r.SequenceNumber != 1 {
		t.Errorf("next sequence = %d, want 1", r.SequenceNumber)
	}
}

// replayingStore commits an append and then reports a conflict, as happens
// when a committed write's response is lost and the write is retried.
type replayingStore struct {
	store.Store
	foreign bool
}

func (s *replayingStore) AppendEvent(ctx context.Context, ev models.Event) error {
	if s.foreign {
		other := ev
		other.ClientEventID = "someone-else"
		if err := s.Store.AppendEvent(ctx, other); err != nil {
			return err
		}
	} else if err := s.Store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	return s.Store.AppendEvent(ctx, ev)
}

func TestPipeline_ConflictReadBack(t *testing.T) {
	tests := []struct {
		name    string
		foreign bool
		wantErr error
	}{
		{name: "own committed write accepted"},
		{name: "foreign write reported", foreign: true, wantErr: models.ErrSequenceConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemoryStore()
			newSession(t, mem, "s1")
			st := &replayingStore{Store: mem, foreign: tt.foreign}
			p := NewPipeline(st, anyConnection("s1"), sessionlock.New(), nil, DefaultConfig(), WithClock(func() time.Time { return t0 }))

			r, err := p.Ingest(context.Background(), "c1", raw(models.EventSave, t0, "mine"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Ingest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || r.SequenceNumber != 1 {
				t.Errorf("Ingest() = %+v, %v; want sequence 1", r, err)
			}
		})
	}
}

func TestPipeline_CancelledBeforeLock(t *testing.T) {
	st := store.NewMemoryStore()
	newSession(t, st, "s1")
	locks := sessionlock.New()
	p := NewPipeline(st, anyConnection("s1"), locks, nil, DefaultConfig())

	unlock, err := locks.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Ingest(ctx, "c1", raw(models.EventSave, time.Now(), "")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Ingest() error = %v, want DeadlineExceeded", err)
	}
	if latest, _ := st.LatestSequence(context.Background(), "s1"); latest != 0 {
		t.Errorf("LatestSequence() = %d, want 0", latest)
	}
}

func TestPipeline_PasteScenarioEndToEnd(t *testing.T) {
	st := store.NewMemoryStore()
	newSession(t, st, "s1")
	locks := sessionlock.New()
	clock := &stepClock{now: t0, step: time.Second}

	machine := session.NewMachine(st, locks, nil, hostOnly{}, session.WithClock(clock.Now))
	engine := flagging.NewEngine(0, flagging.DefaultRules()...)
	eval := NewEvaluator(engine, st, machine, DefaultEvaluatorConfig())
	p := NewPipeline(st, anyConnection("s1"), locks, eval, DefaultConfig(), WithClock(clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eval.Serve(ctx) }()

	for i := 0; i < 3; i++ {
		if _, err := p.Ingest(ctx, "c1", raw(models.EventPaste, t0, fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, 2*time.Second)
	defer drainCancel()
	if err := eval.Drain(drainCtx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	flags, _ := st.Flags(ctx, "s1")
	if len(flags) != 1 {
		t.Fatalf("flags = %d, want 1", len(flags))
	}
	if flags[0].RuleID != string(flagging.RulePasteBurst) || flags[0].Severity != models.SeverityMedium {
		t.Errorf("flag = %s/%s, want paste_burst/medium", flags[0].RuleID, flags[0].Severity)
	}
	if flags[0].Range != (models.SequenceRange{First: 1, Last: 3}) {
		t.Errorf("flag range = %+v, want 1-3", flags[0].Range)
	}

	s, _ := st.GetSession(ctx, "s1")
	if s.Status != models.StatusFlagged {
		t.Fatalf("status = %s, want flagged", s.Status)
	}

	// Further ingestion continues while flagged.
	if _, err := p.Ingest(ctx, "c1", raw(models.EventKeystrokeBurst, t0, "k1")); err != nil {
		t.Errorf("Ingest() while flagged error = %v", err)
	}

	host := models.Actor{ID: "host-1", Role: models.RoleHost}
	s, err := machine.Override(ctx, "s1", models.StatusActive, host, "reviewed")
	if err != nil {
		t.Fatalf("Override() error = %v", err)
	}
	if s.Status != models.StatusActive {
		t.Errorf("status after override = %s, want active", s.Status)
	}
}
