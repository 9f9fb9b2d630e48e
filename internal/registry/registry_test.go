// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/examguard/internal/models"
	"github.com/tomtom215/examguard/internal/store"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type lostRecorder struct {
	mu     sync.Mutex
	events []string
}

func (l *lostRecorder) handle(conn models.Connection, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf("%s/%s/%s", conn.ID, conn.SessionID, reason))
}

func (l *lostRecorder) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func setup(t *testing.T, sessions ...models.Session) (*Registry, *fakeClock, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	for _, s := range sessions {
		if err := st.CreateSession(context.Background(), s); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(st, WithClock(clock.Now)), clock, st
}

func session(id string, status models.SessionStatus) models.Session {
	return models.Session{ID: id, UserID: "u", Language: "go", Status: status}
}

func TestRegistry_Register(t *testing.T) {
	r, _, _ := setup(t)

	conn, err := r.Register("c1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if conn.Associated() {
		t.Error("new connection should be unassociated")
	}
	if _, err := r.Register("c1"); !errors.Is(err, models.ErrConnectionExists) {
		t.Errorf("duplicate Register() error = %v, want ErrConnectionExists", err)
	}
	if _, err := r.Register(""); err == nil {
		t.Error("Register(\"\") should fail")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_Associate(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(r *Registry)
		connID  string
		session string
		wantErr error
	}{
		{
			name:    "associates",
			connID:  "c1",
			session: "s1",
		},
		{
			name:    "same pair is a no-op",
			prepare: func(r *Registry) { _ = r.Associate(context.Background(), "c1", "s1") },
			connID:  "c1",
			session: "s1",
		},
		{
			name:    "unknown session",
			connID:  "c1",
			session: "nope",
			wantErr: models.ErrUnknownSession,
		},
		{
			name:    "unknown connection",
			connID:  "ghost",
			session: "s1",
			wantErr: models.ErrUnknownConnection,
		},
		{
			name:    "session held by another connection",
			prepare: func(r *Registry) { _ = r.Associate(context.Background(), "c2", "s1") },
			connID:  "c1",
			session: "s1",
			wantErr: models.ErrAlreadyAssociated,
		},
		{
			name:    "connection bound to a different session",
			prepare: func(r *Registry) { _ = r.Associate(context.Background(), "c1", "s2") },
			connID:  "c1",
			session: "s1",
			wantErr: models.ErrAlreadyAssociated,
		},
		{
			name:    "terminal session",
			connID:  "c1",
			session: "done",
			wantErr: models.ErrNotAssociated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := setup(t,
				session("s1", models.StatusActive),
				session("s2", models.StatusFlagged),
				session("done", models.StatusCompleted),
			)
			_, _ = r.Register("c1")
			_, _ = r.Register("c2")
			if tt.prepare != nil {
				tt.prepare(r)
			}

			err := r.Associate(context.Background(), tt.connID, tt.session)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Associate() error = %v", err)
				}
				sid, err := r.SessionOf(tt.connID)
				if err != nil || sid != tt.session {
					t.Errorf("SessionOf() = %q, %v; want %q", sid, err, tt.session)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Associate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// boundConnection returns the connection id the registry maps sessionID to.
func boundConnection(r *Registry, sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySession[sessionID]
	return id, ok
}

func TestRegistry_AtMostOneConnectionPerSession(t *testing.T) {
	r, _, _ := setup(t, session("s1", models.StatusActive))

	const n = 20
	for i := 0; i < n; i++ {
		_, _ = r.Register(fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := r.Associate(context.Background(), id, "s1"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(fmt.Sprintf("c%d", i))
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if _, ok := boundConnection(r, "s1"); !ok {
		t.Error("s1 should be bound to the winner")
	}
}

func TestRegistry_SessionOfUnassociated(t *testing.T) {
	r, _, _ := setup(t)
	_, _ = r.Register("c1")

	if _, err := r.SessionOf("c1"); !errors.Is(err, models.ErrNotAssociated) {
		t.Errorf("SessionOf(unassociated) error = %v, want ErrNotAssociated", err)
	}
	if _, err := r.SessionOf("ghost"); !errors.Is(err, models.ErrNotAssociated) {
		t.Errorf("SessionOf(unknown) error = %v, want ErrNotAssociated", err)
	}
}

func TestRegistry_DisconnectFiresLost(t *testing.T) {
	r, _, _ := setup(t, session("s1", models.StatusActive))
	rec := &lostRecorder{}
	r.OnConnectionLost(rec.handle)

	_, _ = r.Register("c1")
	_, _ = r.Register("c2")
	_ = r.Associate(context.Background(), "c1", "s1")

	if !r.Disconnect("c1") {
		t.Fatal("Disconnect(c1) = false, want true")
	}
	if r.Disconnect("c1") {
		t.Error("second Disconnect(c1) = true, want false")
	}
	r.Disconnect("c2") // unassociated: no handler

	if got := rec.get(); len(got) != 1 || got[0] != "c1/s1/closed" {
		t.Errorf("lost events = %v, want [c1/s1/closed]", got)
	}
	if _, ok := boundConnection(r, "s1"); ok {
		t.Error("association should be cleared after disconnect")
	}

	// The session can be picked up by a new connection.
	_, _ = r.Register("c3")
	if err := r.Associate(context.Background(), "c3", "s1"); err != nil {
		t.Errorf("re-Associate after disconnect error = %v", err)
	}
}

func TestRegistry_SweepIdleConnection(t *testing.T) {
	r, clock, st := setup(t, session("s1", models.StatusActive))
	rec := &lostRecorder{}
	r.OnConnectionLost(rec.handle)

	_, _ = r.Register("idle")
	_, _ = r.Register("busy")
	_ = r.Associate(context.Background(), "idle", "s1")

	clock.Advance(60 * time.Second)
	_ = r.Touch("busy")
	clock.Advance(45 * time.Second)

	removed := r.Sweep(90 * time.Second)
	if len(removed) != 1 || removed[0].ID != "idle" {
		t.Fatalf("Sweep() removed = %+v, want [idle]", removed)
	}
	if got := rec.get(); len(got) != 1 || got[0] != "idle/s1/idle_timeout" {
		t.Errorf("lost events = %v, want [idle/s1/idle_timeout]", got)
	}
	if _, err := r.Get("busy"); err != nil {
		t.Errorf("busy connection should survive: %v", err)
	}
	if _, ok := boundConnection(r, "s1"); ok {
		t.Error("association should be cleared")
	}

	sess, err := st.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess.Status != models.StatusActive {
		t.Errorf("session status = %s, want unchanged active", sess.Status)
	}
}

func TestRegistry_TouchNeverMovesBackwards(t *testing.T) {
	r, clock, _ := setup(t)
	_, _ = r.Register("c1")

	clock.Advance(time.Minute)
	_ = r.Touch("c1")
	clock.Advance(-30 * time.Second)
	_ = r.Touch("c1")

	conn, _ := r.Get("c1")
	want := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)
	if !conn.LastSeenAt.Equal(want) {
		t.Errorf("LastSeenAt = %v, want %v", conn.LastSeenAt, want)
	}
	if err := r.Touch("ghost"); !errors.Is(err, models.ErrUnknownConnection) {
		t.Errorf("Touch(ghost) error = %v, want ErrUnknownConnection", err)
	}
}

func TestRegistry_ResetDropsWithoutHandlers(t *testing.T) {
	r, _, _ := setup(t, session("s1", models.StatusActive))
	rec := &lostRecorder{}
	r.OnConnectionLost(rec.handle)

	_, _ = r.Register("c1")
	_ = r.Associate(context.Background(), "c1", "s1")
	r.Reset()

	if r.Len() != 0 {
		t.Error("Reset() should drop every connection")
	}
	if len(rec.get()) != 0 {
		t.Error("Reset() should not fire lost handlers")
	}
}

func TestRegistry_ConcurrentTouchAndSweep(t *testing.T) {
	r, _, _ := setup(t)
	r.now = time.Now

	for i := 0; i < 50; i++ {
		_, _ = r.Register(fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Touch(id)
			}
		}(fmt.Sprintf("c%d", i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			r.Sweep(time.Hour)
		}
	}()
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Len() = %d, want 50 (nothing idle for an hour)", r.Len())
	}
}

func TestSweeper_Serve(t *testing.T) {
	r, _, _ := setup(t)
	r.now = time.Now
	_, _ = r.Register("c1")

	s := NewSweeper(r, 5*time.Millisecond, time.Nanosecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	deadline := time.After(time.Second)
	for r.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never removed idle connection")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() error = %v", err)
	}
	if s.String() != "connection-sweeper" {
		t.Errorf("String() = %q", s.String())
	}
}

func TestSweeper_SweptHandlerSeesEveryRemoval(t *testing.T) {
	r, _, _ := setup(t)
	r.now = time.Now
	_, _ = r.Register("c1")

	swept := make(chan models.Connection, 1)
	s := NewSweeper(r, 5*time.Millisecond, time.Nanosecond, WithSweptHandler(func(conn models.Connection) {
		swept <- conn
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Serve(ctx) }()

	select {
	case conn := <-swept:
		if conn.ID != "c1" || conn.Associated() {
			t.Errorf("swept = %+v, want unassociated c1", conn)
		}
	case <-time.After(time.Second):
		t.Fatal("swept handler never ran")
	}
}
