// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/examguard/internal/models"
)

// flakyStore fails GetSession with the configured error until failures runs out.
type flakyStore struct {
	*MemoryStore

	mu       sync.Mutex
	failures int
	err      error
	calls    int
	block    bool
}

func (f *flakyStore) GetSession(ctx context.Context, id string) (models.Session, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	if f.failures > 0 {
		f.failures--
		err := f.err
		f.mu.Unlock()
		return models.Session{}, err
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return models.Session{}, ctx.Err()
	}
	return f.MemoryStore.GetSession(ctx, id)
}

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newFlaky(t *testing.T, failures int, err error) *flakyStore {
	t.Helper()
	mem := NewMemoryStore()
	if cerr := mem.CreateSession(context.Background(), newSession("s1")); cerr != nil {
		t.Fatalf("CreateSession() error = %v", cerr)
	}
	return &flakyStore{MemoryStore: mem, failures: failures, err: err}
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testResilienceConfig(name string) ResilienceConfig {
	cfg := DefaultResilienceConfig()
	cfg.BreakerName = name
	cfg.CallTimeout = 50 * time.Millisecond
	return cfg
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	inner := newFlaky(t, 2, fmt.Errorf("%w: disk busy", models.ErrStoreUnavailable))
	r := NewResilient(inner, testResilienceConfig("retry-test"))
	r.sleep = noSleep

	got, err := r.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.ID != "s1" {
		t.Errorf("GetSession() id = %q, want s1", got.ID)
	}
	if inner.callCount() != 3 {
		t.Errorf("calls = %d, want 3", inner.callCount())
	}
}

func TestResilient_GivesUpAfterMaxRetries(t *testing.T) {
	inner := newFlaky(t, 100, fmt.Errorf("%w: disk busy", models.ErrStoreUnavailable))
	cfg := testResilienceConfig("give-up-test")
	cfg.MaxRetries = 2
	cfg.FailureThreshold = 100
	r := NewResilient(inner, cfg)
	r.sleep = noSleep

	_, err := r.GetSession(context.Background(), "s1")
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("GetSession() error = %v, want ErrStoreUnavailable", err)
	}
	if inner.callCount() != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", inner.callCount())
	}
}

func TestResilient_DomainErrorsAreNotRetried(t *testing.T) {
	inner := newFlaky(t, 0, nil)
	r := NewResilient(inner, testResilienceConfig("domain-test"))
	r.sleep = noSleep

	for i := 0; i < 10; i++ {
		if _, err := r.GetSession(context.Background(), "missing"); !errors.Is(err, models.ErrUnknownSession) {
			t.Fatalf("GetSession(missing) error = %v, want ErrUnknownSession", err)
		}
	}
	if inner.callCount() != 10 {
		t.Errorf("calls = %d, want 10 (no retries)", inner.callCount())
	}
	if r.BreakerState() != "closed" {
		t.Errorf("BreakerState() = %s, want closed", r.BreakerState())
	}
}

func TestResilient_BreakerOpens(t *testing.T) {
	inner := newFlaky(t, 100, fmt.Errorf("%w: down", models.ErrStoreUnavailable))
	cfg := testResilienceConfig("open-test")
	cfg.MaxRetries = 0
	cfg.FailureThreshold = 3
	cfg.BreakerTimeout = time.Hour
	r := NewResilient(inner, cfg)
	r.sleep = noSleep

	for i := 0; i < 3; i++ {
		_, _ = r.GetSession(context.Background(), "s1")
	}
	if r.BreakerState() != "open" {
		t.Fatalf("BreakerState() = %s, want open", r.BreakerState())
	}

	before := inner.callCount()
	_, err := r.GetSession(context.Background(), "s1")
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("GetSession() with open breaker error = %v, want ErrStoreUnavailable", err)
	}
	if inner.callCount() != before {
		t.Error("open breaker should not reach the inner store")
	}
	if err := r.Ping(context.Background()); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("Ping() with open breaker error = %v, want ErrStoreUnavailable", err)
	}
}

func TestResilient_TimeoutBecomesUnavailable(t *testing.T) {
	inner := newFlaky(t, 0, nil)
	inner.block = true
	cfg := testResilienceConfig("timeout-test")
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1
	r := NewResilient(inner, cfg)
	r.sleep = noSleep

	_, err := r.GetSession(context.Background(), "s1")
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("GetSession() error = %v, want ErrStoreUnavailable", err)
	}
	if inner.callCount() != 2 {
		t.Errorf("calls = %d, want 2", inner.callCount())
	}
}

func TestResilient_CallerCancellation(t *testing.T) {
	inner := newFlaky(t, 0, nil)
	inner.block = true
	r := NewResilient(inner, testResilienceConfig("cancel-test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.GetSession(ctx, "s1"); !errors.Is(err, context.Canceled) {
		t.Errorf("GetSession() error = %v, want context.Canceled", err)
	}
}

func TestResilient_PassThrough(t *testing.T) {
	r := NewResilient(NewMemoryStore(), testResilienceConfig("pass-test"))
	ctx := context.Background()

	if err := r.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	appendN(t, r, "s1", 3)

	window, err := r.Window(ctx, "s1", 0, 2)
	if err != nil || len(window) != 2 || window[0].Sequence != 2 {
		t.Errorf("Window() = %+v, %v", window, err)
	}
	if _, ok := r.Unwrap().(*MemoryStore); !ok {
		t.Error("Unwrap() should return the inner store")
	}
}

func TestResilient_CalculateBackoff(t *testing.T) {
	r := NewResilient(NewMemoryStore(), ResilienceConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		BreakerName:    "backoff-test",
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{3, 80 * time.Millisecond},
		{4, 100 * time.Millisecond},
		{60, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := r.calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
