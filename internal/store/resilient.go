// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
)

// ResilienceConfig bounds how the Resilient wrapper treats a slow or failing store.
type ResilienceConfig struct {
	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialBackoff doubles per retry up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Circuit breaker settings.
	BreakerName        string
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	FailureThreshold   uint32
}

// DefaultResilienceConfig returns the defaults used when nothing is configured.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		CallTimeout:        2 * time.Second,
		MaxRetries:         3,
		InitialBackoff:     50 * time.Millisecond,
		MaxBackoff:         time.Second,
		BreakerName:        "store",
		BreakerMaxRequests: 1,
		BreakerInterval:    time.Minute,
		BreakerTimeout:     30 * time.Second,
		FailureThreshold:   5,
	}
}

// Resilient decorates a Store with a per-call timeout, bounded exponential
// retry of models.ErrStoreUnavailable and a circuit breaker. Domain errors
// (unknown session, conflicts) pass straight through and never trip the breaker.
// The inner store must honour ctx for CallTimeout to bound an attempt;
// BadgerStore checks it at transaction start and before commit.
type Resilient struct {
	inner   Store
	config  ResilienceConfig
	breaker *gobreaker.CircuitBreaker[interface{}]

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResilient wraps inner.
func NewResilient(inner Store, cfg ResilienceConfig) *Resilient {
	def := DefaultResilienceConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = def.BreakerName
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = def.BreakerMaxRequests
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (!models.IsRetryable(err) && !errors.Is(err, context.DeadlineExceeded))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordBreakerTransition(name, from.String(), to.String())
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Store circuit breaker state changed")
		},
	}

	return &Resilient{
		inner:   inner,
		config:  cfg,
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
		sleep:   sleepCtx,
	}
}

// BreakerState reports the breaker state for health checks.
func (r *Resilient) BreakerState() string {
	return r.breaker.State().String()
}

// Unwrap returns the decorated store.
func (r *Resilient) Unwrap() Store {
	return r.inner
}

func (r *Resilient) CreateSession(ctx context.Context, s models.Session) error {
	_, err := do(r, ctx, "create_session", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.CreateSession(ctx, s)
	})
	return err
}

func (r *Resilient) GetSession(ctx context.Context, id string) (models.Session, error) {
	return do(r, ctx, "get_session", func(ctx context.Context) (models.Session, error) {
		return r.inner.GetSession(ctx, id)
	})
}

func (r *Resilient) ListSessions(ctx context.Context) ([]models.Session, error) {
	return do(r, ctx, "list_sessions", func(ctx context.Context) ([]models.Session, error) {
		return r.inner.ListSessions(ctx)
	})
}

func (r *Resilient) AppendEvent(ctx context.Context, ev models.Event) error {
	_, err := do(r, ctx, "append_event", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.AppendEvent(ctx, ev)
	})
	return err
}

func (r *Resilient) LatestSequence(ctx context.Context, sessionID string) (uint64, error) {
	return do(r, ctx, "latest_sequence", func(ctx context.Context) (uint64, error) {
		return r.inner.LatestSequence(ctx, sessionID)
	})
}

func (r *Resilient) Events(ctx context.Context, sessionID string, from, to uint64) ([]models.Event, error) {
	return do(r, ctx, "events", func(ctx context.Context) ([]models.Event, error) {
		return r.inner.Events(ctx, sessionID, from, to)
	})
}

func (r *Resilient) Window(ctx context.Context, sessionID string, upTo uint64, size int) ([]models.Event, error) {
	return do(r, ctx, "window", func(ctx context.Context) ([]models.Event, error) {
		return r.inner.Window(ctx, sessionID, upTo, size)
	})
}

func (r *Resilient) CompareAndSetStatus(ctx context.Context, sessionID string, expected models.SessionStatus, tr models.Transition) (models.Session, error) {
	return do(r, ctx, "compare_and_set_status", func(ctx context.Context) (models.Session, error) {
		return r.inner.CompareAndSetStatus(ctx, sessionID, expected, tr)
	})
}

func (r *Resilient) Transitions(ctx context.Context, sessionID string) ([]models.Transition, error) {
	return do(r, ctx, "transitions", func(ctx context.Context) ([]models.Transition, error) {
		return r.inner.Transitions(ctx, sessionID)
	})
}

func (r *Resilient) AppendFlags(ctx context.Context, sessionID string, flags []models.Flag) ([]models.Flag, error) {
	return do(r, ctx, "append_flags", func(ctx context.Context) ([]models.Flag, error) {
		return r.inner.AppendFlags(ctx, sessionID, flags)
	})
}

func (r *Resilient) Flags(ctx context.Context, sessionID string) ([]models.Flag, error) {
	return do(r, ctx, "flags", func(ctx context.Context) ([]models.Flag, error) {
		return r.inner.Flags(ctx, sessionID)
	})
}

// Ping bypasses retries so health checks report the current state.
func (r *Resilient) Ping(ctx context.Context) error {
	if r.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: circuit breaker open", models.ErrStoreUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return r.inner.Ping(ctx)
}

func (r *Resilient) Close() error {
	return r.inner.Close()
}

// do runs fn through the breaker with a per-attempt timeout, retrying
// retryable failures with exponential backoff.
func do[T any](r *Resilient, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()

	var (
		result T
		err    error
	)
	for attempt := 0; ; attempt++ {
		result, err = attemptOnce(r, ctx, fn)
		if err == nil || !models.IsRetryable(err) || attempt >= r.config.MaxRetries {
			break
		}

		metrics.RecordStoreRetry(op)
		logging.Debug().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt+1).
			Msg("Retrying store call")

		if serr := r.sleep(ctx, r.calculateBackoff(attempt)); serr != nil {
			err = serr
			break
		}
	}

	metrics.RecordStoreOperation(op, time.Since(start), err)
	return result, err
}

func attemptOnce[T any](r *Resilient, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})

	switch {
	case err == nil:
		metrics.RecordBreakerRequest(r.config.BreakerName, "success")
		v, _ := out.(T)
		return v, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordBreakerRequest(r.config.BreakerName, "rejected")
		return zero, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if ctx.Err() != nil {
		metrics.RecordBreakerRequest(r.config.BreakerName, "failure")
		return zero, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && !models.IsRetryable(err) {
		err = fmt.Errorf("%w: call exceeded %s", models.ErrStoreUnavailable, r.config.CallTimeout)
	}
	if models.IsRetryable(err) {
		metrics.RecordBreakerRequest(r.config.BreakerName, "failure")
	} else {
		metrics.RecordBreakerRequest(r.config.BreakerName, "success")
	}
	return zero, err
}

// calculateBackoff returns InitialBackoff * 2^attempt, capped at MaxBackoff.
func (r *Resilient) calculateBackoff(attempt int) time.Duration {
	if attempt > 30 {
		return r.config.MaxBackoff
	}
	backoff := time.Duration(float64(r.config.InitialBackoff) * math.Pow(2, float64(attempt)))
	if backoff <= 0 || backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}
	return backoff
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
