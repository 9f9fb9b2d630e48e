// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/examguard/internal/flagging"
	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
)

// WindowReader reads committed event windows.
type WindowReader interface {
	Window(ctx context.Context, sessionID string, upTo uint64, size int) ([]models.Event, error)
}

// FlagRecorder persists flags and applies the status change they imply.
type FlagRecorder interface {
	RecordFlags(ctx context.Context, sessionID string, flags []models.Flag) ([]models.Flag, error)
}

// EvaluatorConfig configures an Evaluator.
type EvaluatorConfig struct {
	// Workers is the number of shards. Jobs for one session always land on the
	// same shard, so a session's windows are evaluated in sequence order.
	Workers int

	// MaxAttempts bounds retries of a job that failed with a retryable error.
	MaxAttempts int

	// RetryDelay is the pause before a failed job is retried.
	RetryDelay time.Duration

	// Timeout bounds a single evaluation.
	Timeout time.Duration
}

// DefaultEvaluatorConfig returns the default evaluator configuration.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Workers:     4,
		MaxAttempts: 5,
		RetryDelay:  200 * time.Millisecond,
		Timeout:     5 * time.Second,
	}
}

type job struct {
	sessionID string
	sequence  uint64
	attempt   int
}

type shard struct {
	mu     sync.Mutex
	queue  []job
	notify chan struct{}
}

func (s *shard) push(j job) {
	s.mu.Lock()
	s.queue = append(s.queue, j)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *shard) pop() (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return job{}, false
	}
	j := s.queue[0]
	s.queue[0] = job{}
	s.queue = s.queue[1:]
	return j, true
}

// Evaluator runs the rule engine over committed windows, off the ingest path.
// Queues are unbounded so a slow evaluation never pushes back on ingestion.
// It implements suture.Service.
type Evaluator struct {
	engine   *flagging.Engine
	events   WindowReader
	recorder FlagRecorder
	cfg      EvaluatorConfig
	shards   []*shard

	pending atomic.Int64
}

// NewEvaluator creates an evaluator. Jobs scheduled before Serve starts are
// kept and processed once it does.
func NewEvaluator(engine *flagging.Engine, events WindowReader, recorder FlagRecorder, cfg EvaluatorConfig) *Evaluator {
	def := DefaultEvaluatorConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	e := &Evaluator{
		engine:   engine,
		events:   events,
		recorder: recorder,
		cfg:      cfg,
		shards:   make([]*shard, cfg.Workers),
	}
	for i := range e.shards {
		e.shards[i] = &shard{notify: make(chan struct{}, 1)}
	}
	return e
}

// Schedule queues evaluation of the window ending at sequence.
func (e *Evaluator) Schedule(sessionID string, sequence uint64) {
	e.enqueue(job{sessionID: sessionID, sequence: sequence})
}

func (e *Evaluator) enqueue(j job) {
	metrics.SetEvaluationQueueDepth(int(e.pending.Add(1)))
	e.shardFor(j.sessionID).push(j)
}

// Pending returns the number of queued or in-flight jobs.
func (e *Evaluator) Pending() int {
	return int(e.pending.Load())
}

// Serve runs one worker per shard until ctx is cancelled.
func (e *Evaluator) Serve(ctx context.Context) error {
	logging.Info().Int("workers", len(e.shards)).Msg("Rule evaluator started")

	var wg sync.WaitGroup
	for _, s := range e.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			e.work(ctx, s)
		}(s)
	}
	wg.Wait()

	logging.Info().Int("pending", e.Pending()).Msg("Rule evaluator stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (e *Evaluator) String() string {
	return "rule-evaluator"
}

// Drain blocks until every queued job has been processed or ctx is done.
func (e *Evaluator) Drain(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for e.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (e *Evaluator) work(ctx context.Context, s *shard) {
	for {
		j, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
				continue
			}
		}

		err := e.Evaluate(ctx, j.sessionID, j.sequence)
		if err != nil && e.retryable(ctx, err) && j.attempt+1 < e.cfg.MaxAttempts {
			j.attempt++
			logging.Warn().Err(err).
				Str("session_id", j.sessionID).
				Uint64("sequence", j.sequence).
				Int("attempt", j.attempt).
				Msg("Rule evaluation failed, retrying")
			e.retryLater(ctx, j)
		} else if err != nil {
			logging.Error().Err(err).
				Str("session_id", j.sessionID).
				Uint64("sequence", j.sequence).
				Msg("Rule evaluation failed")
		}
		metrics.SetEvaluationQueueDepth(int(e.pending.Add(-1)))

		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Evaluator) retryLater(ctx context.Context, j job) {
	e.pending.Add(1)
	time.AfterFunc(e.cfg.RetryDelay, func() {
		if ctx.Err() == nil {
			e.enqueue(j)
		}
		e.pending.Add(-1)
	})
}

func (e *Evaluator) retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && (models.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded))
}

// Evaluate runs the engine over the window ending at sequence and records any
// flags. It reads only committed events.
func (e *Evaluator) Evaluate(ctx context.Context, sessionID string, sequence uint64) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	window, err := e.events.Window(ctx, sessionID, sequence, e.engine.WindowSize())
	if err != nil {
		metrics.RecordEvaluation(time.Since(start), err)
		return err
	}

	flags := e.engine.Evaluate(sessionID, window)
	if len(flags) > 0 {
		_, err = e.recorder.RecordFlags(ctx, sessionID, flags)
	}
	metrics.RecordEvaluation(time.Since(start), err)
	return err
}

func (e *Evaluator) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}
