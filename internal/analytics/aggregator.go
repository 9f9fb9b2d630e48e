// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package analytics folds a session's log into summary metrics.
//
// A summary is derived data: it is recomputed from events, flags and
// transitions and may be discarded at any time. The fold never reads the wall
// clock, so an unchanged log always produces an identical summary. Results are
// cached per session and keyed on the log revision (latest sequence number,
// flag count, transition count) rather than on time.
package analytics

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/examguard/internal/cache"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
)

// DefaultCacheSize is the number of session summaries kept.
const DefaultCacheSize = 1024

// Reader is the slice of the store the aggregator reads.
type Reader interface {
	GetSession(ctx context.Context, id string) (models.Session, error)
	LatestSequence(ctx context.Context, sessionID string) (uint64, error)
	Events(ctx context.Context, sessionID string, from, to uint64) ([]models.Event, error)
	Flags(ctx context.Context, sessionID string) ([]models.Flag, error)
	Transitions(ctx context.Context, sessionID string) ([]models.Transition, error)
}

// revision identifies one state of a session log.
type revision struct {
	latest      uint64
	flags       int
	transitions int
}

type cached struct {
	rev     revision
	summary models.AnalyticsSummary
}

// Aggregator computes and caches session summaries.
type Aggregator struct {
	reader Reader
	cache  *cache.LRUCache[cached]
}

// NewAggregator creates an aggregator caching up to cacheSize summaries.
func NewAggregator(reader Reader, cacheSize int) *Aggregator {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Aggregator{
		reader: reader,
		cache:  cache.NewLRUCache[cached](cacheSize, 0),
	}
}

// Summarize returns the summary of a session's current log.
func (a *Aggregator) Summarize(ctx context.Context, sessionID string) (models.AnalyticsSummary, error) {
	sess, err := a.reader.GetSession(ctx, sessionID)
	if err != nil {
		return models.AnalyticsSummary{}, err
	}
	transitions, err := a.reader.Transitions(ctx, sessionID)
	if err != nil {
		return models.AnalyticsSummary{}, err
	}
	flags, err := a.reader.Flags(ctx, sessionID)
	if err != nil {
		return models.AnalyticsSummary{}, err
	}
	latest, err := a.reader.LatestSequence(ctx, sessionID)
	if err != nil {
		return models.AnalyticsSummary{}, err
	}

	rev := revision{latest: latest, flags: len(flags), transitions: len(transitions)}
	if hit, ok := a.cache.Get(sessionID); ok && hit.rev == rev {
		metrics.RecordAnalyticsCache(true)
		return hit.summary, nil
	}
	metrics.RecordAnalyticsCache(false)

	start := time.Now()
	var events []models.Event
	if latest > 0 {
		events, err = a.reader.Events(ctx, sessionID, 1, latest)
		if err != nil {
			return models.AnalyticsSummary{}, err
		}
	}

	summary := Fold(sess, events, flags, transitions)
	metrics.RecordAnalyticsCompute(time.Since(start))

	a.cache.Add(sessionID, cached{rev: rev, summary: summary})
	return summary, nil
}

// CacheStats returns summary cache statistics.
func (a *Aggregator) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// Fold computes a summary from a session's records. It is pure: the result
// depends only on its arguments.
func Fold(sess models.Session, events []models.Event, flags []models.Flag, transitions []models.Transition) models.AnalyticsSummary {
	s := models.AnalyticsSummary{
		SessionID:   sess.ID,
		Status:      sess.Status,
		TotalEvents: len(events),
		EventCounts: make(map[models.EventType]int),
		FlagCounts: map[models.Severity]int{
			models.SeverityLow:    0,
			models.SeverityMedium: 0,
			models.SeverityHigh:   0,
		},
	}
	if len(transitions) > 0 {
		s.Status = transitions[len(transitions)-1].To
	}

	var pastes int
	var lastReceived time.Time
	for _, ev := range events {
		s.EventCounts[ev.Type]++
		if ev.Sequence > s.LatestSequence {
			s.LatestSequence = ev.Sequence
		}
		switch ev.Type {
		case models.EventPaste:
			pastes++
		case models.EventFocusLoss, models.EventFocusGain:
			s.FocusChanges++
		}
		if ev.ReceivedAt.After(lastReceived) {
			lastReceived = ev.ReceivedAt
		}
	}

	for _, f := range flags {
		s.FlagCounts[f.Severity]++
	}

	var flaggedSince time.Time
	var flagged time.Duration
	var terminalAt time.Time
	for _, tr := range transitions {
		if tr.From == models.StatusFlagged && !flaggedSince.IsZero() {
			flagged += nonNegative(tr.At.Sub(flaggedSince))
			flaggedSince = time.Time{}
		}
		if tr.To == models.StatusFlagged {
			flaggedSince = tr.At
		}
		if tr.To.Terminal() {
			terminalAt = tr.At
		}
		s.StatusHistory = append(s.StatusHistory, models.StatusHistoryItem{
			From:    tr.From,
			To:      tr.To,
			Trigger: tr.Trigger,
			AtMs:    tr.At.UnixMilli(),
		})
	}
	if !flaggedSince.IsZero() && lastReceived.After(flaggedSince) {
		flagged += lastReceived.Sub(flaggedSince)
	}
	s.FlaggedDurationMs = flagged.Milliseconds()

	end := lastReceived
	if !terminalAt.IsZero() {
		end = terminalAt
	}
	if !end.IsZero() && !sess.CreatedAt.IsZero() {
		s.SessionDurationMs = nonNegative(end.Sub(sess.CreatedAt)).Milliseconds()
	}

	if minutes := float64(s.SessionDurationMs) / float64(time.Minute/time.Millisecond); minutes > 0 {
		s.PastesPerMinute = math.Round(float64(pastes)/minutes*1000) / 1000
	}
	return s
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
