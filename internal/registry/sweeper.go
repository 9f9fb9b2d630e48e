// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package registry

import (
	"context"
	"time"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
)

// Sweeper periodically removes idle connections. It implements suture.Service.
type Sweeper struct {
	registry      *Registry
	interval      time.Duration
	idleThreshold time.Duration
	onSwept       func(conn models.Connection)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweptHandler runs fn for every connection a sweep removes, associated or
// not. The transport uses it to close the socket behind the swept entry.
func WithSweptHandler(fn func(conn models.Connection)) SweeperOption {
	return func(s *Sweeper) { s.onSwept = fn }
}

// NewSweeper creates a sweeper that runs every interval and removes
// connections silent for longer than idleThreshold.
func NewSweeper(r *Registry, interval, idleThreshold time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if idleThreshold <= 0 {
		idleThreshold = 90 * time.Second
	}
	s := &Sweeper{registry: r, interval: interval, idleThreshold: idleThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve runs until ctx is cancelled.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", s.interval).
		Dur("idle_threshold", s.idleThreshold).
		Msg("Connection sweeper started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed := s.registry.Sweep(s.idleThreshold)
			if len(removed) == 0 {
				continue
			}
			if s.onSwept != nil {
				for _, conn := range removed {
					s.onSwept(conn)
				}
			}
			logging.Debug().Int("removed", len(removed)).Msg("Connection sweep finished")
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Sweeper) String() string {
	return "connection-sweeper"
}
