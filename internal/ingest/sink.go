// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package ingest

import (
	"context"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
)

// RetentionSink releases a session's remembered client event ids once the
// session reaches a terminal status. It is a notify sink.
type RetentionSink struct {
	pipeline *Pipeline
}

// NewRetentionSink creates a sink that forgets ids held by p.
func NewRetentionSink(p *Pipeline) *RetentionSink {
	return &RetentionSink{pipeline: p}
}

// Name returns the sink name.
func (s *RetentionSink) Name() string {
	return "ingest-retention"
}

// Deliver forgets the session's ids on a terminal status change. Other
// notifications are ignored.
func (s *RetentionSink) Deliver(_ context.Context, n models.Notification) error {
	if n.Kind != models.NotificationStatus || n.Transition == nil || !n.Transition.To.Terminal() {
		return nil
	}
	if dropped := s.pipeline.Forget(n.SessionID); dropped > 0 {
		logging.Debug().Str("session_id", n.SessionID).Int("dropped", dropped).Msg("Released client event ids")
	}
	return nil
}
