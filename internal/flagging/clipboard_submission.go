// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package flagging

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examguard/internal/models"
)

// ClipboardSubmissionRule flags a submission that follows a clipboard read
// within MaxGapSeconds with no keystroke burst in between.
type ClipboardSubmissionRule struct {
	toggle

	cfgMu  sync.RWMutex
	config ClipboardSubmissionConfig
}

// NewClipboardSubmissionRule creates the clipboard_submission rule with
// default configuration.
func NewClipboardSubmissionRule() *ClipboardSubmissionRule {
	return &ClipboardSubmissionRule{
		toggle: toggle{enabled: true},
		config: DefaultClipboardSubmissionConfig(),
	}
}

// ID returns the rule id.
func (r *ClipboardSubmissionRule) ID() RuleID {
	return RuleClipboardSubmission
}

// Evaluate reports the most recent qualifying read/submission pair.
func (r *ClipboardSubmissionRule) Evaluate(sessionID string, window []models.Event) (*models.Flag, bool) {
	r.cfgMu.RLock()
	cfg := r.config
	r.cfgMu.RUnlock()

	maxGap := time.Duration(cfg.MaxGapSeconds) * time.Second

	var (
		read  *models.Event
		found *models.Flag
	)
	for i := range window {
		ev := window[i]
		switch ev.Type {
		case models.EventClipboardRead:
			read = &window[i]
		case models.EventKeystrokeBurst:
			read = nil
		case models.EventSubmission:
			if read == nil {
				continue
			}
			gap := ev.ReceivedAt.Sub(read.ReceivedAt)
			if gap <= maxGap {
				found = newFlag(sessionID, RuleClipboardSubmission, cfg.Severity, *read, ev,
					fmt.Sprintf("submission %ds after clipboard read with no typing", int(gap.Seconds())))
			}
		}
	}
	return found, found != nil
}

// Configure replaces the configuration.
func (r *ClipboardSubmissionRule) Configure(config json.RawMessage) error {
	r.cfgMu.RLock()
	next := r.config
	r.cfgMu.RUnlock()

	if err := json.Unmarshal(config, &next); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := next.validate(); err != nil {
		return err
	}

	r.cfgMu.Lock()
	r.config = next
	r.cfgMu.Unlock()
	return nil
}

// Config returns the current configuration as JSON.
func (r *ClipboardSubmissionRule) Config() json.RawMessage {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	data, _ := json.Marshal(r.config)
	return data
}

func (c ClipboardSubmissionConfig) validate() error {
	if c.MaxGapSeconds <= 0 {
		return fmt.Errorf("max_gap_seconds must be positive")
	}
	if !validSeverity(c.Severity) {
		return fmt.Errorf("severity must be one of: low, medium, high")
	}
	return nil
}
