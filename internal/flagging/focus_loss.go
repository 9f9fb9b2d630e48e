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

// FocusLossRule flags a window in which the editor was unfocused for longer
// than MaxAwaySeconds in total. An away interval opens on focus-loss and
// closes on the next focus-gain; one still open at the end of the window is
// measured up to the last event in it.
type FocusLossRule struct {
	toggle

	cfgMu  sync.RWMutex
	config FocusLossConfig
}

// NewFocusLossRule creates the focus_loss rule with default configuration.
func NewFocusLossRule() *FocusLossRule {
	return &FocusLossRule{
		toggle: toggle{enabled: true},
		config: DefaultFocusLossConfig(),
	}
}

// ID returns the rule id.
func (r *FocusLossRule) ID() RuleID {
	return RuleFocusLoss
}

// Evaluate sums away time over the window.
func (r *FocusLossRule) Evaluate(sessionID string, window []models.Event) (*models.Flag, bool) {
	if len(window) == 0 {
		return nil, false
	}

	r.cfgMu.RLock()
	cfg := r.config
	r.cfgMu.RUnlock()

	var (
		away      time.Duration
		awayStart *models.Event
		first     *models.Event
		last      models.Event
	)

	for i := range window {
		ev := window[i]
		switch ev.Type {
		case models.EventFocusLoss:
			if awayStart == nil {
				awayStart = &window[i]
				if first == nil {
					first = &window[i]
				}
			}
		case models.EventFocusGain:
			if awayStart != nil {
				away += ev.ReceivedAt.Sub(awayStart.ReceivedAt)
				awayStart = nil
				last = ev
			}
		}
	}
	if awayStart != nil {
		end := window[len(window)-1]
		away += end.ReceivedAt.Sub(awayStart.ReceivedAt)
		last = end
	}

	limit := time.Duration(cfg.MaxAwaySeconds) * time.Second
	if first == nil || away <= limit {
		return nil, false
	}

	return newFlag(sessionID, RuleFocusLoss, cfg.Severity, *first, last,
		fmt.Sprintf("editor unfocused for %ds (limit %ds)", int(away.Seconds()), cfg.MaxAwaySeconds)), true
}

// Configure replaces the configuration.
func (r *FocusLossRule) Configure(config json.RawMessage) error {
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
func (r *FocusLossRule) Config() json.RawMessage {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	data, _ := json.Marshal(r.config)
	return data
}

func (c FocusLossConfig) validate() error {
	if c.MaxAwaySeconds <= 0 {
		return fmt.Errorf("max_away_seconds must be positive")
	}
	if !validSeverity(c.Severity) {
		return fmt.Errorf("severity must be one of: low, medium, high")
	}
	return nil
}
