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

// BurstRule flags Threshold or more events of one type whose server receipt
// times fall within WindowSeconds. paste_burst, tab_switch_burst and
// network_instability are all burst rules over different event types.
type BurstRule struct {
	toggle

	id        RuleID
	eventType models.EventType

	cfgMu  sync.RWMutex
	config BurstConfig
}

// NewPasteBurstRule creates the paste_burst rule.
func NewPasteBurstRule() *BurstRule {
	return newBurstRule(RulePasteBurst, models.EventPaste, DefaultPasteBurstConfig())
}

// NewTabSwitchBurstRule creates the tab_switch_burst rule.
func NewTabSwitchBurstRule() *BurstRule {
	return newBurstRule(RuleTabSwitchBurst, models.EventTabSwitch, DefaultTabSwitchBurstConfig())
}

// NewNetworkInstabilityRule creates the network_instability rule.
func NewNetworkInstabilityRule() *BurstRule {
	return newBurstRule(RuleNetworkInstability, models.EventNetworkLoss, DefaultNetworkInstabilityConfig())
}

func newBurstRule(id RuleID, eventType models.EventType, cfg BurstConfig) *BurstRule {
	return &BurstRule{
		toggle:    toggle{enabled: true},
		id:        id,
		eventType: eventType,
		config:    cfg,
	}
}

// ID returns the rule id.
func (r *BurstRule) ID() RuleID {
	return r.id
}

// Evaluate reports the most recent run of Threshold matching events that fits
// inside the span.
func (r *BurstRule) Evaluate(sessionID string, window []models.Event) (*models.Flag, bool) {
	r.cfgMu.RLock()
	cfg := r.config
	r.cfgMu.RUnlock()

	span := time.Duration(cfg.WindowSeconds) * time.Second

	var matches []models.Event
	for _, ev := range window {
		if ev.Type == r.eventType {
			matches = append(matches, ev)
		}
	}
	if len(matches) < cfg.Threshold {
		return nil, false
	}

	// Scan from the newest end; the first qualifying run is the most recent.
	for end := len(matches) - 1; end >= cfg.Threshold-1; end-- {
		start := end - cfg.Threshold + 1
		if matches[end].ReceivedAt.Sub(matches[start].ReceivedAt) <= span {
			return newFlag(sessionID, r.id, cfg.Severity, matches[start], matches[end],
				fmt.Sprintf("%d %s events within %ds", cfg.Threshold, r.eventType, cfg.WindowSeconds)), true
		}
	}
	return nil, false
}

// Configure replaces the configuration.
func (r *BurstRule) Configure(config json.RawMessage) error {
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
func (r *BurstRule) Config() json.RawMessage {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	data, _ := json.Marshal(r.config)
	return data
}

func (c BurstConfig) validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("threshold must be positive")
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive")
	}
	if !validSeverity(c.Severity) {
		return fmt.Errorf("severity must be one of: low, medium, high")
	}
	return nil
}
