// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package flagging

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
)

// DefaultWindowSize is the number of trailing events a rule sees.
const DefaultWindowSize = 200

// Engine holds the registered rules and evaluates them over event windows.
// Evaluation never touches storage or the clock; callers fetch the window and
// persist the resulting flags.
type Engine struct {
	mu         sync.RWMutex
	rules      map[RuleID]Rule
	windowSize int

	statsMu sync.Mutex
	stats   map[RuleID]*RuleStats
}

// RuleStats tracks how often a rule ran and fired.
type RuleStats struct {
	Evaluations int64 `json:"evaluations"`
	Triggered   int64 `json:"triggered"`
}

// DefaultRules returns one instance of every built-in rule with default
// configuration.
func DefaultRules() []Rule {
	return []Rule{
		NewPasteBurstRule(),
		NewFocusLossRule(),
		NewClipboardSubmissionRule(),
		NewTabSwitchBurstRule(),
		NewNetworkInstabilityRule(),
	}
}

// NewEngine creates an engine holding rules. A windowSize below one falls back
// to DefaultWindowSize.
func NewEngine(windowSize int, rules ...Rule) *Engine {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}
	e := &Engine{
		rules:      make(map[RuleID]Rule),
		windowSize: windowSize,
		stats:      make(map[RuleID]*RuleStats),
	}
	for _, r := range rules {
		e.Register(r)
	}
	return e
}

// NewEngineFromSettings builds an engine with every built-in rule configured
// from s.
func NewEngineFromSettings(s Settings) (*Engine, error) {
	e := NewEngine(s.WindowSize, DefaultRules()...)

	configs := map[RuleID]interface{}{
		RulePasteBurst:          s.PasteBurst,
		RuleFocusLoss:           s.FocusLoss,
		RuleClipboardSubmission: s.ClipboardSubmission,
		RuleTabSwitchBurst:      s.TabSwitchBurst,
		RuleNetworkInstability:  s.NetworkInstability,
	}
	for id, cfg := range configs {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode %s config: %w", id, err)
		}
		if err := e.Configure(id, raw); err != nil {
			return nil, fmt.Errorf("configure %s: %w", id, err)
		}
	}
	for _, id := range s.Disabled {
		if err := e.SetEnabled(RuleID(id), false); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds or replaces a rule.
func (e *Engine) Register(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := rule.ID()
	e.rules[id] = rule

	e.statsMu.Lock()
	if _, ok := e.stats[id]; !ok {
		e.stats[id] = &RuleStats{}
	}
	e.statsMu.Unlock()

	logging.Info().Str("rule", string(id)).Msg("registered rule")
}

// WindowSize returns the number of trailing events each evaluation should see.
func (e *Engine) WindowSize() int {
	return e.windowSize
}

// Evaluate runs every enabled rule over window and returns all flags raised,
// in rule id order. Every rule runs; one rule firing never hides another.
func (e *Engine) Evaluate(sessionID string, window []models.Event) []models.Flag {
	rules := e.enabledRules()
	if len(rules) == 0 || len(window) == 0 {
		return nil
	}

	var flags []models.Flag
	for _, r := range rules {
		flag, ok := r.Evaluate(sessionID, window)
		e.recordStats(r.ID(), ok)
		if ok {
			flags = append(flags, *flag)
		}
	}
	return flags
}

// Configure applies JSON configuration to the rule with id.
func (e *Engine) Configure(id RuleID, config json.RawMessage) error {
	r, ok := e.Rule(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	if err := r.Configure(config); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	logging.Info().Str("rule", string(id)).RawJSON("config", r.Config()).Msg("rule configured")
	return nil
}

// SetEnabled enables or disables the rule with id.
func (e *Engine) SetEnabled(id RuleID, enabled bool) error {
	r, ok := e.Rule(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, id)
	}
	r.SetEnabled(enabled)
	logging.Info().Str("rule", string(id)).Bool("enabled", enabled).Msg("rule toggled")
	return nil
}

// Rule returns the rule registered under id.
func (e *Engine) Rule(id RuleID) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	return r, ok
}

// Rules describes every registered rule in id order.
func (e *Engine) Rules() []RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]RuleInfo, 0, len(e.rules))
	for _, id := range e.sortedIDsLocked() {
		r := e.rules[id]
		out = append(out, RuleInfo{ID: id, Enabled: r.Enabled(), Config: r.Config()})
	}
	return out
}

// Stats returns a copy of the per-rule counters.
func (e *Engine) Stats() map[RuleID]RuleStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	out := make(map[RuleID]RuleStats, len(e.stats))
	for id, s := range e.stats {
		out[id] = *s
	}
	return out
}

func (e *Engine) enabledRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Rule
	for _, id := range e.sortedIDsLocked() {
		if r := e.rules[id]; r.Enabled() {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) sortedIDsLocked() []RuleID {
	ids := make([]RuleID, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) recordStats(id RuleID, triggered bool) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	s, ok := e.stats[id]
	if !ok {
		s = &RuleStats{}
		e.stats[id] = s
	}
	s.Evaluations++
	if triggered {
		s.Triggered++
	}
}
