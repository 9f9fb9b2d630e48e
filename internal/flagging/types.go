// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package flagging

import (
	"errors"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examguard/internal/models"
)

// RuleID identifies a flagging rule. The set is closed; see DefaultRules.
type RuleID string

const (
	// RulePasteBurst flags repeated pastes in a short span.
	RulePasteBurst RuleID = "paste_burst"

	// RuleFocusLoss flags a candidate spending too long outside the editor.
	RuleFocusLoss RuleID = "focus_loss"

	// RuleClipboardSubmission flags a submission made straight after a clipboard
	// read with no typing in between.
	RuleClipboardSubmission RuleID = "clipboard_submission"

	// RuleTabSwitchBurst flags rapid tab switching.
	RuleTabSwitchBurst RuleID = "tab_switch_burst"

	// RuleNetworkInstability flags repeated network drops.
	RuleNetworkInstability RuleID = "network_instability"
)

// ErrUnknownRule is returned when configuring a rule id the engine does not hold.
var ErrUnknownRule = errors.New("unknown rule")

// Rule is a pure predicate over a bounded window of a session's events.
// Evaluate must not read the wall clock or any state outside its arguments and
// configuration, so the same window always yields the same flag.
type Rule interface {
	// ID returns the rule identifier.
	ID() RuleID

	// Evaluate inspects window (ascending by sequence number) and returns a
	// flag when the rule triggers.
	Evaluate(sessionID string, window []models.Event) (*models.Flag, bool)

	// Configure replaces the rule configuration from JSON.
	Configure(config json.RawMessage) error

	// Config returns the current configuration as JSON.
	Config() json.RawMessage

	// Enabled returns whether this rule is currently enabled.
	Enabled() bool

	// SetEnabled enables or disables the rule.
	SetEnabled(enabled bool)
}

// RuleInfo describes a registered rule for listing endpoints.
type RuleInfo struct {
	ID      RuleID          `json:"rule_id"`
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// BurstConfig configures count-within-span rules.
type BurstConfig struct {
	// Threshold is the minimum number of matching events.
	Threshold int `json:"threshold" koanf:"threshold"`

	// WindowSeconds is the span, measured on server receipt time, the events
	// must fall within.
	WindowSeconds int `json:"window_seconds" koanf:"window_seconds"`

	// Severity for generated flags.
	Severity models.Severity `json:"severity" koanf:"severity"`
}

// DefaultPasteBurstConfig returns the paste_burst defaults.
func DefaultPasteBurstConfig() BurstConfig {
	return BurstConfig{Threshold: 3, WindowSeconds: 60, Severity: models.SeverityMedium}
}

// DefaultTabSwitchBurstConfig returns the tab_switch_burst defaults.
func DefaultTabSwitchBurstConfig() BurstConfig {
	return BurstConfig{Threshold: 5, WindowSeconds: 120, Severity: models.SeverityLow}
}

// DefaultNetworkInstabilityConfig returns the network_instability defaults.
func DefaultNetworkInstabilityConfig() BurstConfig {
	return BurstConfig{Threshold: 3, WindowSeconds: 300, Severity: models.SeverityLow}
}

// FocusLossConfig configures the focus_loss rule.
type FocusLossConfig struct {
	// MaxAwaySeconds is the total focus-lost time tolerated within a window.
	MaxAwaySeconds int `json:"max_away_seconds" koanf:"max_away_seconds"`

	// Severity for generated flags.
	Severity models.Severity `json:"severity" koanf:"severity"`
}

// DefaultFocusLossConfig returns the focus_loss defaults.
func DefaultFocusLossConfig() FocusLossConfig {
	return FocusLossConfig{MaxAwaySeconds: 60, Severity: models.SeverityLow}
}

// ClipboardSubmissionConfig configures the clipboard_submission rule.
type ClipboardSubmissionConfig struct {
	// MaxGapSeconds is the longest clipboard-read to submission gap that still
	// triggers.
	MaxGapSeconds int `json:"max_gap_seconds" koanf:"max_gap_seconds"`

	// Severity for generated flags.
	Severity models.Severity `json:"severity" koanf:"severity"`
}

// DefaultClipboardSubmissionConfig returns the clipboard_submission defaults.
func DefaultClipboardSubmissionConfig() ClipboardSubmissionConfig {
	return ClipboardSubmissionConfig{MaxGapSeconds: 30, Severity: models.SeverityHigh}
}

// Settings is the full engine configuration.
type Settings struct {
	// WindowSize is how many trailing events each evaluation sees.
	WindowSize int `json:"window_size" koanf:"window_size"`

	// Disabled lists rule ids to start disabled.
	Disabled []string `json:"disabled" koanf:"disabled"`

	PasteBurst          BurstConfig               `json:"paste_burst" koanf:"paste_burst"`
	FocusLoss           FocusLossConfig           `json:"focus_loss" koanf:"focus_loss"`
	ClipboardSubmission ClipboardSubmissionConfig `json:"clipboard_submission" koanf:"clipboard_submission"`
	TabSwitchBurst      BurstConfig               `json:"tab_switch_burst" koanf:"tab_switch_burst"`
	NetworkInstability  BurstConfig               `json:"network_instability" koanf:"network_instability"`
}

// DefaultSettings returns the built-in rule configuration.
func DefaultSettings() Settings {
	return Settings{
		WindowSize:          DefaultWindowSize,
		PasteBurst:          DefaultPasteBurstConfig(),
		FocusLoss:           DefaultFocusLossConfig(),
		ClipboardSubmission: DefaultClipboardSubmissionConfig(),
		TabSwitchBurst:      DefaultTabSwitchBurstConfig(),
		NetworkInstability:  DefaultNetworkInstabilityConfig(),
	}
}

// toggle holds the enabled flag shared by every rule.
type toggle struct {
	mu      sync.RWMutex
	enabled bool
}

// Enabled returns whether the rule is currently enabled.
func (t *toggle) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// SetEnabled enables or disables the rule.
func (t *toggle) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func validSeverity(s models.Severity) bool {
	return s.Rank() > 0
}

// newFlag builds a flag whose id is derived from its identity, so evaluating
// the same window twice yields the same flag. CreatedAt is the receipt time of
// the last triggering event.
func newFlag(sessionID string, rule RuleID, sev models.Severity, first, last models.Event, msg string) *models.Flag {
	r := models.SequenceRange{First: first.Sequence, Last: last.Sequence}
	return &models.Flag{
		ID:        models.FlagID(sessionID, string(rule), r),
		RuleID:    string(rule),
		Severity:  sev,
		SessionID: sessionID,
		Range:     r,
		Message:   msg,
		CreatedAt: last.ReceivedAt,
	}
}
