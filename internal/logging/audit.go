// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// Audit event names.
const (
	AuditSessionOverride = "session_override"
	AuditRuleUpdate      = "rule_update"
	AuditAuthRejected    = "auth_rejected"
)

// AuditEvent is a privileged action or rejected access attempt.
type AuditEvent struct {
	// Event is one of the Audit* names.
	Event string
	// ActorID is the authenticated subject, empty when authentication failed.
	ActorID string
	// Role is the actor's role claim.
	Role string
	// SessionID is the exam session the action targeted, if any.
	SessionID string
	// RuleID is the flagging rule the action targeted, if any.
	RuleID string
	// IPAddress is the client's address.
	IPAddress string
	// Path is the request path.
	Path string
	// Success reports whether the action was applied.
	Success bool
	// Error is the failure reason.
	Error string
	// Details carries extra key/value pairs, sanitized by key.
	Details map[string]string
}

// AuditLogger writes audit events for host overrides, rule changes and
// rejected authentication. Sensitive values are masked before they are
// written.
type AuditLogger struct {
	logger zerolog.Logger
}

// NewAuditLogger creates an audit logger on the global logger.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{
		logger: With().Str("component", "audit").Logger(),
	}
}

// NewAuditLoggerWithLogger creates an audit logger with a custom zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewAuditLoggerWithLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// LogEvent writes an audit event. Failed events are written at warn level.
func (l *AuditLogger) LogEvent(event *AuditEvent) {
	var e *zerolog.Event
	if event.Success {
		e = l.logger.Info().Str("status", "success")
	} else {
		e = l.logger.Warn().Str("status", "failed")
	}
	e = e.Str("event", event.Event)

	if event.ActorID != "" {
		e = e.Str("actor_id", event.ActorID)
	}
	if event.Role != "" {
		e = e.Str("role", event.Role)
	}
	if event.SessionID != "" {
		e = e.Str("session_id", event.SessionID)
	}
	if event.RuleID != "" {
		e = e.Str("rule_id", event.RuleID)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.Path != "" {
		e = e.Str("path", truncateString(event.Path, 256))
	}
	if event.Error != "" {
		e = e.Str("error", SanitizeError(event.Error))
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}

	e.Msg("audit event")
}

// LogOverride records a host status override.
func (l *AuditLogger) LogOverride(actorID, role, sessionID, toStatus, reason, ip string, err error) {
	event := &AuditEvent{
		Event:     AuditSessionOverride,
		ActorID:   actorID,
		Role:      role,
		SessionID: sessionID,
		IPAddress: ip,
		Success:   err == nil,
		Details: map[string]string{
			"to_status": toStatus,
			"reason":    truncateString(reason, 512),
		},
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.LogEvent(event)
}

// LogRuleUpdate records a change to a flagging rule's state or configuration.
func (l *AuditLogger) LogRuleUpdate(actorID, role, ruleID string, enabled *bool, configChanged bool, ip string, err error) {
	details := map[string]string{}
	if enabled != nil {
		if *enabled {
			details["enabled"] = "true"
		} else {
			details["enabled"] = "false"
		}
	}
	if configChanged {
		details["config_changed"] = "true"
	}
	event := &AuditEvent{
		Event:     AuditRuleUpdate,
		ActorID:   actorID,
		Role:      role,
		RuleID:    ruleID,
		IPAddress: ip,
		Success:   err == nil,
		Details:   details,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.LogEvent(event)
}

// LogAuthRejected records a request rejected by authentication or authorization.
func (l *AuditLogger) LogAuthRejected(status int, reason, ip, path string) {
	kind := "unauthenticated"
	if status == 403 {
		kind = "forbidden"
	}
	l.LogEvent(&AuditEvent{
		Event:     AuditAuthRejected,
		IPAddress: ip,
		Path:      path,
		Error:     reason,
		Details:   map[string]string{"kind": kind},
	})
}

// SanitizeToken masks a token, showing only first and last 4 characters.
// Example: "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9..." -> "eyJh...kpXV"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeError replaces errors that mention credentials with a generic
// message and truncates the rest.
func SanitizeError(err string) string {
	sensitivePatterns := []string{
		"password",
		"secret",
		"bearer",
		"authorization",
		"cookie",
		"eyj",
	}

	lowerErr := strings.ToLower(err)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lowerErr, pattern) {
			return "credential error"
		}
	}

	return truncateString(err, 200)
}

// SanitizeValue masks a value whose key names a credential.
func SanitizeValue(key, value string) string {
	sensitiveKeys := map[string]bool{
		"access_token":  true,
		"token":         true,
		"password":      true,
		"secret":        true,
		"jwt_secret":    true,
		"api_key":       true,
		"authorization": true,
		"bearer":        true,
		"cookie":        true,
	}

	if sensitiveKeys[strings.ToLower(key)] {
		return SanitizeToken(value)
	}
	return value
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
