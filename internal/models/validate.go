// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examguard/internal/validation"
)

// ValidationLimits bounds what an acceptable raw event looks like.
type ValidationLimits struct {
	// MaxClockSkew is how far occurred_at may run ahead of received_at.
	MaxClockSkew time.Duration `json:"max_clock_skew"`

	// MaxEventAge is how far occurred_at may lag behind received_at.
	MaxEventAge time.Duration `json:"max_event_age"`

	// MaxPayloadBytes caps the opaque payload.
	MaxPayloadBytes int `json:"max_payload_bytes"`
}

// DefaultValidationLimits returns the limits used when none are configured.
func DefaultValidationLimits() ValidationLimits {
	return ValidationLimits{
		MaxClockSkew:    30 * time.Second,
		MaxEventAge:     15 * time.Minute,
		MaxPayloadBytes: 16 * 1024,
	}
}

// Validate turns a raw event into an unsequenced Event stamped with receivedAt,
// or returns a *ValidationError. It has no side effects.
func Validate(raw RawEvent, receivedAt time.Time, limits ValidationLimits) (Event, error) {
	if verr := validation.ValidateStruct(&raw); verr != nil {
		first := verr.First()
		return Event{}, &ValidationError{Field: first.Field(), Reason: first.Error()}
	}

	if !raw.Type.Known() {
		return Event{}, &ValidationError{Field: "event_type", Reason: fmt.Sprintf("unknown event type %q", raw.Type)}
	}

	if limits.MaxClockSkew > 0 && raw.OccurredAt.After(receivedAt.Add(limits.MaxClockSkew)) {
		return Event{}, &ValidationError{
			Field:  "occurred_at",
			Reason: fmt.Sprintf("occurred_at is %s ahead of server time (limit %s)", raw.OccurredAt.Sub(receivedAt), limits.MaxClockSkew),
		}
	}
	if limits.MaxEventAge > 0 && raw.OccurredAt.Before(receivedAt.Add(-limits.MaxEventAge)) {
		return Event{}, &ValidationError{
			Field:  "occurred_at",
			Reason: fmt.Sprintf("occurred_at is older than %s", limits.MaxEventAge),
		}
	}

	if limits.MaxPayloadBytes > 0 && len(raw.Payload) > limits.MaxPayloadBytes {
		return Event{}, &ValidationError{
			Field:  "payload",
			Reason: fmt.Sprintf("payload is %d bytes (limit %d)", len(raw.Payload), limits.MaxPayloadBytes),
		}
	}
	if len(raw.Payload) > 0 && !json.Valid(raw.Payload) {
		return Event{}, &ValidationError{Field: "payload", Reason: "payload must be valid JSON"}
	}

	var payload json.RawMessage
	if len(raw.Payload) > 0 {
		payload = append(json.RawMessage(nil), raw.Payload...)
	}

	return Event{
		ClientEventID: raw.ClientEventID,
		Type:          raw.Type,
		OccurredAt:    raw.OccurredAt.UTC(),
		ReceivedAt:    receivedAt.UTC(),
		Payload:       payload,
	}, nil
}
