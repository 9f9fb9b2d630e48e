// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Request structs validated with go-playground/validator tags:
//   - required: field must be present and non-zero
//   - min,max: numeric or string length bounds
//   - oneof: value must be one of the specified options
//   - rawjson: value must be well-formed JSON
//   - omitempty: skip validation if field is empty/zero

package api

import "github.com/goccy/go-json"

// OverrideRequest is the body of POST /sessions/{id}/override.
type OverrideRequest struct {
	Status string `json:"status" validate:"required,oneof=active flagged suspended completed"`
	Reason string `json:"reason" validate:"max=512"`
}

// UpdateRuleRequest is the body of PUT /rules/{id}. At least one field
// should be set; an empty body is a no-op that returns the rule.
type UpdateRuleRequest struct {
	Enabled *bool           `json:"enabled,omitempty"`
	Config  json.RawMessage `json:"config,omitempty" validate:"omitempty,rawjson"`
}

// EventsRequest holds the validated query parameters for the event log.
//
// Fields:
//   - After: return events with a sequence number greater than this
//   - Limit: maximum events per page (1-1000)
type EventsRequest struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit" validate:"min=1,max=1000"`
}

// defaultEventsLimit is used when ?limit= is absent.
const defaultEventsLimit = 100
