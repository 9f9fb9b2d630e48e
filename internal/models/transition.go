// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package models

import "time"

// Trigger names the signal that asks the state machine for a transition.
type Trigger string

const (
	TriggerEnd              Trigger = "end"
	TriggerFlagMedium       Trigger = "flag_medium"
	TriggerFlagHigh         Trigger = "flag_high"
	TriggerFlagThreshold    Trigger = "flag_threshold"
	TriggerHostSuspend      Trigger = "host_suspend"
	TriggerHostResume       Trigger = "host_resume"
	TriggerHostComplete     Trigger = "host_complete"
	TriggerHostFlag         Trigger = "host_flag"
	TriggerDisconnectPolicy Trigger = "disconnect_policy"
)

// Actor identifies who asked for a transition. System-driven transitions use SystemActor.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// RoleHost is the role that carries the override capability.
const RoleHost = "host"

// SystemActor is recorded for transitions driven by rules, policies and session end.
var SystemActor = Actor{ID: "system", Role: "system"}

// Transition is one entry of a session's status history.
type Transition struct {
	ID        string        `json:"transition_id"`
	SessionID string        `json:"session_id"`
	From      SessionStatus `json:"from"`
	To        SessionStatus `json:"to"`
	Trigger   Trigger       `json:"trigger"`
	Actor     Actor         `json:"actor"`
	Reason    string        `json:"reason,omitempty"`
	At        time.Time     `json:"at"`
}
