// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package session

import "github.com/tomtom215/examguard/internal/models"

// transitions is the complete status table. A missing entry is an invalid
// transition. An entry mapping a status to itself is a no-op.
// Terminal statuses have no outgoing entries.
var transitions = map[models.SessionStatus]map[models.Trigger]models.SessionStatus{
	models.StatusActive: {
		models.TriggerEnd:              models.StatusCompleted,
		models.TriggerFlagMedium:       models.StatusFlagged,
		models.TriggerFlagHigh:         models.StatusSuspended,
		models.TriggerFlagThreshold:    models.StatusSuspended,
		models.TriggerHostSuspend:      models.StatusSuspended,
		models.TriggerHostComplete:     models.StatusCompleted,
		models.TriggerHostFlag:         models.StatusFlagged,
		models.TriggerDisconnectPolicy: models.StatusSuspended,
	},
	models.StatusFlagged: {
		models.TriggerFlagMedium:       models.StatusFlagged,
		models.TriggerFlagHigh:         models.StatusSuspended,
		models.TriggerFlagThreshold:    models.StatusSuspended,
		models.TriggerHostSuspend:      models.StatusSuspended,
		models.TriggerHostResume:       models.StatusActive,
		models.TriggerHostComplete:     models.StatusCompleted,
		models.TriggerDisconnectPolicy: models.StatusSuspended,
	},
}

// Next returns the status trigger leads to from status.
func Next(from models.SessionStatus, trigger models.Trigger) (models.SessionStatus, bool) {
	to, ok := transitions[from][trigger]
	return to, ok
}

// overrideTriggers maps a host's requested status to the trigger it fires.
var overrideTriggers = map[models.SessionStatus]models.Trigger{
	models.StatusActive:    models.TriggerHostResume,
	models.StatusSuspended: models.TriggerHostSuspend,
	models.StatusCompleted: models.TriggerHostComplete,
	models.StatusFlagged:   models.TriggerHostFlag,
}

// hostTrigger reports whether t may only be fired by a host.
func hostTrigger(t models.Trigger) bool {
	switch t {
	case models.TriggerHostSuspend, models.TriggerHostResume, models.TriggerHostComplete, models.TriggerHostFlag:
		return true
	}
	return false
}
