// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is shared process-wide; it caches struct metadata and
// reports field names by their json tag so errors line up with what clients sent.
//
// Custom tags:
//   - rawjson: a []byte / json.RawMessage field must be empty or well-formed JSON
//
// Example:
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    rw.ValidationError(verr.Error(), verr.Details())
//	    return
//	}
package validation
