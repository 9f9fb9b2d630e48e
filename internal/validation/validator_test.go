// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package validation

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

type testRequest struct {
	UserID   string          `json:"user_id" validate:"required,max=8"`
	Language string          `json:"language" validate:"required"`
	Status   string          `json:"status" validate:"omitempty,oneof=active suspended"`
	Payload  json.RawMessage `json:"payload,omitempty" validate:"omitempty,rawjson"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     testRequest
		wantField string
		wantTag   string
	}{
		{
			name:  "valid request",
			input: testRequest{UserID: "u1", Language: "go", Status: "active", Payload: json.RawMessage(`{"a":1}`)},
		},
		{
			name:      "missing user id uses json name",
			input:     testRequest{Language: "go"},
			wantField: "user_id",
			wantTag:   "required",
		},
		{
			name:      "too long",
			input:     testRequest{UserID: "123456789", Language: "go"},
			wantField: "user_id",
			wantTag:   "max",
		},
		{
			name:      "oneof",
			input:     testRequest{UserID: "u1", Language: "go", Status: "flagged"},
			wantField: "status",
			wantTag:   "oneof",
		},
		{
			name:      "malformed payload",
			input:     testRequest{UserID: "u1", Language: "go", Payload: json.RawMessage(`{"a":`)},
			wantField: "payload",
			wantTag:   "rawjson",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(&tt.input)
			if tt.wantField == "" {
				if verr != nil {
					t.Fatalf("ValidateStruct() unexpected error = %v", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("ValidateStruct() expected error, got nil")
			}
			first := verr.First()
			if first.Field() != tt.wantField {
				t.Errorf("Field() = %q, want %q", first.Field(), tt.wantField)
			}
			if first.Tag() != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", first.Tag(), tt.wantTag)
			}
			if !strings.Contains(verr.Error(), tt.wantField) {
				t.Errorf("Error() = %q, should mention %q", verr.Error(), tt.wantField)
			}
		})
	}
}

func TestRequestValidationError_Details(t *testing.T) {
	verr := ValidateStruct(&testRequest{})
	if verr == nil {
		t.Fatal("expected validation error")
	}

	details := verr.Details()
	if len(details) != 2 {
		t.Fatalf("Details() returned %d entries, want 2", len(details))
	}
	for _, d := range details {
		if d["tag"] != "required" {
			t.Errorf("detail tag = %q, want required", d["tag"])
		}
	}
}

func TestRequestValidationError_Empty(t *testing.T) {
	verr := &RequestValidationError{}
	if verr.Error() != "validation failed" {
		t.Errorf("Error() = %q, want %q", verr.Error(), "validation failed")
	}
	first := verr.First()
	if first.Tag() != "unknown" {
		t.Errorf("First().Tag() = %q, want unknown", first.Tag())
	}
}
