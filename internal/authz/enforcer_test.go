// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package authz

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/examguard/internal/models"
)

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(nil)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestEnforcer_DefaultPolicy(t *testing.T) {
	e := newTestEnforcer(t)

	tests := []struct {
		role   string
		object string
		action string
		want   bool
	}{
		{models.RoleHost, ObjectSessions, ActionOverride, true},
		{models.RoleHost, ObjectSessions, ActionRead, true},
		{models.RoleHost, ObjectRules, ActionRead, true},
		{models.RoleHost, ObjectRules, ActionWrite, false},
		{"admin", ObjectSessions, ActionOverride, true},
		{"admin", ObjectRules, ActionWrite, true},
		{"candidate", ObjectSessions, ActionOverride, false},
		{"system", ObjectSessions, ActionOverride, false},
		{"", ObjectSessions, ActionOverride, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.object+"/"+tt.action, func(t *testing.T) {
			got, err := e.Authorize(models.Actor{ID: "a1", Role: tt.role}, tt.object, tt.action)
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Authorize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnforcer_CacheInvalidation(t *testing.T) {
	e := newTestEnforcer(t)

	if ok, _ := e.Enforce("proctor", ObjectSessions, ActionOverride); ok {
		t.Fatal("proctor should start without override")
	}

	if _, err := e.AddRoleForUser("proctor", models.RoleHost); err != nil {
		t.Fatalf("AddRoleForUser() error = %v", err)
	}
	if ok, _ := e.Enforce("proctor", ObjectSessions, ActionOverride); !ok {
		t.Error("cached denial should be invalidated after role grant")
	}

	if _, err := e.RemovePolicy(models.RoleHost, ObjectSessions, ActionOverride); err != nil {
		t.Fatalf("RemovePolicy() error = %v", err)
	}
	if ok, _ := e.Enforce("proctor", ObjectSessions, ActionOverride); ok {
		t.Error("cached allow should be cleared after policy removal")
	}

	if _, err := e.AddPolicy("auditor", ObjectSessions, ActionRead); err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}
	if ok, _ := e.Enforce("auditor", ObjectSessions, ActionRead); !ok {
		t.Error("added policy should apply")
	}
}

func TestEnforcer_PolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.csv")
	if err := os.WriteFile(path, []byte("p, proctor, sessions, override\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	e, err := NewEnforcer(&EnforcerConfig{PolicyPath: path, CacheSize: 16})
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	defer e.Close()

	if ok, _ := e.Authorize(models.Actor{Role: "proctor"}, ObjectSessions, ActionOverride); !ok {
		t.Error("file policy should grant proctor override")
	}
	if ok, _ := e.Authorize(models.Actor{Role: models.RoleHost}, ObjectSessions, ActionOverride); ok {
		t.Error("file policy replaces the embedded one")
	}
	if err := e.LoadPolicy(); err != nil {
		t.Errorf("LoadPolicy() error = %v", err)
	}
}

func TestEnforcer_LoadPolicyWithoutFile(t *testing.T) {
	e := newTestEnforcer(t)
	if err := e.LoadPolicy(); !errors.Is(err, ErrNoAdapter) {
		t.Errorf("LoadPolicy() error = %v, want ErrNoAdapter", err)
	}
	if len(e.GetPolicy()) == 0 {
		t.Error("embedded policy should not be empty")
	}
}
