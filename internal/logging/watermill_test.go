// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestWatermillAdapter_Levels(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewWatermillAdapterWithLogger(NewTestLogger(&buf))

	adapter.Error("handler failed", errors.New("boom"), watermill.LogFields{"handler": "deliver.hub"})
	adapter.Info("router started", nil)
	adapter.Debug("message acked", watermill.LogFields{"message_uuid": "m-1"})
	adapter.Trace("polling", nil)

	out := buf.String()
	for _, want := range []string{
		`"level":"error"`, `"error":"boom"`, `"handler":"deliver.hub"`,
		`"level":"info"`, `"message":"router started"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}

	// Debug and trace follow the global level.
	if zerolog.GlobalLevel() > zerolog.DebugLevel && strings.Contains(out, "message acked") {
		t.Errorf("debug entry written above global level: %s", out)
	}
}

func TestWatermillAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewWatermillAdapterWithLogger(NewTestLogger(&buf))

	child := base.With(watermill.LogFields{"topic": "examguard.notifications"})
	child.Info("subscribed", nil)
	base.Info("plain", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"topic":"examguard.notifications"`) {
		t.Errorf("child entry missing field: %s", lines[0])
	}
	if strings.Contains(lines[1], "topic") {
		t.Errorf("parent entry should not carry child fields: %s", lines[1])
	}
}

func TestNewWatermillAdapter_Component(t *testing.T) {
	var buf bytes.Buffer
	old := Logger()
	SetLogger(NewTestLogger(&buf))
	defer SetLogger(old)

	NewWatermillAdapter().Info("hello", nil)

	if !strings.Contains(buf.String(), `"component":"watermill"`) {
		t.Errorf("expected component field, got: %s", buf.String())
	}
}
