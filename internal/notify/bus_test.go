// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/examguard/internal/models"
)

// mockSink records deliveries and fails the first failures attempts.
type mockSink struct {
	name     string
	mu       sync.Mutex
	failures int
	attempts int
	got      []models.Notification
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Deliver(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failures < 0 || m.attempts <= m.failures {
		return errors.New("sink unavailable")
	}
	m.got = append(m.got, n)
	return nil
}

func (m *mockSink) delivered() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.got...)
}

// mockPusher records frames pushed to sessions.
type mockPusher struct {
	mu     sync.Mutex
	frames []string
	closed []string
	online bool
}

func (p *mockPusher) SendToSession(sessionID, frameType string, _ interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, sessionID+"/"+frameType)
	return p.online
}

func (p *mockPusher) CloseSession(sessionID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, sessionID+"/"+reason)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryMaxRetries = 3
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	cfg.CloseTimeout = time.Second
	return cfg
}

func startBus(t *testing.T, b *Bus) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Serve(ctx)
		close(done)
	}()

	select {
	case <-b.Running():
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not start")
	}
	return func() {
		cancel()
		<-done
		_ = b.Close()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func statusNote(id string, to models.SessionStatus) models.Notification {
	tr := models.Transition{ID: id, SessionID: "s1", From: models.StatusActive, To: to, Trigger: models.TriggerEnd}
	return models.Notification{ID: id, Kind: models.NotificationStatus, SessionID: "s1", Transition: &tr}
}

func TestBus_DeliversToEverySink(t *testing.T) {
	a := &mockSink{name: "a"}
	b := &mockSink{name: "b"}
	bus := NewBus(testConfig(), a)
	bus.AddSink(b)
	stop := startBus(t, bus)
	defer stop()

	if err := bus.Publish(context.Background(), statusNote("tr-1", models.StatusFlagged)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	waitFor(t, "both sinks", func() bool { return len(a.delivered()) == 1 && len(b.delivered()) == 1 })
	if got := a.delivered()[0]; got.ID != "tr-1" || got.Transition == nil || got.Transition.To != models.StatusFlagged {
		t.Errorf("delivered = %+v", got)
	}
}

func TestBus_RetriesFailedDelivery(t *testing.T) {
	flaky := &mockSink{name: "flaky", failures: 2}
	healthy := &mockSink{name: "healthy"}
	bus := NewBus(testConfig(), flaky, healthy)
	stop := startBus(t, bus)
	defer stop()

	_ = bus.Publish(context.Background(), statusNote("tr-1", models.StatusFlagged))

	waitFor(t, "flaky delivery", func() bool { return len(flaky.delivered()) == 1 })
	if len(healthy.delivered()) != 1 {
		t.Errorf("healthy sink got %d deliveries, want 1", len(healthy.delivered()))
	}
	if len(bus.DeadLetters()) != 0 {
		t.Errorf("dead letters = %d, want 0", len(bus.DeadLetters()))
	}
}

func TestBus_ExhaustedDeliveryGoesToDeadLetters(t *testing.T) {
	broken := &mockSink{name: "broken", failures: -1}
	bus := NewBus(testConfig(), broken)
	stop := startBus(t, bus)
	defer stop()

	_ = bus.Publish(context.Background(), statusNote("tr-9", models.StatusSuspended))

	waitFor(t, "dead letter", func() bool { return len(bus.DeadLetters()) == 1 })
	if dl := bus.DeadLetters()[0]; dl.ID != "tr-9" {
		t.Errorf("dead letter = %+v", dl)
	}
}

func TestBus_String(t *testing.T) {
	bus := NewBus(Config{})
	if bus.String() != "notification-bus" {
		t.Errorf("String() = %q", bus.String())
	}
	if bus.cfg.OutputBuffer != DefaultConfig().OutputBuffer {
		t.Errorf("OutputBuffer default not applied: %d", bus.cfg.OutputBuffer)
	}
}

func TestHubSink_Deliver(t *testing.T) {
	tests := []struct {
		name       string
		note       models.Notification
		wantFrames []string
		wantClosed []string
	}{
		{
			name:       "non-terminal status",
			note:       statusNote("tr-1", models.StatusFlagged),
			wantFrames: []string{"s1/status"},
		},
		{
			name:       "terminal status closes",
			note:       statusNote("tr-2", models.StatusSuspended),
			wantFrames: []string{"s1/status"},
			wantClosed: []string{"s1/session suspended"},
		},
		{
			name: "flag",
			note: models.Notification{
				ID: "f-1", Kind: models.NotificationFlag, SessionID: "s1",
				Flag: &models.Flag{ID: "f-1", RuleID: "paste_burst", Severity: models.SeverityMedium},
			},
			wantFrames: []string{"s1/flag"},
		},
		{
			name: "connection lost",
			note: models.Notification{ID: "l-1", Kind: models.NotificationLost, SessionID: "s1", ConnectionID: "c1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockPusher{online: true}
			sink := NewHubSink(p, 0)

			if err := sink.Deliver(context.Background(), tt.note); err != nil {
				t.Fatalf("Deliver() error = %v", err)
			}
			// Redelivery is a no-op.
			_ = sink.Deliver(context.Background(), tt.note)

			if strings.Join(p.frames, ",") != strings.Join(tt.wantFrames, ",") {
				t.Errorf("frames = %v, want %v", p.frames, tt.wantFrames)
			}
			if strings.Join(p.closed, ",") != strings.Join(tt.wantClosed, ",") {
				t.Errorf("closed = %v, want %v", p.closed, tt.wantClosed)
			}
		})
	}
}

func TestRedisSink_Unreachable(t *testing.T) {
	sink, err := NewRedisSink("redis://127.0.0.1:1/0", "")
	if err != nil {
		t.Fatalf("NewRedisSink() error = %v", err)
	}
	defer sink.Close()

	if sink.Name() != "redis" || sink.channel != TopicNotifications {
		t.Errorf("sink = %s/%s", sink.Name(), sink.channel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := sink.Deliver(ctx, statusNote("tr-1", models.StatusFlagged)); err == nil {
		t.Error("Deliver() to unreachable redis should fail")
	}

	if _, err := NewRedisSink("not a url", ""); err == nil {
		t.Error("NewRedisSink() with bad url should fail")
	}
}

func TestKafkaSink_Config(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{}); err == nil {
		t.Error("NewKafkaSink() without brokers should fail")
	}

	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("NewKafkaSink() error = %v", err)
	}
	defer sink.Close()

	if sink.Name() != "kafka" || sink.writer.Topic != TopicNotifications {
		t.Errorf("sink = %s/%s", sink.Name(), sink.writer.Topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := sink.Deliver(ctx, statusNote("tr-1", models.StatusFlagged)); err == nil {
		t.Error("Deliver() to unreachable broker should fail")
	}
}
