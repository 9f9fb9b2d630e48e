// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/examguard/internal/analytics"
	"github.com/tomtom215/examguard/internal/ingest"
	"github.com/tomtom215/examguard/internal/models"
	"github.com/tomtom215/examguard/internal/registry"
	"github.com/tomtom215/examguard/internal/sessionlock"
	"github.com/tomtom215/examguard/internal/store"
)

// frame is a decoded server frame.
type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"session_id"`
	EventID   uint64          `json:"event_id"`
}

type testServer struct {
	server *httptest.Server
	hub    *Hub
	reg    *registry.Registry
	store  *store.MemoryStore

	mu   sync.Mutex
	lost []string
}

func (s *testServer) lostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lost)
}

// setupServer wires a memory store, registry, pipeline and hub behind an
// httptest server, with session s1 active.
func setupServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	st := store.NewMemoryStore()
	now := time.Now().UTC()
	err := st.CreateSession(context.Background(), models.Session{
		ID: "s1", UserID: "u1", Language: "go", Status: models.StatusActive, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	ts := &testServer{store: st}
	ts.reg = registry.New(st)
	ts.reg.OnConnectionLost(func(conn models.Connection, reason string) {
		ts.mu.Lock()
		ts.lost = append(ts.lost, conn.SessionID+"/"+reason)
		ts.mu.Unlock()
	})

	pipeline := ingest.NewPipeline(st, ts.reg, sessionlock.New(), nil, ingest.DefaultConfig())
	ts.hub = NewHub(ts.reg, pipeline, analytics.NewAggregator(st, 16), cfg)

	upgrader := websocket.Upgrader{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client, err := NewClient(ts.hub, conn)
		if err != nil {
			_ = conn.Close()
			return
		}
		client.Start()
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

// dialWebSocket establishes a WebSocket connection to the test server.
func dialWebSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"type": typ, "data": data})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return f
}

func errorCodeOf(t *testing.T, f frame) string {
	t.Helper()
	if f.Type != MessageTypeError {
		t.Fatalf("frame type = %s, want error (%s)", f.Type, f.Data)
	}
	var e ErrorData
	if err := json.Unmarshal(f.Data, &e); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	return e.Code
}

func associate(t *testing.T, conn *websocket.Conn, sessionID string) {
	t.Helper()
	sendFrame(t, conn, MessageTypeAssociate, AssociateData{SessionID: sessionID})
	if f := readFrame(t, conn); f.Type != MessageTypeAck || f.SessionID != sessionID {
		t.Fatalf("associate reply = %+v", f)
	}
}

func event(id string, typ models.EventType) map[string]interface{} {
	return map[string]interface{}{
		"client_event_id": id,
		"event_type":      typ,
		"occurred_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func TestClient_Constants(t *testing.T) {
	if writeWait != 10*time.Second {
		t.Errorf("writeWait = %v", writeWait)
	}
	if pongWait != 60*time.Second {
		t.Errorf("pongWait = %v", pongWait)
	}
	if maxMessageSize != 64*1024 {
		t.Errorf("maxMessageSize = %d", maxMessageSize)
	}
}

func TestClient_PingPong(t *testing.T) {
	ts := setupServer(t, Config{})
	conn := dialWebSocket(t, ts.server)

	sendFrame(t, conn, MessageTypePing, nil)
	if f := readFrame(t, conn); f.Type != MessageTypePong {
		t.Errorf("reply type = %s, want pong", f.Type)
	}
}

func TestClient_EventBeforeAssociate(t *testing.T) {
	ts := setupServer(t, Config{})
	conn := dialWebSocket(t, ts.server)

	sendFrame(t, conn, MessageTypeEvent, event("e1", models.EventPaste))
	if code := errorCodeOf(t, readFrame(t, conn)); code != CodeNotAssociated {
		t.Errorf("code = %s, want %s", code, CodeNotAssociated)
	}

	sendFrame(t, conn, MessageTypeAnalytics, nil)
	if code := errorCodeOf(t, readFrame(t, conn)); code != CodeNotAssociated {
		t.Errorf("analytics code = %s, want %s", code, CodeNotAssociated)
	}
}

func TestClient_IngestFlow(t *testing.T) {
	ts := setupServer(t, Config{})
	conn := dialWebSocket(t, ts.server)
	associate(t, conn, "s1")

	for i, id := range []string{"e1", "e2", "e1"} {
		sendFrame(t, conn, MessageTypeEvent, event(id, models.EventPaste))
		f := readFrame(t, conn)
		if f.Type != MessageTypeAck {
			t.Fatalf("frame %d type = %s (%s)", i, f.Type, f.Data)
		}
		var receipt ingest.Receipt
		if err := json.Unmarshal(f.Data, &receipt); err != nil {
			t.Fatalf("decode receipt: %v", err)
		}
		want := []uint64{1, 2, 1}[i]
		if f.EventID != want || receipt.SequenceNumber != want {
			t.Errorf("frame %d event_id = %d, receipt = %d, want %d", i, f.EventID, receipt.SequenceNumber, want)
		}
		if receipt.Duplicate != (i == 2) {
			t.Errorf("frame %d duplicate = %v", i, receipt.Duplicate)
		}
	}

	latest, _ := ts.store.LatestSequence(context.Background(), "s1")
	if latest != 2 {
		t.Errorf("latest sequence = %d, want 2", latest)
	}

	sendFrame(t, conn, MessageTypeAnalytics, nil)
	f := readFrame(t, conn)
	if f.Type != MessageTypeAnalytics || f.SessionID != "s1" {
		t.Fatalf("analytics reply = %+v", f)
	}
	var summary models.AnalyticsSummary
	if err := json.Unmarshal(f.Data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.TotalEvents != 2 {
		t.Errorf("summary total events = %d, want 2", summary.TotalEvents)
	}
}

func TestClient_ErrorFramesKeepConnection(t *testing.T) {
	tests := []struct {
		name string
		send func(t *testing.T, conn *websocket.Conn)
		want string
	}{
		{
			name: "not json",
			send: func(t *testing.T, conn *websocket.Conn) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("{nope"))
			},
			want: CodeBadFrame,
		},
		{
			name: "unknown frame type",
			send: func(t *testing.T, conn *websocket.Conn) { sendFrame(t, conn, "teleport", nil) },
			want: CodeUnknownType,
		},
		{
			name: "unknown event type",
			send: func(t *testing.T, conn *websocket.Conn) {
				sendFrame(t, conn, MessageTypeEvent, event("x", "screenshot"))
			},
			want: CodeInvalidEvent,
		},
		{
			name: "event data not an object",
			send: func(t *testing.T, conn *websocket.Conn) { sendFrame(t, conn, MessageTypeEvent, 42) },
			want: CodeBadFrame,
		},
		{
			name: "associate without session",
			send: func(t *testing.T, conn *websocket.Conn) { sendFrame(t, conn, MessageTypeAssociate, AssociateData{}) },
			want: CodeBadFrame,
		},
	}

	ts := setupServer(t, Config{})
	conn := dialWebSocket(t, ts.server)
	associate(t, conn, "s1")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.send(t, conn)
			if code := errorCodeOf(t, readFrame(t, conn)); code != tt.want {
				t.Errorf("code = %s, want %s", code, tt.want)
			}
		})
	}

	// Still open and usable.
	sendFrame(t, conn, MessageTypePing, nil)
	if f := readFrame(t, conn); f.Type != MessageTypePong {
		t.Errorf("after errors got %s, want pong", f.Type)
	}
}

func TestClient_SecondConnectionRejected(t *testing.T) {
	ts := setupServer(t, Config{})
	first := dialWebSocket(t, ts.server)
	associate(t, first, "s1")

	second := dialWebSocket(t, ts.server)
	sendFrame(t, second, MessageTypeAssociate, AssociateData{SessionID: "s1"})
	if code := errorCodeOf(t, readFrame(t, second)); code != CodeAlreadyAssociated {
		t.Errorf("code = %s, want %s", code, CodeAlreadyAssociated)
	}

	sendFrame(t, second, MessageTypeAssociate, AssociateData{SessionID: "missing"})
	if code := errorCodeOf(t, readFrame(t, second)); code != CodeUnknownSession {
		t.Errorf("code = %s, want %s", code, CodeUnknownSession)
	}
}

func TestClient_RateLimited(t *testing.T) {
	ts := setupServer(t, Config{RateLimit: 0.001, RateBurst: 1})
	conn := dialWebSocket(t, ts.server)

	sendFrame(t, conn, MessageTypePing, nil)
	if f := readFrame(t, conn); f.Type != MessageTypePong {
		t.Fatalf("first frame reply = %s, want pong", f.Type)
	}

	sendFrame(t, conn, MessageTypePing, nil)
	if code := errorCodeOf(t, readFrame(t, conn)); code != CodeRateLimited {
		t.Errorf("code = %s, want %s", code, CodeRateLimited)
	}
}

func TestClient_PushedFramesAndClose(t *testing.T) {
	ts := setupServer(t, Config{})
	conn := dialWebSocket(t, ts.server)
	associate(t, conn, "s1")

	if !ts.hub.SendToSession("s1", MessageTypeStatus, map[string]string{"to": "completed"}) {
		t.Fatal("SendToSession() reported no client")
	}
	ts.hub.CloseSession("s1", "session completed")

	if f := readFrame(t, conn); f.Type != MessageTypeStatus {
		t.Errorf("pushed frame type = %s, want status", f.Type)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Text != "session completed" {
		t.Errorf("close error = %v", err)
	}
}

func TestClient_DisconnectFiresConnectionLost(t *testing.T) {
	ts := setupServer(t, Config{})
	conn := dialWebSocket(t, ts.server)
	associate(t, conn, "s1")

	if ts.reg.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", ts.reg.Len())
	}
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ts.lostCount() == 0 || ts.reg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection not released: lost=%d len=%d", ts.lostCount(), ts.reg.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.lost[0] != "s1/"+registry.ReasonClosed {
		t.Errorf("lost = %v", ts.lost)
	}

	sess, _ := ts.store.GetSession(context.Background(), "s1")
	if sess.Status != models.StatusActive {
		t.Errorf("status = %s, want active", sess.Status)
	}
	if ts.hub.GetSessionCount() != 0 {
		t.Errorf("hub still maps %d sessions", ts.hub.GetSessionCount())
	}
}

func TestHub_IdleSweepClosesTransport(t *testing.T) {
	ts := setupServer(t, Config{})
	conn := dialWebSocket(t, ts.server)
	associate(t, conn, "s1")

	sweeper := registry.NewSweeper(ts.reg, 5*time.Millisecond, time.Millisecond,
		registry.WithSweptHandler(func(c models.Connection) {
			ts.hub.CloseConnection(c.ID, registry.ReasonIdleTimeout)
		}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sweeper.Serve(ctx) }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure || ce.Text != registry.ReasonIdleTimeout {
		t.Fatalf("expected idle_timeout close frame, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.GetClientCount() != 0 || ts.hub.GetSessionCount() != 0 || ts.reg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("clients=%d sessions=%d registry=%d after sweep",
				ts.hub.GetClientCount(), ts.hub.GetSessionCount(), ts.reg.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ts.hub.SendToSession("s1", MessageTypeStatus, nil) {
		t.Error("SendToSession() found a client after the sweep")
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.lost) != 1 || ts.lost[0] != "s1/"+registry.ReasonIdleTimeout {
		t.Errorf("lost = %v, want one idle_timeout", ts.lost)
	}
}

func TestHub_CloseConnectionUnknown(t *testing.T) {
	hub := newTestHub(&mockConnections{}, Config{})
	if hub.CloseConnection("missing", registry.ReasonIdleTimeout) {
		t.Error("CloseConnection() on unknown id should report false")
	}
}
