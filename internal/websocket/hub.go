// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/examguard/internal/ingest"
	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Frame types. Clients send associate, event, ping and analytics; the server
// sends ack, error, pong, status, flag and analytics.
const (
	MessageTypeAssociate = "associate"
	MessageTypeEvent     = "event"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeAck       = "ack"
	MessageTypeError     = "error"
	MessageTypeStatus    = "status"
	MessageTypeFlag      = "flag"
	MessageTypeAnalytics = "analytics"
)

// messageTypeClose is internal: the write pump sends a close frame and stops.
const messageTypeClose = "_close"

// Message is one frame on the wire.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id,omitempty"`
	EventID   uint64      `json:"event_id,omitempty"`
}

// inbound is a client frame with its payload left raw until the type is known.
type inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"session_id,omitempty"`
}

// AssociateData is the payload of an associate frame.
type AssociateData struct {
	SessionID string `json:"session_id"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Connections is the registry surface the hub drives.
type Connections interface {
	Register(connectionID string) (models.Connection, error)
	Associate(ctx context.Context, connectionID, sessionID string) error
	Touch(connectionID string) error
	Disconnect(connectionID string) bool
}

// Ingester accepts events read from a connection.
type Ingester interface {
	Ingest(ctx context.Context, connectionID string, raw models.RawEvent) (ingest.Receipt, error)
}

// Summarizer answers analytics frames.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID string) (models.AnalyticsSummary, error)
}

// Config tunes per-connection behaviour.
type Config struct {
	// RateLimit is the sustained inbound frames per second per connection.
	RateLimit float64
	// RateBurst is the token bucket size.
	RateBurst int
	// SendBuffer is the outbound queue length per client.
	SendBuffer int
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait time.Duration
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// MaxMessageSize caps inbound frames in bytes.
	MaxMessageSize int64
	// OperationTimeout bounds ingest, association and analytics per frame.
	OperationTimeout time.Duration
}

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config {
	return Config{
		RateLimit:        50,
		RateBurst:        100,
		SendBuffer:       256,
		PongWait:         pongWait,
		WriteWait:        writeWait,
		MaxMessageSize:   maxMessageSize,
		OperationTimeout: 5 * time.Second,
	}
}

// Hub owns the live clients, routes their frames into the registry and the
// ingest pipeline, and pushes session notifications back out. It implements
// notify.Pusher and suture.Service.
type Hub struct {
	conns    Connections
	ingester Ingester
	summary  Summarizer
	cfg      Config

	mu        sync.RWMutex
	clients   map[*Client]bool
	bySession map[string]*Client
}

// NewHub creates a hub. summary may be nil, in which case analytics frames are
// answered with an error.
func NewHub(conns Connections, ingester Ingester, summary Summarizer, cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	return &Hub{
		conns:     conns,
		ingester:  ingester,
		summary:   summary,
		cfg:       cfg,
		clients:   make(map[*Client]bool),
		bySession: make(map[string]*Client),
	}
}

// Serve blocks until ctx is done, then closes every client.
func (h *Hub) Serve(ctx context.Context) error {
	logging.Info().Str("component", "websocket-hub").Msg("websocket hub started")
	<-ctx.Done()
	h.logGracefulShutdown(ctx)
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string {
	return "websocket-hub"
}

// logGracefulShutdown closes all clients and logs without an error field;
// cancellation is the expected shutdown path.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// register adds c to the client set.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetWSClients(n)
	logging.Info().Str("connection_id", c.connID).Int("total_clients", n).Msg("websocket client connected")
}

// unregister removes c and disconnects it from the registry, which fires the
// lost-connection handlers for an associated connection. Safe to call twice.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetWSClients(n)
	if h.conns.Disconnect(c.connID) {
		logging.Info().Str("connection_id", c.connID).Int("total_clients", n).Msg("websocket client disconnected")
	}
}

// removeLocked must be called with h.mu held for writing.
func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if sid := c.Session(); sid != "" && h.bySession[sid] == c {
		delete(h.bySession, sid)
	}
	close(c.send)
}

// bind records c as the live client of sessionID.
func (h *Hub) bind(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.bySession[sessionID] = c
	}
}

// send queues msg for c without blocking. A client whose queue is full is
// dropped.
func (h *Hub) send(c *Client, msg Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	if _, ok := h.clients[c]; !ok {
		h.mu.RUnlock()
		return false
	}
	select {
	case c.send <- msg:
		h.mu.RUnlock()
		metrics.RecordWSMessage("out", msg.Type)
		return true
	default:
	}
	h.mu.RUnlock()

	logging.Warn().Str("connection_id", c.connID).Str("message_type", msg.Type).Msg("send buffer full, dropping client")
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	return false
}

// SendToSession queues a frame for the session's client. It reports whether
// the session had a live client.
func (h *Hub) SendToSession(sessionID, frameType string, data interface{}) bool {
	h.mu.RLock()
	c, ok := h.bySession[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.send(c, Message{Type: frameType, Data: data, SessionID: sessionID})
}

// CloseSession closes the session's client after frames already queued are
// written.
func (h *Hub) CloseSession(sessionID, reason string) {
	h.mu.RLock()
	c, ok := h.bySession[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.send(c, Message{Type: messageTypeClose, Data: reason, SessionID: sessionID})
}

// CloseConnection closes the client behind connectionID with a normal close
// frame carrying reason. The client leaves the hub at once, so later pushes for
// its session find no client. It reports whether the connection was found.
func (h *Hub) CloseConnection(connectionID, reason string) bool {
	h.mu.Lock()
	var target *Client
	for c := range h.clients {
		if c.connID == connectionID {
			target = c
			break
		}
	}
	if target == nil {
		h.mu.Unlock()
		return false
	}
	select {
	case target.send <- Message{Type: messageTypeClose, Data: reason, Timestamp: time.Now().UTC()}:
	default:
	}
	h.removeLocked(target)
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetWSClients(n)
	logging.Info().Str("connection_id", connectionID).Str("reason", reason).Msg("websocket client closed by server")
	return true
}

// closeAllClients closes every client in id order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, c := range clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	metrics.SetWSClients(0)
	logging.Info().Int("clients", len(clients)).Msg("closed all websocket clients during shutdown")
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetSessionCount returns the number of sessions with a live client.
func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySession)
}
