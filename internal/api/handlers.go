// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/examguard/internal/cache"
	"github.com/tomtom215/examguard/internal/config"
	"github.com/tomtom215/examguard/internal/flagging"
	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
	ws "github.com/tomtom215/examguard/internal/websocket"
)

// SessionService drives session lifecycle changes. session.Machine implements it.
type SessionService interface {
	Create(ctx context.Context, req models.NewSessionRequest) (models.Session, error)
	End(ctx context.Context, sessionID string) (models.Session, error)
	Override(ctx context.Context, sessionID string, status models.SessionStatus, actor models.Actor, reason string) (models.Session, error)
}

// SessionReader reads persisted session state. store.Store implements it.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (models.Session, error)
	Events(ctx context.Context, sessionID string, from, to uint64) ([]models.Event, error)
	Flags(ctx context.Context, sessionID string) ([]models.Flag, error)
	Transitions(ctx context.Context, sessionID string) ([]models.Transition, error)
	Ping(ctx context.Context) error
}

// Summarizer produces per-session analytics. analytics.Aggregator implements it.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID string) (models.AnalyticsSummary, error)
}

// RuleManager exposes the flagging rule set. flagging.Engine implements it.
type RuleManager interface {
	Rules() []flagging.RuleInfo
	Stats() map[flagging.RuleID]flagging.RuleStats
	Configure(id flagging.RuleID, config json.RawMessage) error
	SetEnabled(id flagging.RuleID, enabled bool) error
}

// BreakerReporter reports the store circuit breaker state. store.Resilient
// implements it.
type BreakerReporter interface {
	BreakerState() string
}

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, WebSocket upgrader
//   - handlers_helpers.go: shared helpers and error mapping
//   - handlers_health.go: health and readiness checks
//   - handlers_sessions.go: session lifecycle and read endpoints
//   - handlers_rules.go: flagging rule administration
//   - handlers_websocket.go: candidate WebSocket endpoint
type Handler struct {
	sessions  SessionService
	reader    SessionReader
	summary   Summarizer
	rules     RuleManager
	breaker   BreakerReporter
	wsHub     *ws.Hub
	config    *config.Config
	audit     *logging.AuditLogger
	caches    map[string]func() cache.Stats
	startTime time.Time
}

// HandlerDeps groups the collaborators a Handler needs. Breaker, Hub and
// Caches are optional; Audit defaults to an audit logger on the global logger.
// Caches maps a cache name to its statistics source for the health report.
type HandlerDeps struct {
	Sessions SessionService
	Reader   SessionReader
	Summary  Summarizer
	Rules    RuleManager
	Breaker  BreakerReporter
	Hub      *ws.Hub
	Config   *config.Config
	Audit    *logging.AuditLogger
	Caches   map[string]func() cache.Stats
}

// NewHandler creates a new API handler.
//
// Example:
//
//	handler := api.NewHandler(api.HandlerDeps{
//	    Sessions: machine,
//	    Reader:   st,
//	    Summary:  aggregator,
//	    Rules:    engine,
//	    Breaker:  st,
//	    Hub:      hub,
//	    Config:   cfg,
//	})
//	router := api.NewRouter(handler, chiMiddleware, authn, authz)
//	http.ListenAndServe(":3857", router.Setup())
func NewHandler(deps HandlerDeps) *Handler {
	audit := deps.Audit
	if audit == nil {
		audit = logging.NewAuditLogger()
	}
	return &Handler{
		sessions:  deps.Sessions,
		reader:    deps.Reader,
		summary:   deps.Summary,
		rules:     deps.Rules,
		breaker:   deps.Breaker,
		wsHub:     deps.Hub,
		config:    deps.Config,
		audit:     audit,
		caches:    deps.Caches,
		startTime: time.Now(),
	}
}

// getUpgrader returns a WebSocket upgrader that validates origins against the
// configured CORS origins.
func (h *Handler) getUpgrader() websocket.Upgrader {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkWebSocketOrigin,
	}
	return upgrader
}

// checkWebSocketOrigin validates the Origin header of an upgrade request.
// Requests without an Origin are rejected, since browsers always send one.
// A wildcard entry in the configured origins allows any origin.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Str("remote_addr", sanitizeLogValue(r.RemoteAddr)).Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	if h.config == nil {
		return false
	}

	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().
		Str("origin", sanitizeLogValue(origin)).
		Str("remote_addr", sanitizeLogValue(r.RemoteAddr)).
		Msg("WebSocket connection rejected: origin not allowed")
	return false
}
