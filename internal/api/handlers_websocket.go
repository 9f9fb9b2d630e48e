// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/examguard/internal/logging"
	ws "github.com/tomtom215/examguard/internal/websocket"
)

// WebSocket upgrades a candidate client connection and hands it to the hub.
// The client then associates with a session and streams events over the
// socket.
//
// @Summary Candidate event stream
// @Description Upgrades to a WebSocket. Clients send associate, event and analytics frames.
// @Tags WebSocket
// @Success 101 "Switching Protocols"
// @Failure 503 {object} APIResponse "WebSocket hub not running"
// @Router /api/v1/ws [get]
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("WebSocket hub is not running")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		logging.CtxDebug(r.Context()).Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client, err := ws.NewClient(h.wsHub, conn)
	if err != nil {
		logging.CtxWarn(r.Context()).Err(err).Msg("WebSocket client registration failed")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "registration failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	logging.CtxDebug(r.Context()).
		Str("connection_id", client.ConnectionID()).
		Str("remote_addr", sanitizeLogValue(r.RemoteAddr)).
		Msg("WebSocket client connected")
	client.Start()
}
