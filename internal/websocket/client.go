// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024 // 64 KB
)

// Error codes carried in error frames.
const (
	CodeBadFrame          = "bad_frame"
	CodeUnknownType       = "unknown_type"
	CodeRateLimited       = "rate_limited"
	CodeInvalidEvent      = "invalid_event"
	CodeNotAssociated     = "not_associated"
	CodeAlreadyAssociated = "already_associated"
	CodeUnknownSession    = "unknown_session"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// clientIDCounter gives clients a monotonically increasing id so shutdown
// closes them in a stable order.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id      uint64
	connID  string
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message
	limiter *rate.Limiter

	mu        sync.RWMutex
	sessionID string
}

// NewClient registers a new connection with the hub's registry. The client is
// not started until Start is called.
func NewClient(hub *Hub, conn *websocket.Conn) (*Client, error) {
	connID := uuid.NewString()
	if _, err := hub.conns.Register(connID); err != nil {
		return nil, fmt.Errorf("register connection: %w", err)
	}

	c := &Client{
		id:      clientIDCounter.Add(1),
		connID:  connID,
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, hub.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(hub.cfg.RateLimit), hub.cfg.RateBurst),
	}
	hub.register(c)
	return c, nil
}

// ID returns the client's ordering id.
func (c *Client) ID() uint64 {
	return c.id
}

// ConnectionID returns the registry id of the connection.
func (c *Client) ConnectionID() string {
	return c.connID
}

// Session returns the associated session id, or "".
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump reads frames until the connection fails, then unregisters.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		_ = c.hub.conns.Touch(c.connID)
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Str("connection_id", c.connID).Msg("unexpected websocket close error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		_ = c.hub.conns.Touch(c.connID)

		if !c.limiter.Allow() {
			c.replyError(CodeRateLimited, "too many frames")
			continue
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError(CodeBadFrame, "frame is not valid JSON")
			continue
		}
		metrics.RecordWSMessage("in", msg.Type)
		c.handle(msg)
	}
}

func (c *Client) handle(msg inbound) {
	ctx, cancel := context.WithTimeout(logging.ContextWithNewCorrelationID(context.Background()), c.hub.cfg.OperationTimeout)
	defer cancel()

	switch msg.Type {
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	case MessageTypeAssociate:
		c.associate(ctx, msg)
	case MessageTypeEvent:
		c.ingest(ctx, msg)
	case MessageTypeAnalytics:
		c.analytics(ctx)
	default:
		c.replyError(CodeUnknownType, fmt.Sprintf("unknown frame type %q", msg.Type))
	}
}

func (c *Client) associate(ctx context.Context, msg inbound) {
	var data AssociateData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.replyError(CodeBadFrame, "associate data must be an object")
			return
		}
	}
	if data.SessionID == "" {
		data.SessionID = msg.SessionID
	}
	if data.SessionID == "" {
		c.replyError(CodeBadFrame, "session_id is required")
		return
	}

	if err := c.hub.conns.Associate(ctx, c.connID, data.SessionID); err != nil {
		c.replyErr(err)
		return
	}
	c.setSession(data.SessionID)
	c.hub.bind(c, data.SessionID)
	c.reply(Message{Type: MessageTypeAck, SessionID: data.SessionID, Data: data})
}

func (c *Client) ingest(ctx context.Context, msg inbound) {
	var raw models.RawEvent
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		c.replyError(CodeBadFrame, "event data does not decode")
		return
	}

	receipt, err := c.hub.ingester.Ingest(ctx, c.connID, raw)
	if err != nil {
		c.replyErr(err)
		return
	}
	c.reply(Message{
		Type:      MessageTypeAck,
		SessionID: receipt.SessionID,
		EventID:   receipt.SequenceNumber,
		Data:      receipt,
	})
}

func (c *Client) analytics(ctx context.Context) {
	sid := c.Session()
	if sid == "" {
		c.replyError(CodeNotAssociated, models.ErrNotAssociated.Error())
		return
	}
	if c.hub.summary == nil {
		c.replyError(CodeUnavailable, "analytics unavailable")
		return
	}
	summary, err := c.hub.summary.Summarize(ctx, sid)
	if err != nil {
		c.replyErr(err)
		return
	}
	c.reply(Message{Type: MessageTypeAnalytics, SessionID: sid, Data: summary})
}

func (c *Client) reply(msg Message) {
	if msg.SessionID == "" {
		msg.SessionID = c.Session()
	}
	c.hub.send(c, msg)
}

func (c *Client) replyError(code, message string) {
	c.reply(Message{Type: MessageTypeError, Data: ErrorData{Code: code, Message: message}})
}

// replyErr reports err on the connection, which stays open.
func (c *Client) replyErr(err error) {
	c.replyError(errorCode(err), err.Error())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidEvent):
		return CodeInvalidEvent
	case errors.Is(err, models.ErrNotAssociated), errors.Is(err, models.ErrUnknownConnection):
		return CodeNotAssociated
	case errors.Is(err, models.ErrAlreadyAssociated):
		return CodeAlreadyAssociated
	case errors.Is(err, models.ErrUnknownSession):
		return CodeUnknownSession
	case models.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// writePump writes queued frames and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker((c.hub.cfg.PongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			if message.Type == messageTypeClose {
				reason, _ := message.Data.(string)
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logging.Debug().Err(err).Str("connection_id", c.connID).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
