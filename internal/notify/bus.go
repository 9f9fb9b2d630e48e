// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/metrics"
	"github.com/tomtom215/examguard/internal/models"
)

// Topics used on the bus.
const (
	TopicNotifications = "examguard.notifications"
	TopicDeadLetters   = "examguard.notifications.dead"
)

// Metadata keys set on every message.
const (
	MetadataKind      = "kind"
	MetadataSessionID = "session_id"
)

// Sink delivers notifications to one destination. Deliver may be called more
// than once for the same notification; sinks or their receivers deduplicate by
// notification id.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification) error
}

// Config configures the bus.
type Config struct {
	// OutputBuffer is the per-subscriber channel buffer.
	OutputBuffer int64

	// CloseTimeout bounds how long in-flight handlers may run at shutdown.
	CloseTimeout time.Duration

	// Retry configuration for failed deliveries.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		OutputBuffer:         1024,
		CloseTimeout:         10 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		RetryMultiplier:      2.0,
	}
}

// Bus fans notifications out to sinks with at-least-once delivery. Each sink
// gets its own router handler, so a failing sink retries independently and
// never delays the others. Deliveries that still fail after retries are moved
// to the dead-letter topic and logged.
//
// Bus implements suture.Service; publishing while no router is running drops
// the notification, so the bus is started before anything publishes.
type Bus struct {
	cfg    Config
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	sinks   []Sink
	running chan struct{}
	dead    []models.Notification
}

// NewBus creates a bus delivering to sinks.
func NewBus(cfg Config, sinks ...Sink) *Bus {
	def := DefaultConfig()
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = def.OutputBuffer
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = def.RetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = def.RetryMaxInterval
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = def.RetryMultiplier
	}

	logger := logging.NewWatermillAdapter()
	return &Bus{
		cfg: cfg,
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.OutputBuffer,
		}, logger),
		logger:  logger,
		sinks:   sinks,
		running: make(chan struct{}),
	}
}

// AddSink registers a sink. Sinks added after Serve has started take effect
// on the next restart.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
	logging.Info().Str("sink", s.Name()).Msg("registered notification sink")
}

// Publish puts n on the bus. It implements session.Publisher.
func (b *Bus) Publish(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := message.NewMessage(n.ID, payload)
	msg.Metadata.Set(MetadataKind, string(n.Kind))
	msg.Metadata.Set(MetadataSessionID, n.SessionID)
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		msg.Metadata.Set("correlation_id", cid)
	}

	if err := b.pubsub.Publish(TopicNotifications, msg); err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	metrics.RecordNotificationPublished(string(n.Kind))
	return nil
}

// Running is closed once the first router is running.
func (b *Bus) Running() <-chan struct{} {
	return b.running
}

// Serve runs the router until ctx is cancelled. A fresh router is built on
// every call so the supervisor can restart the bus.
func (b *Bus) Serve(ctx context.Context) error {
	router, err := b.newRouter()
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-router.Running():
			b.mu.Lock()
			select {
			case <-b.running:
			default:
				close(b.running)
			}
			b.mu.Unlock()
		case <-ctx.Done():
		}
	}()

	logging.Info().Int("sinks", len(b.sinkSnapshot())).Msg("Notification bus started")
	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("notification router: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (b *Bus) String() string {
	return "notification-bus"
}

// Close releases the underlying pub/sub.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// DeadLetters returns notifications that exhausted their retries.
func (b *Bus) DeadLetters() []models.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Notification(nil), b.dead...)
}

func (b *Bus) sinkSnapshot() []Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Sink(nil), b.sinks...)
}

func (b *Bus) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: b.cfg.CloseTimeout}, b.logger)
	if err != nil {
		return nil, fmt.Errorf("create notification router: %w", err)
	}

	// Outermost first: exhausted messages go to the dead-letter topic, panics
	// become errors that Retry handles.
	poison, err := middleware.PoisonQueue(b.pubsub, TopicDeadLetters)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	router.AddMiddleware(
		poison,
		middleware.Retry{
			MaxRetries:      b.cfg.RetryMaxRetries,
			InitialInterval: b.cfg.RetryInitialInterval,
			MaxInterval:     b.cfg.RetryMaxInterval,
			Multiplier:      b.cfg.RetryMultiplier,
			Logger:          b.logger,
		}.Middleware,
		middleware.Recoverer,
	)

	for _, s := range b.sinkSnapshot() {
		router.AddNoPublisherHandler("deliver."+s.Name(), TopicNotifications, b.pubsub, b.deliverTo(s))
	}
	router.AddNoPublisherHandler("dead-letters", TopicDeadLetters, b.pubsub, b.handleDeadLetter)
	return router, nil
}

func (b *Bus) deliverTo(s Sink) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var n models.Notification
		if err := json.Unmarshal(msg.Payload, &n); err != nil {
			// Undecodable payloads cannot succeed on retry.
			logging.Error().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable notification")
			return nil
		}

		err := s.Deliver(msg.Context(), n)
		metrics.RecordNotificationDelivery(s.Name(), err)
		if err != nil {
			return fmt.Errorf("deliver %s to %s: %w", n.ID, s.Name(), err)
		}
		return nil
	}
}

func (b *Bus) handleDeadLetter(msg *message.Message) error {
	var n models.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		return nil
	}

	b.mu.Lock()
	b.dead = append(b.dead, n)
	if len(b.dead) > 1000 {
		b.dead = b.dead[len(b.dead)-1000:]
	}
	b.mu.Unlock()

	logging.Error().
		Str("notification_id", n.ID).
		Str("kind", string(n.Kind)).
		Str("session_id", n.SessionID).
		Str("reason", msg.Metadata.Get(middleware.ReasonForPoisonedKey)).
		Str("handler", msg.Metadata.Get(middleware.PoisonedHandlerKey)).
		Msg("Notification delivery exhausted retries")
	return nil
}
