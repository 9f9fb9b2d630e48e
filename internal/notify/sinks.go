// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/tomtom215/examguard/internal/cache"
	"github.com/tomtom215/examguard/internal/logging"
	"github.com/tomtom215/examguard/internal/models"
)

// Frame types pushed to clients.
const (
	FrameStatus = "status"
	FrameFlag   = "flag"
)

// Pusher is the transport side of the hub sink.
type Pusher interface {
	// SendToSession queues a frame for the session's connection and reports
	// whether one was connected.
	SendToSession(sessionID, frameType string, data interface{}) bool

	// CloseSession closes the session's connection after pending frames are
	// flushed.
	CloseSession(sessionID, reason string)
}

// HubSink pushes status and flag notifications to the session's own client.
// A terminal status closes the connection. Notification ids already pushed
// are remembered and skipped on redelivery.
type HubSink struct {
	pusher Pusher
	seen   *cache.LRUCache[struct{}]
}

// NewHubSink creates a hub sink remembering up to dedupSize delivered ids.
func NewHubSink(pusher Pusher, dedupSize int) *HubSink {
	if dedupSize <= 0 {
		dedupSize = 10000
	}
	return &HubSink{
		pusher: pusher,
		seen:   cache.NewLRUCache[struct{}](dedupSize, 0),
	}
}

// Name returns the sink name.
func (h *HubSink) Name() string {
	return "hub"
}

// Deliver pushes n to the session's client.
func (h *HubSink) Deliver(_ context.Context, n models.Notification) error {
	if h.seen.Contains(n.ID) {
		return nil
	}

	switch n.Kind {
	case models.NotificationStatus:
		if n.Transition == nil {
			return nil
		}
		if !h.pusher.SendToSession(n.SessionID, FrameStatus, n.Transition) {
			logging.Debug().Str("session_id", n.SessionID).Msg("Status change with no live connection")
		}
		if n.Transition.To.Terminal() {
			h.pusher.CloseSession(n.SessionID, "session "+string(n.Transition.To))
		}
	case models.NotificationFlag:
		if n.Flag == nil {
			return nil
		}
		h.pusher.SendToSession(n.SessionID, FrameFlag, n.Flag)
	default:
		// connection_lost has no client left to notify.
	}

	h.seen.Add(n.ID, struct{}{})
	return nil
}

// RedisSink publishes notifications as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a sink from a redis:// URL.
func NewRedisSink(url, channel string) (*RedisSink, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisSinkWithClient(redis.NewClient(opt), channel), nil
}

// NewRedisSinkWithClient creates a sink around an existing client.
func NewRedisSinkWithClient(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = TopicNotifications
	}
	return &RedisSink{client: client, channel: channel}
}

// Name returns the sink name.
func (r *RedisSink) Name() string {
	return "redis"
}

// Deliver publishes n.
func (r *RedisSink) Deliver(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *RedisSink) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisSink) Close() error {
	return r.client.Close()
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// KafkaSink writes notifications to a Kafka topic keyed by session id, so a
// session's notifications stay ordered within one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a synchronous Kafka writer.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink needs at least one broker")
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicNotifications
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	logging.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("Kafka notification sink initialized")
	return &KafkaSink{writer: w}, nil
}

// Name returns the sink name.
func (k *KafkaSink) Name() string {
	return "kafka"
}

// Deliver writes n.
func (k *KafkaSink) Deliver(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "notification_id", Value: []byte(n.ID)},
			{Key: MetadataKind, Value: []byte(n.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
