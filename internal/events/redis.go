package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rythmo/internal/config"
	"rythmo/internal/logging"
)

const (
	bridgeQueueSize      = 256
	bridgePublishTimeout = 2 * time.Second
)

// Bridge relays local events to other daemons through a Redis channel and
// republishes theirs locally, tagged with the producing node's id. Each daemon
// owns its store, so relayed events are informational: they show up in
// unfiltered event views and never touch local jobs.
type Bridge struct {
	client  *redis.Client
	channel string
	nodeID  string
	hub     *Hub
	logger  *slog.Logger
	queue   chan Event
}

// NewBridge connects to Redis and registers the bridge as a hub sink.
func NewBridge(ctx context.Context, cfg config.Redis, hub *Hub, logger *slog.Logger) (*Bridge, error) {
	if hub == nil {
		return nil, errors.New("event hub required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b := &Bridge{
		client:  client,
		channel: cfg.Channel,
		nodeID:  uuid.NewString(),
		hub:     hub,
		logger:  logging.NewComponentLogger(logger, "event-bridge"),
		queue:   make(chan Event, bridgeQueueSize),
	}
	hub.AddSink(b)
	return b, nil
}

// NodeID identifies this daemon in relayed events.
func (b *Bridge) NodeID() string {
	return b.nodeID
}

// Append queues a locally produced event for relay. Events that arrived from
// another node are not sent back.
func (b *Bridge) Append(evt Event) {
	if evt.Origin != "" {
		return
	}
	evt.Origin = b.nodeID
	select {
	case b.queue <- evt:
	default:
		b.logger.Debug("event relay queue full; dropping event",
			logging.String("event_type", string(evt.Type)),
			logging.Int64("project_id", evt.ProjectID),
		)
	}
}

// Run relays events until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	incoming := pubsub.Channel()
	b.logger.Info("event relay started",
		logging.String("channel", b.channel),
		logging.String("node_id", b.nodeID),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-b.queue:
			b.publish(ctx, evt)
		case msg, ok := <-incoming:
			if !ok {
				return errors.New("redis subscription closed")
			}
			b.handleMessage(msg.Payload)
		}
	}
}

// Close releases the Redis connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}

func (b *Bridge) publish(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		b.logger.Warn("encode relayed event failed", logging.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, bridgePublishTimeout)
	defer cancel()
	if err := b.client.Publish(pubCtx, b.channel, payload).Err(); err != nil {
		logging.WarnWithContext(b.logger, "relay event failed", "event_relay_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check redis connectivity"),
			logging.String(logging.FieldImpact, "other daemons miss this job update"),
		)
	}
}

func (b *Bridge) handleMessage(payload string) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logger.Debug("ignoring malformed relayed event", logging.Error(err))
		return
	}
	if evt.Origin == "" || evt.Origin == b.nodeID {
		return
	}
	b.hub.Publish(evt)
}
