// Package bus publishes context changes and delivered nudges on Redis
// Streams so that out-of-process consumers (a UI, a mobile companion) can
// follow the coach without polling the HTTP API.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Topics.
const (
	TopicContextChanged = "context.changed"
	TopicNudge          = "nudge.delivered"
)

const (
	defaultPrefix = "nudge:events:"
	streamMaxLen  = 1000
)

// Event is one message on a topic stream.
type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Source    string          `json:"source"`
	Paths     []string        `json:"paths,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// MessageBus is a Publisher backed by one Redis stream per topic.
type MessageBus struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

var _ Publisher = (*MessageBus)(nil)

// NewMessageBus connects to redisURL and verifies the connection.
func NewMessageBus(ctx context.Context, redisURL string, logger *zap.Logger) (*MessageBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewMessageBusFromClient(rdb, defaultPrefix, logger), nil
}

// NewMessageBusFromClient wraps an existing client. Streams are named
// prefix+topic.
func NewMessageBusFromClient(rdb *redis.Client, prefix string, logger *zap.Logger) *MessageBus {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &MessageBus{rdb: rdb, prefix: prefix, logger: logger}
}

// Publish appends ev to its topic stream, trimming the stream to roughly
// the last thousand entries. Missing ID and timestamp are filled in.
func (mb *MessageBus) Publish(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	stream := mb.prefix + ev.Topic
	_, err = mb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	mb.logger.Debug("published event",
		zap.String("topic", ev.Topic),
		zap.String("source", ev.Source))
	return nil
}

// Subscribe streams new events on topic until ctx is cancelled. Only events
// published after the call are delivered.
func (mb *MessageBus) Subscribe(ctx context.Context, topic string) <-chan *Event {
	ch := make(chan *Event, 16)
	stream := mb.prefix + topic

	go func() {
		defer close(ch)
		lastID := "$"
		for {
			if ctx.Err() != nil {
				return
			}
			results, err := mb.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrClosed) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					mb.logger.Warn("stream read failed", zap.String("stream", stream), zap.Error(err))
				}
				continue
			}
			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if err := json.Unmarshal([]byte(data), &ev); err != nil {
						mb.logger.Warn("malformed event", zap.String("id", msg.ID), zap.Error(err))
						continue
					}
					select {
					case ch <- &ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (mb *MessageBus) Close() error {
	return mb.rdb.Close()
}
