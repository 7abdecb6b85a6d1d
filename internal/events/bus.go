// Package events fans interview events out over Redis Streams so any
// server instance can stream a session to its clients.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamPrefix = "interview:"
	maxStreamLen = 1000
)

// FromStart replays a stream from its first entry.
const FromStart = "0"

// Message is one published interview event.
type Message struct {
	// ID is the stream entry ID, usable as a resume cursor.
	ID        string          `json:"id"`
	Session   string          `json:"session"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus publishes and reads interview events.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis.
func NewBus(ctx context.Context, redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish appends an encoded event to the session's stream.
func (b *Bus) Publish(ctx context.Context, sessionID string, eventType string, payload []byte) error {
	stream := streamPrefix + sessionID
	_, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": eventType,
			"data": string(payload),
			"ts":   time.Now().UnixMilli(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	b.logger.Debug("published event", zap.String("session", sessionID), zap.String("type", eventType))
	return nil
}

// Expire schedules deletion of a finished session's stream.
func (b *Bus) Expire(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := b.rdb.Expire(ctx, streamPrefix+sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", sessionID, err)
	}
	return nil
}

// Subscribe streams a session's events after the entry ID from ("$" for new
// entries only, FromStart for a replay). The channel closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, sessionID, from string) <-chan *Message {
	ch := make(chan *Message, 16)
	stream := streamPrefix + sessionID
	if from == "" {
		from = "$"
	}

	go func() {
		defer close(ch)
		lastID := from

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("xread failed", zap.String("stream", stream), zap.Error(err))
					time.Sleep(200 * time.Millisecond)
				}
				continue
			}

			for _, r := range results {
				for _, entry := range r.Messages {
					lastID = entry.ID
					msg, ok := decode(sessionID, entry)
					if !ok {
						continue
					}
					select {
					case ch <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

func decode(sessionID string, entry redis.XMessage) (*Message, bool) {
	data, ok := entry.Values["data"].(string)
	if !ok {
		return nil, false
	}
	typ, _ := entry.Values["type"].(string)
	msg := &Message{
		ID:      entry.ID,
		Session: sessionID,
		Type:    typ,
		Payload: json.RawMessage(data),
	}
	if ts, ok := entry.Values["ts"].(string); ok {
		var ms int64
		if _, err := fmt.Sscan(ts, &ms); err == nil {
			msg.Timestamp = time.UnixMilli(ms)
		}
	}
	return msg, true
}

// Listener returns an interview listener that publishes every event.
// Publish failures are logged and do not affect the session.
func (b *Bus) Listener(sessionID string) interview.Listener {
	return func(ev interview.Event) {
		payload, err := interview.EncodeEvent(ev)
		if err != nil {
			b.logger.Warn("encode event failed", zap.String("type", string(ev.Type)), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Publish(ctx, sessionID, string(ev.Type), payload); err != nil {
			b.logger.Warn("publish event failed", zap.String("session", sessionID), zap.Error(err))
		}
	}
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
