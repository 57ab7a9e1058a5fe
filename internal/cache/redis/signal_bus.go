package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/groupledger/internal/domain"
)

// defaultStreamMaxLen is the approximate stream length kept by XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live fan-out
// and Redis Streams for a replayable event log.
type SignalBus struct {
	client    *Client
	rdb       *redis.Client
	streamLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client. A
// non-positive streamLen selects the default.
func NewSignalBus(c *Client, streamLen int64) *SignalBus {
	if streamLen <= 0 {
		streamLen = defaultStreamMaxLen
	}
	return &SignalBus{client: c, rdb: c.Underlying(), streamLen: streamLen}
}

// EventChannel is the pub/sub channel for events of type t.
func (sb *SignalBus) EventChannel(t domain.EventType) string {
	return sb.client.Key("events", string(t))
}

// EventPattern matches every event channel.
func (sb *SignalBus) EventPattern() string {
	return sb.client.Key("events", "*")
}

// EventStream is the stream every event is appended to.
func (sb *SignalBus) EventStream() string {
	return sb.client.Key("events")
}

// PublishEvent implements domain.EventPublisher: the event is published on
// its type channel and appended to the event stream. Both are attempted
// even if one fails.
func (sb *SignalBus) PublishEvent(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", evt.Type, err)
	}
	return errors.Join(
		sb.Publish(ctx, sb.EventChannel(evt.Type), payload),
		sb.StreamAppend(ctx, sb.EventStream(), payload),
	)
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription and returns a channel of
// payloads. Glob patterns use PSUBSCRIBE. The subscription and the returned
// channel are closed when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a Redis stream with approximate
// trimming.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.streamLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count messages after lastID ("0" for the
// beginning). It returns an empty slice when nothing is available.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}

	results, err := sb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

// EventPublisher adapts a SignalBus to domain.EventPublisher.
type EventPublisher struct{ Bus *SignalBus }

// Publish forwards evt to the bus.
func (p EventPublisher) Publish(ctx context.Context, evt domain.Event) error {
	return p.Bus.PublishEvent(ctx, evt)
}

var (
	_ domain.SignalBus      = (*SignalBus)(nil)
	_ domain.EventPublisher = EventPublisher{}
)
