package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stakingengine/internal/domain"
)

// DefaultEventChannel is the Pub/Sub channel committed staking events go to.
const DefaultEventChannel = "staking.events"

// streamMaxLen is the approximate maximum length of the event stream,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// EventBus implements domain.EventPublisher. Events go to a Pub/Sub channel
// for live consumers and to a capped stream for consumers that reconnect.
type EventBus struct {
	client  *Client
	channel string
	stream  string
}

// NewEventBus creates an EventBus. An empty channel selects DefaultEventChannel.
func NewEventBus(c *Client, channel string) *EventBus {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &EventBus{
		client:  c,
		channel: channel,
		stream:  c.Key("stream:" + channel),
	}
}

// PublishEvents sends every event in one pipeline round trip.
func (b *EventBus) PublishEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipe := b.client.Underlying().Pipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redis: marshal event %s: %w", e.ID, err)
		}
		pipe.Publish(ctx, b.channel, payload)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.stream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"type":    string(e.Type),
				"payload": payload,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %d events to %s: %w", len(events), b.channel, err)
	}
	return nil
}

// Subscribe streams decoded events from the channel until ctx is cancelled.
// Undecodable payloads are dropped.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := b.client.Underlying().Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}

	out := make(chan domain.Event, 128)
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
				var e domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent returns up to count of the newest events from the stream, oldest first.
func (b *EventBus) Recent(ctx context.Context, count int64) ([]domain.Event, error) {
	msgs, err := b.client.Underlying().XRevRangeN(ctx, b.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read stream %s: %w", b.stream, err)
	}

	events := make([]domain.Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		var data []byte
		switch v := msgs[i].Values["payload"].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		var e domain.Event
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

var _ domain.EventPublisher = (*EventBus)(nil)
