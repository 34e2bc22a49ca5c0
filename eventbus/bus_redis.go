package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus is the optional primary transport: a shared pub/sub store on key
// pattern workflow:events:{run_id}, per spec.md §4.4. Every event a caller
// publishes through Hub is mirrored to a MemoryBus as well (spec.md's
// "mirror always" policy), so RedisBus itself only needs to implement
// publish/subscribe, not durability.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an existing redis client as an eventbus transport.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func channelFor(runID string) string {
	return fmt.Sprintf("workflow:events:%s", runID)
}

// Publish marshals event and publishes it on the run's channel.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelFor(event.RunID), data).Err()
}

// Subscription wraps a redis.PubSub, decoding payloads back into Events.
type Subscription struct {
	ps *redis.PubSub
}

// Subscribe opens a subscription to runID's channel. Callers must call
// Close when done to release the underlying connection.
func (b *RedisBus) Subscribe(ctx context.Context, runID string) *Subscription {
	return &Subscription{ps: b.client.Subscribe(ctx, channelFor(runID))}
}

// Events returns a channel of decoded Events; malformed payloads are
// dropped silently rather than killing the subscription, since a single
// bad message from a misbehaving publisher shouldn't sever every other
// subscriber's stream.
func (s *Subscription) Events() <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range s.ps.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			out <- e
		}
	}()
	return out
}

// Close releases the subscription's connection.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
