package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisBridge shares events between hubs of several instances over one
// redis pub/sub channel. Each hub skips the events it published itself.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

func NewRedisBridge(client *redis.Client, channel string, hub *Hub) *RedisBridge {
	if channel == "" {
		channel = "dinein:events"
	}
	return &RedisBridge{client: client, channel: channel, hub: hub}
}

func (b *RedisBridge) Forward(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Run delivers remote events into the hub until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return ErrTransportUnavailable
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

func (b *RedisBridge) handle(ctx context.Context, payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("[realtime] WARN: decode relayed event: %v", err)
		return
	}
	if ev.Origin == b.hub.Origin() {
		return
	}
	if err := b.hub.deliver(ctx, ev); err != nil {
		log.Printf("[realtime] WARN: deliver relayed event %s: %v", ev.ID, err)
	}
}
