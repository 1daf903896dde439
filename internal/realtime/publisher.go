package realtime

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
)

// Publisher announces committed row changes.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// LocalPublisher hands changes straight to an in-process hub.
type LocalPublisher struct {
	hub *Hub
}

// NewLocalPublisher publishes to hub.
func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) Publish(_ context.Context, c Change) error {
	p.hub.Broadcast(c)
	return nil
}

// NewRedisClient opens a client for the change relay.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisPublisher publishes changes on a Redis channel so every server
// instance's Relay can deliver them to its own subscribers.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher publishes on channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, c Change) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("failed to publish change on %s: %w", p.channel, err)
	}
	return nil
}

// Relay feeds changes published on a Redis channel into a hub.
type Relay struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

// NewRelay creates a relay from channel to hub.
func NewRelay(client *redis.Client, channel string, hub *Hub) *Relay {
	return &Relay{client: client, channel: channel, hub: hub}
}

// Serve subscribes and relays until ctx is done or the subscription fails.
func (r *Relay) Serve(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Msg("change relay subscribed")

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("relay channel %s closed", r.channel)
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				log.Warn().Err(err).Msg("dropping undecodable change")
				continue
			}
			r.hub.Broadcast(c)
		}
	}
}

func (r *Relay) String() string {
	return "realtime-relay"
}
