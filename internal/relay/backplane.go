package relay

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chirpchat/internal/events"
)

const channelPrefix = "chirpchat:"

// RedisBackplane publishes through Redis so that every instance's hub sees
// every event. While Run is not subscribed, events go straight to the local
// hub so this instance's subscribers still receive them.
type RedisBackplane struct {
	client *redis.Client
	hub    *Hub
	logger zerolog.Logger
	live   atomic.Bool
}

func NewRedisBackplane(client *redis.Client, hub *Hub, logger zerolog.Logger) *RedisBackplane {
	return &RedisBackplane{
		client: client,
		hub:    hub,
		logger: logger.With().Str("component", "backplane").Logger(),
	}
}

// Live reports whether Run currently holds the Redis subscription.
func (b *RedisBackplane) Live() bool {
	return b.live.Load()
}

func (b *RedisBackplane) Publish(ctx context.Context, channel string, evt events.Event) error {
	if !b.live.Load() {
		b.logger.Debug().Str("channel", channel).Str("event", evt.Name()).Msg("backplane down, delivering locally")
		return b.hub.Publish(ctx, channel, evt)
	}
	frame, err := events.Encode(channel, evt)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelPrefix+channel, frame).Err()
}

// Run forwards every backplane message to the local hub until ctx ends.
func (b *RedisBackplane) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.live.Store(true)
	defer b.live.Store(false)
	b.logger.Info().Msg("redis backplane subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(msg)
		}
	}
}

func (b *RedisBackplane) forward(msg *redis.Message) {
	channel, ok := strings.CutPrefix(msg.Channel, channelPrefix)
	if !ok {
		return
	}
	b.hub.Deliver(channel, []byte(msg.Payload))
}
