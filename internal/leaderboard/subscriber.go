package leaderboard

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/civiclab/quiz-arena/internal/match"
)

// Sink receives feed events relayed from Redis.
type Sink interface {
	Deliver(evt match.FeedEvent)
}

// Broadcaster listens for room feed events on Redis Pub/Sub and hands them
// to the local sessions.
type Broadcaster struct {
	redis   *redis.Client
	sink    Sink
	channel string
	logger  zerolog.Logger
}

// NewBroadcaster creates a Pub/Sub powered feed broadcaster.
func NewBroadcaster(redis *redis.Client, sink Sink, channel string, logger zerolog.Logger) *Broadcaster {
	if channel == "" {
		channel = "sb:feed"
	}
	return &Broadcaster{
		redis:   redis,
		sink:    sink,
		channel: channel,
		logger:  logger.With().Str("component", "feed_broadcaster").Logger(),
	}
}

// Run subscribes to the feed channel and blocks until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.redis == nil || b.sink == nil {
		return nil
	}

	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription so nothing published after Run starts is lost.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(msg.Payload)
		}
	}
}

func (b *Broadcaster) forward(payload string) {
	var evt match.FeedEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		b.logger.Warn().Err(err).Msg("failed to decode feed event")
		return
	}
	if evt.RoomCode == "" {
		return
	}
	b.sink.Deliver(evt)
}
