package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisSink publishes events on a Redis pub/sub channel so every server
// instance can reach its own dashboard clients.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}

// RedisRelay forwards events published by other instances into a local
// sink (normally the Hub).  Events carrying this instance's origin are
// skipped; the Broadcaster already delivered them locally.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	local   Sink
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRedisRelay(client *redis.Client, channel, origin string, local Sink, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  origin,
		local:   local,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start subscribes and waits for the subscription to be confirmed before
// returning, then relays in the background.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		close(r.done)
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx, sub)
	r.logger.Info("redis relay subscribed", zap.String("channel", r.channel))
	return nil
}

func (r *RedisRelay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *RedisRelay) loop(ctx context.Context, sub *redis.PubSub) {
	defer close(r.done)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("redis relay: bad payload", zap.Error(err))
				continue
			}
			if ev.Origin == r.origin {
				continue
			}
			if err := r.local.Publish(ctx, ev); err != nil {
				r.logger.Warn("redis relay: local publish failed", zap.Error(err))
			}
		}
	}
}
