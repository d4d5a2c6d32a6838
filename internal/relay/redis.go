package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/jason-s-yu/scrimlobby/internal/events"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisRelay uses Redis pub/sub.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	codec   codec

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisRelay creates a relay on channel, or DefaultChannel when empty.
func NewRedisRelay(rdb *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{rdb: rdb, channel: channel, codec: newCodec()}
}

// Publish sends the record to every subscribed instance.
func (r *RedisRelay) Publish(ctx context.Context, rec events.Record) error {
	data, err := r.codec.encode(rec)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}

// Start subscribes to the channel and pumps remote records into handler.
func (r *RedisRelay) Start(ctx context.Context, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return fmt.Errorf("redis relay already started")
	}

	pubsub := r.rdb.Subscribe(ctx, r.channel)
	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.pubsub = pubsub
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for msg := range pubsub.Channel() {
			rec, remote, err := r.codec.decode([]byte(msg.Payload))
			if err != nil {
				log.WithError(err).Warn("Dropping relay message")
				continue
			}
			if remote {
				handler(rec)
			}
		}
	}()

	log.WithField("channel", r.channel).Info("Redis event relay started")
	return nil
}

// Close unsubscribes and waits for the pump to exit.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
