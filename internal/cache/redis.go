// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/events"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the historian consumes lobby events from.
const DefaultQueueName = "lobby_events"

// ConnectRedis opens a client and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	log.WithFields(log.Fields{"addr": addr, "db": db}).Info("Connected to Redis")
	return rdb, nil
}

// EventQueue is a Redis list of serialized events.Record values.
type EventQueue struct {
	rdb  redis.Cmdable
	name string
}

// NewEventQueue binds a queue to a Redis list name.
func NewEventQueue(rdb redis.Cmdable, name string) *EventQueue {
	if name == "" {
		name = DefaultQueueName
	}
	return &EventQueue{rdb: rdb, name: name}
}

// Name returns the list key.
func (q *EventQueue) Name() string {
	return q.name
}

// Push serializes the record to JSON and appends it to the queue.
func (q *EventQueue) Push(ctx context.Context, rec events.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal event record: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. It returns nil, nil when the
// timeout elapses with nothing queued.
func (q *EventQueue) Pop(ctx context.Context, timeout time.Duration) (*events.Record, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPop %s: %w", q.name, err)
	}
	if len(res) < 2 {
		return nil, nil
	}

	// res[0] is the queue name and res[1] the payload.
	var rec events.Record
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return nil, &DecodeError{Payload: res[1], Err: err}
	}
	return &rec, nil
}

// DecodeError reports a queue entry that is not a valid record. The entry
// has already been removed from the queue.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string { return "invalid event record: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
