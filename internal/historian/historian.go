// Package historian drains lobby events from the Redis queue into the
// lobby_events table in batches.
package historian

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/cache"
	"github.com/jason-s-yu/scrimlobby/internal/events"
	log "github.com/sirupsen/logrus"
)

// Source yields queued records. Pop returns nil, nil when nothing arrived
// within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*events.Record, error)
}

// Sink persists a batch and reports how many records were new.
type Sink interface {
	InsertBatch(ctx context.Context, records []events.Record) (int, error)
}

const (
	defaultBatchSize  = 20
	defaultFlushDelay = 500 * time.Millisecond
	popTimeout        = time.Second
	errorBackoff      = time.Second
	// pendingFactor bounds how many records are retained across failed flushes.
	pendingFactor = 50
)

// Service accumulates records and flushes them when the batch is full or
// the flush delay has passed since the last flush.
type Service struct {
	source     Source
	sink       Sink
	batchSize  int
	flushDelay time.Duration

	batch     []events.Record
	lastFlush time.Time
}

// NewService builds a historian. Non-positive sizes fall back to defaults.
func NewService(source Source, sink Sink, batchSize int, flushDelay time.Duration) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushDelay <= 0 {
		flushDelay = defaultFlushDelay
	}
	return &Service{
		source:     source,
		sink:       sink,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		batch:      make([]events.Record, 0, batchSize),
	}
}

// Run consumes until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) {
	log.WithFields(log.Fields{
		"batchSize":  s.batchSize,
		"flushDelay": s.flushDelay,
	}).Info("Historian started")
	s.lastFlush = time.Now()

	for {
		if ctx.Err() != nil {
			// The caller's context is gone; give the final flush its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.flush(flushCtx)
			cancel()
			log.Info("Historian stopped")
			return
		}

		rec, err := s.source.Pop(ctx, popTimeout)
		switch {
		case err != nil && ctx.Err() != nil:
			continue
		case err != nil:
			var decodeErr *cache.DecodeError
			if errors.As(err, &decodeErr) {
				log.WithError(err).Warn("Skipping invalid queue entry")
				continue
			}
			log.WithError(err).Error("Historian queue read failed")
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		case rec != nil:
			s.batch = append(s.batch, *rec)
		}

		if len(s.batch) >= s.batchSize || time.Since(s.lastFlush) >= s.flushDelay {
			s.flush(ctx)
		}
	}
}

// flush writes the pending batch. On failure the records are kept for the
// next attempt; the oldest are dropped once the backlog exceeds its bound.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = time.Now()
	if len(s.batch) == 0 {
		return
	}

	inserted, err := s.sink.InsertBatch(ctx, s.batch)
	if err != nil {
		limit := s.batchSize * pendingFactor
		if over := len(s.batch) - limit; over > 0 {
			log.WithField("dropped", over).Error("Historian backlog full, dropping oldest events")
			s.batch = append(s.batch[:0], s.batch[over:]...)
		}
		log.WithFields(log.Fields{
			"pending": len(s.batch),
			"error":   err,
		}).Error("Historian flush failed")
		return
	}

	log.WithFields(log.Fields{
		"records":  len(s.batch),
		"inserted": inserted,
	}).Debug("Flushed lobby events")
	s.batch = s.batch[:0]
}
