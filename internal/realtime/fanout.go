package realtime

import (
	"context"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/events"
	log "github.com/sirupsen/logrus"
)

// RecordPublisher forwards a record to other instances.
type RecordPublisher interface {
	Publish(ctx context.Context, rec events.Record) error
}

// RecordQueue hands a record to the historian.
type RecordQueue interface {
	Push(ctx context.Context, rec events.Record) error
}

const sideEffectTimeout = 2 * time.Second

// Fanout is the events.Bus handler that delivers committed events to local
// stream clients, to other instances and to the historian queue. The relay
// and queue are optional.
type Fanout struct {
	hub   *Hub
	relay RecordPublisher
	queue RecordQueue
}

// NewFanout builds a fan-out. relay and queue may be nil.
func NewFanout(hub *Hub, relay RecordPublisher, queue RecordQueue) *Fanout {
	return &Fanout{hub: hub, relay: relay, queue: queue}
}

// Handle is an events.Handler.
func (f *Fanout) Handle(ctx context.Context, e events.Event) {
	rec := events.NewRecord(e)
	delivered := f.hub.PublishToLobby(rec.LobbyID, string(rec.Event), rec.Data)

	logger := log.WithFields(log.Fields{
		"eventId":   rec.ID,
		"event":     rec.Event,
		"lobbyId":   rec.LobbyID,
		"delivered": delivered,
	})
	logger.Debug("Published lobby event")

	if f.relay == nil && f.queue == nil {
		return
	}
	sideCtx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	if f.relay != nil {
		if err := f.relay.Publish(sideCtx, rec); err != nil {
			logger.WithError(err).Warn("Failed to relay lobby event")
		}
	}
	if f.queue != nil {
		if err := f.queue.Push(sideCtx, rec); err != nil {
			logger.WithError(err).Warn("Failed to queue lobby event for historian")
		}
	}
}

// Deliver pushes a record received from another instance to local clients.
func (f *Fanout) Deliver(rec events.Record) {
	f.hub.PublishToLobby(rec.LobbyID, string(rec.Event), rec.Data)
}
