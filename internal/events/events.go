package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/scrimlobby/internal/models"
	log "github.com/sirupsen/logrus"
)

// EventType is the wire name of an event on the real-time stream.
type EventType string

const (
	EventTypeLobbyStatusChanged EventType = "lobby:status-changed"
	EventTypeLobbyReadyChanged  EventType = "lobby:ready-changed"
	EventTypeMatchStarted       EventType = "match-started"
	EventTypeMatchCompleted     EventType = "match-completed"
)

// Event is the base interface for all lobby events
type Event interface {
	Type() EventType
	// Lobby is the lobby the event is scoped to.
	Lobby() int64
	// Payload is what subscribers receive as the message data.
	Payload() any
}

// LobbyStatusChangedEvent is emitted on every committed status transition.
type LobbyStatusChangedEvent struct {
	LobbyID  int64              `json:"lobbyId"`
	Status   models.LobbyStatus `json:"status"`
	Previous models.LobbyStatus `json:"previous,omitempty"`
}

func (e LobbyStatusChangedEvent) Type() EventType { return EventTypeLobbyStatusChanged }
func (e LobbyStatusChangedEvent) Lobby() int64    { return e.LobbyID }
func (e LobbyStatusChangedEvent) Payload() any {
	return map[string]any{"lobbyId": e.LobbyID, "status": e.Status}
}

// LobbyReadyChangedEvent is emitted when a member toggles readiness.
type LobbyReadyChangedEvent struct {
	LobbyID  int64 `json:"lobbyId"`
	PlayerID int64 `json:"playerId"`
	Ready    bool  `json:"ready"`
}

func (e LobbyReadyChangedEvent) Type() EventType { return EventTypeLobbyReadyChanged }
func (e LobbyReadyChangedEvent) Lobby() int64    { return e.LobbyID }
func (e LobbyReadyChangedEvent) Payload() any    { return e }

// MatchStartedEvent is emitted when tracking confirms the game is live.
type MatchStartedEvent struct {
	LobbyID     int64  `json:"lobbyId"`
	MatchID     int64  `json:"matchId"`
	RiotMatchID string `json:"riotMatchId"`
}

func (e MatchStartedEvent) Type() EventType { return EventTypeMatchStarted }
func (e MatchStartedEvent) Lobby() int64    { return e.LobbyID }
func (e MatchStartedEvent) Payload() any    { return e }

// MatchCompletedEvent is emitted once results and ratings are committed.
type MatchCompletedEvent struct {
	LobbyID       int64                 `json:"lobbyId"`
	MatchID       int64                 `json:"matchId"`
	WinningTeam   int                   `json:"winningTeam"`
	Duration      *int                  `json:"duration,omitempty"`
	RatingChanges []models.RatingChange `json:"ratingChanges,omitempty"`
}

func (e MatchCompletedEvent) Type() EventType { return EventTypeMatchCompleted }
func (e MatchCompletedEvent) Lobby() int64    { return e.LobbyID }
func (e MatchCompletedEvent) Payload() any    { return e }

// Record is the serialisable form of an event, used by the relay and the historian.
type Record struct {
	ID         uuid.UUID `json:"id"`
	Event      EventType `json:"event"`
	LobbyID    int64     `json:"lobbyId"`
	Data       any       `json:"data"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewRecord stamps an event with a fresh id and the current time.
func NewRecord(e Event) Record {
	return Record{
		ID:         uuid.New(),
		Event:      e.Type(),
		LobbyID:    e.Lobby(),
		Data:       e.Payload(),
		OccurredAt: time.Now().UTC(),
	}
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	wg       sync.WaitGroup
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds a handler that receives every event.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, handler)

	log.WithField("handlerCount", len(b.handlers)).Debug("Subscribed handler to lobby event bus")
}

// Emit publishes an event to all registered handlers without waiting for them.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.EmitAll(ctx, []Event{event})
}

// EmitAll publishes a sequence of events without waiting for the handlers.
// Each handler receives the events in the order given.
func (b *Bus) EmitAll(ctx context.Context, evs []Event) {
	if len(evs) == 0 {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, ev := range evs {
		log.WithFields(log.Fields{
			"eventType":    ev.Type(),
			"lobbyId":      ev.Lobby(),
			"handlerCount": len(handlers),
		}).Debug("Emitting event to handlers")
	}

	for i, handler := range handlers {
		b.wg.Add(1)
		go func(h Handler, handlerIndex int) {
			defer b.wg.Done()
			for _, ev := range evs {
				b.dispatch(ctx, h, handlerIndex, ev)
			}
		}(handler, i)
	}
}

// dispatch runs one handler for one event. A panic is logged and does not
// stop the handler from receiving the rest of the sequence.
func (b *Bus) dispatch(ctx context.Context, h Handler, handlerIndex int, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"eventType":    event.Type(),
				"handlerIndex": handlerIndex,
				"panic":        r,
			}).Error("Event handler panicked")
		}
	}()
	h(ctx, event)
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// TransactionalBus holds events until the surrounding transaction commits.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

// Publish stages an event for the next Flush.
func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Pending returns the staged events.
func (b *TransactionalBus) Pending() []Event {
	return b.pending
}

// Flush emits the staged events in publish order; called after a successful commit.
func (b *TransactionalBus) Flush() {
	// Handlers outlive the request, so they get a fresh context.
	b.real.EmitAll(context.Background(), b.pending)
	b.pending = nil
}

// Discard drops the staged events; called after a rollback.
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
