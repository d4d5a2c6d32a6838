package events

import (
	"context"
	"sync"
	"testing"

	"github.com/jason-s-yu/scrimlobby/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(_ context.Context, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestBus_EmitReachesEveryHandler(t *testing.T) {
	bus := NewBus()
	a, b := &collector{}, &collector{}
	bus.Subscribe(a.handle)
	bus.Subscribe(b.handle)

	bus.Emit(context.Background(), LobbyStatusChangedEvent{LobbyID: 5, Status: models.LobbyStatusStarting})
	bus.Wait()

	require.Len(t, a.snapshot(), 1)
	require.Len(t, b.snapshot(), 1)
	assert.Equal(t, EventTypeLobbyStatusChanged, a.snapshot()[0].Type())
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	bus.Subscribe(func(context.Context, Event) { panic("boom") })
	bus.Subscribe(c.handle)

	bus.Emit(context.Background(), MatchStartedEvent{LobbyID: 1})
	bus.Wait()

	assert.Len(t, c.snapshot(), 1)
}

func TestTransactionalBus_FlushAndDiscard(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	bus.Subscribe(c.handle)

	tx := NewTransactionalBus(bus)
	tx.Publish(LobbyStatusChangedEvent{LobbyID: 1, Status: models.LobbyStatusCancelled})
	tx.Discard()
	tx.Flush()
	bus.Wait()
	assert.Empty(t, c.snapshot())

	tx.Publish(LobbyStatusChangedEvent{LobbyID: 1, Status: models.LobbyStatusStarting})
	tx.Publish(LobbyReadyChangedEvent{LobbyID: 1, PlayerID: 3, Ready: true})
	assert.Len(t, tx.Pending(), 2)
	tx.Flush()
	bus.Wait()

	assert.Len(t, c.snapshot(), 2)
	assert.Empty(t, tx.Pending())
}

func TestStatusChangedPayload(t *testing.T) {
	e := LobbyStatusChangedEvent{LobbyID: 9, Status: models.LobbyStatusStarting, Previous: models.LobbyStatusScheduled}
	assert.Equal(t, map[string]any{"lobbyId": int64(9), "status": models.LobbyStatusStarting}, e.Payload())

	rec := NewRecord(e)
	assert.Equal(t, int64(9), rec.LobbyID)
	assert.Equal(t, EventTypeLobbyStatusChanged, rec.Event)
	assert.False(t, rec.OccurredAt.IsZero())
}

func TestTransactionalBus_FlushPreservesOrder(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	bus.Subscribe(c.handle)

	for i := 0; i < 200; i++ {
		tx := NewTransactionalBus(bus)
		tx.Publish(LobbyStatusChangedEvent{LobbyID: 1, Status: models.LobbyStatusOngoing})
		tx.Publish(MatchStartedEvent{LobbyID: 1, MatchID: 7})
		tx.Publish(LobbyStatusChangedEvent{LobbyID: 1, Status: models.LobbyStatusCompleted})
		tx.Flush()
		bus.Wait()

		got := c.snapshot()
		require.Len(t, got, 3)
		assert.Equal(t, []Event{
			LobbyStatusChangedEvent{LobbyID: 1, Status: models.LobbyStatusOngoing},
			MatchStartedEvent{LobbyID: 1, MatchID: 7},
			LobbyStatusChangedEvent{LobbyID: 1, Status: models.LobbyStatusCompleted},
		}, got)
		c.mu.Lock()
		c.events = nil
		c.mu.Unlock()
	}
}

func TestBus_PanicDoesNotStopSequence(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	bus.Subscribe(func(ctx context.Context, e Event) {
		if e.Type() == EventTypeMatchStarted {
			panic("boom")
		}
		c.handle(ctx, e)
	})

	bus.EmitAll(context.Background(), []Event{
		MatchStartedEvent{LobbyID: 1},
		LobbyStatusChangedEvent{LobbyID: 1, Status: models.LobbyStatusOngoing},
	})
	bus.Wait()

	require.Len(t, c.snapshot(), 1)
	assert.Equal(t, EventTypeLobbyStatusChanged, c.snapshot()[0].Type())
}
