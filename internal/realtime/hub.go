// internal/realtime/hub.go
package realtime

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// System event names emitted by the hub itself.
const (
	EventConnected = "connected"
	EventKeepalive = "keepalive"
)

const (
	defaultBuffer            = 16
	defaultKeepaliveInterval = 30 * time.Second
)

// Message is one discrete item on a client stream.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber is a single client's registration. LobbyID is nil for an
// all-lobbies subscription that only receives hub-wide messages.
type Subscriber struct {
	ClientID string
	LobbyID  *int64
	out      chan Message
}

// Messages is closed when the subscriber is removed from the hub.
func (s *Subscriber) Messages() <-chan Message {
	return s.out
}

// write pushes a message without blocking. A full buffer drops the message.
func (s *Subscriber) write(msg Message) bool {
	select {
	case s.out <- msg:
		return true
	default:
		log.WithFields(log.Fields{
			"clientId": s.ClientID,
			"event":    msg.Event,
		}).Warn("Subscriber buffer full, dropped message")
		return false
	}
}

// Hub is the registry of live stream subscribers. Publishing never blocks on
// a slow client and never returns an error to the publisher.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	buffer   int
	interval time.Duration
	now      func() time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithKeepaliveInterval sets how often Run emits keepalive messages.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithClock replaces time.Now for keepalive timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subscribers: make(map[string]*Subscriber),
		buffer:      defaultBuffer,
		interval:    defaultKeepaliveInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers clientID. An existing registration under the same id is
// replaced and its channel closed.
func (h *Hub) Subscribe(clientID string, lobbyID *int64) *Subscriber {
	sub := &Subscriber{
		ClientID: clientID,
		out:      make(chan Message, h.buffer),
	}
	if lobbyID != nil {
		id := *lobbyID
		sub.LobbyID = &id
	}

	h.mu.Lock()
	if old, ok := h.subscribers[clientID]; ok {
		close(old.out)
	}
	h.subscribers[clientID] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	log.WithFields(log.Fields{
		"clientId":    clientID,
		"lobbyId":     lobbyID,
		"subscribers": count,
	}).Debug("Stream subscriber added")
	return sub
}

// Unsubscribe removes and closes the client's channel. Unknown ids are ignored.
func (h *Hub) Unsubscribe(clientID string) {
	h.mu.Lock()
	sub, ok := h.subscribers[clientID]
	if ok {
		delete(h.subscribers, clientID)
		close(sub.out)
	}
	h.mu.Unlock()

	if ok {
		log.WithField("clientId", clientID).Debug("Stream subscriber removed")
	}
}

// PublishToLobby delivers to subscribers registered for lobbyID and returns
// how many accepted the message.
func (h *Hub) PublishToLobby(lobbyID int64, event string, data any) int {
	msg := Message{Event: event, Data: data}
	delivered := 0

	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if sub.LobbyID == nil || *sub.LobbyID != lobbyID {
			continue
		}
		if sub.write(msg) {
			delivered++
		}
	}
	return delivered
}

// PublishToAll delivers to every subscriber regardless of lobby.
func (h *Hub) PublishToAll(event string, data any) int {
	msg := Message{Event: event, Data: data}
	delivered := 0

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if sub.write(msg) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Run emits keepalive messages until ctx is cancelled, then closes every
// remaining subscriber.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			n := h.PublishToAll(EventKeepalive, map[string]any{"timestamp": h.now().UTC()})
			log.WithField("subscribers", n).Trace("Sent keepalive")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		close(sub.out)
		delete(h.subscribers, id)
	}
	log.Debug("Stream hub closed all subscribers")
}
