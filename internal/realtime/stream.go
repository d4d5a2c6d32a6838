package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/scrimlobby/internal/middleware"
	log "github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "lobby"

// Custom websocket close codes.
const (
	BadSubprotocolError = 3000 // Client connected with an unsupported subprotocol.
	InvalidLobbyIDError = 3003 // lobbyId query parameter is not a positive integer.
)

const writeTimeout = 5 * time.Second

// ParseLobbyID reads the optional lobbyId query parameter.
func ParseLobbyID(r *http.Request) (*int64, error) {
	raw := r.URL.Query().Get("lobbyId")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid lobbyId %q", raw)
	}
	return &id, nil
}

// SSEHandler streams hub messages as server-sent events.
func SSEHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID, err := ParseLobbyID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		clientID := uuid.NewString()
		sub := hub.Subscribe(clientID, lobbyID)
		defer hub.Unsubscribe(clientID)

		logger := log.WithFields(log.Fields{"clientId": clientID, "lobbyId": lobbyID, "transport": "sse"})
		middleware.LogStreamConnect(logger, r)
		var streamErr error
		defer func() { middleware.LogStreamDisconnect(logger, r, streamErr) }()

		if err := writeSSE(w, Message{Event: EventConnected, Data: map[string]string{"clientId": clientID}}); err != nil {
			return
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				if err := writeSSE(w, msg); err != nil {
					streamErr = err
					return
				}
				flusher.Flush()
			}
		}
	}
}

// writeSSE frames one message as "event: <name>\ndata: <json>\n\n".
func writeSSE(w http.ResponseWriter, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).WithField("event", msg.Event).Warn("Failed to marshal stream message")
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
	return err
}

// WSHandler streams hub messages over a websocket speaking the lobby subprotocol.
// The stream is one-way; inbound frames other than close are ignored.
func WSHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			log.WithError(err).Warn("websocket accept error")
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}
		lobbyID, err := ParseLobbyID(r)
		if err != nil {
			c.Close(InvalidLobbyIDError, err.Error())
			return
		}

		clientID := uuid.NewString()
		sub := hub.Subscribe(clientID, lobbyID)
		defer hub.Unsubscribe(clientID)

		logger := log.WithFields(log.Fields{"clientId": clientID, "lobbyId": lobbyID, "transport": "ws"})
		middleware.LogStreamConnect(logger, r)
		var streamErr error
		defer func() { middleware.LogStreamDisconnect(logger, r, streamErr) }()

		// CloseRead discards inbound frames and cancels ctx when the peer goes away.
		ctx := c.CloseRead(r.Context())

		if err := writeWS(ctx, c, Message{Event: EventConnected, Data: map[string]string{"clientId": clientID}}); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					c.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if err := writeWS(ctx, c, msg); err != nil {
					streamErr = err
					return
				}
			}
		}
	}
}

func writeWS(ctx context.Context, c *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).WithField("event", msg.Event).Warn("Failed to marshal stream message")
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(writeCtx, websocket.MessageText, data)
}
