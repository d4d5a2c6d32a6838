// Package relay forwards committed lobby events between server instances so
// a client connected to any instance sees events produced on the others.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jason-s-yu/scrimlobby/internal/events"
)

// DefaultChannel is the Redis channel and NATS subject events travel on.
const DefaultChannel = "scrimlobby.lobby-events"

// Handler receives records published by other instances.
type Handler func(rec events.Record)

// Relay publishes local records and delivers remote ones.
type Relay interface {
	Publish(ctx context.Context, rec events.Record) error
	// Start subscribes and calls handler for every record from another
	// instance. It returns once the subscription is live.
	Start(ctx context.Context, handler Handler) error
	Close() error
}

// Envelope is the wire form of a relayed record.
type Envelope struct {
	Origin string        `json:"origin"`
	Record events.Record `json:"record"`
}

// codec stamps outgoing envelopes with this instance's origin and filters
// out envelopes that came from it.
type codec struct {
	origin string
}

func newCodec() codec {
	return codec{origin: uuid.NewString()}
}

func (c codec) encode(rec events.Record) ([]byte, error) {
	data, err := json.Marshal(Envelope{Origin: c.origin, Record: rec})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	return data, nil
}

// decode returns the record and whether it came from another instance.
func (c codec) decode(data []byte) (events.Record, bool, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Record{}, false, fmt.Errorf("invalid relay envelope: %w", err)
	}
	return env.Record, env.Origin != c.origin, nil
}
