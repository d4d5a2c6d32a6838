package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/scrimlobby/internal/events"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// NATSRelay uses core NATS publish/subscribe. Delivery is at-most-once,
// which matches what the stream promises its clients.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
	codec   codec

	mu  sync.Mutex
	sub *nats.Subscription
}

// ConnectNATS dials the servers with reconnect handling and logging hooks.
func ConnectNATS(servers string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("scrimlobby"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("NATS disconnected with error")
			} else {
				log.Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := log.Fields{"error": err}
			if sub != nil {
				fields["subject"] = sub.Subject
			}
			log.WithFields(fields).Error("NATS async error")
		}),
	}

	nc, err := nats.Connect(servers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.WithField("servers", servers).Info("Connected to NATS")
	return nc, nil
}

// NewNATSRelay creates a relay on subject, or DefaultChannel when empty.
func NewNATSRelay(nc *nats.Conn, subject string) *NATSRelay {
	if subject == "" {
		subject = DefaultChannel
	}
	return &NATSRelay{nc: nc, subject: subject, codec: newCodec()}
}

// Publish sends the record to every subscribed instance.
func (r *NATSRelay) Publish(_ context.Context, rec events.Record) error {
	data, err := r.codec.encode(rec)
	if err != nil {
		return err
	}
	if err := r.nc.Publish(r.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.subject, err)
	}
	return nil
}

// Start subscribes to the subject. NATS runs handler on its own goroutine.
func (r *NATSRelay) Start(_ context.Context, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return fmt.Errorf("nats relay already started")
	}

	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		rec, remote, err := r.codec.decode(msg.Data)
		if err != nil {
			log.WithError(err).Warn("Dropping relay message")
			return
		}
		if remote {
			handler(rec)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.subject, err)
	}
	if err := r.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	r.sub = sub

	log.WithField("subject", r.subject).Info("NATS event relay started")
	return nil
}

// Close drains the subscription.
func (r *NATSRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Drain()
	r.sub = nil
	return err
}
