// Package events publishes automation session lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ticketbot/internal/config"
)

// Publisher sends events somewhere. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt CanonicalEvent) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, CanonicalEvent) error { return nil }
func (Noop) Close() error { return nil }

// NATSPublisher publishes events on core NATS subjects named
// <subject>.<event type>.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(cfg config.EventsConfig) (*NATSPublisher, error) {
	url := cfg.NATSURL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("ticketbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "ticketbot.events"
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.subject + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, evt CanonicalEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !evt.MinimalValidate() {
		return fmt.Errorf("invalid event: missing required fields")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(evt.Type), data)
}

// Subscribe delivers every event published under the subject prefix until
// ctx is done.
func (p *NATSPublisher) Subscribe(ctx context.Context, handler func(CanonicalEvent)) (*nats.Subscription, error) {
	sub, err := p.nc.Subscribe(p.subject+".>", func(msg *nats.Msg) {
		var evt CanonicalEvent
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			handler(evt)
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return sub, nil
}

func (p *NATSPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

// NewPublisher returns a NATS publisher when a URL is configured and a
// no-op publisher otherwise.
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	if cfg.NATSURL == "" {
		logger.Debug("No NATS URL configured, events are disabled")
		return Noop{}, nil
	}
	p, err := NewNATSPublisher(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Publishing events to NATS", zap.String("url", cfg.NATSURL), zap.String("subject", p.subject))
	return p, nil
}

// Emitter publishes session events and logs, rather than returns, failures.
type Emitter struct {
	pub    Publisher
	logger *zap.Logger
}

func NewEmitter(pub Publisher, logger *zap.Logger) *Emitter {
	if pub == nil {
		pub = Noop{}
	}
	return &Emitter{pub: pub, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, eventType, sessionID, text string, metadata map[string]any) {
	evt := New(eventType, sessionID, text, metadata)
	if err := e.pub.Publish(ctx, evt); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("type", eventType),
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
