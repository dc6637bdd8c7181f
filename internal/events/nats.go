package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/resilience"
)

// natsConn is the part of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Status() nats.Status
	Drain() error
}

// NATSPublisher publishes call events on <prefix>.call.created and
// <prefix>.call.ended.
type NATSPublisher struct {
	conn   natsConn
	prefix string
	logger zerolog.Logger
}

// ConnectNATS dials cfg.NATSURL, retrying the initial connection with backoff.
// Once connected, the client library handles reconnects itself.
func ConnectNATS(ctx context.Context, cfg *config.Config) (*NATSPublisher, error) {
	logger := observability.GetLogger().With().Str("component", "events").Logger()
	backoff := time.Duration(cfg.ReconnectBackoff) * time.Millisecond

	options := []nats.Option{
		nats.Name(observability.ServiceName),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(backoff),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	var conn *nats.Conn
	err := resilience.Reconnect(ctx, "nats", func(ctx context.Context) error {
		var err error
		conn, err = nats.Connect(cfg.NATSURL, options...)
		return err
	}, &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     backoff,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("Connected to NATS")
	return newNATSPublisher(conn, cfg.NATSSubjectPrefix, logger), nil
}

func newNATSPublisher(conn natsConn, prefix string, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger,
	}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, evt CallEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Type, err)
	}
	subject := p.Subject(evt.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		observability.RecordError("publish_error", "events")
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug().Str("subject", subject).Str("call_id", evt.CallID).Msg("Event published")
	return nil
}

func (p *NATSPublisher) Healthy() bool {
	return p.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn().Err(err).Msg("NATS drain failed")
	}
}
