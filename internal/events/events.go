// Package events fans call lifecycle changes out to other services.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/voice-bridge/internal/session"
)

const (
	TypeCallCreated = "call.created"
	TypeCallEnded   = "call.ended"
)

// CallEvent is the JSON body published for each lifecycle change.
type CallEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	CallID        string    `json:"call_id"`
	CorrelationID string    `json:"correlation_id"`
	StreamSid     string    `json:"stream_sid,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher delivers call events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt CallEvent) error
	Healthy() bool
	Close()
}

// CallCreated describes a newly registered call.
func CallCreated(c *session.Call) CallEvent {
	return CallEvent{
		ID:            uuid.NewString(),
		Type:          TypeCallCreated,
		CallID:        c.ID(),
		CorrelationID: c.CorrelationID(),
		StreamSid:     c.StreamSid(),
		Timestamp:     time.Now().UTC(),
	}
}

// CallEnded describes a call that has just ended.
func CallEnded(c *session.Call, reason session.EndReason) CallEvent {
	now := time.Now().UTC()
	return CallEvent{
		ID:            uuid.NewString(),
		Type:          TypeCallEnded,
		CallID:        c.ID(),
		CorrelationID: c.CorrelationID(),
		StreamSid:     c.StreamSid(),
		Reason:        string(reason),
		DurationMs:    now.Sub(c.StartedAt()).Milliseconds(),
		Timestamp:     now,
	}
}

// Noop discards events. It is used when NATS_URL is unset.
type Noop struct{}

func (Noop) Publish(context.Context, CallEvent) error { return nil }
func (Noop) Healthy() bool                            { return true }
func (Noop) Close()                                   {}
