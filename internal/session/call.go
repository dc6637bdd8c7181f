// Package session owns per-call state shared by the media stream and the
// query endpoint.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexiqai/voice-bridge/internal/eventbus"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/turn"
	"github.com/rs/zerolog"
)

// EndReason records why a call ended.
type EndReason string

const (
	ReasonStop     EndReason = "stop"     // far end sent a stop event
	ReasonIdle     EndReason = "idle"     // no activity within the talk timeout
	ReasonShutdown EndReason = "shutdown" // process or operator shutdown
	ReasonHangup   EndReason = "hangup"   // websocket closed or a send failed
)

// ErrStreamAttached is returned when a second media stream claims a call.
var ErrStreamAttached = errors.New("session: call already has a media stream")

// Call is one logical phone call keyed by its Twilio call SID.
type Call struct {
	id            string
	correlationID string
	startedAt     time.Time

	machine  *turn.Machine
	exchange *eventbus.Exchange
	metrics  *observability.Metrics
	logger   zerolog.Logger

	mu           sync.RWMutex
	streamSid    string
	talkTimeout  time.Duration
	lastActivity time.Time
	endReason    EndReason
	endedAt      time.Time

	ended   atomic.Bool
	endOnce sync.Once
	done    chan struct{}
	onEnd   func(ctx context.Context, c *Call, reason EndReason)
	now     func() time.Time
}

func newCall(id string, opts Options) *Call {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	correlationID := observability.NewCorrelationID()
	c := &Call{
		id:            id,
		correlationID: correlationID,
		startedAt:     now(),
		machine:       turn.NewMachine(opts.MarkName),
		exchange:      eventbus.NewExchange(),
		metrics:       observability.NewCallMetrics(id),
		logger:        observability.WithCorrelationID(correlationID).With().Str("call_id", id).Logger(),
		talkTimeout:   opts.TalkTimeout,
		lastActivity:  now(),
		done:          make(chan struct{}),
		now:           now,
	}
	c.machine.OnTransition(func(from, to turn.State) {
		c.metrics.RecordTurnTransition(string(from), string(to))
	})
	return c
}

func (c *Call) ID() string { return c.id }
func (c *Call) CorrelationID() string { return c.correlationID }
func (c *Call) Machine() *turn.Machine { return c.machine }
func (c *Call) Exchange() *eventbus.Exchange { return c.exchange }
func (c *Call) Metrics() *observability.Metrics { return c.metrics }
func (c *Call) StartedAt() time.Time { return c.startedAt }

// Logger returns the call's child logger, including the stream SID once known.
func (c *Call) Logger() zerolog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.streamSid == "" {
		return c.logger
	}
	return c.logger.With().Str("stream_sid", c.streamSid).Logger()
}

// AttachStream records the media stream SID. It can be set once; repeating the
// same SID is a no-op.
func (c *Call) AttachStream(streamSid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamSid != "" && c.streamSid != streamSid {
		return ErrStreamAttached
	}
	c.streamSid = streamSid
	return nil
}

func (c *Call) StreamSid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSid
}

// TalkTimeout bounds each reply wait and is also the idle threshold.
func (c *Call) TalkTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.talkTimeout
}

func (c *Call) SetTalkTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.talkTimeout = d
	c.mu.Unlock()
}

// Touch resets the idle clock.
func (c *Call) Touch() {
	c.mu.Lock()
	c.lastActivity = c.now()
	c.mu.Unlock()
}

// Idle reports whether the time since last activity has reached the talk timeout.
func (c *Call) Idle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.talkTimeout > 0 && c.now().Sub(c.lastActivity) >= c.talkTimeout
}

// End terminates the call exactly once: the turn machine enters ended, every
// exchange waiter is released with the ended marker, Done is closed, and the
// end hook runs. It reports whether this invocation performed the shutdown.
func (c *Call) End(ctx context.Context, reason EndReason) bool {
	first := false
	c.endOnce.Do(func() {
		first = true

		c.mu.Lock()
		c.endReason = reason
		c.endedAt = c.now()
		c.mu.Unlock()

		c.ended.Store(true)
		c.machine.End()
		c.exchange.Terminate()
		close(c.done)

		c.logger.Info().Str("reason", string(reason)).Msg("Call ended")
		if c.onEnd != nil {
			c.onEnd(ctx, c, reason)
		}
	})
	return first
}

// Ended reports whether End has been called.
func (c *Call) Ended() bool { return c.ended.Load() }

// Done is closed when the call ends.
func (c *Call) Done() <-chan struct{} { return c.done }

func (c *Call) EndReason() EndReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endReason
}

// endedBefore reports whether the call ended earlier than t.
func (c *Call) endedBefore(t time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.endedAt.IsZero() && c.endedAt.Before(t)
}
