package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/rs/zerolog"
)

// ErrShuttingDown is returned when a call is requested after Shutdown.
var ErrShuttingDown = errors.New("session: registry is shutting down")

// Options configures calls created by a Registry.
type Options struct {
	MarkName       string        // playback mark name echoed by the far end
	TalkTimeout    time.Duration // default talk/idle timeout per call
	QueryTimeout   time.Duration // default wait for the query endpoint
	EndedRetention time.Duration // how long ended calls answer queries as ended
	Now            func() time.Time
}

// Hooks observe call lifecycle. OnEnd runs once per call on the goroutine that
// ended it, after the call's waiters have been released.
type Hooks struct {
	OnCreate func(c *Call)
	OnEnd    func(ctx context.Context, c *Call, reason EndReason)
}

// Registry maps Twilio call SIDs to live calls.
type Registry struct {
	opts   Options
	hooks  Hooks
	logger zerolog.Logger

	mu      sync.Mutex
	calls   map[string]*Call
	closing bool
}

func NewRegistry(opts Options, hooks Hooks) *Registry {
	if opts.MarkName == "" {
		opts.MarkName = "endOfPlayback"
	}
	if opts.TalkTimeout <= 0 {
		opts.TalkTimeout = 50 * time.Second
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.EndedRetention <= 0 {
		opts.EndedRetention = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:   opts,
		hooks:  hooks,
		logger: observability.GetLogger().With().Str("component", "session_registry").Logger(),
		calls:  make(map[string]*Call),
	}
}

// Acquire returns the live call for id, creating it on first reference. An ended
// call is replaced only when fresh is set; otherwise it is returned so callers
// observe that it ended.
func (r *Registry) Acquire(id string, fresh bool) (*Call, error) {
	r.mu.Lock()
	if existing, ok := r.calls[id]; ok && (!existing.Ended() || !fresh) {
		r.mu.Unlock()
		return existing, nil
	}
	if r.closing {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}

	c := newCall(id, r.opts)
	c.onEnd = r.handleEnd
	r.calls[id] = c
	r.mu.Unlock()

	c.metrics.RecordCallStart()
	c.logger.Info().Bool("fresh", fresh).Msg("Call registered")
	if r.hooks.OnCreate != nil {
		r.hooks.OnCreate(c)
	}
	return c, nil
}

// Get returns the call for id, live or recently ended.
func (r *Registry) Get(id string) (*Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	return c, ok
}

// Active returns the number of calls that have not ended.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if !c.Ended() {
			n++
		}
	}
	return n
}

// Sweep ends calls idle past their talk timeout and forgets ended calls older
// than the retention window. Streams check idleness themselves; the sweep covers
// calls that never got a stream.
func (r *Registry) Sweep(ctx context.Context) {
	cutoff := r.opts.Now().Add(-r.opts.EndedRetention)

	var idle []*Call
	r.mu.Lock()
	for id, c := range r.calls {
		switch {
		case c.Ended():
			if c.endedBefore(cutoff) {
				delete(r.calls, id)
			}
		case c.Idle():
			idle = append(idle, c)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.End(ctx, ReasonIdle)
	}
}

// Run sweeps at interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Shutdown ends every live call and rejects new ones.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closing = true
	live := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		if !c.Ended() {
			live = append(live, c)
		}
	}
	r.mu.Unlock()

	r.logger.Info().Int("calls", len(live)).Msg("Ending active calls")
	for _, c := range live {
		c.End(ctx, ReasonShutdown)
	}
}

func (r *Registry) handleEnd(ctx context.Context, c *Call, reason EndReason) {
	c.metrics.RecordCallEnd(string(reason))
	if r.hooks.OnEnd != nil {
		r.hooks.OnEnd(ctx, c, reason)
	}
}

// QueryTimeout is the default wait used when a query gives none.
func (r *Registry) QueryTimeout() time.Duration { return r.opts.QueryTimeout }
