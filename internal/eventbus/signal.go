// Package eventbus holds the per-call synchronization between the stream
// pipelines and the query endpoint.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrTimeout    = errors.New("eventbus: wait timed out")
	ErrTerminated = errors.New("eventbus: session terminated")
	ErrPending    = errors.New("eventbus: previous value not consumed")
	ErrStale      = errors.New("eventbus: signal consumed by another waiter")
)

// Signal is a single-slot, replace-on-consume notification. A fired value is
// delivered to exactly one waiter; consuming it starts a new generation so
// waiters from an earlier cycle can never observe a later value.
type Signal[T any] struct {
	mu         sync.Mutex
	ready      chan struct{}
	value      T
	set        bool
	terminated bool
	generation uint64
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{ready: make(chan struct{})}
}

// Fire stores v and wakes waiters. The first unobserved value is kept when the
// slot is already occupied.
func (s *Signal[T]) Fire(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return ErrTerminated
	}
	if s.set {
		return ErrPending
	}
	s.value = v
	s.set = true
	close(s.ready)
	return nil
}

// Wait blocks until a value is available, the signal is terminated, the timeout
// elapses, or ctx is done. A non-positive timeout waits on ctx alone.
func (s *Signal[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	s.mu.Lock()
	gen := s.generation
	ready := s.ready
	s.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ready:
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return zero, ErrStale
	}
	if !s.set {
		// ready closes without a value only on termination.
		return zero, ErrTerminated
	}

	v := s.value
	s.value = zero
	s.set = false
	s.generation++
	if s.terminated {
		// Keep the closed channel so later waiters return immediately.
		return v, nil
	}
	s.ready = make(chan struct{})
	return v, nil
}

// Pending reports whether a fired value is waiting to be consumed.
func (s *Signal[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Generation counts consumed values.
func (s *Signal[T]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Terminate releases all current and future waiters. A value already fired
// remains available to the next waiter.
func (s *Signal[T]) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.terminated = true
	if !s.set {
		close(s.ready)
	}
}

func (s *Signal[T]) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}
