package resilience

import (
	"time"

	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/rs/zerolog/log"
)

// NewInstrumentedCircuitBreaker returns a breaker whose state and failures are
// exported as Prometheus metrics under the given service name.
func NewInstrumentedCircuitBreaker(service string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	cb := NewCircuitBreaker(service, maxFailures, resetTimeout)
	cb.OnStateChange(func(name string, state CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		log.Warn().Str("service", name).Str("state", state.String()).Msg("Circuit breaker state changed")
	})
	cb.OnFailure(observability.IncrementCircuitBreakerFailures)
	observability.UpdateCircuitBreakerState(service, int(StateClosed))
	return cb
}
