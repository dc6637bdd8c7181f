package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_active_calls",
		Help: "Number of active phone calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_calls_total",
		Help: "Total number of calls processed",
	})

	callsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_calls_ended_total",
		Help: "Calls ended, by reason",
	}, []string{"reason"})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_call_duration_seconds",
		Help:    "Duration of phone calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Turn-taking metrics
	utterancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_utterances_total",
		Help: "Completed utterances by recognition outcome",
	}, []string{"outcome"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_frames_dropped_total",
		Help: "Inbound frames not segmented, by reason",
	}, []string{"reason"})

	turnTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_turn_transitions_total",
		Help: "Turn state machine transitions",
	}, []string{"from", "to"})

	repliesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_replies_sent_total",
		Help: "Replies streamed to the caller and followed by a playback mark",
	})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_stt_requests_total",
		Help: "Total number of STT requests",
	}, []string{"status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_stt_latency_seconds",
		Help:    "STT processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_tts_latency_seconds",
		Help:    "TTS processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Query endpoint metrics
	queryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_query_requests_total",
		Help: "Query endpoint requests by transport and outcome",
	}, []string{"transport", "outcome"})

	// Call control metrics
	endCallRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_end_call_requests_total",
		Help: "Call termination requests sent to the telephony provider",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_bridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single call
type Metrics struct {
	callID       string
	startTime    time.Time
	sttStartTime time.Time
	ttsStartTime time.Time
	mu           sync.Mutex
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordCallStart records the start of a call
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call
func (m *Metrics) RecordCallEnd(reason string) {
	activeCalls.Dec()
	callsEnded.WithLabelValues(reason).Inc()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSTTStart records the start of STT processing
func (m *Metrics) RecordSTTStart() {
	m.mu.Lock()
	m.sttStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSTTEnd records the end of STT processing
func (m *Metrics) RecordSTTEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sttStartTime.IsZero() {
		sttLatency.Observe(time.Since(m.sttStartTime).Seconds())
	}
	sttRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordTTSStart records the start of TTS processing
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS processing
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}
	ttsRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordUtterance counts a completed utterance ("published", "empty", "error").
func (m *Metrics) RecordUtterance(outcome string) {
	utterancesTotal.WithLabelValues(outcome).Inc()
}

// RecordFrameDropped counts an inbound frame that never reached the segmenter.
func (m *Metrics) RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordTurnTransition counts a turn state change.
func (m *Metrics) RecordTurnTransition(from, to string) {
	turnTransitions.WithLabelValues(from, to).Inc()
}

// RecordReplySent counts a reply that completed its outbound cycle.
func (m *Metrics) RecordReplySent() {
	repliesSent.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordQuery counts a query endpoint request ("http" or "grpc").
func RecordQuery(transport, outcome string) {
	queryRequests.WithLabelValues(transport, outcome).Inc()
}

// RecordEndCall counts a call termination request.
func RecordEndCall(success bool) {
	endCallRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error outside any call
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
