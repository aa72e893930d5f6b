package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doc_voice_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doc_voice_sessions_total",
		Help: "Total number of voice sessions opened",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doc_voice_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600},
	})

	sessionsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_sessions_reaped_total",
		Help: "Sessions closed by the registry without a client, by reason",
	}, []string{"reason"})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_state_transitions_total",
		Help: "Voice session state transitions",
	}, []string{"from", "to"})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doc_voice_barge_ins_total",
		Help: "Playback interruptions caused by user speech",
	})

	// Turn metrics
	turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_turns_total",
		Help: "Conversation turns by outcome",
	}, []string{"outcome"}) // answered, fallback, stale, duplicate

	turnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doc_voice_turn_latency_seconds",
		Help:    "Time from utterance flush to broadcast",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Reasoning metrics
	reasoningCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_reasoning_calls_total",
		Help: "Reasoning provider calls by outcome",
	}, []string{"provider", "outcome"})

	reasoningLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "doc_voice_reasoning_latency_seconds",
		Help:    "Reasoning provider call latency",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"provider"})

	reasoningFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_reasoning_fallbacks_total",
		Help: "Times the identifier chain advanced",
	}, []string{"reason"})

	reasoningDiscovery = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_reasoning_discovery_total",
		Help: "Last-resort identifier discovery attempts",
	}, []string{"outcome"})

	// STT metrics
	sttResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_stt_results_total",
		Help: "Transcription results received",
	}, []string{"kind"}) // interim, final

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_tts_requests_total",
		Help: "Speech synthesis requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doc_voice_tts_first_byte_seconds",
		Help:    "Time until the synthesis provider answered",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Broadcast metrics
	broadcastSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doc_voice_broadcast_subscribers",
		Help: "Live broadcast subscribers across all conversations",
	})

	broadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doc_voice_broadcast_dropped_total",
		Help: "Events dropped for slow subscribers",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "doc_voice_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doc_voice_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // in, out
)

// SessionMetrics tracks metrics for a single voice session
type SessionMetrics struct {
	sessionID string
	startTime time.Time

	mu        sync.Mutex
	turnStart time.Time
	ended     bool
}

// NewSessionMetrics creates a metrics tracker and counts the session as active.
func NewSessionMetrics(sessionID string) *SessionMetrics {
	activeSessions.Inc()
	totalSessions.Inc()
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionEnd records the end of the session. Only the first call counts.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTransition counts a state change.
func (m *SessionMetrics) RecordTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordBargeIn counts an interrupted playback.
func (m *SessionMetrics) RecordBargeIn() {
	bargeIns.Inc()
}

// RecordTurnStart marks the moment an utterance entered reasoning.
func (m *SessionMetrics) RecordTurnStart() {
	m.mu.Lock()
	m.turnStart = time.Now()
	m.mu.Unlock()
}

// RecordTurnEnd records the outcome of the turn started last.
func (m *SessionMetrics) RecordTurnEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.turnStart.IsZero() {
		turnLatency.Observe(time.Since(m.turnStart).Seconds())
		m.turnStart = time.Time{}
	}
	turns.WithLabelValues(outcome).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordSessionReaped counts a session the registry closed on its own.
func RecordSessionReaped(reason string) {
	sessionsReaped.WithLabelValues(reason).Inc()
}

// RecordError records an error outside of a session.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordTurnOutcome counts a turn that never started reasoning.
func RecordTurnOutcome(outcome string) {
	turns.WithLabelValues(outcome).Inc()
}

// RecordReasoningCall counts one provider call.
func RecordReasoningCall(provider, outcome string) {
	reasoningCalls.WithLabelValues(provider, outcome).Inc()
}

// ObserveReasoningLatency records how long one provider call took.
func ObserveReasoningLatency(provider string, d time.Duration) {
	reasoningLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordReasoningFallback counts an advance along the identifier chain.
func RecordReasoningFallback(reason string) {
	reasoningFallbacks.WithLabelValues(reason).Inc()
}

// RecordReasoningDiscovery counts a discovery attempt.
func RecordReasoningDiscovery(outcome string) {
	reasoningDiscovery.WithLabelValues(outcome).Inc()
}

// RecordSTTResult counts a transcription result.
func RecordSTTResult(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	sttResults.WithLabelValues(kind).Inc()
}

// RecordTTSRequest counts a synthesis request and, on success, its latency.
func RecordTTSRequest(status string, firstByte time.Duration) {
	ttsRequests.WithLabelValues(status).Inc()
	if status == "success" {
		ttsLatency.Observe(firstByte.Seconds())
	}
}

// AddBroadcastSubscribers adjusts the live subscriber gauge.
func AddBroadcastSubscribers(delta int) {
	broadcastSubscribers.Add(float64(delta))
}

// RecordBroadcastDropped counts an event dropped for a slow subscriber.
func RecordBroadcastDropped() {
	broadcastDropped.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
