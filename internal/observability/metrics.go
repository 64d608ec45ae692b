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
		Name: "voice_interview_active_sessions",
		Help: "Number of connected voice sessions",
	})

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_sessions_total",
		Help: "Total number of voice sessions by mode",
	}, []string{"mode"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_interview_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600},
	})

	// Endpointing metrics
	utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_utterances_total",
		Help: "Evaluated buffers by outcome (committed, discarded, empty, dropped)",
	}, []string{"outcome"})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_interview_barge_ins_total",
		Help: "Turns cancelled by a new user utterance",
	})

	// ASR metrics
	asrRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_asr_requests_total",
		Help: "Total number of ASR requests",
	}, []string{"status"})

	asrLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_interview_asr_latency_seconds",
		Help:    "ASR latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// LLM metrics
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_llm_requests_total",
		Help: "Total number of chat completion requests by purpose",
	}, []string{"purpose", "status"})

	llmFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_interview_llm_first_token_seconds",
		Help:    "Time from request to first streamed delta",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_interview_tts_latency_seconds",
		Help:    "TTS latency per sentence in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Turn metrics
	turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_turns_total",
		Help: "Assistant turns by outcome (completed, cancelled, failed, finished)",
	}, []string{"outcome"})

	// Maintenance metrics
	maintenanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_interview_maintenance_sweep_seconds",
		Help:    "Duration of one maintenance sweep over all records",
		Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60},
	})

	summaries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_interview_summaries_total",
		Help: "Conversation windows compressed by summarization",
	})

	judgeVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_judge_verdicts_total",
		Help: "Topic completion verdicts",
	}, []string{"verdict"})

	topicAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_interview_topic_advances_total",
		Help: "Interview topic transitions",
	})

	registryEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_interview_registry_entries",
		Help: "Conversations held in memory",
	}, []string{"registry"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_interview_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interview_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID    string
	mode         string
	startTime    time.Time
	asrStartTime time.Time
	mu           sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for one connection.
func NewSessionMetrics(sessionID, mode string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		mode:      mode,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.WithLabelValues(m.mode).Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordASRStart records the start of a transcription
func (m *Metrics) RecordASRStart() {
	m.mu.Lock()
	m.asrStartTime = time.Now()
	m.mu.Unlock()
}

// RecordASREnd records the end of a transcription
func (m *Metrics) RecordASREnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.asrStartTime.IsZero() {
		asrLatency.Observe(time.Since(m.asrStartTime).Seconds())
	}
	asrRequests.WithLabelValues(status(success)).Inc()
}

// RecordUtterance counts one endpoint evaluation outcome.
func (m *Metrics) RecordUtterance(outcome string) {
	utterances.WithLabelValues(outcome).Inc()
}

// RecordBargeIn counts a cancelled turn.
func (m *Metrics) RecordBargeIn() {
	bargeIns.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordError records an error outside a session.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordLLMRequest counts a completion request. purpose is turn, summary or judge.
func RecordLLMRequest(purpose string, success bool) {
	llmRequests.WithLabelValues(purpose, status(success)).Inc()
}

// ObserveFirstToken records time to first delta.
func ObserveFirstToken(d time.Duration) {
	llmFirstToken.Observe(d.Seconds())
}

// ObserveTTS records one sentence synthesis.
func ObserveTTS(d time.Duration, success bool) {
	ttsLatency.Observe(d.Seconds())
	ttsRequests.WithLabelValues(status(success)).Inc()
}

// RecordTurn counts a finished turn by outcome.
func RecordTurn(outcome string) {
	turns.WithLabelValues(outcome).Inc()
}

// ObserveMaintenanceSweep records one full sweep.
func ObserveMaintenanceSweep(d time.Duration) {
	maintenanceDuration.Observe(d.Seconds())
}

// RecordSummary counts a window compression.
func RecordSummary() {
	summaries.Inc()
}

// RecordJudgeVerdict counts a completion verdict.
func RecordJudgeVerdict(complete bool) {
	verdict := "continue"
	if complete {
		verdict = "complete"
	}
	judgeVerdicts.WithLabelValues(verdict).Inc()
}

// RecordTopicAdvance counts an interview moving to its next topic.
func RecordTopicAdvance() {
	topicAdvances.Inc()
}

// SetRegistryEntries publishes the size of one registry.
func SetRegistryEntries(registry string, n int) {
	registryEntries.WithLabelValues(registry).Set(float64(n))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
