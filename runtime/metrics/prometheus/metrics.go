// Package prometheus provides Prometheus metrics for VoiceKit conversations.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "voicekit"

var (
	// sessionsActive is a gauge of conversations currently active, by mode.
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active conversations",
		},
		[]string{"mode"},
	)

	// sessionsTotal counts session starts and failures.
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of conversation start attempts",
		},
		[]string{"mode", "status"}, // status: started, failed
	)

	// sessionDuration is a histogram of conversation length.
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of conversations in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800},
		},
		[]string{"mode", "reason"},
	)

	negotiationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_duration_seconds",
			Help:      "Duration of transport negotiation attempts in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"transport", "status"}, // status: success, error
	)

	fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of realtime to streaming fallbacks",
		},
		[]string{"reason"},
	)

	segmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_sent_total",
			Help:      "Total number of audio segments sent to the relay",
		},
		[]string{"reason", "final"},
	)

	segmentBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_bytes_total",
			Help:      "Total PCM bytes sent to the relay",
		},
	)

	responseTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_timeouts_total",
			Help:      "Total number of turns that received no agent response",
		},
	)

	bargeInsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total number of times the user interrupted the agent",
		},
	)

	vadTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_transitions_total",
			Help:      "Total number of voice activity transitions",
		},
		[]string{"state"}, // state: speaking, quiet
	)

	protocolDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_drops_total",
			Help:      "Total number of inbound protocol events discarded",
		},
		[]string{"source", "reason"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors surfaced to the user",
		},
		[]string{"category"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		negotiationDuration,
		fallbacksTotal,
		segmentsTotal,
		segmentBytesTotal,
		responseTimeoutsTotal,
		bargeInsTotal,
		vadTransitionsTotal,
		protocolDropsTotal,
		errorsTotal,
	}
)

// RecordSessionStart records a conversation becoming active.
func RecordSessionStart(mode string) {
	sessionsActive.WithLabelValues(mode).Inc()
	sessionsTotal.WithLabelValues(mode, statusStarted).Inc()
}

// RecordSessionEnd records a conversation ending.
func RecordSessionEnd(mode, reason string, durationSeconds float64) {
	sessionsActive.WithLabelValues(mode).Dec()
	sessionDuration.WithLabelValues(mode, reason).Observe(durationSeconds)
}

// RecordSessionFailed records a start that never became active.
func RecordSessionFailed(mode string) {
	if mode == "" {
		mode = "none"
	}
	sessionsTotal.WithLabelValues(mode, statusFailed).Inc()
}

// RecordNegotiation records one transport negotiation attempt.
func RecordNegotiation(transport, status string, durationSeconds float64) {
	negotiationDuration.WithLabelValues(transport, status).Observe(durationSeconds)
}

// RecordFallback records a fallback to the streaming relay.
func RecordFallback(reason string) {
	fallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordSegment records a sent audio segment.
func RecordSegment(reason string, final bool, bytes int) {
	segmentsTotal.WithLabelValues(reason, boolLabel(final)).Inc()
	if bytes > 0 {
		segmentBytesTotal.Add(float64(bytes))
	}
}

// RecordResponseTimeout records a turn with no agent response.
func RecordResponseTimeout() {
	responseTimeoutsTotal.Inc()
}

// RecordBargeIn records a user interruption.
func RecordBargeIn() {
	bargeInsTotal.Inc()
}

// RecordVADTransition records a voice activity transition.
func RecordVADTransition(speaking bool) {
	state := "quiet"
	if speaking {
		state = "speaking"
	}
	vadTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordProtocolDrop records a discarded inbound event.
func RecordProtocolDrop(source, reason string) {
	protocolDropsTotal.WithLabelValues(source, reason).Inc()
}

// RecordError records a surfaced error by category.
func RecordError(category string) {
	if category == "" {
		category = "unknown"
	}
	errorsTotal.WithLabelValues(category).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
