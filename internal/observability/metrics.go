package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects assistant pipeline metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Chat turn throughput and streaming latency
//   - Tool execution patterns and latencies
//   - Rate-limit denials per caller
//   - Cache partition invalidations from the cascade
//   - Audit write failures (swallowed but counted)
type Metrics struct {
	// TurnCounter counts chat turns by terminal state.
	// Labels: outcome (completed|error|timeout|canceled|denied)
	TurnCounter *prometheus.CounterVec

	// StreamDuration measures full turn duration in seconds.
	// Labels: outcome
	StreamDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// RateLimitDenials counts denied admissions.
	RateLimitDenials prometheus.Counter

	// CacheInvalidations counts partition invalidations by partition.
	// Labels: partition
	CacheInvalidations *prometheus.CounterVec

	// AuditFailures counts audit sink write failures.
	AuditFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coverdesk_assistant_turns_total",
				Help: "Chat turns by terminal state.",
			},
			[]string{"outcome"},
		),
		StreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coverdesk_assistant_turn_duration_seconds",
				Help:    "Full chat turn duration.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coverdesk_tool_executions_total",
				Help: "Tool invocations by name and status.",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coverdesk_tool_execution_duration_seconds",
				Help:    "Tool execution time from dispatch to terminal audit write.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		RateLimitDenials: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coverdesk_ratelimit_denials_total",
				Help: "Turn admissions denied by the sliding-window limiter.",
			},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coverdesk_cache_invalidations_total",
				Help: "Cache partition invalidations triggered by the cascade.",
			},
			[]string{"partition"},
		),
		AuditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coverdesk_audit_failures_total",
				Help: "Audit sink write failures (logged and swallowed).",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.TurnCounter,
			m.StreamDuration,
			m.ToolExecutionCounter,
			m.ToolExecutionDuration,
			m.RateLimitDenials,
			m.CacheInvalidations,
			m.AuditFailures,
		)
	}
	return m
}
