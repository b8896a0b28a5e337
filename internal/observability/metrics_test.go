package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TurnCounter.WithLabelValues("completed").Inc()
	m.ToolExecutionCounter.WithLabelValues("create_deal", "success").Inc()
	m.RateLimitDenials.Inc()
	m.CacheInvalidations.WithLabelValues("deals").Add(2)
	m.AuditFailures.Inc()
	m.StreamDuration.WithLabelValues("completed").Observe(1.2)
	m.ToolExecutionDuration.WithLabelValues("create_deal").Observe(0.05)

	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("completed")); got != 1 {
		t.Fatalf("turns = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheInvalidations.WithLabelValues("deals")); got != 2 {
		t.Fatalf("invalidations = %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"coverdesk_assistant_turns_total",
		"coverdesk_assistant_turn_duration_seconds",
		"coverdesk_tool_executions_total",
		"coverdesk_tool_execution_duration_seconds",
		"coverdesk_ratelimit_denials_total",
		"coverdesk_cache_invalidations_total",
		"coverdesk_audit_failures_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
	for name := range names {
		if !strings.HasPrefix(name, "coverdesk_") {
			t.Errorf("metric %s outside the service namespace", name)
		}
	}
}
