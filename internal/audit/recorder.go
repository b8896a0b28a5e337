package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/observability"
)

// Recorder writes terminal audit records for tool invocations. Sink
// failures are logged and counted but never propagated: a broken audit
// destination must not fail a successful domain operation.
type Recorder struct {
	sink    Sink
	logger  *observability.Logger
	metrics *observability.Metrics
	enabled bool
}

// NewRecorder creates a recorder over the given sink. A nil sink or a
// disabled config yields a recorder that drops records.
func NewRecorder(sink Sink, config Config, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		enabled: config.Enabled && sink != nil,
	}
}

// Record fills in the record identity and timestamp and appends it to the
// sink. Exactly one call is made per invocation attempt by the dispatcher.
func (r *Recorder) Record(ctx context.Context, record *Record) {
	if !r.enabled {
		return
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	if err := r.sink.Append(ctx, record); err != nil {
		if r.metrics != nil {
			r.metrics.AuditFailures.Inc()
		}
		if r.logger != nil {
			r.logger.Error(ctx, "audit write failed",
				"tool_name", record.ToolName,
				"audit_id", record.ID,
				"error", err,
			)
		}
	}
}

// Close closes the underlying sink.
func (r *Recorder) Close() error {
	if r.sink == nil {
		return nil
	}
	return r.sink.Close()
}
