// Package dispatch executes tool invocation requests emitted mid-stream by
// the completion provider and wraps every attempt with an audit record.
//
// Each invocation moves Pending -> Executing -> (Succeeded | Failed).
// There are no retries here; retry policy belongs to the caller.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/observability"
	"github.com/coverdesk/coverdesk/internal/tools"
	"github.com/coverdesk/coverdesk/pkg/models"
)

// Turn identifies the chat turn a tool invocation belongs to. The audit
// record keeps these as weak references.
type Turn struct {
	ConversationID string
	MessageID      string
	CallerID       string
}

// Dispatcher routes tool calls to the closed tool set and records exactly
// one terminal audit entry per invocation attempt.
type Dispatcher struct {
	registry *tools.Registry
	recorder *audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewDispatcher creates a dispatcher. Logger is required; metrics and
// tracer may be nil in tests.
func NewDispatcher(registry *tools.Registry, recorder *audit.Recorder, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// IsMutating reports whether name is a registered write tool.
func (d *Dispatcher) IsMutating(name string) bool {
	return d.registry.IsMutating(name)
}

// Execute runs one tool call. An unknown tool or a failed execution is
// fatal for this invocation only: the error is returned so the producer
// can report a failed tool result, and the stream continues. Every path,
// success or failure, writes exactly one terminal audit record whose
// duration spans dispatch start to the terminal write.
func (d *Dispatcher) Execute(ctx context.Context, call models.ToolCall, turn Turn) (result *tools.Result, err error) {
	start := time.Now()

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.StartTool(ctx, call.Name)
		defer func() { observability.EndWithError(span, err) }()
	}

	record := &audit.Record{
		ConversationID: turn.ConversationID,
		MessageID:      turn.MessageID,
		CallerID:       turn.CallerID,
		ToolName:       call.Name,
	}

	tool, err := d.registry.Lookup(call.Name)
	if err != nil {
		return nil, d.fail(ctx, record, start, err)
	}

	if err := d.registry.Validate(call.Name, call.Arguments); err != nil {
		return nil, d.fail(ctx, record, start, err)
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	// Before-state snapshot, when the target is determinable from the
	// arguments. A snapshot failure is not fatal: execution decides the
	// outcome, and a missing target will fail there with a better error.
	if snapshotter, ok := tool.(tools.Snapshotter); ok {
		snap, snapErr := snapshotter.Snapshot(ctx, args)
		switch {
		case snapErr == nil && snap != nil:
			record.EntityType = snap.EntityType
			record.EntityID = snap.EntityID
			record.Before = snap.State
		case snapErr != nil:
			d.logger.Warn(ctx, "before-state snapshot failed",
				"tool_name", call.Name,
				"error", snapErr,
			)
		}
	}

	result, err = tool.Execute(ctx, args)
	if err != nil {
		return nil, d.fail(ctx, record, start, err)
	}

	record.Success = true
	if result != nil {
		if result.EntityType != "" {
			record.EntityType = result.EntityType
			record.EntityID = result.EntityID
		}
		record.After = result.State
	}
	record.Duration = time.Since(start)
	d.recorder.Record(ctx, record)

	if d.metrics != nil {
		d.metrics.ToolExecutionCounter.WithLabelValues(call.Name, "success").Inc()
		d.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(record.Duration.Seconds())
	}
	d.logger.Info(ctx, "tool executed",
		"tool_name", call.Name,
		"entity_type", record.EntityType,
		"entity_id", record.EntityID,
		"duration_ms", record.Duration.Milliseconds(),
	)
	return result, nil
}

// fail writes the terminal failure record and returns err unchanged.
func (d *Dispatcher) fail(ctx context.Context, record *audit.Record, start time.Time, err error) error {
	record.Success = false
	record.Error = err.Error()
	record.Duration = time.Since(start)
	d.recorder.Record(ctx, record)

	if d.metrics != nil {
		d.metrics.ToolExecutionCounter.WithLabelValues(record.ToolName, "error").Inc()
		d.metrics.ToolExecutionDuration.WithLabelValues(record.ToolName).Observe(record.Duration.Seconds())
	}

	level := d.logger.Warn
	if errors.Is(err, tools.ErrUnknownTool) {
		level = d.logger.Error
	}
	level(ctx, "tool execution failed",
		"tool_name", record.ToolName,
		"error", err,
		"duration_ms", record.Duration.Milliseconds(),
	)
	return err
}
