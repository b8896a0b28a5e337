package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink is an append-only destination for audit records. Implementations
// must tolerate concurrent Append calls.
type Sink interface {
	Append(ctx context.Context, record *Record) error
	Close() error
}

// LogSink writes records as structured log events through slog. Writes are
// buffered and flushed asynchronously so the hot path never blocks on the
// log destination; Close drains the buffer.
type LogSink struct {
	logger           *slog.Logger
	includeSnapshots bool

	buffer   chan *Record
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewLogSink creates a log-backed sink. bufferSize defaults to 256.
func NewLogSink(logger *slog.Logger, includeSnapshots bool, bufferSize int) *LogSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	s := &LogSink{
		logger:           logger.With("component", "audit"),
		includeSnapshots: includeSnapshots,
		buffer:           make(chan *Record, bufferSize),
		done:             make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// Append implements Sink. A full buffer falls back to a direct write
// rather than dropping the record.
func (s *LogSink) Append(ctx context.Context, record *Record) error {
	select {
	case s.buffer <- record:
	default:
		s.write(record)
	}
	return nil
}

// Close drains buffered records and stops the writer.
func (s *LogSink) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

func (s *LogSink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case record := <-s.buffer:
			s.write(record)
		case <-s.done:
			for {
				select {
				case record := <-s.buffer:
					s.write(record)
				default:
					return
				}
			}
		}
	}
}

func (s *LogSink) write(record *Record) {
	attrs := []any{
		"audit_id", record.ID,
		"conversation_id", record.ConversationID,
		"message_id", record.MessageID,
		"caller_id", record.CallerID,
		"tool_name", record.ToolName,
		"success", record.Success,
		"duration_ms", record.Duration.Milliseconds(),
		"timestamp", record.CreatedAt.Format(time.RFC3339Nano),
	}
	if record.EntityType != "" {
		attrs = append(attrs, "entity_type", record.EntityType, "entity_id", record.EntityID)
	}
	if record.Error != "" {
		attrs = append(attrs, "error", record.Error)
	}
	if s.includeSnapshots {
		if record.Before != nil {
			attrs = append(attrs, "before", string(record.Before))
		}
		if record.After != nil {
			attrs = append(attrs, "after", string(record.After))
		}
	}

	if record.Success {
		s.logger.Info("tool invocation", attrs...)
	} else {
		s.logger.Warn("tool invocation", attrs...)
	}
}
