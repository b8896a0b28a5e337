package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSink struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (s *captureSink) Append(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestRecorderFillsIdentity(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(sink, Config{Enabled: true}, nil, nil)

	record := &Record{ToolName: "create_deal", Success: true}
	recorder.Record(context.Background(), record)

	if sink.count() != 1 {
		t.Fatalf("records = %d, want 1", sink.count())
	}
	if record.ID == "" {
		t.Fatal("expected a generated record id")
	}
	if record.CreatedAt.IsZero() {
		t.Fatal("expected a timestamp")
	}
}

func TestRecorderPreservesCallerIdentity(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(sink, Config{Enabled: true}, nil, nil)

	when := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	record := &Record{ID: "fixed-id", ToolName: "move_deal_stage", CreatedAt: when}
	recorder.Record(context.Background(), record)

	if record.ID != "fixed-id" {
		t.Fatalf("ID = %q, want caller-provided id kept", record.ID)
	}
	if !record.CreatedAt.Equal(when) {
		t.Fatalf("CreatedAt = %s, want caller-provided timestamp kept", record.CreatedAt)
	}
}

func TestRecorderDisabledDropsRecords(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(sink, Config{Enabled: false}, nil, nil)

	recorder.Record(context.Background(), &Record{ToolName: "create_client"})
	if sink.count() != 0 {
		t.Fatalf("records = %d, want 0 when disabled", sink.count())
	}
}

func TestRecorderNilSinkDropsRecords(t *testing.T) {
	recorder := NewRecorder(nil, Config{Enabled: true}, nil, nil)
	recorder.Record(context.Background(), &Record{ToolName: "create_client"})
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	sink := &captureSink{err: errors.New("disk full")}
	recorder := NewRecorder(sink, Config{Enabled: true}, nil, nil)

	// Must not panic or propagate; the domain operation already succeeded.
	recorder.Record(context.Background(), &Record{ToolName: "create_deal", Success: true})
}

func TestLogSinkDrainsOnClose(t *testing.T) {
	logger := discardLogger()
	sink := NewLogSink(logger, false, 4)

	for i := 0; i < 10; i++ {
		if err := sink.Append(context.Background(), &Record{ID: "r", ToolName: "create_deal"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
