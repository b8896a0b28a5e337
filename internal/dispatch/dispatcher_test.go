package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/observability"
	"github.com/coverdesk/coverdesk/internal/store"
	"github.com/coverdesk/coverdesk/internal/tools"
	"github.com/coverdesk/coverdesk/pkg/models"
)

type captureSink struct {
	mu      sync.Mutex
	records []*audit.Record
	err     error
}

func (s *captureSink) Append(_ context.Context, record *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) all() []*audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audit.Record(nil), s.records...)
}

func newTestDispatcher(t *testing.T, sink audit.Sink) (*Dispatcher, store.StoreSet) {
	t.Helper()
	stores := store.NewMemoryStores().Set()
	registry, err := tools.NewRegistry(stores)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	recorder := audit.NewRecorder(sink, audit.Config{Enabled: true}, logger, nil)
	return NewDispatcher(registry, recorder, logger, nil, nil), stores
}

func testTurn() Turn {
	return Turn{ConversationID: "conv-1", MessageID: "msg-1", CallerID: "caller-1"}
}

func TestExecuteSuccessWritesOneRecord(t *testing.T) {
	sink := &captureSink{}
	dispatcher, _ := newTestDispatcher(t, sink)

	result, err := dispatcher.Execute(context.Background(), models.ToolCall{
		Name:      "create_deal",
		Arguments: json.RawMessage(`{"title": "ACME renewal", "value": 1200}`),
	}, testTurn())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result == nil || result.EntityID == "" {
		t.Fatal("expected a result with an entity id")
	}

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("records = %d, want exactly 1", len(records))
	}
	rec := records[0]
	if !rec.Success {
		t.Fatal("expected success record")
	}
	if rec.ToolName != "create_deal" || rec.EntityType != "deal" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Before != nil {
		t.Fatal("creates have no before state")
	}
	if rec.After == nil {
		t.Fatal("expected after-state snapshot")
	}
	if rec.ConversationID != "conv-1" || rec.CallerID != "caller-1" {
		t.Fatalf("turn identity not carried: %+v", rec)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	sink := &captureSink{}
	dispatcher, _ := newTestDispatcher(t, sink)

	_, err := dispatcher.Execute(context.Background(), models.ToolCall{
		Name:      "drop_database",
		Arguments: json.RawMessage(`{}`),
	}, testTurn())
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("records = %d, want exactly 1 failure record", len(records))
	}
	if records[0].Success {
		t.Fatal("expected failure record")
	}
	if records[0].Error == "" {
		t.Fatal("expected error detail on the record")
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	sink := &captureSink{}
	dispatcher, _ := newTestDispatcher(t, sink)

	tests := []struct {
		name string
		args string
	}{
		{"missing required field", `{"value": 100}`},
		{"wrong type", `{"title": 42}`},
		{"unknown property", `{"title": "x", "priority": "high"}`},
		{"not json", `{"title": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(sink.all())
			_, err := dispatcher.Execute(context.Background(), models.ToolCall{
				Name:      "create_deal",
				Arguments: json.RawMessage(tt.args),
			}, testTurn())
			if err == nil {
				t.Fatal("expected validation error")
			}
			records := sink.all()
			if len(records) != before+1 {
				t.Fatalf("records grew by %d, want 1", len(records)-before)
			}
			if records[len(records)-1].Success {
				t.Fatal("expected failure record")
			}
		})
	}
}

func TestExecuteFailureWritesOneRecord(t *testing.T) {
	sink := &captureSink{}
	dispatcher, _ := newTestDispatcher(t, sink)

	_, err := dispatcher.Execute(context.Background(), models.ToolCall{
		Name:      "move_deal_stage",
		Arguments: json.RawMessage(`{"deal_id": "no-such-deal", "stage": "won"}`),
	}, testTurn())
	if err == nil {
		t.Fatal("expected execution error")
	}

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("records = %d, want exactly 1", len(records))
	}
	if records[0].Success {
		t.Fatal("expected failure record")
	}
}

func TestExecuteBeforeSnapshot(t *testing.T) {
	sink := &captureSink{}
	dispatcher, stores := newTestDispatcher(t, sink)

	deal := &models.Deal{Title: "ACME renewal", Stage: models.StageLead}
	if err := stores.Deals.Create(context.Background(), deal); err != nil {
		t.Fatalf("seed deal: %v", err)
	}

	_, err := dispatcher.Execute(context.Background(), models.ToolCall{
		Name:      "move_deal_stage",
		Arguments: json.RawMessage(`{"deal_id": "` + deal.ID + `", "stage": "qualified"}`),
	}, testTurn())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	records := sink.all()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Before == nil || rec.After == nil {
		t.Fatal("expected both before and after snapshots")
	}
	if !strings.Contains(string(rec.Before), `"lead"`) {
		t.Fatalf("before = %s, want the pre-move stage", rec.Before)
	}
	if !strings.Contains(string(rec.After), `"qualified"`) {
		t.Fatalf("after = %s, want the post-move stage", rec.After)
	}
	if rec.EntityID != deal.ID {
		t.Fatalf("EntityID = %q, want %q", rec.EntityID, deal.ID)
	}
}

func TestExecuteSurvivesSinkFailure(t *testing.T) {
	sink := &captureSink{err: errors.New("sink unavailable")}
	dispatcher, _ := newTestDispatcher(t, sink)

	result, err := dispatcher.Execute(context.Background(), models.ToolCall{
		Name:      "create_client",
		Arguments: json.RawMessage(`{"name": "ACME Corp"}`),
	}, testTurn())
	if err != nil {
		t.Fatalf("Execute must not fail on audit sink errors: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
}

func TestIsMutating(t *testing.T) {
	dispatcher, _ := newTestDispatcher(t, &captureSink{})

	tests := []struct {
		name string
		want bool
	}{
		{"create_deal", true},
		{"move_deal_stage", true},
		{"create_client", true},
		{"create_appointment", true},
		{"get_pipeline", false},
		{"search_clients", false},
		{"list_appointments", false},
		{"drop_database", false},
	}
	for _, tt := range tests {
		if got := dispatcher.IsMutating(tt.name); got != tt.want {
			t.Errorf("IsMutating(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
