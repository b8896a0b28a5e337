package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/dispatch"
	"github.com/coverdesk/coverdesk/internal/observability"
	"github.com/coverdesk/coverdesk/internal/ratelimit"
	"github.com/coverdesk/coverdesk/internal/store"
	"github.com/coverdesk/coverdesk/internal/tools"
	"github.com/coverdesk/coverdesk/pkg/models"
)

// fakeProvider replays a scripted chunk sequence. When finished is set
// it is closed once the streaming goroutine exits.
type fakeProvider struct {
	chunks   []CompletionChunk
	err      error
	finished chan struct{}

	lastRequest *CompletionRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan CompletionChunk, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan CompletionChunk)
	go func() {
		defer close(out)
		if f.finished != nil {
			defer close(f.finished)
		}
		for _, chunk := range f.chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func newTestProducer(t *testing.T, provider CompletionProvider, limit int) (*Producer, store.StoreSet) {
	t.Helper()

	stores := store.NewMemoryStores().Set()
	registry, err := tools.NewRegistry(stores)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	recorder := audit.NewRecorder(nil, audit.Config{}, logger, nil)
	dispatcher := dispatch.NewDispatcher(registry, recorder, logger, nil, nil)

	counter := ratelimit.NewMemoryStore(0)
	limiter := ratelimit.NewLimiter(counter, ratelimit.Config{
		Limit:   limit,
		Window:  15 * time.Second,
		Enabled: true,
	})

	return NewProducer(limiter, stores.Conversations, dispatcher, provider, registry, logger, nil, nil), stores
}

func eventTypes(events []models.StreamEvent) []models.StreamEventType {
	out := make([]models.StreamEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRunTurnEventOrdering(t *testing.T) {
	provider := &fakeProvider{chunks: []CompletionChunk{
		{Text: "Let me create that. "},
		{ToolCall: &models.ToolCall{
			Name:      "create_deal",
			Arguments: json.RawMessage(`{"title": "ACME renewal", "value": 900}`),
		}},
		{Text: "The deal is in."},
		{Done: true},
	}}
	producer, stores := newTestProducer(t, provider, 10)

	var events []models.StreamEvent
	result, err := producer.RunTurn(context.Background(), ChatRequest{
		CallerID: "caller-1",
		Message:  "Create a deal for the ACME renewal, 900.",
	}, func(ev models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.ToolCalls != 1 {
		t.Fatalf("ToolCalls = %d, want 1", result.ToolCalls)
	}

	wantOrder := []models.StreamEventType{
		models.StreamEventDelta,
		models.StreamEventToolCall,
		models.StreamEventToolResult,
		models.StreamEventDelta,
	}
	got := eventTypes(events)
	if len(got) != len(wantOrder) {
		t.Fatalf("events = %v, want %v", got, wantOrder)
	}
	for i := range wantOrder {
		if got[i] != wantOrder[i] {
			t.Fatalf("events = %v, want %v", got, wantOrder)
		}
	}

	if events[1].ToolCall.Status != models.ToolStatusStarted {
		t.Fatalf("tool_call status = %q", events[1].ToolCall.Status)
	}
	if events[2].ToolResult.Outcome != models.OutcomeSucceeded {
		t.Fatalf("tool_result outcome = %q", events[2].ToolResult.Outcome)
	}

	conv, err := stores.Conversations.Get(context.Background(), result.ConversationID)
	if err != nil {
		t.Fatalf("Get conversation: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want user and assistant", len(conv.Messages))
	}
	assistantMsg := conv.Messages[1]
	if assistantMsg.InProgress {
		t.Fatal("assistant message should be finalized")
	}
	if assistantMsg.Content != "Let me create that. The deal is in." {
		t.Fatalf("Content = %q", assistantMsg.Content)
	}

	// The deal was actually created.
	byStage, err := stores.Deals.ListByStage(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(byStage[models.StageLead]) != 1 {
		t.Fatalf("deals in lead = %d, want 1", len(byStage[models.StageLead]))
	}
}

func TestRunTurnToolFailureDoesNotAbort(t *testing.T) {
	provider := &fakeProvider{chunks: []CompletionChunk{
		{ToolCall: &models.ToolCall{Name: "no_such_tool", Arguments: json.RawMessage(`{}`)}},
		{Text: "I could not do that."},
		{Done: true},
	}}
	producer, _ := newTestProducer(t, provider, 10)

	var events []models.StreamEvent
	result, err := producer.RunTurn(context.Background(), ChatRequest{
		CallerID: "caller-1",
		Message:  "hello",
	}, func(ev models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("RunTurn: a failed tool must not abort the turn: %v", err)
	}
	if result.ToolCalls != 1 {
		t.Fatalf("ToolCalls = %d, want 1", result.ToolCalls)
	}

	var sawFailure bool
	for _, ev := range events {
		if ev.Type == models.StreamEventToolResult {
			if ev.ToolResult.Outcome != models.OutcomeFailed || ev.ToolResult.Error == "" {
				t.Fatalf("tool_result = %+v, want failed with detail", ev.ToolResult)
			}
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("expected a failed tool_result event")
	}
}

func TestRunTurnMidStreamError(t *testing.T) {
	provider := &fakeProvider{chunks: []CompletionChunk{
		{Text: "Starting"},
		{Err: errors.New("upstream connection reset")},
	}}
	producer, stores := newTestProducer(t, provider, 10)

	conv := &models.Conversation{ID: "conv-1", OwnerID: "caller-1"}
	if err := stores.Conversations.Create(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	var events []models.StreamEvent
	_, err := producer.RunTurn(context.Background(), ChatRequest{
		ConversationID: conv.ID,
		CallerID:       "caller-1",
		Message:        "hello",
	}, func(ev models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err == nil {
		t.Fatal("expected a mid-stream error")
	}

	last := events[len(events)-1]
	if last.Type != models.StreamEventError || last.Error == "" {
		t.Fatalf("last event = %+v, want an error event", last)
	}

	// The partial message was still finalized and persisted.
	stored, err := stores.Conversations.Get(context.Background(), conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Messages) != 2 {
		t.Fatalf("messages = %d, want user and assistant", len(stored.Messages))
	}
	assistantMsg := stored.Messages[1]
	if assistantMsg.InProgress {
		t.Fatal("assistant message should be finalized after a stream error")
	}
	if assistantMsg.Content != "Starting" {
		t.Fatalf("Content = %q, want the partial text kept", assistantMsg.Content)
	}
}

func TestRunTurnEmitFailureAborts(t *testing.T) {
	provider := &fakeProvider{chunks: []CompletionChunk{
		{Text: "one"},
		{Text: "two"},
		{Done: true},
	}}
	producer, _ := newTestProducer(t, provider, 10)

	emitErr := errors.New("client gone")
	emitted := 0
	_, err := producer.RunTurn(context.Background(), ChatRequest{
		CallerID: "caller-1",
		Message:  "hello",
	}, func(models.StreamEvent) error {
		emitted++
		if emitted > 1 {
			return emitErr
		}
		return nil
	})
	if !errors.Is(err, emitErr) {
		t.Fatalf("err = %v, want the emit error", err)
	}
}

func TestRunTurnProviderRejection(t *testing.T) {
	provider := &fakeProvider{err: errors.New("model overloaded")}
	producer, stores := newTestProducer(t, provider, 10)

	conv := &models.Conversation{ID: "conv-1", OwnerID: "caller-1"}
	if err := stores.Conversations.Create(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	var events []models.StreamEvent
	_, err := producer.RunTurn(context.Background(), ChatRequest{
		ConversationID: conv.ID,
		CallerID:       "caller-1",
		Message:        "hello",
	}, func(ev models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(events) != 1 || events[0].Type != models.StreamEventError {
		t.Fatalf("events = %v, want a single error event", events)
	}

	// A rejected handshake leaves only the user message behind.
	stored, err := stores.Conversations.Get(context.Background(), conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Messages) != 1 {
		t.Fatalf("messages = %d, want just the user message", len(stored.Messages))
	}
	if stored.Messages[0].Role != models.RoleUser {
		t.Fatalf("role = %q, want user", stored.Messages[0].Role)
	}
}

func TestRunTurnEmitFailureReleasesProvider(t *testing.T) {
	provider := &fakeProvider{
		chunks: []CompletionChunk{
			{Text: "one"},
			{Text: "two"},
			{Text: "three"},
			{Done: true},
		},
		finished: make(chan struct{}),
	}
	producer, _ := newTestProducer(t, provider, 10)

	emitErr := errors.New("client gone")
	_, err := producer.RunTurn(context.Background(), ChatRequest{
		CallerID: "caller-1",
		Message:  "hello",
	}, func(models.StreamEvent) error {
		return emitErr
	})
	if !errors.Is(err, emitErr) {
		t.Fatalf("err = %v, want the emit error", err)
	}

	// The provider goroutine must still run to completion rather than
	// stay blocked on a send nobody receives.
	select {
	case <-provider.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("provider goroutine still blocked after the turn aborted")
	}
}

func TestRunTurnContinuesConversation(t *testing.T) {
	provider := &fakeProvider{chunks: []CompletionChunk{
		{Text: "reply"},
		{Done: true},
	}}
	producer, _ := newTestProducer(t, provider, 10)

	first, err := producer.RunTurn(context.Background(), ChatRequest{
		CallerID: "caller-1",
		Message:  "first",
	}, func(models.StreamEvent) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	_, err = producer.RunTurn(context.Background(), ChatRequest{
		ConversationID: first.ConversationID,
		CallerID:       "caller-1",
		Message:        "second",
	}, func(models.StreamEvent) error { return nil })
	if err != nil {
		t.Fatal(err)
	}

	// The provider sees the prior exchange plus the new user message.
	if got := len(provider.lastRequest.Messages); got != 3 {
		t.Fatalf("history length = %d, want 3", got)
	}
	if provider.lastRequest.System == "" {
		t.Fatal("expected a system prompt")
	}
	if len(provider.lastRequest.Tools) != 7 {
		t.Fatalf("tools = %d, want the full tool set", len(provider.lastRequest.Tools))
	}
}

func TestAdmitDenialAfterLimit(t *testing.T) {
	provider := &fakeProvider{chunks: []CompletionChunk{{Done: true}}}
	producer, _ := newTestProducer(t, provider, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		decision, err := producer.Admit(ctx, "caller-1")
		if err != nil || !decision.Allowed {
			t.Fatalf("Admit %d: %v %v", i, decision, err)
		}
	}
	decision, err := producer.Admit(ctx, "caller-1")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed {
		t.Fatal("expected denial past the limit")
	}
	if decision.RetryAfter <= 0 {
		t.Fatalf("RetryAfter = %s, want positive", decision.RetryAfter)
	}
}
