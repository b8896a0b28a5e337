package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/coverdesk/coverdesk/internal/dispatch"
	"github.com/coverdesk/coverdesk/internal/observability"
	"github.com/coverdesk/coverdesk/internal/ratelimit"
	"github.com/coverdesk/coverdesk/internal/store"
	"github.com/coverdesk/coverdesk/internal/tools"
	"github.com/coverdesk/coverdesk/pkg/models"
)

const defaultSystemPrompt = "You are CoverDesk, an assistant for a business CRM. " +
	"You help manage clients, the sales pipeline, and appointments. " +
	"Use the provided tools to read and change records when the user asks."

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	// ConversationID selects an existing conversation; empty starts a
	// new one.
	ConversationID string `json:"conversation_id,omitempty"`

	// CallerID identifies the caller for rate limiting and auditing.
	CallerID string `json:"-"`

	// Message is the user's message text.
	Message string `json:"message"`
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	ConversationID string
	MessageID      string
	ToolCalls      int
}

// Producer runs one chat turn end to end: admission, message
// persistence, relaying the upstream completion stream, and synchronous
// tool dispatch with lifecycle events injected into the outbound stream.
type Producer struct {
	limiter       *ratelimit.Limiter
	conversations store.ConversationStore
	dispatcher    *dispatch.Dispatcher
	provider      CompletionProvider
	registry      *tools.Registry
	logger        *observability.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	system        string
}

// NewProducer wires a producer. Metrics and tracer may be nil in tests.
func NewProducer(
	limiter *ratelimit.Limiter,
	conversations store.ConversationStore,
	dispatcher *dispatch.Dispatcher,
	provider CompletionProvider,
	registry *tools.Registry,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
) *Producer {
	return &Producer{
		limiter:       limiter,
		conversations: conversations,
		dispatcher:    dispatcher,
		provider:      provider,
		registry:      registry,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
		system:        defaultSystemPrompt,
	}
}

// Admit decides whether a turn from callerID may start. A denial counts
// against the caller's window like any other attempt.
func (p *Producer) Admit(ctx context.Context, callerID string) (ratelimit.Decision, error) {
	decision, err := p.limiter.Admit(ctx, callerID)
	if err != nil {
		p.logger.Warn(ctx, "rate limiter store error", "error", err)
	}
	if !decision.Allowed {
		if p.metrics != nil {
			p.metrics.RateLimitDenials.Inc()
		}
		p.logger.Info(ctx, "turn denied by rate limiter",
			"caller_id", callerID,
			"retry_after", decision.RetryAfter.String(),
		)
	}
	return decision, nil
}

// RunTurn executes one admitted turn, calling emit for every outbound
// stream event in order. Tool calls detected mid-stream are executed
// synchronously: the tool_call event is emitted, the tool runs to its
// terminal state, the tool_result event is emitted, and only then does
// relaying resume. An emit error means the client is gone and aborts
// the turn; the partial assistant message is finalized as-is.
func (p *Producer) RunTurn(ctx context.Context, req ChatRequest, emit func(models.StreamEvent) error) (result *TurnResult, err error) {
	start := time.Now()
	outcome := "completed"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		if p.metrics != nil {
			p.metrics.TurnCounter.WithLabelValues(outcome).Inc()
			p.metrics.StreamDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		}
	}()

	conv, err := p.loadOrCreateConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = observability.AddConversationID(ctx, conv.ID)

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.StartTurn(ctx, conv.ID, req.CallerID)
		defer func() { observability.EndWithError(span, err) }()
	}

	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Message,
		CreatedAt:      time.Now(),
	}
	if err := p.conversations.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	conv.Messages = append(conv.Messages, userMsg)

	// The upstream handshake happens before the assistant message exists:
	// a rejected turn leaves no partial message in the conversation.
	chunks, err := p.provider.Complete(ctx, &CompletionRequest{
		System:   p.system,
		Messages: conv.Messages,
		Tools:    p.toolDefinitions(),
	})
	if err != nil {
		if emitErr := emit(models.ErrorEvent(err.Error())); emitErr != nil {
			return nil, emitErr
		}
		return nil, fmt.Errorf("upstream completion failed: %w", err)
	}

	assistantMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		InProgress:     true,
		CreatedAt:      time.Now(),
	}
	if err := p.conversations.AppendMessage(ctx, conv.ID, assistantMsg); err != nil {
		drainChunks(chunks)
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	toolCalls := 0
	turn := dispatch.Turn{
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		CallerID:       req.CallerID,
	}

	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			p.finalize(ctx, assistantMsg)
			drainChunks(chunks)
			if emitErr := emit(models.ErrorEvent(chunk.Err.Error())); emitErr != nil {
				return nil, emitErr
			}
			return nil, fmt.Errorf("stream failed mid-turn: %w", chunk.Err)

		case chunk.ToolCall != nil:
			toolCalls++
			call := *chunk.ToolCall
			if emitErr := emit(models.ToolCallStarted(call.Name, call.Arguments)); emitErr != nil {
				p.finalize(ctx, assistantMsg)
				drainChunks(chunks)
				return nil, emitErr
			}

			_, execErr := p.dispatcher.Execute(ctx, call, turn)
			event := models.ToolResulted(call.Name, models.OutcomeSucceeded, "")
			if execErr != nil {
				event = models.ToolResulted(call.Name, models.OutcomeFailed, execErr.Error())
			}
			if emitErr := emit(event); emitErr != nil {
				p.finalize(ctx, assistantMsg)
				drainChunks(chunks)
				return nil, emitErr
			}

		case chunk.Text != "":
			assistantMsg.Append(chunk.Text)
			if emitErr := emit(models.DeltaEvent(chunk.Text)); emitErr != nil {
				p.finalize(ctx, assistantMsg)
				drainChunks(chunks)
				return nil, emitErr
			}

		case chunk.Done:
			// Fall through to finalization once the channel drains.
		}
	}

	p.finalize(ctx, assistantMsg)
	p.logger.Info(ctx, "turn completed",
		"message_id", assistantMsg.ID,
		"tool_calls", toolCalls,
		"content_len", len(assistantMsg.Content),
	)
	return &TurnResult{
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		ToolCalls:      toolCalls,
	}, nil
}

// drainChunks consumes the rest of an abandoned provider stream so the
// provider goroutine can reach its close and exit.
func drainChunks(chunks <-chan CompletionChunk) {
	go func() {
		for range chunks {
		}
	}()
}

func (p *Producer) loadOrCreateConversation(ctx context.Context, req ChatRequest) (*models.Conversation, error) {
	if req.ConversationID == "" {
		conv := &models.Conversation{
			ID:        uuid.NewString(),
			OwnerID:   req.CallerID,
			CreatedAt: time.Now(),
		}
		if err := p.conversations.Create(ctx, conv); err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		return conv, nil
	}

	conv, err := p.conversations.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", req.ConversationID, err)
	}
	return conv, nil
}

// finalize marks the assistant message complete with whatever content
// accumulated and persists it. Persistence failure is logged, not fatal:
// the stream already carried the content to the client.
func (p *Producer) finalize(ctx context.Context, msg *models.Message) {
	msg.Finalize(nil)
	if err := p.conversations.UpdateMessage(ctx, msg); err != nil {
		p.logger.Error(ctx, "failed to persist finalized message",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

func (p *Producer) toolDefinitions() []ToolDefinition {
	all := p.registry.All()
	defs := make([]ToolDefinition, 0, len(all))
	for _, t := range all {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return defs
}
