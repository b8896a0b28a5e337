// Package assistant produces the outbound chat event stream: it admits a
// turn, relays completion tokens from the upstream model, executes tool
// calls inline through the dispatcher, and multiplexes everything into
// one ordered event sequence.
package assistant

import (
	"context"
	"encoding/json"

	"github.com/coverdesk/coverdesk/pkg/models"
)

// ToolDefinition describes one callable tool to the upstream model.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// CompletionRequest is a provider-neutral completion request for one turn.
type CompletionRequest struct {
	// System is the system prompt, if any.
	System string

	// Messages is the conversation history in order, ending with the
	// user message that opened this turn.
	Messages []*models.Message

	// Tools the model may call.
	Tools []ToolDefinition
}

// CompletionChunk is one unit of the upstream completion stream. At most
// one of Text, ToolCall, and Err is set; Done marks normal completion.
type CompletionChunk struct {
	Text     string
	ToolCall *models.ToolCall
	Err      error
	Done     bool
}

// CompletionProvider streams a completion for one turn. The returned
// channel is closed by the provider when the stream ends; errors during
// streaming arrive as chunks with Err set.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (<-chan CompletionChunk, error)
}
