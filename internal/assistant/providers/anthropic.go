package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/coverdesk/coverdesk/internal/assistant"
	"github.com/coverdesk/coverdesk/pkg/models"
)

const anthropicMaxTokens = 4096

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// AnthropicProvider streams completions from the Anthropic messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates an Anthropic-backed completion provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Name implements assistant.CompletionProvider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete implements assistant.CompletionProvider.
func (p *AnthropicProvider) Complete(ctx context.Context, req *assistant.CompletionRequest) (<-chan assistant.CompletionChunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: anthropicMaxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan assistant.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream relays Anthropic stream events. A tool call spans three
// event kinds: content_block_start carries the ID and name,
// input_json_delta fragments carry the argument JSON, and
// content_block_stop completes the call.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- assistant.CompletionChunk) {
	defer close(chunks)

	// Every send races the context so a consumer that stops receiving
	// cannot strand this goroutine.
	send := func(chunk assistant.CompletionChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var pendingCall *models.ToolCall
	var pendingInput strings.Builder

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				pendingCall = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				pendingInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !send(assistant.CompletionChunk{Text: delta.Text}) {
					return
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					pendingInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if pendingCall != nil {
				args := pendingInput.String()
				if args == "" {
					args = "{}"
				}
				pendingCall.Arguments = json.RawMessage(args)
				if !send(assistant.CompletionChunk{ToolCall: pendingCall}) {
					return
				}
				pendingCall = nil
			}

		case "message_stop":
			send(assistant.CompletionChunk{Done: true})
			return

		case "error":
			send(assistant.CompletionChunk{Err: errors.New("anthropic stream error"), Done: true})
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(assistant.CompletionChunk{Err: err, Done: true})
	}
}

func convertAnthropicMessages(messages []*models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func convertAnthropicTools(defs []assistant.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		out = append(out, param)
	}
	return out, nil
}
