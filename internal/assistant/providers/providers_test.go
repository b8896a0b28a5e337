package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/coverdesk/coverdesk/internal/assistant"
	"github.com/coverdesk/coverdesk/pkg/models"
)

func sampleHistory() []*models.Message {
	return []*models.Message{
		{Role: models.RoleUser, Content: "Create a deal"},
		{Role: models.RoleAssistant, Content: "Done."},
		{Role: models.RoleAssistant, Content: ""},
		{Role: models.RoleUser, Content: "Thanks"},
	}
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected an error without an API key")
	}
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}
	if p.model != openai.GPT4o {
		t.Fatalf("model = %q, want the default", p.model)
	}
}

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected an error without an API key")
	}
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", Model: "claude-custom"})
	if err != nil {
		t.Fatal(err)
	}
	if p.model != "claude-custom" {
		t.Fatalf("model = %q", p.model)
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	out := convertOpenAIMessages(sampleHistory(), "system prompt")

	if len(out) != 4 {
		t.Fatalf("messages = %d, want system plus three non-empty", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "system prompt" {
		t.Fatalf("first message = %+v, want the system prompt", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleUser {
		t.Fatalf("role = %q", out[1].Role)
	}
	if out[2].Role != openai.ChatMessageRoleAssistant {
		t.Fatalf("role = %q", out[2].Role)
	}

	withoutSystem := convertOpenAIMessages(sampleHistory(), "")
	if len(withoutSystem) != 3 {
		t.Fatalf("messages = %d, want no system entry", len(withoutSystem))
	}
}

func TestConvertOpenAITools(t *testing.T) {
	defs := []assistant.ToolDefinition{
		{
			Name:        "create_deal",
			Description: "Creates a deal",
			Schema:      json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`),
		},
		{
			Name:   "broken_schema",
			Schema: json.RawMessage(`not json`),
		},
	}

	out := convertOpenAITools(defs)
	if len(out) != 2 {
		t.Fatalf("tools = %d", len(out))
	}
	if out[0].Type != openai.ToolTypeFunction || out[0].Function.Name != "create_deal" {
		t.Fatalf("tool = %+v", out[0])
	}

	// Unparseable schemas degrade to an empty object schema instead of
	// dropping the tool.
	params, ok := out[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Fatalf("fallback schema = %+v", out[1].Function.Parameters)
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	out := convertAnthropicMessages(sampleHistory())
	if len(out) != 3 {
		t.Fatalf("messages = %d, want empty content skipped", len(out))
	}
	if out[0].Role != anthropic.MessageParamRoleUser {
		t.Fatalf("role = %q", out[0].Role)
	}
	if out[1].Role != anthropic.MessageParamRoleAssistant {
		t.Fatalf("role = %q", out[1].Role)
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	defs := []assistant.ToolDefinition{{
		Name:        "create_client",
		Description: "Creates a client",
		Schema:      json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
	}}

	out, err := convertAnthropicTools(defs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].OfTool == nil {
		t.Fatalf("tools = %+v", out)
	}
	if out[0].OfTool.Name != "create_client" {
		t.Fatalf("name = %q", out[0].OfTool.Name)
	}

	_, err = convertAnthropicTools([]assistant.ToolDefinition{{
		Name:   "broken",
		Schema: json.RawMessage(`not json`),
	}})
	if err == nil {
		t.Fatal("expected an error for an unparseable schema")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("429 too many requests"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("invalid api key"), false},
		{errors.New("400 bad request"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
