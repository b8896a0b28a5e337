package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coverdesk/coverdesk/internal/store"
	"github.com/coverdesk/coverdesk/pkg/models"
)

type createClientTool struct {
	clients store.ClientStore
}

func (t *createClientTool) Name() string { return "create_client" }
func (t *createClientTool) Mutating() bool { return true }

func (t *createClientTool) Description() string {
	return "Creates a new client record."
}

func (t *createClientTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"email": {"type": "string"},
			"phone": {"type": "string"},
			"tenant_id": {"type": "string"}
		},
		"required": ["name"],
		"additionalProperties": false
	}`)
}

func (t *createClientTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}

	client := &models.Client{
		TenantID: input.TenantID,
		Name:     input.Name,
		Email:    input.Email,
		Phone:    input.Phone,
	}
	if err := t.clients.Create(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Result{
		EntityType: "client",
		EntityID:   client.ID,
		State:      mustMarshal(client),
		Content:    fmt.Sprintf("Created client %q (id %s).", client.Name, client.ID),
	}, nil
}

type searchClientsTool struct {
	clients store.ClientStore
}

func (t *searchClientsTool) Name() string { return "search_clients" }
func (t *searchClientsTool) Mutating() bool { return false }

func (t *searchClientsTool) Description() string {
	return "Searches clients by name or email."
}

func (t *searchClientsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 50},
			"tenant_id": {"type": "string"}
		},
		"additionalProperties": false
	}`)
}

func (t *searchClientsTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Query    string `json:"query"`
		Limit    int    `json:"limit"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	if input.Limit == 0 {
		input.Limit = 10
	}

	matched, err := t.clients.Search(ctx, input.TenantID, input.Query, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search clients: %w", err)
	}

	return &Result{
		Content: string(mustMarshal(matched)),
	}, nil
}
