package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coverdesk/coverdesk/internal/store"
	"github.com/coverdesk/coverdesk/pkg/models"
)

type createDealTool struct {
	deals store.DealStore
}

func (t *createDealTool) Name() string { return "create_deal" }
func (t *createDealTool) Mutating() bool { return true }

func (t *createDealTool) Description() string {
	return "Creates a new deal in the sales pipeline. New deals start in the lead stage unless another stage is given."
}

func (t *createDealTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1, "description": "Deal title"},
			"client_id": {"type": "string", "description": "Existing client the deal belongs to"},
			"value": {"type": "number", "minimum": 0, "description": "Deal value"},
			"stage": {"type": "string", "enum": ["lead", "qualified", "proposal", "negotiation", "won", "lost"]},
			"tenant_id": {"type": "string"}
		},
		"required": ["title"],
		"additionalProperties": false
	}`)
}

func (t *createDealTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Title    string  `json:"title"`
		ClientID string  `json:"client_id"`
		Value    float64 `json:"value"`
		Stage    string  `json:"stage"`
		TenantID string  `json:"tenant_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}

	deal := &models.Deal{
		TenantID: input.TenantID,
		ClientID: input.ClientID,
		Title:    input.Title,
		Stage:    models.DealStage(input.Stage),
		Value:    input.Value,
	}
	if err := t.deals.Create(ctx, deal); err != nil {
		return nil, fmt.Errorf("failed to create deal: %w", err)
	}

	return &Result{
		EntityType: "deal",
		EntityID:   deal.ID,
		State:      mustMarshal(deal),
		Content:    fmt.Sprintf("Created deal %q (id %s) in stage %s.", deal.Title, deal.ID, deal.Stage),
	}, nil
}

type moveDealStageTool struct {
	deals store.DealStore
}

func (t *moveDealStageTool) Name() string { return "move_deal_stage" }
func (t *moveDealStageTool) Mutating() bool { return true }

func (t *moveDealStageTool) Description() string {
	return "Moves an existing deal to another pipeline stage."
}

func (t *moveDealStageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"deal_id": {"type": "string", "minLength": 1},
			"stage": {"type": "string", "enum": ["lead", "qualified", "proposal", "negotiation", "won", "lost"]}
		},
		"required": ["deal_id", "stage"],
		"additionalProperties": false
	}`)
}

// Snapshot fetches the deal's current state before the move, for the
// before-state audit snapshot.
func (t *moveDealStageTool) Snapshot(ctx context.Context, args json.RawMessage) (*Snapshot, error) {
	var input struct {
		DealID string `json:"deal_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}

	deal, err := t.deals.Get(ctx, input.DealID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		EntityType: "deal",
		EntityID:   deal.ID,
		State:      mustMarshal(deal),
	}, nil
}

func (t *moveDealStageTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		DealID string `json:"deal_id"`
		Stage  string `json:"stage"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}

	stage := models.DealStage(input.Stage)
	if !models.ValidStage(stage) {
		return nil, fmt.Errorf("invalid stage %q", input.Stage)
	}

	deal, err := t.deals.MoveStage(ctx, input.DealID, stage)
	if err != nil {
		return nil, fmt.Errorf("failed to move deal: %w", err)
	}

	return &Result{
		EntityType: "deal",
		EntityID:   deal.ID,
		State:      mustMarshal(deal),
		Content:    fmt.Sprintf("Moved deal %q to stage %s.", deal.Title, deal.Stage),
	}, nil
}

type getPipelineTool struct {
	deals store.DealStore
}

func (t *getPipelineTool) Name() string { return "get_pipeline" }
func (t *getPipelineTool) Mutating() bool { return false }

func (t *getPipelineTool) Description() string {
	return "Returns the sales pipeline grouped by stage."
}

func (t *getPipelineTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tenant_id": {"type": "string"}
		},
		"additionalProperties": false
	}`)
}

func (t *getPipelineTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}

	byStage, err := t.deals.ListByStage(ctx, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}

	return &Result{
		Content: string(mustMarshal(byStage)),
	}, nil
}
