package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coverdesk/coverdesk/internal/store"
	"github.com/coverdesk/coverdesk/pkg/models"
)

type createAppointmentTool struct {
	appointments store.AppointmentStore
}

func (t *createAppointmentTool) Name() string { return "create_appointment" }
func (t *createAppointmentTool) Mutating() bool { return true }

func (t *createAppointmentTool) Description() string {
	return "Schedules an appointment. Times are RFC 3339 timestamps."
}

func (t *createAppointmentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"starts_at": {"type": "string", "minLength": 1},
			"ends_at": {"type": "string"},
			"client_id": {"type": "string"},
			"location": {"type": "string"},
			"tenant_id": {"type": "string"}
		},
		"required": ["title", "starts_at"],
		"additionalProperties": false
	}`)
}

func (t *createAppointmentTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Title    string `json:"title"`
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
		ClientID string `json:"client_id"`
		Location string `json:"location"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}

	startsAt, err := time.Parse(time.RFC3339, input.StartsAt)
	if err != nil {
		return nil, fmt.Errorf("invalid starts_at: %w", err)
	}
	var endsAt time.Time
	if input.EndsAt != "" {
		endsAt, err = time.Parse(time.RFC3339, input.EndsAt)
		if err != nil {
			return nil, fmt.Errorf("invalid ends_at: %w", err)
		}
		if endsAt.Before(startsAt) {
			return nil, fmt.Errorf("ends_at precedes starts_at")
		}
	}

	appt := &models.Appointment{
		TenantID: input.TenantID,
		ClientID: input.ClientID,
		Title:    input.Title,
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Location: input.Location,
	}
	if err := t.appointments.Create(ctx, appt); err != nil {
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	return &Result{
		EntityType: "appointment",
		EntityID:   appt.ID,
		State:      mustMarshal(appt),
		Content:    fmt.Sprintf("Scheduled %q at %s.", appt.Title, appt.StartsAt.Format(time.RFC3339)),
	}, nil
}

type listAppointmentsTool struct {
	appointments store.AppointmentStore
}

func (t *listAppointmentsTool) Name() string { return "list_appointments" }
func (t *listAppointmentsTool) Mutating() bool { return false }

func (t *listAppointmentsTool) Description() string {
	return "Lists upcoming appointments ordered by start time."
}

func (t *listAppointmentsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"limit": {"type": "integer", "minimum": 1, "maximum": 100},
			"tenant_id": {"type": "string"}
		},
		"additionalProperties": false
	}`)
}

func (t *listAppointmentsTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Limit    int    `json:"limit"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	if input.Limit == 0 {
		input.Limit = 20
	}

	appts, err := t.appointments.List(ctx, input.TenantID, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}

	return &Result{
		Content: string(mustMarshal(appts)),
	}, nil
}
