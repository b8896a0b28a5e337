// Package store defines the data-store collaborator interfaces the tool
// dispatcher operates against, plus an in-memory implementation. The
// hosted relational schema lives outside this subsystem; tools see one
// operation per interface method returning the new entity state or a
// typed failure.
package store

import (
	"context"
	"errors"

	"github.com/coverdesk/coverdesk/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ClientStore persists CRM client records.
type ClientStore interface {
	Create(ctx context.Context, client *models.Client) error
	Get(ctx context.Context, id string) (*models.Client, error)
	Search(ctx context.Context, tenantID, query string, limit int) ([]*models.Client, error)
}

// DealStore persists sales-pipeline records.
type DealStore interface {
	Create(ctx context.Context, deal *models.Deal) error
	Get(ctx context.Context, id string) (*models.Deal, error)
	MoveStage(ctx context.Context, id string, stage models.DealStage) (*models.Deal, error)
	ListByStage(ctx context.Context, tenantID string) (map[models.DealStage][]*models.Deal, error)
}

// AppointmentStore persists appointments.
type AppointmentStore interface {
	Create(ctx context.Context, appt *models.Appointment) error
	List(ctx context.Context, tenantID string, limit int) ([]*models.Appointment, error)
}

// ConversationStore persists conversations and their messages.
// Conversations are only ever appended to by this subsystem.
type ConversationStore interface {
	Create(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error
	UpdateMessage(ctx context.Context, msg *models.Message) error
}

// StoreSet groups the storage dependencies handed to the tool set.
type StoreSet struct {
	Clients       ClientStore
	Deals         DealStore
	Appointments  AppointmentStore
	Conversations ConversationStore
}
