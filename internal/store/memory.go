package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/pkg/models"
)

// MemoryStores is an in-memory StoreSet used for development and tests.
type MemoryStores struct {
	clients       *memoryClientStore
	deals         *memoryDealStore
	appointments  *memoryAppointmentStore
	conversations *memoryConversationStore
}

// NewMemoryStores creates an empty in-memory store set.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		clients:       &memoryClientStore{clients: make(map[string]*models.Client)},
		deals:         &memoryDealStore{deals: make(map[string]*models.Deal)},
		appointments:  &memoryAppointmentStore{appts: make(map[string]*models.Appointment)},
		conversations: &memoryConversationStore{convs: make(map[string]*models.Conversation)},
	}
}

// Set returns the stores as a StoreSet.
func (m *MemoryStores) Set() StoreSet {
	return StoreSet{
		Clients:       m.clients,
		Deals:         m.deals,
		Appointments:  m.appointments,
		Conversations: m.conversations,
	}
}

type memoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*models.Client
}

func (s *memoryClientStore) Create(ctx context.Context, client *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	if _, exists := s.clients[client.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now()
	client.CreatedAt = now
	client.UpdatedAt = now

	copied := *client
	s.clients[client.ID] = &copied
	return nil
}

func (s *memoryClientStore) Get(ctx context.Context, id string) (*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *client
	return &copied, nil
}

func (s *memoryClientStore) Search(ctx context.Context, tenantID, query string, limit int) ([]*models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(query)
	var matched []*models.Client
	for _, c := range s.clients {
		if tenantID != "" && c.TenantID != tenantID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(c.Name), query) &&
			!strings.Contains(strings.ToLower(c.Email), query) {
			continue
		}
		copied := *c
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type memoryDealStore struct {
	mu    sync.RWMutex
	deals map[string]*models.Deal
}

func (s *memoryDealStore) Create(ctx context.Context, deal *models.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deal.ID == "" {
		deal.ID = uuid.NewString()
	}
	if _, exists := s.deals[deal.ID]; exists {
		return ErrAlreadyExists
	}
	if deal.Stage == "" {
		deal.Stage = models.StageLead
	}
	now := time.Now()
	deal.CreatedAt = now
	deal.UpdatedAt = now

	copied := *deal
	s.deals[deal.ID] = &copied
	return nil
}

func (s *memoryDealStore) Get(ctx context.Context, id string) (*models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deal, ok := s.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *deal
	return &copied, nil
}

func (s *memoryDealStore) MoveStage(ctx context.Context, id string, stage models.DealStage) (*models.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deal, ok := s.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	deal.Stage = stage
	deal.UpdatedAt = time.Now()

	copied := *deal
	return &copied, nil
}

func (s *memoryDealStore) ListByStage(ctx context.Context, tenantID string) (map[models.DealStage][]*models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStage := make(map[models.DealStage][]*models.Deal)
	for _, d := range s.deals {
		if tenantID != "" && d.TenantID != tenantID {
			continue
		}
		copied := *d
		byStage[d.Stage] = append(byStage[d.Stage], &copied)
	}
	for _, deals := range byStage {
		sort.Slice(deals, func(i, j int) bool { return deals[i].CreatedAt.Before(deals[j].CreatedAt) })
	}
	return byStage, nil
}

type memoryAppointmentStore struct {
	mu    sync.RWMutex
	appts map[string]*models.Appointment
}

func (s *memoryAppointmentStore) Create(ctx context.Context, appt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if _, exists := s.appts[appt.ID]; exists {
		return ErrAlreadyExists
	}
	appt.CreatedAt = time.Now()

	copied := *appt
	s.appts[appt.ID] = &copied
	return nil
}

func (s *memoryAppointmentStore) List(ctx context.Context, tenantID string, limit int) ([]*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Appointment
	for _, a := range s.appts {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*models.Conversation
}

func (s *memoryConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if _, exists := s.convs[conv.ID]; exists {
		return ErrAlreadyExists
	}
	conv.CreatedAt = time.Now()

	copied := *conv
	copied.Messages = append([]*models.Message(nil), conv.Messages...)
	s.convs[conv.ID] = &copied
	return nil
}

func (s *memoryConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	copied.Messages = append([]*models.Message(nil), conv.Messages...)
	return &copied, nil
}

func (s *memoryConversationStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	msg.CreatedAt = time.Now()
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (s *memoryConversationStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	for i, existing := range conv.Messages {
		if existing.ID == msg.ID {
			conv.Messages[i] = msg
			return nil
		}
	}
	return ErrNotFound
}
