package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coverdesk/coverdesk/internal/observability"
)

// ErrUnknownPartition is returned for partition names never registered.
var ErrUnknownPartition = errors.New("unknown partition")

// FetchFunc recomputes a partition's value from the source of truth.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

type partition struct {
	fetch     FetchFunc
	value     json.RawMessage
	valid     bool
	observers int
}

// Store caches materialized query partitions. Partitions with active
// observers (an open dashboard view) are refetched eagerly on
// invalidation so the next read never pays the recompute; unobserved
// partitions are simply dropped and refetched lazily.
type Store struct {
	mu         sync.Mutex
	partitions map[string]*partition
	logger     *observability.Logger
}

// NewStore creates an empty partition store.
func NewStore(logger *observability.Logger) *Store {
	return &Store{
		partitions: make(map[string]*partition),
		logger:     logger,
	}
}

// Register installs the fetcher for a partition. Registering a name
// twice replaces the fetcher and drops any cached value.
func (s *Store) Register(name string, fetch FetchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	observers := 0
	if existing, ok := s.partitions[name]; ok {
		observers = existing.observers
	}
	s.partitions[name] = &partition{fetch: fetch, observers: observers}
}

// Observe marks a partition as actively watched. Callers must pair it
// with Unobserve.
func (s *Store) Observe(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[name]; ok {
		p.observers++
	}
}

// Unobserve releases one observation.
func (s *Store) Unobserve(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[name]; ok && p.observers > 0 {
		p.observers--
	}
}

// Get returns the cached value for a partition, fetching on miss.
func (s *Store) Get(ctx context.Context, name string) (json.RawMessage, error) {
	s.mu.Lock()
	p, ok := s.partitions[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, name)
	}
	if p.valid {
		value := p.value
		s.mu.Unlock()
		return value, nil
	}
	fetch := p.fetch
	s.mu.Unlock()

	value, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch partition %s: %w", name, err)
	}

	s.mu.Lock()
	p.value = value
	p.valid = true
	s.mu.Unlock()
	return value, nil
}

// Invalidate drops the cached value for a partition. Observed
// partitions are refetched immediately; a refetch failure leaves the
// partition invalid so the next Get retries.
func (s *Store) Invalidate(ctx context.Context, name string) error {
	s.mu.Lock()
	p, ok := s.partitions[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPartition, name)
	}
	p.valid = false
	p.value = nil
	observed := p.observers > 0
	fetch := p.fetch
	s.mu.Unlock()

	if !observed {
		return nil
	}

	value, err := fetch(ctx)
	if err != nil {
		s.logger.Warn(ctx, "eager refetch failed",
			"partition", name,
			"error", err,
		)
		return fmt.Errorf("failed to refetch partition %s: %w", name, err)
	}

	s.mu.Lock()
	p.value = value
	p.valid = true
	s.mu.Unlock()
	return nil
}

// Valid reports whether a partition currently holds a cached value.
func (s *Store) Valid(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[name]
	return ok && p.valid
}
