// Package ratelimit gates chat-turn admission with a sliding time window
// per caller identity.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config configures the sliding-window limiter.
type Config struct {
	// Limit is the maximum admissions per rolling window per caller.
	Limit int `yaml:"limit"`

	// Window is the rolling window duration.
	Window time.Duration `yaml:"window"`

	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`

	// FailOpen admits turns when the counter store is unreachable.
	// The alternative denies them. Default is fail-open: a broken
	// counter store should degrade throttling, not availability.
	FailOpen bool `yaml:"fail_open"`
}

// DefaultConfig returns the reference deployment configuration.
func DefaultConfig() Config {
	return Config{
		Limit:    10,
		Window:   15 * time.Second,
		Enabled:  true,
		FailOpen: true,
	}
}

// CounterStore is the shared counter backing the limiter. Add records one
// admission attempt for key at time now and returns the number of attempts
// inside the window ending at now, including this one, plus the oldest
// attempt still inside the window. The count-and-record must be a single
// atomic operation so two concurrent turns cannot both observe the last
// free slot.
type CounterStore interface {
	Add(ctx context.Context, key string, now time.Time, window time.Duration) (count int, oldest time.Time, err error)
}

// Decision is the outcome of an admission attempt.
type Decision struct {
	// Allowed reports whether the turn may proceed.
	Allowed bool

	// RetryAfter is a hint for denied callers: how long until a slot
	// frees up. Zero when Allowed.
	RetryAfter time.Duration
}

// Limiter admits turns at most Limit times per rolling Window per caller.
// The window counter increments on every admission attempt regardless of
// outcome.
type Limiter struct {
	store  CounterStore
	config Config
	now    func() time.Time
}

// NewLimiter creates a limiter backed by the given counter store.
func NewLimiter(store CounterStore, config Config) *Limiter {
	if config.Limit <= 0 {
		config.Limit = DefaultConfig().Limit
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	return &Limiter{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// Admit records an admission attempt for callerID and decides whether the
// turn may proceed. When the counter store errors the configured failure
// policy applies.
func (l *Limiter) Admit(ctx context.Context, callerID string) (Decision, error) {
	if !l.config.Enabled {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	count, oldest, err := l.store.Add(ctx, callerID, now, l.config.Window)
	if err != nil {
		if l.config.FailOpen {
			return Decision{Allowed: true}, nil
		}
		return Decision{Allowed: false, RetryAfter: l.config.Window}, err
	}

	if count <= l.config.Limit {
		return Decision{Allowed: true}, nil
	}

	retryAfter := oldest.Add(l.config.Window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

// MemoryStore is an in-process CounterStore keeping per-key attempt
// timestamps. Entries expire as the window slides; a background eviction
// ticker drops idle keys so the map cannot grow without bound.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory-backed counter store. evictEvery bounds
// how often idle keys are swept; zero disables the sweeper (tests).
func NewMemoryStore(evictEvery time.Duration) *MemoryStore {
	s := &MemoryStore{
		attempts: make(map[string][]time.Time),
		done:     make(chan struct{}),
	}
	if evictEvery > 0 {
		go s.evictLoop(evictEvery)
	}
	return s
}

// Add implements CounterStore.
func (s *MemoryStore) Add(ctx context.Context, key string, now time.Time, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if window > s.window {
		s.window = window
	}

	cutoff := now.Add(-window)
	recent := s.attempts[key][:0]
	for _, t := range s.attempts[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	s.attempts[key] = recent

	return len(recent), recent[0], nil
}

// Close stops the eviction goroutine.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *MemoryStore) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(every)
		}
	}
}

// sweep drops attempts older than the largest window any caller has
// used. Sweeping at the tick interval alone would delete in-window
// attempts whenever the configured window exceeds it, resetting the
// counter early.
func (s *MemoryStore) sweep(every time.Duration) {
	s.mu.Lock()
	keep := s.window
	s.mu.Unlock()
	if every > keep {
		keep = every
	}
	s.evict(time.Now().Add(-keep))
}

func (s *MemoryStore) evict(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, times := range s.attempts {
		fresh := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) == 0 {
			delete(s.attempts, key)
		} else {
			s.attempts[key] = fresh
		}
	}
}
