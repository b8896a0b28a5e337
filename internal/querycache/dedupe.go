package querycache

import (
	"sync"
	"time"
)

// Dedupe provides time-limited deduplication of invalidation triggers.
// The cascade runs at most once per (turn, tool) pair even when the
// same tool result is observed more than once.
type Dedupe struct {
	mu      sync.Mutex
	seen    map[string]int64
	ttl     time.Duration
	maxSize int
}

// DedupeOptions configures the dedupe window.
type DedupeOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewDedupe creates a dedupe cache. A zero TTL means entries never
// expire (bounded only by MaxSize).
func NewDedupe(opts DedupeOptions) *Dedupe {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &Dedupe{
		seen:    make(map[string]int64),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Check returns true if key was already seen within the TTL, and
// records the key either way.
func (d *Dedupe) Check(key string) bool {
	return d.CheckAt(key, time.Now())
}

// CheckAt is Check with an explicit clock, for tests.
func (d *Dedupe) CheckAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	nowUnix := now.UnixMilli()
	if existing, ok := d.seen[key]; ok {
		if d.ttl <= 0 || nowUnix-existing < d.ttl.Milliseconds() {
			d.seen[key] = nowUnix
			return true
		}
	}

	d.seen[key] = nowUnix
	d.prune(nowUnix)
	return false
}

// Size returns the current number of tracked keys.
func (d *Dedupe) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Dedupe) prune(nowUnix int64) {
	if d.ttl > 0 {
		cutoff := nowUnix - d.ttl.Milliseconds()
		for key, ts := range d.seen {
			if ts < cutoff {
				delete(d.seen, key)
			}
		}
	}

	for len(d.seen) > d.maxSize {
		var oldestKey string
		oldestTs := int64(^uint64(0) >> 1)
		for k, ts := range d.seen {
			if ts < oldestTs {
				oldestTs = ts
				oldestKey = k
			}
		}
		if oldestKey == "" {
			break
		}
		delete(d.seen, oldestKey)
	}
}

// TurnToolKey builds the dedupe key for one tool completion within a
// turn.
func TurnToolKey(turnID, toolName string) string {
	if turnID == "" || toolName == "" {
		return ""
	}
	return turnID + ":" + toolName
}
