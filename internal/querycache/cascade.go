package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/coverdesk/coverdesk/internal/observability"
)

// Invalidator drops a cached partition. Satisfied by *Store.
type Invalidator interface {
	Invalidate(ctx context.Context, name string) error
}

// Cascade translates completed write tools into partition
// invalidations. Each (turn, tool) pair triggers at most once, and
// invalidation failures are logged, never surfaced to the chat stream.
// Invalidations run on their own goroutine so a slow refetch never
// stalls delivery of further stream events.
type Cascade struct {
	graph   *DependencyGraph
	cache   Invalidator
	dedupe  *Dedupe
	logger  *observability.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

// NewCascade creates a cascade over the given graph and cache. Metrics
// may be nil in tests.
func NewCascade(graph *DependencyGraph, cache Invalidator, logger *observability.Logger, metrics *observability.Metrics) *Cascade {
	return &Cascade{
		graph:   graph,
		cache:   cache,
		dedupe:  NewDedupe(DedupeOptions{TTL: 5 * time.Minute}),
		logger:  logger,
		metrics: metrics,
	}
}

// ToolCompleted invalidates the partitions staled by toolName. Read
// tools (absent from the graph) are a no-op, as is a repeat trigger for
// the same turn and tool. The dedupe mark is taken synchronously; the
// invalidations themselves run on a background goroutine and outlive
// the caller's cancellation.
func (c *Cascade) ToolCompleted(ctx context.Context, turnID, toolName string) {
	targets := c.graph.PartitionsFor(toolName)
	if len(targets) == 0 {
		return
	}
	if c.dedupe.Check(TurnToolKey(turnID, toolName)) {
		c.logger.Debug(ctx, "invalidation already triggered",
			"turn_id", turnID,
			"tool_name", toolName,
		)
		return
	}

	ctx = context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.invalidateAll(ctx, turnID, toolName, targets)
	}()
}

func (c *Cascade) invalidateAll(ctx context.Context, turnID, toolName string, targets []string) {
	for _, name := range targets {
		if err := c.cache.Invalidate(ctx, name); err != nil {
			c.logger.Warn(ctx, "partition invalidation failed",
				"partition", name,
				"tool_name", toolName,
				"error", err,
			)
			continue
		}
		if c.metrics != nil {
			c.metrics.CacheInvalidations.WithLabelValues(name).Inc()
		}
	}
	c.logger.Info(ctx, "cache cascade completed",
		"turn_id", turnID,
		"tool_name", toolName,
		"partitions", len(targets),
	)
}

// Wait blocks until every in-flight invalidation has finished. Used at
// shutdown and in tests.
func (c *Cascade) Wait() {
	c.wg.Wait()
}
