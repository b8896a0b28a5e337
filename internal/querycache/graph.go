// Package querycache maintains cached query partitions for the CRM UI and
// invalidates them in a cascade when a write tool commits a change.
package querycache

// Query partitions backing the dashboard views.
const (
	PartitionDeals           = "deals"
	PartitionPipelineSummary = "pipeline_summary"
	PartitionClients         = "clients"
	PartitionAppointments    = "appointments"
	PartitionAgenda          = "agenda"
	PartitionDashboardStats  = "dashboard_stats"
	PartitionActivityFeed    = "activity_feed"
)

// DependencyGraph maps write tools to the query partitions their side
// effects can stale. Critical partitions aggregate across entity types
// and are invalidated on every write, whatever the tool.
type DependencyGraph struct {
	deps     map[string][]string
	critical []string
}

// NewDependencyGraph builds a graph from an explicit tool-to-partition
// mapping plus the set of always-invalidated critical partitions.
func NewDependencyGraph(deps map[string][]string, critical []string) *DependencyGraph {
	copied := make(map[string][]string, len(deps))
	for tool, partitions := range deps {
		copied[tool] = append([]string(nil), partitions...)
	}
	return &DependencyGraph{
		deps:     copied,
		critical: append([]string(nil), critical...),
	}
}

// DefaultGraph wires the built-in write tools to the partitions they
// affect.
func DefaultGraph() *DependencyGraph {
	return NewDependencyGraph(
		map[string][]string{
			"create_deal":        {PartitionDeals, PartitionPipelineSummary},
			"move_deal_stage":    {PartitionDeals, PartitionPipelineSummary},
			"create_client":      {PartitionClients},
			"create_appointment": {PartitionAppointments, PartitionAgenda},
		},
		[]string{PartitionDashboardStats, PartitionActivityFeed},
	)
}

// PartitionsFor returns the partitions to invalidate after toolName
// committed, in stable order and without duplicates. Tools absent from
// the graph (read tools) return nil.
func (g *DependencyGraph) PartitionsFor(toolName string) []string {
	direct, ok := g.deps[toolName]
	if !ok {
		return nil
	}

	seen := make(map[string]struct{}, len(direct)+len(g.critical))
	out := make([]string, 0, len(direct)+len(g.critical))
	for _, p := range direct {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range g.critical {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Critical returns the always-invalidated partitions.
func (g *DependencyGraph) Critical() []string {
	return append([]string(nil), g.critical...)
}
