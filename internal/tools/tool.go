// Package tools defines the closed set of CRM operations the assistant can
// invoke mid-stream. The set is fixed at construction: unknown names are
// rejected at the registry boundary, not at dispatch time.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is a single assistant-invokable operation.
type Tool interface {
	// Name returns the tool name used in provider function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Mutating reports whether the tool writes external state. Only
	// mutating tools are eligible for the cache invalidation cascade.
	Mutating() bool

	// Execute runs the tool. Arguments have already been validated
	// against Schema by the registry.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Snapshotter is implemented by mutating tools whose target entity is
// determinable from the arguments before execution. The dispatcher uses it
// for the before-state audit snapshot; tools that create entities have no
// before state and do not implement it.
type Snapshotter interface {
	Snapshot(ctx context.Context, args json.RawMessage) (*Snapshot, error)
}

// Snapshot is a point-in-time view of a target entity.
type Snapshot struct {
	EntityType string
	EntityID   string
	State      json.RawMessage
}

// Result is a successful tool outcome.
type Result struct {
	// EntityType and EntityID identify the affected entity, when one
	// exists.
	EntityType string
	EntityID   string

	// State is the new entity state, used as the after-state audit
	// snapshot.
	State json.RawMessage

	// Content is the text handed back to the completion provider.
	Content string
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
