// Package audit provides the append-only tool-invocation audit trail.
// One record is written per tool invocation attempt; records are never
// mutated after the terminal write and never read back by this subsystem.
package audit

import (
	"encoding/json"
	"time"
)

// Record is one tool-invocation audit entry. It references its
// conversation and message by id only: the record must outlive deletion
// of the conversation for compliance reasons, so it is never
// cascade-deleted with it.
type Record struct {
	// ID is the unique record identifier.
	ID string `json:"id"`

	// ConversationID and MessageID locate the turn that triggered the
	// invocation. Not enforced as foreign keys.
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`

	// CallerID is the identity the turn ran as.
	CallerID string `json:"caller_id"`

	// ToolName is the invoked tool.
	ToolName string `json:"tool_name"`

	// EntityType and EntityID identify the target entity, when known.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// Before and After are entity state snapshots. Before is nil when
	// the target is not determinable from the arguments (creates);
	// After is nil on failure.
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`

	// Success is the terminal outcome.
	Success bool `json:"success"`

	// Error holds failure detail when Success is false.
	Error string `json:"error,omitempty"`

	// Duration covers dispatch start to terminal write.
	Duration time.Duration `json:"duration"`

	// CreatedAt is when the terminal record was written.
	CreatedAt time.Time `json:"created_at"`
}

// Config configures the audit trail.
type Config struct {
	// Enabled determines whether records are written at all.
	Enabled bool `yaml:"enabled"`

	// IncludeSnapshots controls whether before/after state goes to the
	// log sink. The sqlite sink always stores snapshots.
	IncludeSnapshots bool `yaml:"include_snapshots"`
}
