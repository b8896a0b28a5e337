package models

import "encoding/json"

// ToolCall is a structured tool invocation request emitted mid-stream by
// the completion provider.
type ToolCall struct {
	// ID is the provider-assigned call identifier, if any.
	ID string `json:"id,omitempty"`

	// Name is the tool name.
	Name string `json:"name"`

	// Arguments is the raw JSON argument object.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolOutcome is the terminal status of a tool invocation.
type ToolOutcome string

const (
	OutcomeSucceeded ToolOutcome = "succeeded"
	OutcomeFailed    ToolOutcome = "failed"
)

// ToolStatus is the lifecycle phase reported on the stream. Results
// carry a ToolOutcome instead.
type ToolStatus string

const (
	ToolStatusStarted ToolStatus = "started"
)

// ToolCallEvent is the payload of a tool_call stream event.
type ToolCallEvent struct {
	Name      string          `json:"name"`
	Status    ToolStatus      `json:"status"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultEvent is the payload of a tool_result stream event.
type ToolResultEvent struct {
	Name    string      `json:"name"`
	Outcome ToolOutcome `json:"outcome"`
	Error   string      `json:"error,omitempty"`
}
