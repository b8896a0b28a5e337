package models

// Wire format of the outbound event stream: newline-delimited text frames.
// Content frames carry the event marker followed by a JSON StreamEvent;
// a reserved payload signals logical completion; comment frames begin with
// the comment prefix and carry no payload.
const (
	// EventMarker prefixes every content frame.
	EventMarker = "data:"

	// DoneSentinel is the reserved payload that signals logical
	// completion even if the transport has not closed yet.
	DoneSentinel = "[DONE]"

	// CommentPrefix starts keep-alive frames. They carry no payload and
	// are discarded by consumers.
	CommentPrefix = ":"
)

// StreamEventType discriminates the multiplexed stream events.
type StreamEventType string

const (
	// StreamEventDelta carries an incremental piece of assistant text.
	StreamEventDelta StreamEventType = "delta"

	// StreamEventToolCall reports that a tool invocation started.
	StreamEventToolCall StreamEventType = "tool_call"

	// StreamEventToolResult reports a tool invocation outcome.
	StreamEventToolResult StreamEventType = "tool_result"

	// StreamEventError is a terminal upstream failure.
	StreamEventError StreamEventType = "error"
)

// StreamEvent is one multiplexed unit of the outbound event stream.
// Exactly one of the payload fields is set, matching Type.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// Delta is the content fragment for delta events.
	Delta string `json:"delta,omitempty"`

	// ToolCall is set for tool_call events.
	ToolCall *ToolCallEvent `json:"tool_call,omitempty"`

	// ToolResult is set for tool_result events.
	ToolResult *ToolResultEvent `json:"tool_result,omitempty"`

	// Error is the terminal error detail for error events.
	Error string `json:"error,omitempty"`
}

// DeltaEvent builds a content delta event.
func DeltaEvent(delta string) StreamEvent {
	return StreamEvent{Type: StreamEventDelta, Delta: delta}
}

// ToolCallStarted builds the lifecycle event emitted before a tool executes.
func ToolCallStarted(name string, args []byte) StreamEvent {
	return StreamEvent{
		Type: StreamEventToolCall,
		ToolCall: &ToolCallEvent{
			Name:      name,
			Status:    ToolStatusStarted,
			Arguments: args,
		},
	}
}

// ToolResulted builds the lifecycle event emitted after a tool executes.
func ToolResulted(name string, outcome ToolOutcome, errDetail string) StreamEvent {
	return StreamEvent{
		Type: StreamEventToolResult,
		ToolResult: &ToolResultEvent{
			Name:    name,
			Outcome: outcome,
			Error:   errDetail,
		},
	}
}

// ErrorEvent builds a terminal error event.
func ErrorEvent(detail string) StreamEvent {
	return StreamEvent{Type: StreamEventError, Error: detail}
}
