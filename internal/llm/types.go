// Package llm provides the chat-completion provider client.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is a resolved tool invocation requested by the model.
// Arguments is the raw JSON arguments string exactly as the provider
// delivered it. Parsing and validation happen at dispatch time, not
// here, so a malformed arguments payload can still travel through the
// conversation and be answered with a structured error.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallFragment is one partial piece of a tool invocation delivered
// incrementally by the provider stream. Fragments for the same Index
// belong to the same call: the name arrives at most once, the arguments
// string accumulates by concatenation in arrival order.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// RoundEndReason explains why the provider finished a round.
type RoundEndReason string

const (
	// RoundEndTextComplete means the model produced a final answer with
	// no pending tool calls.
	RoundEndTextComplete RoundEndReason = "text_complete"

	// RoundEndToolCalls means the model stopped to request tool calls.
	RoundEndToolCalls RoundEndReason = "tool_calls_requested"
)

// StreamEvent is a single typed event in a completion stream.
// Consumers switch on Kind to determine which fields are set.
type StreamEvent struct {
	Kind StreamEventKind

	// Text is set for KindTextFragment events.
	Text string

	// Fragment is set for KindToolCallFragment events.
	Fragment ToolCallFragment

	// Reason is set for KindRoundEnd events.
	Reason RoundEndReason

	// Err is set for KindUpstreamError events. It is a human-readable
	// description of the upstream failure; the stream is over.
	Err string
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindTextFragment is an incremental piece of assistant text.
	KindTextFragment StreamEventKind = iota

	// KindToolCallFragment is a partial tool invocation.
	KindToolCallFragment

	// KindRoundEnd signals the provider finished this round normally.
	KindRoundEnd

	// KindUpstreamError signals the provider failed. Terminal.
	KindUpstreamError
)

// StreamCallback receives stream events in arrival order. Every stream
// ends with exactly one terminal event: KindRoundEnd or KindUpstreamError.
type StreamCallback func(event StreamEvent)
