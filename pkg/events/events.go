// Package events defines the normalized streaming event grammar shared
// across every LLM provider adapter, the stream accumulator, and the
// controller/engine transport. A provider's native response stream is
// translated into this grammar before anything downstream sees it.
package events

import "time"

// Kind discriminates the payload carried by an Event.
type Kind string

const (
	KindMessageStart    Kind = "message_start"
	KindMessageDelta    Kind = "message_delta"
	KindMessageComplete Kind = "message_complete"

	KindToolCallStart    Kind = "tool_call_start"
	KindToolCallDelta    Kind = "tool_call_delta"
	KindToolCallComplete Kind = "tool_call_complete"
	KindToolCallsChunk   Kind = "tool_calls_chunk"

	KindThinkingStart    Kind = "thinking_start"
	KindThinkingDelta    Kind = "thinking_delta"
	KindThinkingComplete Kind = "thinking_complete"

	KindError      Kind = "error"
	KindStreamEnd  Kind = "stream_end"
	KindCostUpdate Kind = "cost_update"
	KindMetadata   Kind = "metadata"
)

// Role enumerates the roles a streamed message may carry.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is a single function-call request emitted by a provider.
// CallID is an alias of ID kept for providers that key on call_id.
type ToolCall struct {
	ID       string       `json:"id"`
	Kind     string       `json:"kind"` // always "function"
	Function ToolCallFunc `json:"function"`
}

// CallID returns the call-site id, aliasing ID.
func (t ToolCall) CallID() string { return t.ID }

// ToolCallFunc carries the function name and JSON-encoded argument string.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage carries per-request token/cost accounting for a cost_update event.
type Usage struct {
	Input  int     `json:"input"`
	Output int     `json:"output"`
	Cached int     `json:"cached"`
	Cost   float64 `json:"cost"`
	Model  string  `json:"model"`
}

// Event is a discriminated record tagged by Kind. Only the field(s)
// matching Kind are meaningful; the rest are zero.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// message_*
	MessageID   string `json:"messageId,omitempty"`
	Role        Role   `json:"role,omitempty"`
	Delta       string `json:"delta,omitempty"`
	FullContent string `json:"fullContent,omitempty"`

	// tool_call_*
	ToolCallID    string     `json:"toolCallId,omitempty"`
	FunctionName  string     `json:"functionName,omitempty"`
	ArgumentChunk string     `json:"argumentChunk,omitempty"`
	ToolCall      *ToolCall  `json:"toolCall,omitempty"`
	ToolCalls     []ToolCall `json:"toolCalls,omitempty"`

	// thinking_*
	ThinkingID     string `json:"thinkingId,omitempty"`
	ThinkingDelta  string `json:"thinkingDelta,omitempty"`
	ThinkingFull   string `json:"thinkingFull,omitempty"`
	Signature      string `json:"signature,omitempty"`

	// error
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`

	// cost_update
	Usage *Usage `json:"usage,omitempty"`

	// metadata
	MetaKey  string `json:"key,omitempty"`
	MetaData any    `json:"data,omitempty"`
}

func now() time.Time { return time.Now().UTC() }

// NewMessageStart begins a logical assistant/tool/system message.
func NewMessageStart(messageID string, role Role) Event {
	return Event{Kind: KindMessageStart, Timestamp: now(), MessageID: messageID, Role: role}
}

// NewMessageDelta appends text to a message started earlier.
func NewMessageDelta(messageID, delta string) Event {
	return Event{Kind: KindMessageDelta, Timestamp: now(), MessageID: messageID, Delta: delta}
}

// NewMessageComplete closes a message, optionally carrying atomically
// delivered tool calls.
func NewMessageComplete(messageID, fullContent string, toolCalls []ToolCall) Event {
	return Event{Kind: KindMessageComplete, Timestamp: now(), MessageID: messageID, FullContent: fullContent, ToolCalls: toolCalls}
}

// NewToolCallStart opens a tool-call fragment buffer.
func NewToolCallStart(toolCallID, functionName string) Event {
	return Event{Kind: KindToolCallStart, Timestamp: now(), ToolCallID: toolCallID, FunctionName: functionName}
}

// NewToolCallDelta appends an argument-string fragment to a tool call.
func NewToolCallDelta(toolCallID, functionName, argumentChunk string) Event {
	return Event{Kind: KindToolCallDelta, Timestamp: now(), ToolCallID: toolCallID, FunctionName: functionName, ArgumentChunk: argumentChunk}
}

// NewToolCallComplete finalizes a tool call, JSON-parsed arguments or not.
func NewToolCallComplete(call ToolCall) Event {
	return Event{Kind: KindToolCallComplete, Timestamp: now(), ToolCallID: call.ID, ToolCall: &call}
}

// NewToolCallsChunk delivers a batch of already-finalized tool calls atomically.
func NewToolCallsChunk(calls []ToolCall) Event {
	return Event{Kind: KindToolCallsChunk, Timestamp: now(), ToolCalls: calls}
}

// NewThinkingStart opens a reasoning/thinking buffer.
func NewThinkingStart(thinkingID string) Event {
	return Event{Kind: KindThinkingStart, Timestamp: now(), ThinkingID: thinkingID}
}

// NewThinkingDelta appends a thinking fragment.
func NewThinkingDelta(thinkingID, delta string) Event {
	return Event{Kind: KindThinkingDelta, Timestamp: now(), ThinkingID: thinkingID, ThinkingDelta: delta}
}

// NewThinkingComplete closes a thinking buffer, optionally passing through
// a provider signature (used by Anthropic's extended thinking signing).
func NewThinkingComplete(thinkingID, full, signature string) Event {
	return Event{Kind: KindThinkingComplete, Timestamp: now(), ThinkingID: thinkingID, ThinkingFull: full, Signature: signature}
}

// NewError reports a non-fatal-by-default stream error. Consumers record it
// and keep consuming until stream_end.
func NewError(err string, code, details string) Event {
	return Event{Kind: KindError, Timestamp: now(), Error: err, Code: code, Details: details}
}

// NewStreamEnd terminates a stream. At most one may be emitted and it is
// always the last event consumed.
func NewStreamEnd() Event {
	return Event{Kind: KindStreamEnd, Timestamp: now()}
}

// NewCostUpdate reports usage/cost accounting for the request.
func NewCostUpdate(usage Usage) Event {
	return Event{Kind: KindCostUpdate, Timestamp: now(), Usage: &usage}
}

// NewMetadata carries provider-specific side information.
func NewMetadata(key string, data any) Event {
	return Event{Kind: KindMetadata, Timestamp: now(), MetaKey: key, MetaData: data}
}

// Type-guard predicates, one per kind.

func IsMessageStart(e Event) bool    { return e.Kind == KindMessageStart }
func IsMessageDelta(e Event) bool    { return e.Kind == KindMessageDelta }
func IsMessageComplete(e Event) bool { return e.Kind == KindMessageComplete }

func IsToolCallStart(e Event) bool    { return e.Kind == KindToolCallStart }
func IsToolCallDelta(e Event) bool    { return e.Kind == KindToolCallDelta }
func IsToolCallComplete(e Event) bool { return e.Kind == KindToolCallComplete }
func IsToolCallsChunk(e Event) bool   { return e.Kind == KindToolCallsChunk }

func IsThinkingStart(e Event) bool    { return e.Kind == KindThinkingStart }
func IsThinkingDelta(e Event) bool    { return e.Kind == KindThinkingDelta }
func IsThinkingComplete(e Event) bool { return e.Kind == KindThinkingComplete }

func IsError(e Event) bool      { return e.Kind == KindError }
func IsStreamEnd(e Event) bool  { return e.Kind == KindStreamEnd }
func IsCostUpdate(e Event) bool { return e.Kind == KindCostUpdate }
func IsMetadata(e Event) bool   { return e.Kind == KindMetadata }
