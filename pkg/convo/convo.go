// Package convo holds the Conversation/Message data model shared by the
// provider adapters, the stream accumulator, the agent runtime, and the
// history store.
package convo

import (
	"time"

	"github.com/google/uuid"
)

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Type discriminates the shape of a Message's payload.
type Type string

const (
	TypeMessage            Type = "message"
	TypeFunctionCall       Type = "function_call"
	TypeFunctionCallOutput Type = "function_call_output"
	TypeThinking           Type = "thinking"
)

// Message is an immutable record once appended to a Conversation.
type Message struct {
	Role        Role      `json:"role"`
	Type        Type      `json:"type"`
	ID          string    `json:"id,omitempty"`
	Content     string    `json:"content,omitempty"`
	Name        string    `json:"name,omitempty"`
	Arguments   string    `json:"arguments,omitempty"`
	CallID      string    `json:"call_id,omitempty"`
	Output      string    `json:"output,omitempty"`
	ThinkingID  string    `json:"thinking_id,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Model       string    `json:"model,omitempty"`
}

// Conversation is an ordered, append-only (in steady state) sequence of
// Messages identified by a unique id. The compactor is the sole caller
// permitted to splice a synthesized system summary in place of a subset.
type Conversation struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// New creates an empty conversation with a fresh id.
func New() *Conversation {
	return &Conversation{ID: uuid.NewString()}
}

// Clone returns a deep-enough copy: a new Messages slice with the same
// Message values (Message itself holds no mutable reference fields).
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{ID: c.ID, Messages: make([]Message, len(c.Messages))}
	copy(out.Messages, c.Messages)
	return out
}

// Append adds messages to the end of the conversation, preserving order.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
}

// Last returns the last message and true, or the zero Message and false
// if the conversation is empty.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// NewAssistantMessage builds an assistant text message, stamping Timestamp.
func NewAssistantMessage(id, content, model string) Message {
	return Message{Role: RoleAssistant, Type: TypeMessage, ID: id, Content: content, Model: model, Timestamp: time.Now().UTC()}
}

// NewFunctionCall builds the message representing an assistant tool call.
func NewFunctionCall(callID, name, arguments string) Message {
	return Message{Role: RoleAssistant, Type: TypeFunctionCall, CallID: callID, Name: name, Arguments: arguments, Timestamp: time.Now().UTC()}
}

// NewFunctionCallOutput builds the message representing a tool's result,
// paired to its call by CallID.
func NewFunctionCallOutput(callID, output string) Message {
	return Message{Role: RoleTool, Type: TypeFunctionCallOutput, CallID: callID, Output: output, Timestamp: time.Now().UTC()}
}

// NewThinking builds a thinking/reasoning message, passing through a
// provider signature when supplied.
func NewThinking(thinkingID, content, signature string) Message {
	return Message{Role: RoleAssistant, Type: TypeThinking, ThinkingID: thinkingID, Content: content, Signature: signature, Timestamp: time.Now().UTC()}
}

// NewSystem builds a system message, used for injected status and summaries.
func NewSystem(content string) Message {
	return Message{Role: RoleSystem, Type: TypeMessage, Content: content, Timestamp: time.Now().UTC()}
}

// NewUser builds a user message.
func NewUser(content string) Message {
	return Message{Role: RoleUser, Type: TypeMessage, Content: content, Timestamp: time.Now().UTC()}
}

// NewDeveloper builds a developer-role message (used for system-status and
// prompt-guidance injection ahead of a provider call).
func NewDeveloper(content string) Message {
	return Message{Role: RoleDeveloper, Type: TypeMessage, Content: content, Timestamp: time.Now().UTC()}
}
