// Package accumulate folds a normalized events.Stream into an updated
// Conversation, implementing the state machine every agent run and the
// Controller's event relay depend on.
package accumulate

import (
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

// Result is the outcome of folding one stream into a conversation.
type Result struct {
	Conversation    *convo.Conversation
	AssistantText   *convo.Message
	ToolCalls       []events.ToolCall
	ThinkingTexts   []convo.Message
	Errors          []string
}

type toolBuf struct {
	name string
	args string
}

// Accumulate drains stream.C until stream_end or channel close, whichever
// comes first (on stream_end it cancels the stream and stops reading), and
// returns the updated conversation along with every
// message appended and tool call detected, in emission order.
func Accumulate(conv *convo.Conversation, stream *events.Stream) Result {
	out := conv.Clone()
	res := Result{Conversation: out}

	textByMessage := map[string]*struct {
		buf   string
		model string
	}{}
	tools := map[string]*toolBuf{}
	finalized := map[string]bool{}
	thinking := map[string]*struct {
		buf string
		sig string
	}{}

	flushText := func(messageID string) {
		t := textByMessage[messageID]
		if t == nil || t.buf == "" {
			return
		}
		msg := convo.NewAssistantMessage(messageID, t.buf, t.model)
		out.Append(msg)
		res.AssistantText = &msg
		delete(textByMessage, messageID)
	}

	finalizeTool := func(call events.ToolCall) {
		if finalized[call.ID] {
			return
		}
		finalized[call.ID] = true
		out.Append(convo.NewFunctionCall(call.ID, call.Function.Name, call.Function.Arguments))
		res.ToolCalls = append(res.ToolCalls, call)
		delete(tools, call.ID)
	}

	for ev := range stream.C {
		switch ev.Kind {
		case events.KindMessageStart:
			textByMessage[ev.MessageID] = &struct {
				buf   string
				model string
			}{}
		case events.KindMessageDelta:
			t := textByMessage[ev.MessageID]
			if t == nil {
				t = &struct {
					buf   string
					model string
				}{}
				textByMessage[ev.MessageID] = t
			}
			t.buf += ev.Delta
		case events.KindMessageComplete:
			// A complete without a prior start is allowed as a shortcut.
			t := textByMessage[ev.MessageID]
			if t == nil && ev.FullContent != "" {
				t = &struct {
					buf   string
					model string
				}{}
				textByMessage[ev.MessageID] = t
			}
			if t != nil && ev.FullContent != "" {
				t.buf = ev.FullContent
			}
			flushText(ev.MessageID)
			for _, c := range ev.ToolCalls {
				finalizeTool(c)
			}
		case events.KindToolCallStart:
			tools[ev.ToolCallID] = &toolBuf{name: ev.FunctionName}
		case events.KindToolCallDelta:
			b := tools[ev.ToolCallID]
			if b == nil {
				b = &toolBuf{name: ev.FunctionName}
				tools[ev.ToolCallID] = b
			}
			if ev.FunctionName != "" {
				b.name = ev.FunctionName
			}
			b.args += ev.ArgumentChunk
		case events.KindToolCallComplete:
			if ev.ToolCall != nil {
				finalizeTool(*ev.ToolCall)
			}
		case events.KindToolCallsChunk:
			for _, c := range ev.ToolCalls {
				finalizeTool(c)
			}
		case events.KindThinkingStart:
			thinking[ev.ThinkingID] = &struct {
				buf string
				sig string
			}{}
		case events.KindThinkingDelta:
			th := thinking[ev.ThinkingID]
			if th == nil {
				th = &struct {
					buf string
					sig string
				}{}
				thinking[ev.ThinkingID] = th
			}
			th.buf += ev.ThinkingDelta
		case events.KindThinkingComplete:
			th := thinking[ev.ThinkingID]
			full := ev.ThinkingFull
			sig := ev.Signature
			if th != nil {
				if full == "" {
					full = th.buf
				}
				if sig == "" {
					sig = th.sig
				}
			}
			msg := convo.NewThinking(ev.ThinkingID, full, sig)
			out.Append(msg)
			res.ThinkingTexts = append(res.ThinkingTexts, msg)
			delete(thinking, ev.ThinkingID)
		case events.KindError:
			res.Errors = append(res.Errors, ev.Error)
		case events.KindStreamEnd:
			// Flush any buffer with a name and some arguments, parseable or
			// not; the executor rejects bad JSON at validation time.
			for id, b := range tools {
				if b.name == "" || b.args == "" {
					continue
				}
				finalizeTool(events.ToolCall{ID: id, Kind: "function", Function: events.ToolCallFunc{Name: b.name, Arguments: b.args}})
			}
			for id := range textByMessage {
				flushText(id)
			}
			stream.Cancel()
			return res
		}
	}
	return res
}
