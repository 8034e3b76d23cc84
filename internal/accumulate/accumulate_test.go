package accumulate

import (
	"testing"

	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

func streamOf(evs ...events.Event) *events.Stream {
	ch := make(chan events.Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return events.NewStream(ch, nil)
}

func TestStreamingTextAccumulates(t *testing.T) {
	conv := convo.New()
	conv.Append(convo.NewUser("say hello"))

	res := Accumulate(conv, streamOf(
		events.NewMessageStart("m1", events.RoleAssistant),
		events.NewMessageDelta("m1", "Hel"),
		events.NewMessageDelta("m1", "lo "),
		events.NewMessageDelta("m1", "world"),
		events.NewMessageComplete("m1", "Hello world", nil),
		events.NewStreamEnd(),
	))

	if res.AssistantText == nil || res.AssistantText.Content != "Hello world" {
		t.Fatalf("assistant text = %+v, want Hello world", res.AssistantText)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("tool calls = %v, want none", res.ToolCalls)
	}
	if got := len(res.Conversation.Messages); got != 2 {
		t.Errorf("conversation length = %d, want 2", got)
	}
	if len(conv.Messages) != 1 {
		t.Error("input conversation must not be mutated")
	}
}

func TestAtomicToolCallDetected(t *testing.T) {
	conv := convo.New()
	conv.Append(convo.NewUser("what is 2+2?"))

	res := Accumulate(conv, streamOf(
		events.NewMessageStart("m1", events.RoleAssistant),
		events.NewToolCallComplete(events.ToolCall{
			ID: "t1", Kind: "function",
			Function: events.ToolCallFunc{Name: "add", Arguments: `{"a":2,"b":2}`},
		}),
		events.NewMessageComplete("m1", "", nil),
		events.NewStreamEnd(),
	))

	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ID != "t1" {
		t.Fatalf("detected tool calls = %v, want [t1]", res.ToolCalls)
	}
	last, _ := res.Conversation.Last()
	if last.Type != convo.TypeFunctionCall || last.CallID != "t1" || last.Name != "add" {
		t.Errorf("last message = %+v, want function_call t1/add", last)
	}
}

func TestToolCallDeltasFlushedAtStreamEnd(t *testing.T) {
	res := Accumulate(convo.New(), streamOf(
		events.NewToolCallStart("t1", "add"),
		events.NewToolCallDelta("t1", "", `{"a":`),
		events.NewToolCallDelta("t1", "", `2,"b":2}`),
		events.NewStreamEnd(),
	))

	if len(res.ToolCalls) != 1 {
		t.Fatalf("tool calls = %v, want one flushed at stream_end", res.ToolCalls)
	}
	if got := res.ToolCalls[0].Function.Arguments; got != `{"a":2,"b":2}` {
		t.Errorf("arguments = %q", got)
	}
}

// A buffer with a name and some arguments flushes at stream_end even when
// the arguments never became valid JSON; the executor rejects the call at
// validation time instead.
func TestUnparseableToolBufferStillFlushed(t *testing.T) {
	res := Accumulate(convo.New(), streamOf(
		events.NewToolCallStart("t1", "add"),
		events.NewToolCallDelta("t1", "", `{"a":`),
		events.NewStreamEnd(),
	))
	if len(res.ToolCalls) != 1 {
		t.Fatalf("tool calls = %v, want the truncated buffer flushed", res.ToolCalls)
	}
	if got := res.ToolCalls[0].Function.Arguments; got != `{"a":` {
		t.Errorf("arguments = %q, want the raw buffer", got)
	}
}

// A nameless buffer has nothing the executor could resolve; it is the one
// case stream_end still drops.
func TestNamelessToolBufferDropped(t *testing.T) {
	res := Accumulate(convo.New(), streamOf(
		events.NewToolCallDelta("t1", "", `{"a":2}`),
		events.NewStreamEnd(),
	))
	if len(res.ToolCalls) != 0 {
		t.Errorf("tool calls = %v, want none for a nameless buffer", res.ToolCalls)
	}
}

func TestToolCallCompleteNeverDuplicates(t *testing.T) {
	call := events.ToolCall{ID: "t1", Kind: "function", Function: events.ToolCallFunc{Name: "add", Arguments: "{}"}}
	res := Accumulate(convo.New(), streamOf(
		events.NewToolCallComplete(call),
		events.NewToolCallComplete(call),
		events.NewToolCallsChunk([]events.ToolCall{call}),
		events.NewStreamEnd(),
	))
	if len(res.ToolCalls) != 1 {
		t.Errorf("tool calls = %d, want 1 (finalized ids never duplicate)", len(res.ToolCalls))
	}
}

func TestMessageCompleteWithoutStart(t *testing.T) {
	res := Accumulate(convo.New(), streamOf(
		events.NewMessageComplete("m1", "atomic reply", nil),
		events.NewStreamEnd(),
	))
	if res.AssistantText == nil || res.AssistantText.Content != "atomic reply" {
		t.Errorf("assistant text = %+v, want atomic reply", res.AssistantText)
	}
}

func TestThinkingAccumulatesWithSignature(t *testing.T) {
	res := Accumulate(convo.New(), streamOf(
		events.NewThinkingStart("th1"),
		events.NewThinkingDelta("th1", "let me "),
		events.NewThinkingDelta("th1", "think"),
		events.NewThinkingComplete("th1", "", "sig-abc"),
		events.NewStreamEnd(),
	))
	if len(res.ThinkingTexts) != 1 {
		t.Fatalf("thinking messages = %d, want 1", len(res.ThinkingTexts))
	}
	th := res.ThinkingTexts[0]
	if th.Content != "let me think" || th.Signature != "sig-abc" {
		t.Errorf("thinking = %+v, want buffered content with signature passthrough", th)
	}
}

func TestErrorsRecordedNotFatal(t *testing.T) {
	res := Accumulate(convo.New(), streamOf(
		events.NewError("upstream reset", "ECONN", ""),
		events.NewMessageStart("m1", events.RoleAssistant),
		events.NewMessageDelta("m1", "still here"),
		events.NewMessageComplete("m1", "still here", nil),
		events.NewStreamEnd(),
	))
	if len(res.Errors) != 1 || res.Errors[0] != "upstream reset" {
		t.Errorf("errors = %v, want [upstream reset]", res.Errors)
	}
	if res.AssistantText == nil {
		t.Error("accumulation must continue past a non-fatal error")
	}
}

func TestAppendsPreserveEmissionOrder(t *testing.T) {
	conv := convo.New()
	conv.Append(convo.NewUser("hi"))

	res := Accumulate(conv, streamOf(
		events.NewThinkingStart("th1"),
		events.NewThinkingComplete("th1", "pondering", ""),
		events.NewMessageStart("m1", events.RoleAssistant),
		events.NewMessageComplete("m1", "answer", []events.ToolCall{{
			ID: "t1", Kind: "function",
			Function: events.ToolCallFunc{Name: "add", Arguments: "{}"},
		}}),
		events.NewStreamEnd(),
	))

	msgs := res.Conversation.Messages
	if len(msgs) != 4 {
		t.Fatalf("conversation length = %d, want 4", len(msgs))
	}
	wantTypes := []convo.Type{convo.TypeMessage, convo.TypeThinking, convo.TypeMessage, convo.TypeFunctionCall}
	for i, want := range wantTypes {
		if msgs[i].Type != want {
			t.Errorf("message[%d].Type = %v, want %v", i, msgs[i].Type, want)
		}
	}
}
