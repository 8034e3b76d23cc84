package overseer

import (
	"context"
	"testing"
	"time"

	"github.com/just-every/magi/internal/agentrt"
	"github.com/just-every/magi/pkg/convo"
)

func TestLastSpeechState(t *testing.T) {
	tests := []struct {
		name     string
		messages []convo.Message
		want     speechState
	}{
		{"empty", nil, speechNeutral},
		{
			"unanswered user message",
			[]convo.Message{convo.NewUser("are you there?")},
			speechAwaitingReply,
		},
		{
			"overseer just replied",
			[]convo.Message{
				convo.NewUser("are you there?"),
				convo.NewFunctionCall("c1", talkToUserTool, `{"message":"yes"}`),
			},
			speechJustReplied,
		},
		{
			"unrelated tool call after reply",
			[]convo.Message{
				convo.NewUser("are you there?"),
				convo.NewFunctionCall("c1", talkToUserTool, `{"message":"yes"}`),
				convo.NewFunctionCall("c2", "search_web", `{}`),
			},
			speechJustReplied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastSpeechState(tt.messages); got != tt.want {
				t.Errorf("lastSpeechState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPromptGuideForcesTalkToUserWhenAwaitingReply(t *testing.T) {
	l := &Loop{}
	conv := convo.New()
	conv.Append(convo.NewUser("hello?"))

	guide, forceTalk := l.promptGuide(conv)
	if guide == "" {
		t.Fatal("expected a forced talk_to_user nudge")
	}
	if !forceTalk {
		t.Error("expected the guide to force the talk_to_user tool choice")
	}
}

func TestOnRequestHookPinsForcedToolForTheTurn(t *testing.T) {
	agent := &agentrt.Agent{Name: "Magi"}
	l := New(Config{Agent: agent})

	hook := l.buildOnRequestHook()

	conv := convo.New()
	conv.Append(convo.NewUser("hello?"))
	hook(context.Background(), conv)
	if agent.ForcedTool != talkToUserTool {
		t.Errorf("ForcedTool = %q, want %q while a reply is owed", agent.ForcedTool, talkToUserTool)
	}

	conv.Append(convo.NewFunctionCall("c1", talkToUserTool, `{}`))
	hook(context.Background(), conv)
	if agent.ForcedTool != "" {
		t.Errorf("ForcedTool = %q, want cleared after the reply", agent.ForcedTool)
	}
}

func TestSetThoughtDelayRejectsUnlistedValue(t *testing.T) {
	l := &Loop{}
	if err := l.SetThoughtDelay(3); err == nil {
		t.Fatal("expected error for unlisted thought delay")
	}
}

func TestSetThoughtDelayAcceptsListedValue(t *testing.T) {
	l := &Loop{}
	if err := l.SetThoughtDelay(16); err != nil {
		t.Fatalf("SetThoughtDelay(16): %v", err)
	}
	if got := l.ThoughtDelay(); got != 16*time.Second {
		t.Errorf("ThoughtDelay() = %v, want 16s", got)
	}
}

func TestPromptGuideDontPesterAfterReply(t *testing.T) {
	l := &Loop{}
	conv := convo.New()
	conv.Append(convo.NewUser("hello?"))
	conv.Append(convo.NewFunctionCall("c1", talkToUserTool, `{}`))

	guide, forceTalk := l.promptGuide(conv)
	if guide == "" {
		t.Fatal("expected a don't-pester nudge")
	}
	if forceTalk {
		t.Error("a turn right after replying must not force talk_to_user")
	}
}
