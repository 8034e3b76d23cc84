package agentrt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/just-every/magi/internal/providers"
	"github.com/just-every/magi/internal/rotation"
	"github.com/just-every/magi/internal/tools"
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

// scriptedProvider replays one canned event sequence per Run call.
type scriptedProvider struct {
	mu         sync.Mutex
	scripts    [][]events.Event
	calls      int
	lastForced string
}

func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) SupportsTools(model string) bool { return true }

func (p *scriptedProvider) Run(ctx context.Context, model string, conv *convo.Conversation, agent providers.AgentView) (*events.Stream, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.lastForced = agent.ForcedTool
	p.mu.Unlock()

	script := p.scripts[len(p.scripts)-1]
	if idx < len(p.scripts) {
		script = p.scripts[idx]
	}
	ch := make(chan events.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return events.NewStream(ch, nil), nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the input back." }
func (echoTool) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"text": map[string]any{"type": "string"}},
		"required":             []string{"text"},
		"additionalProperties": false,
	}
}
func (echoTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Content: in.Text}, nil
}

func echoCall(id, text string) events.ToolCall {
	return events.ToolCall{ID: id, Kind: "function", Function: events.ToolCallFunc{
		Name: "echo", Arguments: `{"text":"` + text + `"}`,
	}}
}

func newTestRuntime(t *testing.T, p providers.Provider) (*Runtime, *tools.Registry) {
	t.Helper()
	preg := providers.NewRegistry()
	preg.Register(p, "scripted-")
	treg := tools.NewRegistry()
	treg.Register(echoTool{})
	rot := rotation.New(rotation.Config{Classes: map[string]rotation.ClassConfig{
		"standard": {Models: []string{"scripted-1"}},
	}})
	return New(preg, rot, tools.NewExecutor(treg, tools.DefaultExecConfig())), treg
}

func toolLoopAgent(reg *tools.Registry, maxRounds int) *Agent {
	return &Agent{
		ID:                       "agent-1",
		Name:                     "tester",
		Model:                    "scripted-1",
		Tools:                    reg.List(),
		MaxToolCallRoundsPerTurn: maxRounds,
	}
}

func TestRunLoopsUntilQuiescent(t *testing.T) {
	p := &scriptedProvider{scripts: [][]events.Event{
		{
			events.NewMessageStart("m1", events.RoleAssistant),
			events.NewToolCallComplete(echoCall("t1", "ping")),
			events.NewMessageComplete("m1", "", nil),
			events.NewStreamEnd(),
		},
		{
			events.NewMessageStart("m2", events.RoleAssistant),
			events.NewMessageComplete("m2", "pong received", nil),
			events.NewStreamEnd(),
		},
	}}
	rt, treg := newTestRuntime(t, p)

	conv := convo.New()
	conv.Append(convo.NewUser("echo ping"))

	final, err := rt.Run(context.Background(), toolLoopAgent(treg, 5), conv, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (tool round then quiescent round)", p.calls)
	}

	// user, function_call t1, function_call_output t1, assistant text.
	msgs := final.Messages
	if len(msgs) != 4 {
		t.Fatalf("final conversation = %d messages, want 4: %+v", len(msgs), msgs)
	}
	if msgs[1].Type != convo.TypeFunctionCall || msgs[1].CallID != "t1" {
		t.Errorf("msgs[1] = %+v, want function_call t1", msgs[1])
	}
	if msgs[2].Type != convo.TypeFunctionCallOutput || msgs[2].Output != "ping" {
		t.Errorf("msgs[2] = %+v, want function_call_output ping", msgs[2])
	}
	if msgs[3].Content != "pong received" {
		t.Errorf("msgs[3] = %+v, want final assistant text", msgs[3])
	}
}

func TestBudgetGuardReturnsAfterOneRound(t *testing.T) {
	p := &scriptedProvider{scripts: [][]events.Event{
		{
			events.NewToolCallComplete(echoCall("t1", "ping")),
			events.NewStreamEnd(),
		},
	}}
	rt, treg := newTestRuntime(t, p)

	final, err := rt.Run(context.Background(), toolLoopAgent(treg, 1), convo.New(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want exactly 1 in Overseer mode", p.calls)
	}
	// The executed tool output is still present for the next monologue turn.
	last, _ := final.Last()
	if last.Type != convo.TypeFunctionCallOutput {
		t.Errorf("last message = %+v, want the round's tool output", last)
	}
}

func TestEventsRelayedInProviderOrder(t *testing.T) {
	p := &scriptedProvider{scripts: [][]events.Event{
		{
			events.NewMessageStart("m1", events.RoleAssistant),
			events.NewMessageDelta("m1", "he"),
			events.NewMessageDelta("m1", "llo"),
			events.NewMessageComplete("m1", "hello", nil),
			events.NewStreamEnd(),
		},
	}}
	rt, treg := newTestRuntime(t, p)

	var kinds []events.Kind
	_, err := rt.Run(context.Background(), toolLoopAgent(treg, 3), convo.New(), func(ev events.Event) {
		kinds = append(kinds, ev.Kind)
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []events.Kind{
		events.KindMessageStart,
		events.KindMessageDelta,
		events.KindMessageDelta,
		events.KindMessageComplete,
		events.KindStreamEnd,
	}
	if len(kinds) != len(want) {
		t.Fatalf("relayed kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestHooksFire(t *testing.T) {
	p := &scriptedProvider{scripts: [][]events.Event{
		{
			events.NewThinkingStart("th1"),
			events.NewThinkingComplete("th1", "hmm", ""),
			events.NewToolCallComplete(echoCall("t1", "x")),
			events.NewMessageComplete("m1", "done thinking", nil),
			events.NewStreamEnd(),
		},
		{
			events.NewMessageComplete("m2", "all done", nil),
			events.NewStreamEnd(),
		},
	}}
	rt, treg := newTestRuntime(t, p)

	var requests, responses, thinkings, toolCalls, toolResults int
	agent := toolLoopAgent(treg, 5)
	agent.Hooks = Hooks{
		OnRequest: func(ctx context.Context, conv *convo.Conversation) *convo.Conversation {
			requests++
			return nil
		},
		OnResponse:   func(ctx context.Context, msg convo.Message) { responses++ },
		OnThinking:   func(ctx context.Context, msg convo.Message) { thinkings++ },
		OnToolCall:   func(ctx context.Context, call events.ToolCall) { toolCalls++ },
		OnToolResult: func(ctx context.Context, call events.ToolCall, out convo.Message) { toolResults++ },
	}

	if _, err := rt.Run(context.Background(), agent, convo.New(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if requests != 2 || responses != 2 || thinkings != 1 || toolCalls != 1 || toolResults != 1 {
		t.Errorf("hook counts: requests=%d responses=%d thinkings=%d toolCalls=%d toolResults=%d",
			requests, responses, thinkings, toolCalls, toolResults)
	}
}

func TestForcedToolReachesProvider(t *testing.T) {
	p := &scriptedProvider{scripts: [][]events.Event{
		{
			events.NewMessageComplete("m", "ok", nil),
			events.NewStreamEnd(),
		},
	}}
	rt, treg := newTestRuntime(t, p)

	agent := toolLoopAgent(treg, 1)
	agent.ForcedTool = "echo"
	if _, err := rt.Run(context.Background(), agent, convo.New(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if p.lastForced != "echo" {
		t.Errorf("provider saw ForcedTool = %q, want echo", p.lastForced)
	}
}

type closedGate struct{ waited int }

func (g *closedGate) WaitUntilRunning(ctx context.Context) error {
	g.waited++
	return nil
}

func TestGateConsultedBeforeEachProviderCall(t *testing.T) {
	p := &scriptedProvider{scripts: [][]events.Event{
		{
			events.NewToolCallComplete(echoCall("t1", "a")),
			events.NewStreamEnd(),
		},
		{
			events.NewMessageComplete("m", "done", nil),
			events.NewStreamEnd(),
		},
	}}
	rt, treg := newTestRuntime(t, p)
	gate := &closedGate{}
	rt.SetGate(gate)

	if _, err := rt.Run(context.Background(), toolLoopAgent(treg, 5), convo.New(), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gate.waited != 2 {
		t.Errorf("gate consulted %d times, want once per provider call (2)", gate.waited)
	}
}
