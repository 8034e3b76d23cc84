package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/just-every/magi/pkg/events"
)

type addTool struct{}

func (addTool) Name() string        { return "add" }
func (addTool) Description() string { return "Add two numbers." }
func (addTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required":             []string{"a", "b"},
		"additionalProperties": false,
	}
}
func (addTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct{ A, B float64 }
	if err := json.Unmarshal(args, &in); err != nil {
		return Result{}, err
	}
	return Result{Content: fmt.Sprintf("%g", in.A+in.B)}, nil
}

type failingTool struct{}

func (failingTool) Name() string            { return "explode" }
func (failingTool) Description() string     { return "Always fails." }
func (failingTool) Schema() map[string]any  { return map[string]any{"type": "object"} }
func (failingTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	return Result{}, errors.New("kaboom")
}

type waitTool struct {
	name    string
	started chan struct{}
}

func (w *waitTool) Name() string           { return w.name }
func (w *waitTool) Description() string    { return "Wait until aborted." }
func (w *waitTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (w *waitTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	close(w.started)
	<-ctx.Done()
	return Result{Content: "aborted"}, nil
}

func call(id, name, args string) events.ToolCall {
	return events.ToolCall{ID: id, Kind: "function", Function: events.ToolCallFunc{Name: name, Arguments: args}}
}

func newTestExecutor(t *testing.T, extra ...Tool) *Executor {
	t.Helper()
	reg := NewRegistry()
	reg.Register(addTool{})
	reg.Register(failingTool{})
	for _, tool := range extra {
		reg.Register(tool)
	}
	return NewExecutor(reg, DefaultExecConfig())
}

func TestExecuteBatchHappyPath(t *testing.T) {
	e := newTestExecutor(t)
	out := e.ExecuteBatch(context.Background(), "tester", []events.ToolCall{
		call("t1", "add", `{"a":2,"b":2}`),
	})
	if len(out) != 1 {
		t.Fatalf("outputs = %d, want 1", len(out))
	}
	if out[0].CallID != "t1" || out[0].Output != "4" {
		t.Errorf("output = %+v, want call_id t1 output 4", out[0])
	}
}

func TestExecuteBatchPreservesInputOrder(t *testing.T) {
	e := newTestExecutor(t)
	calls := []events.ToolCall{
		call("t1", "add", `{"a":1,"b":1}`),
		call("t2", "add", `{"a":2,"b":2}`),
		call("t3", "add", `{"a":3,"b":3}`),
	}
	out := e.ExecuteBatch(context.Background(), "tester", calls)
	want := []string{"2", "4", "6"}
	for i, w := range want {
		if out[i].CallID != calls[i].ID || out[i].Output != w {
			t.Errorf("output[%d] = %+v, want call %s -> %s", i, out[i], calls[i].ID, w)
		}
	}
}

func TestInvalidJSONArgsRejectedWithoutExecuting(t *testing.T) {
	e := newTestExecutor(t)
	out := e.ExecuteBatch(context.Background(), "tester", []events.ToolCall{
		call("t1", "add", `{oops`),
	})
	if out[0].Output != `{"error":"invalid JSON"}` {
		t.Errorf("output = %q, want {\"error\":\"invalid JSON\"}", out[0].Output)
	}
}

func TestSchemaViolationRejected(t *testing.T) {
	e := newTestExecutor(t)
	out := e.ExecuteBatch(context.Background(), "tester", []events.ToolCall{
		call("t1", "add", `{"a":1}`), // missing required b
	})
	if !strings.Contains(out[0].Output, "error") {
		t.Errorf("output = %q, want a schema-violation error", out[0].Output)
	}
}

func TestUnknownToolRejected(t *testing.T) {
	e := newTestExecutor(t)
	out := e.ExecuteBatch(context.Background(), "tester", []events.ToolCall{
		call("t1", "no_such_tool", `{}`),
	})
	if !strings.Contains(out[0].Output, "error") {
		t.Errorf("output = %q, want an unknown-tool error", out[0].Output)
	}
}

func TestExecutionErrorBecomesErrorOutput(t *testing.T) {
	e := newTestExecutor(t)
	out := e.ExecuteBatch(context.Background(), "tester", []events.ToolCall{
		call("t1", "explode", `{}`),
	})
	if out[0].Output != `{"error":"kaboom"}` {
		t.Errorf("output = %q, want {\"error\":\"kaboom\"}", out[0].Output)
	}
}

func TestValidateRequiresIDAndFunctionKind(t *testing.T) {
	reg := NewRegistry()
	reg.Register(addTool{})
	if err := reg.Validate("", "function", "add", `{"a":1,"b":2}`); err == nil {
		t.Error("empty id should fail validation")
	}
	if err := reg.Validate("t1", "procedure", "add", `{"a":1,"b":2}`); err == nil {
		t.Error("non-function kind should fail validation")
	}
	if err := reg.Validate("t1", "function", "add", `{"a":1,"b":2}`); err != nil {
		t.Errorf("valid call failed: %v", err)
	}
}

func TestInterruptWaitingAbortsOnlyWaitTools(t *testing.T) {
	wait := &waitTool{name: "wait_for_running_task", started: make(chan struct{})}
	e := newTestExecutor(t, wait)

	done := make(chan []string, 1)
	go func() {
		out := e.ExecuteBatch(context.Background(), "tester", []events.ToolCall{
			call("t1", "wait_for_running_task", `{}`),
		})
		done <- []string{out[0].Output}
	}()

	<-wait.started
	e.InterruptWaiting("fresh human input")

	select {
	case out := <-done:
		if out[0] != "aborted" {
			t.Errorf("wait tool output = %q, want aborted", out[0])
		}
	case <-time.After(time.Second):
		t.Fatal("InterruptWaiting did not terminate the wait tool in time")
	}
}

func TestRunningSnapshotTracksInFlightCall(t *testing.T) {
	wait := &waitTool{name: "wait_for_running_tool", started: make(chan struct{})}
	e := newTestExecutor(t, wait)

	done := make(chan struct{})
	go func() {
		e.ExecuteBatch(context.Background(), "agent-7", []events.ToolCall{
			call("t1", "wait_for_running_tool", `{"why":"watching"}`),
		})
		close(done)
	}()

	<-wait.started
	running := e.Running()
	if len(running) != 1 {
		t.Fatalf("running = %d, want 1", len(running))
	}
	rt := running[0]
	if rt.ToolName != "wait_for_running_tool" || rt.AgentName != "agent-7" {
		t.Errorf("running tool = %+v", rt)
	}
	if rt.Status() != RunStatusRunning {
		t.Errorf("status = %v, want running", rt.Status())
	}
	if rt.StartedAt.IsZero() {
		t.Error("StartedAt not stamped")
	}
	if !strings.Contains(rt.ArgsPreview, "watching") {
		t.Errorf("ArgsPreview = %q", rt.ArgsPreview)
	}

	e.AbortAll()
	<-done
	if len(e.Running()) != 0 {
		t.Error("registry should be empty after the batch returns")
	}
}
