package overseertools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/just-every/magi/internal/supervisor"
	"github.com/just-every/magi/internal/tools"
)

type fakeController struct{}

func (fakeController) ProcessStart(p *supervisor.Process)            {}
func (fakeController) CommandStart(taskID, text string)               {}
func (fakeController) TaskWaiting(taskID string, elapsedSeconds int) {}

type fakeDelay struct{ got int }

func (f *fakeDelay) SetThoughtDelay(seconds int) error {
	f.got = seconds
	return nil
}

func newSupervisor(t *testing.T) *supervisor.Supervisor {
	t.Helper()
	return supervisor.New(supervisor.Config{Controller: fakeController{}})
}

func TestRegisterAllRegistersEveryTool(t *testing.T) {
	reg := tools.NewRegistry()
	sup := newSupervisor(t)
	RegisterAll(reg, sup, &fakeDelay{}, nil)

	want := []string{
		"talk_to_user", "start_task", "send_message", "get_task_status",
		"check_all_task_health", "wait_for_running_task", "set_thought_delay",
	}
	for _, name := range want {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("expected tool %q to be registered", name)
		}
	}
}

func TestStartTaskExecuteReturnsProcessID(t *testing.T) {
	sup := newSupervisor(t)
	tool := &startTask{sup: sup}
	args, _ := json.Marshal(map[string]any{
		"name": "writer", "task": "draft a plan", "goal": "ship it", "type": "project",
	})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError || result.Content == "" {
		t.Fatalf("expected a process id, got %+v", result)
	}
	if _, ok := sup.Get(result.Content); !ok {
		t.Errorf("expected process %q to exist in the supervisor", result.Content)
	}
}

func TestSetThoughtDelayExecuteRejectsInvalidValue(t *testing.T) {
	fd := &fakeDelay{}
	tool := &setThoughtDelay{delay: errDelay{}}
	args, _ := json.Marshal(map[string]any{"delay": 3})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for an invalid delay")
	}
	_ = fd
}

func TestTalkToUserExecuteInvokesTalkFunc(t *testing.T) {
	var got string
	tool := &talkToUser{talk: func(ctx context.Context, message, affect, document string, incomplete bool) error {
		got = message
		return nil
	}}
	args, _ := json.Marshal(map[string]any{"message": "hello", "affect": "neutral"})
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "hello" {
		t.Errorf("talk func received %q, want %q", got, "hello")
	}
}

// errDelay always rejects, exercising the Execute error path without
// depending on overseer.Loop's validation table.
type errDelay struct{}

func (errDelay) SetThoughtDelay(seconds int) error {
	return errUnlisted
}

var errUnlisted = errInvalidDelay("unlisted thought delay")

type errInvalidDelay string

func (e errInvalidDelay) Error() string { return string(e) }
