// Package overseertools implements the Overseer's tool surface named in
// §6 EXTERNAL INTERFACES: talk_to_<user>, start_task, send_message,
// get_task_status, check_all_task_health, wait_for_running_task, and
// set_thought_delay. Each is a small internal/tools.Tool wrapping the
// corresponding internal/supervisor.Supervisor or internal/overseer.Loop
// operation, grounded on internal/tools.Tool's
// Name/Description/Schema/Execute shape.
package overseertools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/just-every/magi/internal/supervisor"
	"github.com/just-every/magi/internal/tools"
)

// ThoughtDelaySetter is satisfied by internal/overseer.Loop.
type ThoughtDelaySetter interface {
	SetThoughtDelay(seconds int) error
}

// TalkFunc delivers a talk_to_<user> message to whatever bridges the
// Overseer to its user (the UI socket, a ChatBridge, or test-mode
// stdout); the caller supplies it since that routing lives outside this
// package.
type TalkFunc func(ctx context.Context, message, affect, document string, incomplete bool) error

// RegisterAll registers every Overseer tool on registry.
func RegisterAll(registry *tools.Registry, sup *supervisor.Supervisor, delay ThoughtDelaySetter, talk TalkFunc) {
	registry.Register(&talkToUser{talk: talk})
	registry.Register(&startTask{sup: sup})
	registry.Register(&sendMessage{sup: sup})
	registry.Register(&getTaskStatus{sup: sup})
	registry.Register(&checkAllTaskHealth{sup: sup})
	registry.Register(&waitForRunningTask{sup: sup})
	registry.Register(&setThoughtDelay{delay: delay})
}

type talkToUser struct{ talk TalkFunc }

func (t *talkToUser) Name() string { return "talk_to_user" }
func (t *talkToUser) Description() string {
	return "Send a reply to the user. Use affect to convey tone; document for long-form content; incomplete if more is coming."
}
func (t *talkToUser) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message":    map[string]any{"type": "string"},
			"affect":     map[string]any{"type": "string"},
			"document":   map[string]any{"type": "string"},
			"incomplete": map[string]any{"type": "boolean"},
		},
		"required":             []string{"message", "affect"},
		"additionalProperties": false,
	}
}

func (t *talkToUser) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Message    string `json:"message"`
		Affect     string `json:"affect"`
		Document   string `json:"document"`
		Incomplete bool   `json:"incomplete"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("talk_to_user: %w", err)
	}
	if t.talk != nil {
		if err := t.talk(ctx, in.Message, in.Affect, in.Document, in.Incomplete); err != nil {
			return tools.Result{}, err
		}
	}
	return tools.Result{Content: "delivered"}, nil
}

type startTask struct{ sup *supervisor.Supervisor }

func (t *startTask) Name() string        { return "start_task" }
func (t *startTask) Description() string { return "Start a new sub-agent task." }
func (t *startTask) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"task":     map[string]any{"type": "string"},
			"context":  map[string]any{"type": "string"},
			"warnings": map[string]any{"type": "string"},
			"goal":     map[string]any{"type": "string"},
			"type":     map[string]any{"type": "string"},
			"project": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"maxItems": 3,
			},
		},
		"required":             []string{"name", "task", "goal", "type"},
		"additionalProperties": false,
	}
}

func (t *startTask) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Name     string   `json:"name"`
		Task     string   `json:"task"`
		Context  string   `json:"context"`
		Warnings string   `json:"warnings"`
		Goal     string   `json:"goal"`
		Type     string   `json:"type"`
		Project  []string `json:"project"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("start_task: %w", err)
	}
	p, err := t.sup.StartTask(in.Name, in.Task, in.Context, in.Warnings, in.Goal, in.Type, in.Project)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return tools.Result{Content: p.ID}, nil
}

type sendMessage struct{ sup *supervisor.Supervisor }

func (t *sendMessage) Name() string        { return "send_message" }
func (t *sendMessage) Description() string { return "Inject guidance into a task, or stop it." }
func (t *sendMessage) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"taskId":  map[string]any{"type": "string"},
			"command": map[string]any{"type": "string"},
		},
		"required":             []string{"taskId", "command"},
		"additionalProperties": false,
	}
}

func (t *sendMessage) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		TaskID  string `json:"taskId"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("send_message: %w", err)
	}
	t.sup.SendMessage(in.TaskID, in.Command)
	return tools.Result{Content: "ok"}, nil
}

type getTaskStatus struct{ sup *supervisor.Supervisor }

func (t *getTaskStatus) Name() string        { return "get_task_status" }
func (t *getTaskStatus) Description() string { return "Report a task's status, optionally in detail." }
func (t *getTaskStatus) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"taskId":   map[string]any{"type": "string"},
			"detailed": map[string]any{"type": "boolean"},
		},
		"required":             []string{"taskId"},
		"additionalProperties": false,
	}
}

func (t *getTaskStatus) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		TaskID   string `json:"taskId"`
		Detailed bool   `json:"detailed"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("get_task_status: %w", err)
	}
	status, err := t.sup.GetTaskStatus(in.TaskID, in.Detailed)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return tools.Result{Content: status}, nil
}

type checkAllTaskHealth struct{ sup *supervisor.Supervisor }

func (t *checkAllTaskHealth) Name() string        { return "check_all_task_health" }
func (t *checkAllTaskHealth) Description() string { return "List tasks that have gone stale." }
func (t *checkAllTaskHealth) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
}

func (t *checkAllTaskHealth) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	stale := t.sup.CheckAllTaskHealth()
	data, err := json.Marshal(stale)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Content: string(data)}, nil
}

type waitForRunningTask struct{ sup *supervisor.Supervisor }

func (t *waitForRunningTask) Name() string { return "wait_for_running_task" }
func (t *waitForRunningTask) Description() string {
	return "Block until a task reaches a terminal status or the timeout elapses."
}
func (t *waitForRunningTask) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"taskId":  map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "integer"},
		},
		"required":             []string{"taskId"},
		"additionalProperties": false,
	}
}

func (t *waitForRunningTask) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		TaskID  string `json:"taskId"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("wait_for_running_task: %w", err)
	}
	if in.Timeout <= 0 {
		in.Timeout = 1800
	}
	result, err := t.sup.WaitForRunningTask(ctx, in.TaskID, in.Timeout)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return tools.Result{Content: result}, nil
}

type setThoughtDelay struct{ delay ThoughtDelaySetter }

func (t *setThoughtDelay) Name() string { return "set_thought_delay" }
func (t *setThoughtDelay) Description() string {
	return "Set the pause between monologue turns, in seconds (0, 2, 4, 8, 16, 32, 64, or 128)."
}
func (t *setThoughtDelay) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"delay": map[string]any{
				"type": "integer",
				"enum": []int{0, 2, 4, 8, 16, 32, 64, 128},
			},
		},
		"required":             []string{"delay"},
		"additionalProperties": false,
	}
}

func (t *setThoughtDelay) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Delay int `json:"delay"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("set_thought_delay: %w", err)
	}
	if err := t.delay.SetThoughtDelay(in.Delay); err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return tools.Result{Content: "ok"}, nil
}
