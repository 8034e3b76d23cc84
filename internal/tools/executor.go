package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

// ExecConfig configures batch execution concurrency and per-call timeout,
// grounded on the teacher's ToolExecConfig/DefaultToolExecConfig.
type ExecConfig struct {
	Concurrency    int
	PerToolTimeout time.Duration
}

// DefaultExecConfig returns 4-way concurrency with a 30s per-call timeout.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{Concurrency: 4, PerToolTimeout: 30 * time.Second}
}

// RunStatus is a RunningTool's lifecycle state.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

const argsPreviewLimit = 120

// RunningTool tracks one in-flight execution so it can be observed and
// interrupted: from dispatch until terminal status.
type RunningTool struct {
	CallID      string
	ToolName    string
	AgentName   string
	ArgsPreview string
	StartedAt   time.Time

	mu      sync.Mutex
	status  RunStatus
	aborted bool
	cancel  context.CancelFunc
}

// Status returns the current lifecycle state.
func (r *RunningTool) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Abort cancels the running tool's context cooperatively. Idempotent; the
// tool reaches a terminal status within bounded time.
func (r *RunningTool) Abort() {
	r.mu.Lock()
	if r.status == RunStatusRunning {
		r.aborted = true
	}
	r.mu.Unlock()
	r.cancel()
}

func (r *RunningTool) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.aborted:
		r.status = RunStatusAborted
	case err != nil:
		r.status = RunStatusFailed
	default:
		r.status = RunStatusCompleted
	}
}

// Executor runs batches of tool calls against a Registry, tracking each as
// a RunningTool for the duration of its call.
type Executor struct {
	registry *Registry
	config   ExecConfig

	mu      sync.Mutex
	running map[string]*RunningTool
}

// NewExecutor creates an Executor with config; zero fields take defaults.
func NewExecutor(registry *Registry, config ExecConfig) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	return &Executor{registry: registry, config: config, running: make(map[string]*RunningTool)}
}

// ExecuteBatch validates then runs every call concurrently (bounded by
// config.Concurrency) and returns function_call_output messages in input
// order. A call whose arguments are not valid JSON, or that fails schema
// validation, is rejected without executing; the rejection becomes its
// output and never terminates the agent.
func (e *Executor) ExecuteBatch(ctx context.Context, agentName string, calls []events.ToolCall) []convo.Message {
	out := make([]convo.Message, len(calls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		if err := e.registry.Validate(call.ID, call.Kind, call.Function.Name, call.Function.Arguments); err != nil {
			if !json.Valid([]byte(call.Function.Arguments)) {
				out[i] = convo.NewFunctionCallOutput(call.ID, errorOutput(errInvalidJSON))
			} else {
				out[i] = convo.NewFunctionCallOutput(call.ID, errorOutput(err))
			}
			continue
		}
		wg.Add(1)
		go func(idx int, call events.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[idx] = convo.NewFunctionCallOutput(call.ID, errorOutput(ctx.Err()))
				return
			}
			out[idx] = convo.NewFunctionCallOutput(call.ID, e.executeOne(ctx, agentName, call))
		}(i, call)
	}
	wg.Wait()
	return out
}

func (e *Executor) executeOne(parent context.Context, agentName string, call events.ToolCall) string {
	tool, ok := e.registry.Get(call.Function.Name)
	if !ok {
		return errorOutput(errToolNotFound(call.Function.Name))
	}

	// Wait tools run under their own caller-supplied timeout; the per-call
	// deadline would cut a long wait_for_* short.
	var ctx context.Context
	var cancel context.CancelFunc
	if isWaitTool(call.Function.Name) {
		ctx, cancel = context.WithCancel(parent)
	} else {
		ctx, cancel = context.WithTimeout(parent, e.config.PerToolTimeout)
	}
	defer cancel()

	rt := &RunningTool{
		CallID:      call.ID,
		ToolName:    call.Function.Name,
		AgentName:   agentName,
		ArgsPreview: preview(call.Function.Arguments),
		StartedAt:   time.Now(),
		status:      RunStatusRunning,
		cancel:      cancel,
	}
	e.mu.Lock()
	e.running[call.ID] = rt
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, call.ID)
		e.mu.Unlock()
	}()

	result, err := tool.Execute(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		rt.finish(err)
		return errorOutput(err)
	}
	if result.IsError {
		rt.finish(errStr(result.Content))
		return errorOutput(errStr(result.Content))
	}
	rt.finish(nil)
	return result.Content
}

func isWaitTool(name string) bool {
	return name == "wait_for_running_task" || name == "wait_for_running_tool"
}

// InterruptWaiting aborts every RunningTool named wait_for_running_task or
// wait_for_running_tool — used on system pause, resume, or fresh human
// input arriving mid-wait.
func (e *Executor) InterruptWaiting(reason string) {
	e.mu.Lock()
	var waiting []*RunningTool
	for _, rt := range e.running {
		if isWaitTool(rt.ToolName) {
			waiting = append(waiting, rt)
		}
	}
	e.mu.Unlock()
	for _, rt := range waiting {
		rt.Abort()
	}
}

// AbortAll aborts every in-flight call; used when an agent run is cancelled.
func (e *Executor) AbortAll() {
	e.mu.Lock()
	all := make([]*RunningTool, 0, len(e.running))
	for _, rt := range e.running {
		all = append(all, rt)
	}
	e.mu.Unlock()
	for _, rt := range all {
		rt.Abort()
	}
}

// Running returns a snapshot of in-flight calls.
func (e *Executor) Running() []*RunningTool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*RunningTool, 0, len(e.running))
	for _, rt := range e.running {
		out = append(out, rt)
	}
	return out
}

func preview(args string) string {
	if len(args) <= argsPreviewLimit {
		return args
	}
	return args[:argsPreviewLimit] + "…"
}

func errorOutput(err error) string {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(raw)
}

var errInvalidJSON = errors.New("invalid JSON")

func errToolNotFound(name string) error { return fmt.Errorf("tool not found: %s", name) }

func errStr(s string) error { return errors.New(s) }
