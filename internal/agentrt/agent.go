// Package agentrt implements the agent request cycle: pick a model, call
// the provider, accumulate the stream, execute any detected tool calls,
// and loop until quiescent or a round budget is hit. Grounded on the
// state-machine shape of the teacher's internal/agent/loop.go
// (AgenticLoop/LoopConfig), adapted from Nexus's session/job-oriented loop
// to the spec's Hooks-and-event-stream contract.
package agentrt

import (
	"context"
	"fmt"

	"github.com/just-every/magi/internal/accumulate"
	"github.com/just-every/magi/internal/providers"
	"github.com/just-every/magi/internal/rotation"
	"github.com/just-every/magi/internal/tools"
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

// Agent is the minimal shape the runtime needs to drive one request cycle.
type Agent struct {
	ID               string
	Name             string
	Instructions     string
	ModelClass       string
	Model            string // fixed model; empty means use rotation
	ReasoningEnabled bool
	Tools            []tools.Tool
	Hooks            Hooks

	// ForcedTool, when non-empty, constrains the next provider call's tool
	// choice to the named tool. Cleared or set per turn by whoever owns the
	// agent (the Overseer's prompt guide uses it to force talk_to_user).
	ForcedTool string

	// MaxToolCallRoundsPerTurn bounds the tool-loop; 1 is Overseer mode
	// (return after one round even with pending tool calls).
	MaxToolCallRoundsPerTurn int
}

// Hooks are fired at each stage of a request cycle. Any hook may be nil.
type Hooks struct {
	OnRequest    func(ctx context.Context, conv *convo.Conversation) *convo.Conversation
	OnResponse   func(ctx context.Context, msg convo.Message)
	OnThinking   func(ctx context.Context, msg convo.Message)
	OnToolCall   func(ctx context.Context, call events.ToolCall)
	OnToolResult func(ctx context.Context, call events.ToolCall, output convo.Message)
}

// Gate blocks new provider requests while the system is paused. An
// in-flight call is never cancelled by a pause; only the next one waits.
type Gate interface {
	WaitUntilRunning(ctx context.Context) error
}

// Runtime drives Agent request cycles against a provider registry, model
// rotation, and tool registry/executor.
type Runtime struct {
	providers *providers.Registry
	rotation  *rotation.Rotation
	executor  *tools.Executor
	gate      Gate
}

// New creates a Runtime.
func New(providerRegistry *providers.Registry, rot *rotation.Rotation, executor *tools.Executor) *Runtime {
	return &Runtime{providers: providerRegistry, rotation: rot, executor: executor}
}

// SetGate installs the pause gate consulted before each provider request.
func (rt *Runtime) SetGate(g Gate) { rt.gate = g }

// Run implements the per-request cycle from §4.E, looping until a turn
// produces no tool calls or MaxToolCallRoundsPerTurn rounds have run.
// Events from every provider call are relayed to onEvent unchanged, in
// provider order. Run synthesizes no events of its own: a tool call that
// the accumulator finalized without a provider tool_call_complete (from
// deltas flushed at stream_end, or from message_complete) is executed
// without a tool_call_complete ever reaching onEvent.
func (rt *Runtime) Run(ctx context.Context, agent *Agent, conv *convo.Conversation, onEvent func(events.Event)) (*convo.Conversation, error) {
	maxRounds := agent.MaxToolCallRoundsPerTurn
	if maxRounds <= 0 {
		maxRounds = 10
	}

	current := conv
	for round := 0; round < maxRounds; round++ {
		if agent.Hooks.OnRequest != nil {
			if rewritten := agent.Hooks.OnRequest(ctx, current); rewritten != nil {
				current = rewritten
			}
		}

		if rt.gate != nil {
			if err := rt.gate.WaitUntilRunning(ctx); err != nil {
				return current, fmt.Errorf("agentrt: %w", err)
			}
		}

		model := agent.Model
		if model == "" {
			model = rt.rotation.Select(agent.ID, agent.ModelClass, nil)
		}

		provider, err := rt.providers.ForModel(model)
		if err != nil {
			return current, fmt.Errorf("agentrt: %w", err)
		}

		view := providers.AgentView{
			Name:             agent.Name,
			Instructions:     agent.Instructions,
			Tools:            toolViews(agent.Tools),
			ReasoningEnabled: agent.ReasoningEnabled,
			ForcedTool:       agent.ForcedTool,
		}

		stream, err := provider.Run(ctx, model, current, view)
		if err != nil {
			return current, fmt.Errorf("agentrt: provider run: %w", err)
		}

		if onEvent != nil {
			relayed := relay(stream, onEvent)
			res := accumulate.Accumulate(current, relayed)
			current = res.Conversation
			fireHooks(ctx, agent.Hooks, res)

			if len(res.ToolCalls) == 0 {
				return current, nil
			}
			outputs := rt.executor.ExecuteBatch(ctx, agent.Name, res.ToolCalls)
			for i, out := range outputs {
				if agent.Hooks.OnToolResult != nil {
					agent.Hooks.OnToolResult(ctx, res.ToolCalls[i], out)
				}
			}
			current.Append(outputs...)
			continue
		}

		res := accumulate.Accumulate(current, stream)
		current = res.Conversation
		fireHooks(ctx, agent.Hooks, res)
		if len(res.ToolCalls) == 0 {
			return current, nil
		}
		outputs := rt.executor.ExecuteBatch(ctx, agent.Name, res.ToolCalls)
		for i, out := range outputs {
			if agent.Hooks.OnToolResult != nil {
				agent.Hooks.OnToolResult(ctx, res.ToolCalls[i], out)
			}
		}
		current.Append(outputs...)
	}
	return current, nil
}

func fireHooks(ctx context.Context, hooks Hooks, res accumulate.Result) {
	if hooks.OnResponse != nil && res.AssistantText != nil {
		hooks.OnResponse(ctx, *res.AssistantText)
	}
	if hooks.OnThinking != nil {
		for _, t := range res.ThinkingTexts {
			hooks.OnThinking(ctx, t)
		}
	}
	if hooks.OnToolCall != nil {
		for _, c := range res.ToolCalls {
			hooks.OnToolCall(ctx, c)
		}
	}
}

// relay forwards every event from stream to onEvent while also returning a
// stream that accumulate.Accumulate can drain, since a channel can only be
// consumed once.
func relay(stream *events.Stream, onEvent func(events.Event)) *events.Stream {
	prod, out := events.NewProducer(32)
	go func() {
		defer prod.Close()
		for ev := range stream.C {
			onEvent(ev)
			if !prod.Emit(ev) {
				stream.Cancel()
				return
			}
		}
	}()
	return out
}

func toolViews(ts []tools.Tool) []providers.AgentTool {
	out := make([]providers.AgentTool, 0, len(ts))
	for _, t := range ts {
		out = append(out, providers.AgentTool{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return out
}
