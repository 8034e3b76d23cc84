// Package memorytools implements the Overseer's save_memory, find_memory,
// and delete_memory tools (§6), wrapping internal/memory.Store the same
// way internal/tools/overseertools wraps internal/supervisor.Supervisor.
package memorytools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/just-every/magi/internal/memory"
	"github.com/just-every/magi/internal/tools"
)

// RegisterAll registers every memory tool on registry.
func RegisterAll(registry *tools.Registry, store *memory.Store) {
	registry.Register(&saveMemory{store: store})
	registry.Register(&findMemory{store: store})
	registry.Register(&deleteMemory{store: store})
}

type saveMemory struct{ store *memory.Store }

func (t *saveMemory) Name() string        { return "save_memory" }
func (t *saveMemory) Description() string { return "Save a short-term or long-term memory." }
func (t *saveMemory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"term":   map[string]any{"type": "string", "enum": []string{"short", "long"}},
			"memory": map[string]any{"type": "string"},
		},
		"required":             []string{"term", "memory"},
		"additionalProperties": false,
	}
}

func (t *saveMemory) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Term   string `json:"term"`
		Memory string `json:"memory"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("save_memory: %w", err)
	}
	id, err := t.store.Save(ctx, memory.Term(in.Term), in.Memory)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return tools.Result{Content: id}, nil
}

type findMemory struct{ store *memory.Store }

func (t *findMemory) Name() string        { return "find_memory" }
func (t *findMemory) Description() string { return "Search saved memories by keyword." }
func (t *findMemory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"query"},
		"additionalProperties": false,
	}
}

func (t *findMemory) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Query []string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("find_memory: %w", err)
	}
	entries, err := t.store.Find(ctx, in.Query)
	if err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	if len(entries) == 0 {
		return tools.Result{Content: "no matching memories"}, nil
	}
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s/%s] %s\n", e.Term, e.ID, e.Content)
	}
	return tools.Result{Content: sb.String()}, nil
}

type deleteMemory struct{ store *memory.Store }

func (t *deleteMemory) Name() string        { return "delete_memory" }
func (t *deleteMemory) Description() string { return "Delete a previously saved memory by id." }
func (t *deleteMemory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"term": map[string]any{"type": "string", "enum": []string{"short", "long"}},
			"id":   map[string]any{"type": "string"},
		},
		"required":             []string{"term", "id"},
		"additionalProperties": false,
	}
}

func (t *deleteMemory) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	var in struct {
		Term string `json:"term"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.Result{}, fmt.Errorf("delete_memory: %w", err)
	}
	if err := t.store.Delete(ctx, memory.Term(in.Term), in.ID); err != nil {
		return tools.Result{Content: err.Error(), IsError: true}, nil
	}
	return tools.Result{Content: "deleted"}, nil
}
