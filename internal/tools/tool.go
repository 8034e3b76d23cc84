// Package tools implements the tool registry, JSON-schema argument
// validation, and the concurrent batch executor every agent run drives
// tool calls through, grounded on the teacher's
// internal/agent/tool_registry.go and tool_exec.go.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is a tool's output: a string, a structured value (marshaled to
// JSON for the conversation), or an error.
type Result struct {
	Content string
	IsError bool
}

// Tool is the contract every callable tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// Registry is a thread-safe name-to-tool mapping.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	schema map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), schema: make(map[string]*jsonschema.Schema)}
}

// Register adds a tool, compiling its JSON schema for validation. Register
// panics on a malformed schema: a tool's own schema is a programming error,
// not a runtime condition.
func (r *Registry) Register(t Tool) {
	compiled, err := compileSchema(t.Name(), t.Schema())
	if err != nil {
		panic(fmt.Sprintf("tools: register %s: %v", t.Name(), err))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schema[t.Name()] = compiled
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schema, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, in no particular order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Validate reports whether a call is well-formed per §4.D: id non-empty,
// kind is "function", the name resolves, arguments parse as JSON, and the
// parsed arguments satisfy the tool's schema.
func (r *Registry) Validate(id, kind, name, arguments string) error {
	if id == "" {
		return fmt.Errorf("tools: empty call id")
	}
	if kind != "function" {
		return fmt.Errorf("tools: unsupported call kind %q", kind)
	}
	r.mu.RLock()
	schema, ok := r.schema[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tools: unknown tool %q", name)
	}
	var parsed any
	if err := json.Unmarshal([]byte(arguments), &parsed); err != nil {
		return fmt.Errorf("tools: arguments for %s are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("tools: arguments for %s do not satisfy schema: %w", name, err)
	}
	return nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return jsonschema.CompileString("tool://"+name+".json", string(raw))
}
