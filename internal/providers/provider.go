// Package providers defines the adapter contract every LLM backend
// implements: translate a Conversation into the provider's native request
// shape, then translate its native response stream into the shared event
// grammar (pkg/events). Concrete adapters live in subpackages
// (anthropic, openai, google, grok, openrouter, deepseek) and are
// registered with a Registry keyed by model-name prefix.
package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

// AgentTool is the minimal shape an adapter needs to build a provider
// tool-call schema: full tool execution lives in internal/tools, the
// adapter only needs name/description/schema.
type AgentTool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// AgentView is the subset of agent configuration a request-preparation
// step needs (system instructions, tool list, model settings).
type AgentView struct {
	Name             string
	Instructions     string
	Tools            []AgentTool
	ModelSettings    map[string]any
	ReasoningEnabled bool

	// ForcedTool, when non-empty, names a tool the next provider call must
	// invoke; adapters translate it into the provider's tool_choice
	// equivalent. Empty leaves tool selection to the model.
	ForcedTool string
}

// Provider is the contract every LLM backend adapter implements.
//
// Implementations must be safe for concurrent use: the agent runtime may
// call Run for independent conversations from multiple goroutines.
type Provider interface {
	// Name returns the provider's registry key, e.g. "anthropic".
	Name() string

	// Run starts one provider call and returns its normalized event stream.
	// Cancelling the returned Stream closes its Producer's Cancelled
	// channel; the adapters in this module do not watch it, and keep
	// reading the upstream until it ends or ctx is cancelled.
	Run(ctx context.Context, model string, conv *convo.Conversation, agent AgentView) (*events.Stream, error)

	// SupportsTools reports whether model accepts native tool-calling.
	SupportsTools(model string) bool
}

// Registry resolves a Provider by model-name prefix match, per the design
// note "provider selection is by model-prefix match".
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	prefixes  []prefixEntry
}

type prefixEntry struct {
	prefix   string
	provider Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its name and a set of model-name prefixes
// it claims (e.g. "claude-" for Anthropic, "gpt-" and "o1" for OpenAI).
func (r *Registry) Register(p Provider, prefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	for _, pre := range prefixes {
		r.prefixes = append(r.prefixes, prefixEntry{prefix: pre, provider: p})
	}
	sort.Slice(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

// ByName resolves a provider by its registered name.
func (r *Registry) ByName(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// ForModel resolves the provider that claims a model by longest matching
// prefix. Returns an error if no provider claims the model.
func (r *Registry) ForModel(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.prefixes {
		if strings.HasPrefix(model, entry.prefix) {
			return entry.provider, nil
		}
	}
	return nil, fmt.Errorf("providers: no provider registered for model %q", model)
}
