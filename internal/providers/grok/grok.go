// Package grok adapts xAI's Grok API, which speaks the OpenAI Chat
// Completions wire format, to the shared event grammar. It reuses the
// openai package's message/tool conversion and SSE pump and adds Grok's
// one real deviation: a registered "search" tool is pulled out of the
// tool list and rewritten into the request's top-level search_parameters
// field instead of being sent as a callable function.
package grok

import (
	"context"
	"fmt"
	"log/slog"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/just-every/magi/internal/providers"
	"github.com/just-every/magi/internal/providers/openai"
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

const baseURL = "https://api.x.ai/v1"

// searchToolName is the well-known tool name agents register to request
// Grok's native web search instead of a callable function.
const searchToolName = "search"

// Provider implements providers.Provider for xAI's Grok models.
type Provider struct {
	client    sdk.Client
	log       *slog.Logger
	maxTokens int
}

// Config configures the Grok provider.
type Config struct {
	APIKey    string
	MaxTokens int
	Logger    *slog.Logger
}

// New creates a Grok provider from Config.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithBaseURL(baseURL)}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Provider{client: sdk.NewClient(opts...), log: log.With("component", "provider.grok"), maxTokens: cfg.MaxTokens}
}

func (p *Provider) Name() string { return "grok" }

func (p *Provider) SupportsTools(model string) bool { return true }

func (p *Provider) Run(ctx context.Context, model string, conv *convo.Conversation, agent providers.AgentView) (*events.Stream, error) {
	rewritten, searchParams := extractSearchTool(agent)

	params, err := openai.BuildParams(model, conv, rewritten, p.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("grok: build request: %w", err)
	}

	var opts []option.RequestOption
	if searchParams != nil {
		opts = append(opts, option.WithJSONSet("search_parameters", searchParams))
	}

	prod, stream := events.NewProducer(32)
	sdkStream := p.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	go openai.Pump(sdkStream, prod)
	return stream, nil
}

// extractSearchTool removes the "search" tool from the agent's tool list,
// if registered, and returns the search_parameters payload Grok expects in
// its place. A nil second return means no rewrite is needed.
func extractSearchTool(agent providers.AgentView) (providers.AgentView, map[string]any) {
	kept := make([]providers.AgentTool, 0, len(agent.Tools))
	var params map[string]any
	for _, t := range agent.Tools {
		if t.Name == searchToolName {
			params = map[string]any{"mode": "auto"}
			continue
		}
		kept = append(kept, t)
	}
	agent.Tools = kept
	return agent, params
}
