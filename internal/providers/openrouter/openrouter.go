// Package openrouter adapts OpenRouter's OpenAI-compatible completions API
// to the shared event grammar. OpenRouter re-exposes dozens of upstream
// models behind one endpoint, so this adapter reuses the openai package's
// wire conversion and SSE pump wholesale and only changes transport
// concerns: base URL, attribution headers, and the provider-routing sort
// field, grounded on the teacher's internal/agent/providers/openrouter.go.
package openrouter

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

const baseURL = "https://openrouter.ai/api/v1"

// Provider implements providers.Provider for OpenRouter-routed models.
type Provider struct {
	client    sdk.Client
	log       *slog.Logger
	maxTokens int
	sort      string
}

// Config configures the OpenRouter provider.
type Config struct {
	APIKey    string
	AppName   string
	SiteURL   string
	MaxTokens int
	// Sort selects OpenRouter's upstream-provider routing preference, e.g.
	// "price" or "throughput". Empty leaves OpenRouter's default ordering.
	Sort   string
	Logger *slog.Logger
}

// New creates an OpenRouter provider from Config.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
	}
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.AppName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.AppName))
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		client:    sdk.NewClient(opts...),
		log:       log.With("component", "provider.openrouter"),
		maxTokens: cfg.MaxTokens,
		sort:      cfg.Sort,
	}
}

func (p *Provider) Name() string { return "openrouter" }

// SupportsTools passes through to the routed upstream model; OpenRouter
// itself never rejects the field, so this stays true across the board.
func (p *Provider) SupportsTools(model string) bool { return true }

func (p *Provider) Run(ctx context.Context, model string, conv *convo.Conversation, agent providers.AgentView) (*events.Stream, error) {
	params, err := openai.BuildParams(model, conv, agent, p.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("openrouter: build request: %w", err)
	}

	var opts []option.RequestOption
	if p.sort != "" {
		opts = append(opts, option.WithJSONSet("provider", map[string]any{"sort": p.sort}))
	}

	prod, stream := events.NewProducer(32)
	sdkStream := p.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	go openai.Pump(sdkStream, prod)
	return stream, nil
}
