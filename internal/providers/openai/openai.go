// Package openai adapts the OpenAI Chat Completions streaming API to the
// shared event grammar, grounded on the openai/openai-go/v2 SDK.
package openai

import (
	"context"
	"fmt"
	"log/slog"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"

	"github.com/just-every/magi/internal/providers"
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

// Provider implements providers.Provider for OpenAI chat models.
type Provider struct {
	client    sdk.Client
	log       *slog.Logger
	maxTokens int
}

// Config configures the OpenAI provider.
type Config struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
	Logger    *slog.Logger
}

// New creates an OpenAI provider from Config.
func New(cfg Config) *Provider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Provider{client: sdk.NewClient(opts...), log: log.With("component", "provider.openai"), maxTokens: cfg.MaxTokens}
}

func (p *Provider) Name() string { return "openai" }

// SupportsTools is true for every chat-completions model OpenAI ships;
// model-specific exceptions (the deepseek-reasoner fallback) live in the
// deepseek provider, not here.
func (p *Provider) SupportsTools(model string) bool { return true }

func (p *Provider) Run(ctx context.Context, model string, conv *convo.Conversation, agent providers.AgentView) (*events.Stream, error) {
	params, err := BuildParams(model, conv, agent, p.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	prod, stream := events.NewProducer(32)
	sdkStream := p.client.Chat.Completions.NewStreaming(ctx, params)
	go Pump(sdkStream, prod)
	return stream, nil
}

// BuildParams converts a Conversation and AgentView into Chat Completions
// request params. Exported so OpenAI-compatible adapters (openrouter, grok)
// can build on the same conversion instead of re-deriving it.
func BuildParams(model string, conv *convo.Conversation, agent providers.AgentView, maxTokens int) (sdk.ChatCompletionNewParams, error) {
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(model)}
	params.Messages = ConvertMessages(conv, agent.Instructions)
	if maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(maxTokens))
	}
	if len(agent.Tools) > 0 {
		tools, err := ConvertTools(agent.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
		if agent.ForcedTool != "" {
			params.ToolChoice = sdk.ChatCompletionToolChoiceOptionUnionParam{
				OfFunctionToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
					Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: agent.ForcedTool},
				},
			}
		}
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)
	return params, nil
}

// ConvertMessages converts a Conversation to the Chat Completions message
// list, consolidating system/developer messages (plus agent instructions)
// into a single leading system message.
func ConvertMessages(conv *convo.Conversation, instructions string) []sdk.ChatCompletionMessageParamUnion {
	var out []sdk.ChatCompletionMessageParamUnion
	var sys []string
	if instructions != "" {
		sys = append(sys, instructions)
	}
	for _, m := range conv.Messages {
		switch {
		case m.Role == convo.RoleSystem || m.Role == convo.RoleDeveloper:
			if m.Content != "" {
				sys = append(sys, m.Content)
			}
		case m.Role == convo.RoleUser:
			out = append(out, sdk.UserMessage(m.Content))
		case m.Type == convo.TypeFunctionCall:
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfAssistant: &sdk.ChatCompletionAssistantMessageParam{
					ToolCalls: []sdk.ChatCompletionMessageToolCallUnionParam{{
						OfFunction: &sdk.ChatCompletionMessageFunctionToolCallParam{
							ID: m.CallID,
							Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      m.Name,
								Arguments: m.Arguments,
							},
						},
					}},
				},
			})
		case m.Type == convo.TypeFunctionCallOutput:
			out = append(out, sdk.ToolMessage(m.Output, m.CallID))
		case m.Role == convo.RoleAssistant && m.Content != "":
			out = append(out, sdk.AssistantMessage(m.Content))
		}
	}
	if len(sys) > 0 {
		head := make([]sdk.ChatCompletionMessageParamUnion, 0, len(out)+1)
		joined := sys[0]
		for _, s := range sys[1:] {
			joined += "\n\n" + s
		}
		head = append(head, sdk.SystemMessage(joined))
		out = append(head, out...)
	}
	return out
}

// ConvertTools converts an AgentTool list to Chat Completions tool params.
func ConvertTools(tools []providers.AgentTool) ([]sdk.ChatCompletionToolUnionParam, error) {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := providers.ToolSchemaForWire(t.Schema)
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			Parameters:  sdk.FunctionParameters(schema),
		}))
	}
	return out, nil
}

type toolAccum struct {
	id   string
	name string
	args string
}

// Pump reads a Chat Completions stream and emits normalized events. Tool
// call fragments are keyed by the API-provided Index, not the slice
// position, since providers may emit them out of order. Shared by every
// OpenAI-compatible adapter (openai, openrouter, grok).
func Pump(stream *ssestream.Stream[sdk.ChatCompletionChunk], prod *events.Producer) {
	defer prod.Close()

	messageID := ""
	tool := map[int64]*toolAccum{}
	started := false
	var usage events.Usage

	for stream.Next() {
		chunk := stream.Current()
		if !started {
			messageID = chunk.ID
			started = true
			prod.Emit(events.NewMessageStart(messageID, events.RoleAssistant))
		}
		if chunk.Usage.TotalTokens > 0 {
			usage.Input = int(chunk.Usage.PromptTokens)
			usage.Output = int(chunk.Usage.CompletionTokens)
			usage.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			prod.Emit(events.NewMessageDelta(messageID, delta.Content))
		}
		for _, tc := range delta.ToolCalls {
			idx := tc.Index
			acc := tool[idx]
			if acc == nil {
				acc = &toolAccum{id: tc.ID, name: tc.Function.Name}
				tool[idx] = acc
				prod.Emit(events.NewToolCallStart(acc.id, acc.name))
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.args += tc.Function.Arguments
				prod.Emit(events.NewToolCallDelta(acc.id, acc.name, tc.Function.Arguments))
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			for idx, acc := range tool {
				prod.Emit(events.NewToolCallComplete(events.ToolCall{
					ID: acc.id, Kind: "function",
					Function: events.ToolCallFunc{Name: acc.name, Arguments: acc.args},
				}))
				delete(tool, idx)
			}
		}
	}
	if err := stream.Err(); err != nil {
		prod.Emit(events.NewError(err.Error(), "", ""))
	} else {
		prod.Emit(events.NewMessageComplete(messageID, "", nil))
		prod.Emit(events.NewCostUpdate(usage))
	}
	prod.Emit(events.NewStreamEnd())
}
