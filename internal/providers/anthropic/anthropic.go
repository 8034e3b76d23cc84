// Package anthropic adapts the Anthropic Claude Messages API to the shared
// event grammar, grounded on the upstream anthropics/anthropic-sdk-go
// streaming client.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/just-every/magi/internal/providers"
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

// Provider implements providers.Provider for Anthropic models.
type Provider struct {
	client    anthropic.Client
	log       *slog.Logger
	maxTokens int
}

// Config configures the Anthropic provider.
type Config struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
	Logger    *slog.Logger
}

// New creates an Anthropic provider from Config.
func New(cfg Config) *Provider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Provider{client: anthropic.NewClient(opts...), log: log.With("component", "provider.anthropic"), maxTokens: maxTokens}
}

// Name returns the provider's registry key.
func (p *Provider) Name() string { return "anthropic" }

// SupportsTools reports whether the model accepts native tool-calling.
// Claude's reasoning-only variants still accept tools, so this is always
// true for Anthropic; the reasoner-fallback path in spec.md §4.B is a
// deepseek-specific concern handled by internal/providers/deepseek.
func (p *Provider) SupportsTools(model string) bool { return true }

// Run starts a streaming Messages call and normalizes it into events.Event.
func (p *Provider) Run(ctx context.Context, model string, conv *convo.Conversation, agent providers.AgentView) (*events.Stream, error) {
	params, err := p.buildParams(model, conv, agent)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}

	prod, stream := events.NewProducer(32)
	sdkStream := p.client.Messages.NewStreaming(ctx, params)

	go p.pump(sdkStream, prod)

	return stream, nil
}

func (p *Provider) buildParams(model string, conv *convo.Conversation, agent providers.AgentView) (anthropic.MessageNewParams, error) {
	messages, system, err := convertMessages(conv)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(agent.Tools) > 0 {
		tools, err := convertTools(agent.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
		if agent.ForcedTool != "" {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfTool: &anthropic.ToolChoiceToolParam{Name: agent.ForcedTool},
			}
		}
	}
	if agent.ReasoningEnabled {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(10000)
	}
	return params, nil
}

// convertMessages walks the conversation and produces Anthropic message
// params plus a consolidated system prompt (Anthropic keeps system
// instructions out-of-band from the message list).
func convertMessages(conv *convo.Conversation) ([]anthropic.MessageParam, string, error) {
	var sysParts []string
	var out []anthropic.MessageParam

	pendingToolResults := map[string]convo.Message{}
	for _, m := range conv.Messages {
		switch {
		case m.Role == convo.RoleSystem || m.Role == convo.RoleDeveloper:
			if m.Content != "" {
				sysParts = append(sysParts, m.Content)
			}
		case m.Type == convo.TypeFunctionCallOutput:
			pendingToolResults[m.CallID] = m
		case m.Role == convo.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case m.Type == convo.TypeFunctionCall:
			block := anthropic.NewToolUseBlock(m.CallID, json.RawMessage(m.Arguments), m.Name)
			result := pendingToolResults[m.CallID]
			out = append(out, anthropic.NewAssistantMessage(block))
			if result.CallID != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(result.CallID, result.Output, false)))
				delete(pendingToolResults, m.CallID)
			}
		case m.Role == convo.RoleAssistant && m.Content != "":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out, strings.Join(sysParts, "\n\n"), nil
}

func convertTools(tools []providers.AgentTool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := providers.ToolSchemaForWire(t.Schema)
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: marshal schema for %s: %w", t.Name, err)
		}
		var inputSchema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &inputSchema); err != nil {
			return nil, fmt.Errorf("anthropic: decode schema for %s: %w", t.Name, err)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: inputSchema,
		}})
	}
	return out, nil
}

// pump reads the Anthropic SSE stream and emits normalized events. Tool-use
// content blocks accumulate their JSON input across deltas and finalize on
// content_block_stop, whether or not the buffered arguments parse as JSON.
func (p *Provider) pump(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], prod *events.Producer) {
	defer prod.Close()

	messageID := ""
	var textBuf strings.Builder
	toolBuf := map[int]*toolAccum{}
	thinkingOpen := false
	var thinkingSig strings.Builder
	var usage events.Usage

	for stream.Next() {
		ev := stream.Current()
		switch ev.Type {
		case "message_start":
			ms := ev.AsMessageStart()
			messageID = ms.Message.ID
			usage.Model = string(ms.Message.Model)
			usage.Input = int(ms.Message.Usage.InputTokens)
			prod.Emit(events.NewMessageStart(messageID, events.RoleAssistant))
		case "content_block_start":
			cbs := ev.AsContentBlockStart()
			switch block := cbs.ContentBlock.AsAny().(type) {
			case anthropic.ToolUseBlock:
				toolBuf[int(cbs.Index)] = &toolAccum{id: block.ID, name: block.Name}
				prod.Emit(events.NewToolCallStart(block.ID, block.Name))
			case anthropic.ThinkingBlock:
				thinkingOpen = true
				prod.Emit(events.NewThinkingStart(messageID))
			}
		case "content_block_delta":
			cbd := ev.AsContentBlockDelta()
			switch delta := cbd.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				textBuf.WriteString(delta.Text)
				prod.Emit(events.NewMessageDelta(messageID, delta.Text))
			case anthropic.InputJSONDelta:
				if acc := toolBuf[int(cbd.Index)]; acc != nil {
					acc.args.WriteString(delta.PartialJSON)
					prod.Emit(events.NewToolCallDelta(acc.id, acc.name, delta.PartialJSON))
				}
			case anthropic.ThinkingDelta:
				prod.Emit(events.NewThinkingDelta(messageID, delta.Thinking))
			case anthropic.SignatureDelta:
				// buffered and surfaced on thinking_complete below.
				thinkingSig.WriteString(delta.Signature)
			}
		case "content_block_stop":
			cbs := ev.AsContentBlockStop()
			if acc := toolBuf[int(cbs.Index)]; acc != nil {
				prod.Emit(events.NewToolCallComplete(events.ToolCall{
					ID: acc.id, Kind: "function",
					Function: events.ToolCallFunc{Name: acc.name, Arguments: acc.args.String()},
				}))
				delete(toolBuf, int(cbs.Index))
			} else if thinkingOpen {
				prod.Emit(events.NewThinkingComplete(messageID, "", thinkingSig.String()))
				thinkingSig.Reset()
				thinkingOpen = false
			}
		case "message_delta":
			md := ev.AsMessageDelta()
			usage.Output = int(md.Usage.OutputTokens)
		case "message_stop":
			prod.Emit(events.NewMessageComplete(messageID, textBuf.String(), nil))
			prod.Emit(events.NewCostUpdate(usage))
		}
	}
	if err := stream.Err(); err != nil {
		prod.Emit(events.NewError(err.Error(), "", ""))
	}
	prod.Emit(events.NewStreamEnd())
}

type toolAccum struct {
	id   string
	name string
	args strings.Builder
}
