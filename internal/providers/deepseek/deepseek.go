// Package deepseek adapts DeepSeek's OpenAI-compatible completions API to
// the shared event grammar. deepseek-chat takes the ordinary Chat
// Completions path (reused from internal/providers/openai); deepseek-reasoner
// cannot accept native tool calls at all, so this package implements the
// text-based fallback protocol described by the provider-adapter contract:
// tools are described in a trailing system message and the model is asked
// to emit a closing `TOOL_CALLS: [...]` JSON line instead of a native
// tool_calls field.
package deepseek

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/just-every/magi/internal/providers"
	"github.com/just-every/magi/internal/providers/openai"
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

const (
	baseURL        = "https://api.deepseek.com/v1"
	reasonerModel  = "deepseek-reasoner"
	toolCallMarker = "TOOL_CALLS:"
)

// Provider implements providers.Provider for DeepSeek models.
type Provider struct {
	client    sdk.Client
	log       *slog.Logger
	maxTokens int
}

// Config configures the DeepSeek provider.
type Config struct {
	APIKey    string
	MaxTokens int
	Logger    *slog.Logger
}

// New creates a DeepSeek provider from Config.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithBaseURL(baseURL)}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Provider{client: sdk.NewClient(opts...), log: log.With("component", "provider.deepseek"), maxTokens: cfg.MaxTokens}
}

func (p *Provider) Name() string { return "deepseek" }

// SupportsTools is false for deepseek-reasoner: it cannot accept the native
// tools field at all, which is why the text-based TOOL_CALLS fallback
// exists. Every other DeepSeek model accepts tools normally.
func (p *Provider) SupportsTools(model string) bool { return model != reasonerModel }

func (p *Provider) Run(ctx context.Context, model string, conv *convo.Conversation, agent providers.AgentView) (*events.Stream, error) {
	if model == reasonerModel {
		return p.runReasonerFallback(ctx, model, conv, agent)
	}

	params, err := openai.BuildParams(model, conv, agent, p.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("deepseek: build request: %w", err)
	}
	prod, stream := events.NewProducer(32)
	sdkStream := p.client.Chat.Completions.NewStreaming(ctx, params)
	go openai.Pump(sdkStream, prod)
	return stream, nil
}

// runReasonerFallback implements the four rewrite steps from the
// provider-adapter contract's reasoner-fallback rule.
func (p *Provider) runReasonerFallback(ctx context.Context, model string, conv *convo.Conversation, agent providers.AgentView) (*events.Stream, error) {
	messages := buildFallbackMessages(conv, agent)

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: messages,
	}
	if p.maxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(p.maxTokens))
	}
	params.StreamOptions.IncludeUsage = sdk.Bool(true)
	// response_format, logprobs, and tool_choice are simply never set here;
	// tools is never set either, satisfying step 1 of the fallback.

	prod, stream := events.NewProducer(32)
	sdkStream := p.client.Chat.Completions.NewStreaming(ctx, params)
	go pumpReasoner(sdkStream, prod)
	return stream, nil
}

// buildFallbackMessages applies steps 2-4 of the reasoner fallback: a
// trailing system message documenting the TOOL_CALLS protocol, prior tool
// calls/results rewritten to plain text, adjacent same-role merging,
// system consolidation at the head, and a guaranteed trailing user turn.
func buildFallbackMessages(conv *convo.Conversation, agent providers.AgentView) []sdk.ChatCompletionMessageParamUnion {
	type plain struct {
		role    string
		content string
	}
	var sys []string
	if agent.Instructions != "" {
		sys = append(sys, agent.Instructions)
	}

	pendingNames := map[string]string{}
	var flat []plain
	for _, m := range conv.Messages {
		switch {
		case m.Role == convo.RoleSystem || m.Role == convo.RoleDeveloper:
			if m.Content != "" {
				sys = append(sys, m.Content)
			}
		case m.Role == convo.RoleUser:
			flat = append(flat, plain{role: "user", content: m.Content})
		case m.Type == convo.TypeFunctionCall:
			pendingNames[m.CallID] = m.Name
			flat = append(flat, plain{role: "assistant", content: fmt.Sprintf("[Previous Action] Called %q with args: %s", m.Name, m.Arguments)})
		case m.Type == convo.TypeFunctionCallOutput:
			flat = append(flat, plain{role: "user", content: fmt.Sprintf("[Tool Result for %s] %s", m.CallID, m.Output)})
		case m.Role == convo.RoleAssistant && m.Content != "":
			flat = append(flat, plain{role: "assistant", content: m.Content})
		}
	}

	if len(agent.Tools) > 0 {
		sys = append(sys, toolCallsInstruction(agent.Tools))
		// tool_choice is stripped on this path; a forced tool rides the
		// protocol text instead.
		if agent.ForcedTool != "" {
			sys = append(sys, fmt.Sprintf("Your next reply MUST end with a TOOL_CALLS line invoking the %q tool.", agent.ForcedTool))
		}
	}

	merged := make([]plain, 0, len(flat)+1)
	for _, m := range flat {
		if n := len(merged); n > 0 && merged[n-1].role == m.role {
			merged[n-1].content += "\n" + m.content
			continue
		}
		merged = append(merged, m)
	}
	if len(merged) == 0 || merged[len(merged)-1].role != "user" {
		merged = append(merged, plain{role: "user", content: "Continue."})
	}

	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(merged)+1)
	if len(sys) > 0 {
		out = append(out, sdk.SystemMessage(strings.Join(sys, "\n\n")))
	}
	for _, m := range merged {
		if m.role == "user" {
			out = append(out, sdk.UserMessage(m.content))
		} else {
			out = append(out, sdk.AssistantMessage(m.content))
		}
	}
	return out
}

func toolCallsInstruction(tools []providers.AgentTool) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools. You cannot call them natively; ")
	b.WriteString("instead, when you want to use one or more, end your reply with a single line ")
	b.WriteString("of the exact form `TOOL_CALLS: [...]` containing a JSON array, each entry shaped ")
	b.WriteString(`{"id": "<unique id>", "function": {"name": "<tool name>", "arguments": "<JSON-encoded string>"}}`)
	b.WriteString(". Omit the line entirely if you are not calling a tool.\n\nAvailable tools:\n")
	for _, t := range tools {
		schema := providers.ToolSchemaForWire(t.Schema)
		raw, _ := json.Marshal(schema)
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", t.Name, t.Description, raw)
	}
	return b.String()
}

// fallbackToolCall mirrors the TOOL_CALLS: [...] wire shape the reasoner is
// instructed to emit.
type fallbackToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// pumpReasoner drains a reasoner completion stream, relaying each text delta
// as message_delta while buffering the full text, and, once complete,
// scanning the trailing line for the TOOL_CALLS marker to synthesize the
// same tool_call_start/tool_call_complete events a native tool-calling
// provider would have emitted. Its message_complete carries only the text
// before the marker.
func pumpReasoner(stream interface {
	Next() bool
	Current() sdk.ChatCompletionChunk
	Err() error
}, prod *events.Producer) {
	defer prod.Close()

	messageID := ""
	var textBuf strings.Builder
	var usage events.Usage

	for stream.Next() {
		chunk := stream.Current()
		if messageID == "" {
			messageID = chunk.ID
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
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			textBuf.WriteString(delta)
			prod.Emit(events.NewMessageDelta(messageID, delta))
		}
	}
	if err := stream.Err(); err != nil {
		prod.Emit(events.NewError(err.Error(), "", ""))
		prod.Emit(events.NewStreamEnd())
		return
	}

	full := textBuf.String()
	visible, calls := extractToolCalls(full)
	prod.Emit(events.NewMessageComplete(messageID, visible, nil))
	for _, c := range calls {
		prod.Emit(events.NewToolCallStart(c.ID, c.Function.Name))
		prod.Emit(events.NewToolCallComplete(events.ToolCall{
			ID: c.ID, Kind: "function",
			Function: events.ToolCallFunc{Name: c.Function.Name, Arguments: c.Function.Arguments},
		}))
	}
	prod.Emit(events.NewCostUpdate(usage))
	prod.Emit(events.NewStreamEnd())
}

// fenceRe strips a surrounding markdown code fence: some reasoner outputs
// wrap the TOOL_CALLS array in ```json ... ``` and some do not, so both
// forms must parse. Matches an optional language tag after the opening
// fence and an optional closing fence.
var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*(?:```)?$")

// extractToolCalls finds the trailing TOOL_CALLS: [...] line, if present,
// parses it, and returns the visible text with that line stripped. The
// array may be bare or wrapped in a fenced code block.
func extractToolCalls(full string) (string, []fallbackToolCall) {
	idx := strings.LastIndex(full, toolCallMarker)
	if idx < 0 {
		return full, nil
	}
	visible := strings.TrimRight(full[:idx], "\n")
	raw := strings.TrimSpace(full[idx+len(toolCallMarker):])
	raw = strings.TrimSuffix(raw, "```")
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	var calls []fallbackToolCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &calls); err != nil {
		return full, nil
	}
	// A fence may also open before the marker itself; drop a dangling
	// opening fence from the visible text.
	visible = strings.TrimRight(strings.TrimSuffix(strings.TrimRight(visible, "\n"), "```json"), "\n")
	visible = strings.TrimRight(strings.TrimSuffix(visible, "```"), "\n")
	return visible, calls
}
