// Package google adapts Google's Gemini API to the shared event grammar,
// grounded on the upstream google.golang.org/genai SDK client and its usage
// in the teacher's internal/agent/providers/google.go.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/just-every/magi/internal/providers"
	"github.com/just-every/magi/pkg/convo"
	"github.com/just-every/magi/pkg/events"
)

// Provider implements providers.Provider for Gemini models.
type Provider struct {
	client    *genai.Client
	log       *slog.Logger
	maxTokens int
}

// Config configures the Google provider.
type Config struct {
	APIKey    string
	MaxTokens int
	Logger    *slog.Logger
}

// New creates a Google provider from Config.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Provider{client: client, log: log.With("component", "provider.google"), maxTokens: cfg.MaxTokens}, nil
}

func (p *Provider) Name() string { return "google" }

// SupportsTools is true for every Gemini generation model; Gemini has no
// reasoner-only variant that rejects function declarations.
func (p *Provider) SupportsTools(model string) bool { return true }

func (p *Provider) Run(ctx context.Context, model string, conv *convo.Conversation, agent providers.AgentView) (*events.Stream, error) {
	contents, err := convertMessages(conv)
	if err != nil {
		return nil, fmt.Errorf("google: convert messages: %w", err)
	}
	config := buildConfig(agent, p.maxTokens)

	prod, stream := events.NewProducer(32)
	iterSeq := p.client.Models.GenerateContentStream(ctx, model, contents, config)
	go pump(iterSeq, prod)
	return stream, nil
}

func buildConfig(agent providers.AgentView, maxTokens int) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if agent.Instructions != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: agent.Instructions}}}
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(agent.Tools) > 0 {
		config.Tools = convertTools(agent.Tools)
		if agent.ForcedTool != "" {
			config.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{
					Mode:                 genai.FunctionCallingConfigModeAny,
					AllowedFunctionNames: []string{agent.ForcedTool},
				},
			}
		}
	}
	return config
}

func convertMessages(conv *convo.Conversation) ([]*genai.Content, error) {
	var out []*genai.Content
	pendingNames := map[string]string{}
	for _, m := range conv.Messages {
		switch {
		case m.Role == convo.RoleSystem || m.Role == convo.RoleDeveloper:
			continue
		case m.Type == convo.TypeFunctionCall:
			pendingNames[m.CallID] = m.Name
			var args map[string]any
			if err := json.Unmarshal([]byte(m.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			out = append(out, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: m.Name, Args: args}}},
			})
		case m.Type == convo.TypeFunctionCallOutput:
			name := pendingNames[m.CallID]
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Output), &response); err != nil {
				response = map[string]any{"result": m.Output}
			}
			out = append(out, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{Name: name, Response: response}}},
			})
		case m.Role == convo.RoleUser:
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: m.Content}}})
		case m.Role == convo.RoleAssistant && m.Content != "":
			out = append(out, &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return out, nil
}

func convertTools(tools []providers.AgentTool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: providers.ToolSchemaForWire(t.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// pump drains the GenerateContentStream iterator and emits normalized
// events. Gemini assigns no id to a function call, so one is synthesized
// per call for downstream pairing with its function_response.
func pump(streamIter iter.Seq2[*genai.GenerateContentResponse, error], prod *events.Producer) {
	defer prod.Close()

	messageID := fmt.Sprintf("gemini-%d", time.Now().UnixNano())
	prod.Emit(events.NewMessageStart(messageID, events.RoleAssistant))

	var textBuf strings.Builder
	var usage events.Usage
	callIdx := 0
	var streamErr error

	for resp, err := range streamIter {
		if err != nil {
			streamErr = err
			break
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			usage.Input = int(resp.UsageMetadata.PromptTokenCount)
			usage.Output = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					textBuf.WriteString(part.Text)
					prod.Emit(events.NewMessageDelta(messageID, part.Text))
				}
				if part.FunctionCall != nil {
					callIdx++
					id := fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, callIdx)
					argsJSON, jerr := json.Marshal(part.FunctionCall.Args)
					if jerr != nil {
						argsJSON = []byte("{}")
					}
					prod.Emit(events.NewToolCallStart(id, part.FunctionCall.Name))
					prod.Emit(events.NewToolCallComplete(events.ToolCall{
						ID: id, Kind: "function",
						Function: events.ToolCallFunc{Name: part.FunctionCall.Name, Arguments: string(argsJSON)},
					}))
				}
			}
		}
	}

	if streamErr != nil {
		prod.Emit(events.NewError(streamErr.Error(), "", ""))
	} else {
		prod.Emit(events.NewMessageComplete(messageID, textBuf.String(), nil))
		prod.Emit(events.NewCostUpdate(usage))
	}
	prod.Emit(events.NewStreamEnd())
}
