package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"askd/mcp"
	"askd/model"
	"askd/tools"
)

// OllamaProvider drives a local Ollama server through its native API. Ollama
// delivers tool calls whole rather than as deltas, with arguments already
// parsed into a map and no call ids, so ids are synthesized here.
type OllamaProvider struct {
	engine
	client *api.Client

	chat func(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// NewOllamaProvider creates a driver for a local Ollama server.
func NewOllamaProvider(cfg RequestConfig, streamID string, deps Deps) (*OllamaProvider, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "llama3.1:latest"
	}

	parsedURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	client := api.NewClient(parsedURL, http.DefaultClient)

	p := &OllamaProvider{
		engine: engine{
			cfg:      cfg,
			streamID: streamID,
			deps:     deps,
		},
		client: client,
	}
	p.engine.round = p.handleStream
	p.chat = client.Chat

	return p, nil
}

func (p *OllamaProvider) handleStream(ctx context.Context) error {
	p.openContainer(p.cfg.ModelName + " reasoning")

	var answer, reasoning strings.Builder
	acc := model.NewToolCallAccumulator()

	respFunc := func(resp api.ChatResponse) error {
		if resp.Message.Thinking != "" {
			reasoning.WriteString(resp.Message.Thinking)
			p.thinking(resp.Message.Thinking)
		}

		if resp.Message.Content != "" && acc.Len() == 0 {
			answer.WriteString(resp.Message.Content)
			p.publish(model.Token{StreamID: p.streamID, Text: resp.Message.Content})
		}

		for _, tc := range resp.Message.ToolCalls {
			argsRaw, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				argsRaw = []byte("{}")
			}

			id := "call_" + uuid.New().String()
			index := acc.Len()
			acc.AddFragment(id, index, true, tc.Function.Name, string(argsRaw))

			p.thinking(fmt.Sprintf("\nPreparing tool call #%d: %s\nArguments: %s", index+1, tc.Function.Name, argsRaw))
			p.publish(model.ToolCallEvent{
				StreamID: p.streamID,
				ToolCall: model.ToolCallRef{
					ID:           id,
					Index:        index,
					Name:         tc.Function.Name,
					ArgumentsRaw: string(argsRaw),
				},
			})
		}

		return nil
	}

	if err := p.chat(ctx, p.buildRequest(), respFunc); err != nil {
		return fmt.Errorf("streaming error: %w", err)
	}

	calls := acc.CompleteCalls()
	if len(calls) == 0 {
		p.finishRound(reasoning.String(), answer.String())
		return nil
	}

	return p.dispatchToolCalls(ctx, calls, reasoning.String(), answer.String())
}

// Destroy implements Provider.
func (p *OllamaProvider) Destroy() {
	if p.deps.Router != nil {
		p.deps.Router.CloseAll()
	}
	p.messages = nil
}

func (p *OllamaProvider) buildRequest() *api.ChatRequest {
	req := &api.ChatRequest{
		Model:    p.cfg.ModelName,
		Messages: convertToOllamaMessages(p.messages),
		Stream:   func(b bool) *bool { return &b }(true),
	}

	if p.cfg.EnableThinking {
		req.Think = &api.ThinkValue{Value: true}
	}

	if p.cfg.UseTools {
		toolParams := localToolsToOllama(p.deps.Executor.Definitions())
		if p.deps.Router != nil {
			toolParams = append(toolParams, mcp.ConvertToolsToOllama(p.deps.Router.Tools())...)
		}
		req.Tools = toolParams
	}

	return req
}

// convertToOllamaMessages maps conversation history to the Ollama API format.
// Ollama has no tool call ids, so assistant tool-call messages carry the
// calls with their parsed arguments and tool messages carry only the content.
func convertToOllamaMessages(messages []model.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))

	for _, msg := range messages {
		m := api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}

		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: tools.ParseArguments(tc.Name, tc.ArgumentsRaw),
				},
			})
		}

		out = append(out, m)
	}

	return out
}

// localToolsToOllama converts the local tool set to the Ollama API format.
func localToolsToOllama(defs []tools.Definition) []api.Tool {
	out := make([]api.Tool, 0, len(defs))

	for _, d := range defs {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Properties: make(map[string]api.ToolProperty),
		}

		if req, ok := d.Parameters["required"].([]string); ok {
			params.Required = req
		}

		if props, ok := d.Parameters["properties"].(map[string]any); ok {
			for name, value := range props {
				prop := api.ToolProperty{}
				if m, ok := value.(map[string]any); ok {
					if t, ok := m["type"].(string); ok {
						prop.Type = api.PropertyType{t}
					}
					if desc, ok := m["description"].(string); ok {
						prop.Description = desc
					}
					if enum, ok := m["enum"].([]string); ok {
						for _, e := range enum {
							prop.Enum = append(prop.Enum, e)
						}
					}
				}
				params.Properties[name] = prop
			}
		}

		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}

	return out
}
