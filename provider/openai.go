package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"askd/mcp"
	"askd/model"
	"askd/tools"
)

// chunkStream is the part of the SDK's SSE stream the driver consumes.
// Tests substitute a scripted stream; production uses the SDK's own.
type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// OpenAIProvider drives any backend speaking the OpenAI chat-completion
// protocol, including DeepSeek and Qwen style endpoints that stream
// reasoning through the reasoning_content delta field.
type OpenAIProvider struct {
	engine
	client openai.Client

	newStream func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream
}

// NewOpenAIProvider creates a driver for an OpenAI-compatible backend.
func NewOpenAIProvider(cfg RequestConfig, streamID string, deps Deps) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for backend %s", cfg.Backend)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gpt-4o-mini"
	}

	client := openai.NewClient(
		option.WithBaseURL(cfg.Endpoint),
		option.WithAPIKey(cfg.APIKey),
	)

	p := &OpenAIProvider{
		engine: engine{
			cfg:      cfg,
			streamID: streamID,
			deps:     deps,
		},
		client: client,
	}
	p.engine.round = p.handleStream
	p.newStream = func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream {
		// Qwen-style endpoints switch the reasoning channel on via this
		// request field; backends that don't know it ignore it.
		var opts []option.RequestOption
		if p.cfg.EnableThinking {
			opts = append(opts, option.WithJSONSet("enable_thinking", true))
		}
		return p.client.Chat.Completions.NewStreaming(ctx, params, opts...)
	}

	return p, nil
}

// handleStream issues one backend request over the current history and
// processes its stream. When the model requests tools, their results are
// appended and the engine recurses for the follow-up round, reusing the
// reasoning container created on the first round.
func (p *OpenAIProvider) handleStream(ctx context.Context) error {
	p.openContainer(p.cfg.ModelName + " reasoning")

	stream := p.newStream(ctx, p.buildParams())
	defer stream.Close()

	var answer, reasoning strings.Builder
	acc := model.NewToolCallAccumulator()
	toolCallsInProgress := false

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		// The finishing chunk can still carry a trailing fragment, so the
		// finish reason only flips the mode; accumulation continues below.
		if choice.FinishReason == "tool_calls" {
			toolCallsInProgress = true
		}

		if p.hasContainer {
			if rc := reasoningDelta(choice.Delta); rc != "" {
				reasoning.WriteString(rc)
				p.thinking(rc)
			}
		}

		// Content arriving after tool deltas started is decode noise on
		// some backends; suppress it.
		if choice.Delta.Content != "" && !toolCallsInProgress {
			answer.WriteString(choice.Delta.Content)
			p.publish(model.Token{StreamID: p.streamID, Text: choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			name := tc.Function.Name
			hasIndex := tc.JSON.Index.Valid()
			acc.AddFragment(tc.ID, int(tc.Index), hasIndex, name, tc.Function.Arguments)

			if name != "" {
				toolCallsInProgress = true
				p.thinking(fmt.Sprintf("\nPreparing tool call #%d: %s\nArguments: ", tc.Index+1, name))
				p.publish(model.ToolCallEvent{
					StreamID: p.streamID,
					ToolCall: model.ToolCallRef{
						ID:           tc.ID,
						Index:        int(tc.Index),
						Name:         name,
						ArgumentsRaw: tc.Function.Arguments,
					},
				})
			} else if tc.Function.Arguments != "" {
				p.thinking(tc.Function.Arguments)
			}
		}
	}

	if err := stream.Err(); err != nil {
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
func (p *OpenAIProvider) Destroy() {
	if p.deps.Router != nil {
		p.deps.Router.CloseAll()
	}
	p.messages = nil
}

func (p *OpenAIProvider) buildParams() openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.ModelName),
		Messages: convertToOpenAIMessages(p.messages),
	}

	if p.cfg.UseTools {
		toolParams := localToolsToOpenAI(p.deps.Executor.Definitions())
		if p.deps.Router != nil {
			toolParams = append(toolParams, mcp.ConvertToolsToOpenAI(p.deps.Router.Tools())...)
		}
		params.Tools = toolParams
	}

	return params
}

// reasoningDelta extracts reasoning text from a chunk delta. DeepSeek and
// Qwen stream it as reasoning_content; OpenRouter-style backends use
// reasoning. Neither is in the SDK's typed surface, so both come out of the
// raw JSON.
func reasoningDelta(delta openai.ChatCompletionChunkChoiceDelta) string {
	for _, field := range []string{"reasoning_content", "reasoning"} {
		f, ok := delta.JSON.ExtraFields[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal([]byte(f.Raw()), &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// convertToOpenAIMessages maps conversation history to the SDK's union
// message params.
func convertToOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))

		case "user":
			out = append(out, openai.UserMessage(msg.Content))

		case "assistant":
			assistantParam := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistantParam.Content.OfString = param.NewOpt(msg.Content)
			}
			if len(msg.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					toolCalls[i] = openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: tc.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      tc.Name,
								Arguments: tc.ArgumentsRaw,
							},
						},
					}
				}
				assistantParam.ToolCalls = toolCalls
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantParam})

		case "tool":
			toolParam := openai.ChatCompletionToolMessageParam{
				ToolCallID: msg.ToolCallID,
			}
			toolParam.Content.OfString = param.NewOpt(msg.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfTool: &toolParam})

		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}

	return out
}

// localToolsToOpenAI converts the local tool set to the SDK's format.
func localToolsToOpenAI(defs []tools.Definition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionFunctionTool(
			openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.Parameters),
			},
		))
	}
	return out
}
