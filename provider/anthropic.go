package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"askd/mcp"
	"askd/model"
	"askd/tools"
)

const anthropicMaxTokens = 4096

// AnthropicProvider drives Claude models through the official Anthropic SDK.
// Unlike the OpenAI wire format, tool calls arrive as content blocks: a
// content_block_start carries the id and name, input_json_delta events carry
// the argument fragments and content_block_stop closes the call.
type AnthropicProvider struct {
	engine
	client anthropic.Client

	newStream func(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// NewAnthropicProvider creates a driver for the Anthropic API.
func NewAnthropicProvider(cfg RequestConfig, streamID string, deps Deps) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com"
	}
	if cfg.ModelName == "" {
		cfg.ModelName = string(anthropic.ModelClaudeSonnet4_5_20250929)
	}

	client := anthropic.NewClient(
		option.WithBaseURL(cfg.Endpoint),
		option.WithAPIKey(cfg.APIKey),
	)

	p := &AnthropicProvider{
		engine: engine{
			cfg:      cfg,
			streamID: streamID,
			deps:     deps,
		},
		client: client,
	}
	p.engine.round = p.handleStream
	p.newStream = func(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
		return p.client.Messages.NewStreaming(ctx, params)
	}

	return p, nil
}

func (p *AnthropicProvider) handleStream(ctx context.Context) error {
	p.openContainer(p.cfg.ModelName + " reasoning")

	stream := p.newStream(ctx, p.buildParams())
	defer stream.Close()

	var answer, reasoning strings.Builder
	acc := model.NewToolCallAccumulator()

	// One tool_use block is open at a time; its argument JSON streams in
	// input_json_delta pieces until content_block_stop.
	toolIndex := -1
	inToolBlock := false

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				toolIndex++
				inToolBlock = true
				acc.AddFragment(toolUse.ID, toolIndex, true, toolUse.Name, "")
				p.thinking(fmt.Sprintf("\nPreparing tool call #%d: %s\nArguments: ", toolIndex+1, toolUse.Name))
				p.publish(model.ToolCallEvent{
					StreamID: p.streamID,
					ToolCall: model.ToolCallRef{
						ID:    toolUse.ID,
						Index: toolIndex,
						Name:  toolUse.Name,
					},
				})
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					answer.WriteString(delta.Text)
					p.publish(model.Token{StreamID: p.streamID, Text: delta.Text})
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					reasoning.WriteString(delta.Thinking)
					p.thinking(delta.Thinking)
				}
			case "input_json_delta":
				if inToolBlock && delta.PartialJSON != "" {
					acc.AddFragment("", toolIndex, true, "", delta.PartialJSON)
					p.thinking(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			inToolBlock = false
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
func (p *AnthropicProvider) Destroy() {
	if p.deps.Router != nil {
		p.deps.Router.CloseAll()
	}
	p.messages = nil
}

func (p *AnthropicProvider) buildParams() anthropic.MessageNewParams {
	anthropicMessages, systemBlocks := convertToAnthropicMessages(p.messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.ModelName),
		Messages:  anthropicMessages,
		MaxTokens: anthropicMaxTokens,
	}

	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	if p.cfg.EnableThinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(1024)
	}

	if p.cfg.UseTools {
		toolParams := localToolsToAnthropic(p.deps.Executor.Definitions())
		if p.deps.Router != nil {
			toolParams = append(toolParams, mcp.ConvertToolsToAnthropic(p.deps.Router.Tools())...)
		}
		params.Tools = toolParams
	}

	return params
}

// convertToAnthropicMessages maps conversation history to the SDK's format.
// The system message becomes a separate system block; tool results become
// tool_result blocks inside user messages, per the Anthropic protocol.
func convertToAnthropicMessages(messages []model.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var systemBlocks []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: msg.Content})

		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case "assistant":
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(
					tc.ID,
					tools.ParseArguments(tc.Name, tc.ArgumentsRaw),
					tc.Name,
				))
			}
			if len(content) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(content...))

		case "tool":
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return out, systemBlocks
}

// localToolsToAnthropic converts the local tool set to the SDK's format.
func localToolsToAnthropic(defs []tools.Definition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))

	for _, d := range defs {
		inputSchema := anthropic.ToolInputSchemaParam{}
		if props, ok := d.Parameters["properties"]; ok {
			inputSchema.Properties = props
		}
		if req, ok := d.Parameters["required"].([]string); ok {
			inputSchema.Required = req
		}

		tool := anthropic.ToolUnionParamOfTool(inputSchema, d.Name)
		if d.Description != "" {
			tool.OfTool.Description = anthropic.String(d.Description)
		}
		out = append(out, tool)
	}

	return out
}
