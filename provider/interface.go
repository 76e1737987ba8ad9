// Package provider implements the streaming drivers for the supported LLM
// backends.
//
// ASKD talks to multiple backends (OpenAI-compatible endpoints, Anthropic,
// local Ollama) through one Provider interface, so the session layer and the
// event channel stay backend-agnostic. Each driver owns one conversation: it
// holds the message history, streams responses, classifies fragments into
// answer text, reasoning and tool-call deltas, dispatches tool calls and
// issues follow-up requests until the model answers without tools.
package provider

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"askd/config"
	"askd/mcp"
	"askd/model"
	"askd/tools"
)

// Provider is one conversation against one backend. Implementations are not
// safe for concurrent generations; the session layer serializes access.
type Provider interface {
	// ProcessQuestion appends the user's question to the conversation and
	// streams the answer to the sink. It returns once the stream reaches a
	// terminal state (complete, suspended on a human question, or failed).
	ProcessQuestion(ctx context.Context, question string, qctx *model.QuestionContext) error

	// SubmitToolResult resolves a suspended ask_question call with the
	// human's answer and resumes generation.
	SubmitToolResult(ctx context.Context, toolCallID, answer string) error

	// Rebind points the provider at a new stream id and sink, used when a
	// pooled conversation is picked up by a fresh request.
	Rebind(streamID string, sink model.Sink)

	// History returns a copy of the conversation so far.
	History() []model.Message

	// Destroy releases backend connections. The history is gone afterwards.
	Destroy()
}

// RequestConfig carries the per-conversation backend settings.
type RequestConfig struct {
	APIKey         string
	Endpoint       string
	ModelName      string
	Backend        string // backend id from config ("openai", "deepseek", ...)
	EnableThinking bool
	UseTools       bool
}

// QuestionRecorder persists pending human questions so they survive
// restarts. Implemented by the session bridge.
type QuestionRecorder interface {
	RegisterQuestion(toolCallID, streamID, question string) error
}

// Deps bundles what every driver needs besides its backend client.
type Deps struct {
	Sink      model.Sink
	Executor  *tools.Executor
	Router    *mcp.Router
	Questions QuestionRecorder
	Servers   []config.ToolServerConfig
}

// New creates the driver matching the backend id. Backends that speak the
// OpenAI chat-completion protocol (including DeepSeek and Qwen endpoints)
// share the OpenAI-compatible driver.
func New(cfg RequestConfig, streamID string, deps Deps) (Provider, error) {
	switch cfg.Backend {
	case "anthropic":
		return NewAnthropicProvider(cfg, streamID, deps)
	case "ollama":
		return NewOllamaProvider(cfg, streamID, deps)
	case "", "openai", "deepseek", "qwen", "openrouter":
		return NewOpenAIProvider(cfg, streamID, deps)
	default:
		// Unknown ids get the OpenAI-compatible driver when an endpoint is
		// configured; most third-party backends speak that protocol.
		if cfg.Endpoint != "" {
			return NewOpenAIProvider(cfg, streamID, deps)
		}
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

// newContainerID allocates a reasoning container id. One container spans
// every round of a generation, including rounds after tool results.
func newContainerID() string {
	return "reasoning-" + uuid.New().String()
}
