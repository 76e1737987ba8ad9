// Package model defines the provider-agnostic types shared by the
// conversation engine: messages, tool calls, the uniform tool result
// envelope, and the event set pushed to the host UI.
//
// ASKD supports multiple LLM backends (OpenAI-compatible, Anthropic, Ollama)
// through a common driver interface. Keeping these types free of any vendor
// SDK type lets the session layer, the tool layer and the event channel stay
// backend-agnostic; each driver converts to and from its SDK's types at the
// edge.
package model

import "time"

// Message represents one entry in a conversation's history.
//
// Roles follow the chat-completion convention: "system", "user", "assistant"
// and "tool". The first message of every conversation is the system prompt,
// constructed exactly once per conversation. A "tool" message always follows
// an "assistant" message carrying the matching tool call id.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Timestamp  time.Time     `json:"timestamp,omitempty"`
}

// QuestionContext carries optional page context captured by the host UI when
// a question is asked. Selected text and page metadata are folded into the
// system prompt on the conversation's first turn only.
type QuestionContext struct {
	Text           string `json:"text,omitempty"`
	URL            string `json:"url,omitempty"`
	Title          string `json:"title,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	EnableThinking bool   `json:"enable_thinking,omitempty"`
	UseTools       bool   `json:"use_tools,omitempty"`
}

// SystemPersona is the fixed persona prefix of every system prompt.
const SystemPersona = "You are AskAnything, a helpful AI assistant. Your main job is to help the user learn efficiently and answer their questions."

// BuildSystemPrompt composes the conversation's system message from the
// fixed persona plus whatever page context is present.
func BuildSystemPrompt(qctx *QuestionContext) string {
	prompt := SystemPersona
	if qctx == nil {
		return prompt
	}
	if qctx.Text != "" {
		prompt += " The text selected by the user is: \"" + qctx.Text + "\"."
	}
	if qctx.URL != "" && qctx.Title != "" {
		prompt += " The current page is: " + qctx.Title + " (" + qctx.URL + ")."
	}
	return prompt
}
