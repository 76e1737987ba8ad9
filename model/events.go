package model

// Event is anything pushed over the event channel to the host UI. Every
// event carries the stream id it belongs to so the consumer can demultiplex
// interleaved streams; ordering is guaranteed only within one stream.
type Event interface {
	EventType() string
}

// Sink receives engine events. The session layer and the drivers publish
// through this interface; the websocket gateway is one implementation, tests
// supply their own.
type Sink interface {
	Publish(Event)
}

// StreamStart announces that generation for a stream has begun (or resumed
// after a human answer).
type StreamStart struct {
	StreamID string `json:"stream_id"`
}

// Token is one piece of answer text.
type Token struct {
	StreamID string `json:"stream_id"`
	Text     string `json:"text"`
}

// ThinkingCreate opens a reasoning container in the UI. One container spans
// every backend round-trip of a single generation, including rounds issued
// after tool results.
type ThinkingCreate struct {
	StreamID    string `json:"stream_id"`
	ContainerID string `json:"container_id"`
	Label       string `json:"label"`
}

// ThinkingUpdate appends reasoning text to an open container.
type ThinkingUpdate struct {
	StreamID    string `json:"stream_id"`
	ContainerID string `json:"container_id"`
	Text        string `json:"text"`
}

// ThinkingFinal carries the full reasoning text once a round settles, in
// case any incremental update was missed.
type ThinkingFinal struct {
	StreamID    string `json:"stream_id"`
	ContainerID string `json:"container_id"`
	Text        string `json:"text"`
}

// ToolCallEvent reports that the model requested a tool invocation.
type ToolCallEvent struct {
	StreamID string      `json:"stream_id"`
	ToolCall ToolCallRef `json:"tool_call"`
}

// ToolResultEvent reports one tool's result envelope.
type ToolResultEvent struct {
	StreamID string       `json:"stream_id"`
	Result   ToolResponse `json:"result"`
}

// StreamEnd is the last event of a stream. Forced is set when the stream was
// stopped by the user rather than completing naturally.
type StreamEnd struct {
	StreamID string `json:"stream_id"`
	FullText string `json:"full_text"`
	Forced   bool   `json:"forced,omitempty"`
}

// StreamError reports a failed generation. Answer or reasoning text already
// emitted is not retracted.
type StreamError struct {
	StreamID string `json:"stream_id"`
	Error    string `json:"error"`
}

// HumanQuestion asks the human to answer a question raised by the model via
// the ask_question tool. Generation stays suspended until the answer is
// submitted through the bridge.
type HumanQuestion struct {
	ToolCallID       string `json:"tool_call_id"`
	OriginalStreamID string `json:"original_stream_id"`
	Question         string `json:"question"`
}

func (StreamStart) EventType() string     { return "stream_start" }
func (Token) EventType() string           { return "token" }
func (ThinkingCreate) EventType() string  { return "thinking_create" }
func (ThinkingUpdate) EventType() string  { return "thinking_update" }
func (ThinkingFinal) EventType() string   { return "thinking_final" }
func (ToolCallEvent) EventType() string   { return "tool_call" }
func (ToolResultEvent) EventType() string { return "tool_result" }
func (StreamEnd) EventType() string       { return "stream_end" }
func (StreamError) EventType() string     { return "stream_error" }
func (HumanQuestion) EventType() string   { return "human_question" }
