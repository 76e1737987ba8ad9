package model

import "encoding/json"

// ToolStatus is the outcome class of one tool execution.
type ToolStatus string

const (
	// ToolSuccess means the tool ran and produced content.
	ToolSuccess ToolStatus = "success"
	// ToolError means the tool failed; Error describes why. The failure is
	// reported back to the model, not surfaced to the human.
	ToolError ToolStatus = "error"
	// ToolPending means the tool suspended waiting on a human answer. No
	// further model request may be issued until it resolves.
	ToolPending ToolStatus = "pending"
	// ToolCompleted marks the task-completion tool: the model should stop
	// calling tools and answer directly.
	ToolCompleted ToolStatus = "completed"
)

// ToolResponse is the uniform envelope every tool returns, local or remote.
// Executors never propagate errors; failures are folded into an Error-status
// envelope naming the failing tool.
type ToolResponse struct {
	Status   ToolStatus     `json:"status"`
	Content  any            `json:"content"`
	Message  string         `json:"message,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentJSON renders the envelope content as the string fed back to the
// model in a tool message. String content passes through unchanged.
func (r ToolResponse) ContentJSON() string {
	if s, ok := r.Content.(string); ok {
		return s
	}
	data, err := json.Marshal(r.Content)
	if err != nil {
		return ""
	}
	return string(data)
}

// ErrorResponse builds an error envelope for a failed tool execution.
func ErrorResponse(toolName string, err error) ToolResponse {
	return ToolResponse{
		Status:  ToolError,
		Content: map[string]any{"error": true, "message": err.Error()},
		Error:   err.Error(),
		Message: "executing tool " + toolName + " failed",
	}
}
