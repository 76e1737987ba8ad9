package tools

import (
	"context"
	"fmt"

	"askd/config"
	"askd/model"
)

// Executor runs the local tools. Execute never returns a Go error: every
// failure is folded into an error-status envelope so the model can see it
// and recover, and a tool failure never aborts the surrounding stream.
type Executor struct {
	cfg  *config.Config
	defs []Definition
}

// NewExecutor creates an executor backed by the given runtime config (for
// the search and media endpoints and their credentials).
func NewExecutor(cfg *config.Config) *Executor {
	return &Executor{
		cfg:  cfg,
		defs: LocalDefinitions(),
	}
}

// Definitions returns the local tool set.
func (e *Executor) Definitions() []Definition {
	return e.defs
}

// IsKnown reports whether name is a local tool. Unknown names are routed to
// the remote tool layer by the caller.
func (e *Executor) IsKnown(name string) bool {
	switch name {
	case TaskCompleteName, AskQuestionName, WebSearchName, UnderstandImageName:
		return true
	}
	return false
}

// Execute runs a local tool with the raw (possibly malformed) argument
// string streamed by the backend.
func (e *Executor) Execute(ctx context.Context, name, argsRaw string) model.ToolResponse {
	args := ParseArguments(name, argsRaw)

	if config.Debug && config.DebugLog != nil {
		config.DebugLog.Printf("[tools] executing %s args=%v", name, args)
	}

	switch name {
	case TaskCompleteName:
		return taskComplete()
	case AskQuestionName:
		return askQuestion(args)
	case WebSearchName:
		return e.webSearch(ctx, args)
	case UnderstandImageName:
		return e.understandImage(ctx, args)
	default:
		return model.ToolResponse{
			Status:  model.ToolError,
			Error:   fmt.Sprintf("no tool named %s", name),
			Message: fmt.Sprintf("%s is not a local tool", name),
		}
	}
}

// taskComplete signals that the model should stop calling tools and answer
// the user directly.
func taskComplete() model.ToolResponse {
	return model.ToolResponse{
		Status:  model.ToolCompleted,
		Content: map[string]any{"completed": true},
		Message: "Task complete. Answer the user directly without calling more tools",
	}
}

// askQuestion has two shapes. The first call carries only the question and
// returns a pending envelope: generation suspends until the human answers.
// The resubmitted call carries user_response and returns the question/answer
// pair as a success envelope.
func askQuestion(args map[string]any) model.ToolResponse {
	question, _ := args["question"].(string)
	if question == "" {
		question = defaultQuestion
	}

	if answer, ok := args["user_response"].(string); ok && answer != "" {
		return model.ToolResponse{
			Status: model.ToolSuccess,
			Content: map[string]any{
				"question":      question,
				"user_response": answer,
			},
			Message: "The user answered the question",
		}
	}

	return model.ToolResponse{
		Status:  model.ToolPending,
		Content: map[string]any{"question": question},
		Message: "Question sent to the user, waiting for their answer",
	}
}
