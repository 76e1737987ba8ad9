package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"askd/config"
	"askd/model"
	"askd/tools"
)

// engine holds the state machine shared by every driver: the conversation
// history, the reasoning container spanning a generation, tool dispatch and
// the ask_question suspend/resume cycle. Drivers embed it and plug in their
// backend round via the round func.
type engine struct {
	cfg      RequestConfig
	streamID string
	deps     Deps

	messages []model.Message

	// reasoning container state, persisted across rounds and across an
	// ask_question suspension so the resumed stream appends to the same
	// container
	containerID  string
	hasContainer bool

	// round issues one backend request over the current history and
	// processes its stream; set by the driver.
	round func(ctx context.Context) error
}

// ProcessQuestion seeds the history (system prompt on the first turn only),
// appends the user's question and runs the round loop.
func (e *engine) ProcessQuestion(ctx context.Context, question string, qctx *model.QuestionContext) error {
	if len(e.messages) == 0 {
		e.messages = append(e.messages, model.Message{
			Role:      "system",
			Content:   model.BuildSystemPrompt(qctx),
			Timestamp: time.Now(),
		})
	}

	e.messages = append(e.messages, model.Message{
		Role:      "user",
		Content:   question,
		Timestamp: time.Now(),
	})

	// Questions carrying an image skip the text model entirely: the vision
	// tool's analysis is the answer.
	if qctx != nil && qctx.ImageURL != "" {
		return e.answerWithImage(ctx, question, qctx.ImageURL)
	}

	if e.cfg.UseTools && e.deps.Router != nil {
		e.deps.Router.EnsureConnected(ctx, e.deps.Servers)
	}

	e.publish(model.StreamStart{StreamID: e.streamID})

	// A fresh generation gets a fresh reasoning container.
	e.hasContainer = false
	e.containerID = ""

	return e.run(ctx)
}

// answerWithImage runs understand_image directly and streams the analysis
// back as the assistant's answer.
func (e *engine) answerWithImage(ctx context.Context, question, imageURL string) error {
	e.publish(model.StreamStart{StreamID: e.streamID})

	args, err := json.Marshal(map[string]any{
		"image_url": imageURL,
		"question":  question,
	})
	if err != nil {
		e.publish(model.StreamError{StreamID: e.streamID, Error: err.Error()})
		return err
	}

	result := e.deps.Executor.Execute(ctx, tools.UnderstandImageName, string(args))
	e.publish(model.ToolResultEvent{StreamID: e.streamID, Result: result})

	if result.Status != model.ToolSuccess {
		err := fmt.Errorf("image analysis failed: %s", result.Error)
		e.publish(model.StreamError{StreamID: e.streamID, Error: err.Error()})
		return err
	}

	analysis := result.ContentJSON()
	if content, ok := result.Content.(map[string]any); ok {
		if s, ok := content["analysis"].(string); ok && s != "" {
			analysis = s
		}
	}

	e.publish(model.Token{StreamID: e.streamID, Text: analysis})
	e.messages = append(e.messages, model.Message{
		Role:      "assistant",
		Content:   analysis,
		Timestamp: time.Now(),
	})
	e.publish(model.StreamEnd{StreamID: e.streamID, FullText: analysis})

	return nil
}

// run executes the round loop and folds failures into a StreamError event.
// Cancellation is not an error: the session layer already announced the
// forced end.
func (e *engine) run(ctx context.Context) error {
	if err := e.round(ctx); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}
		e.publish(model.StreamError{StreamID: e.streamID, Error: err.Error()})
		return err
	}
	return nil
}

// openContainer creates the generation's reasoning container on the first
// round and marks continuation on later rounds.
func (e *engine) openContainer(label string) {
	if !e.cfg.EnableThinking {
		return
	}
	if !e.hasContainer {
		e.containerID = newContainerID()
		e.hasContainer = true
		e.publish(model.ThinkingCreate{
			StreamID:    e.streamID,
			ContainerID: e.containerID,
			Label:       label,
		})
		return
	}
	e.thinking("\n---\nContinuing...\n")
}

// finishRound commits the assistant message of a round that requested no
// tools and closes the stream. Reasoning is kept in history inside
// <think> tags so later rounds see it without it leaking into the answer.
func (e *engine) finishRound(reasoning, answer string) {
	content := answer
	if reasoning != "" {
		content = "<think>" + reasoning + "</think>" + answer
	}
	e.messages = append(e.messages, model.Message{
		Role:      "assistant",
		Content:   content,
		Timestamp: time.Now(),
	})

	if reasoning != "" && e.hasContainer {
		e.publish(model.ThinkingFinal{
			StreamID:    e.streamID,
			ContainerID: e.containerID,
			Text:        reasoning,
		})
	}

	e.publish(model.StreamEnd{StreamID: e.streamID, FullText: answer})
}

// dispatchToolCalls executes every complete call from one round. An
// unanswered ask_question suspends the whole round instead of executing: the
// follow-up request waits until the human answers, so every tool call in
// history has its tool message by the time the next request goes out.
func (e *engine) dispatchToolCalls(ctx context.Context, calls []model.ToolCallRef, reasoning, answer string) error {
	var responses []model.Message
	var waiting []model.ToolCallRef
	questions := make(map[string]string)

	for _, call := range calls {
		args := tools.ParseArguments(call.Name, call.ArgumentsRaw)

		if call.Name == tools.AskQuestionName {
			if _, answered := args["user_response"]; !answered {
				question, _ := args["question"].(string)
				if question == "" {
					question = "Please provide more information"
				}
				waiting = append(waiting, call)
				questions[call.ID] = question
				continue
			}
		}

		var result model.ToolResponse
		switch {
		case e.deps.Executor != nil && e.deps.Executor.IsKnown(call.Name):
			result = e.deps.Executor.Execute(ctx, call.Name, call.ArgumentsRaw)
		case e.deps.Router != nil && e.deps.Router.HasTool(call.Name):
			result = e.deps.Router.CallTool(ctx, call.Name, args)
		default:
			result = model.ToolResponse{
				Status:  model.ToolError,
				Error:   fmt.Sprintf("no tool named %s", call.Name),
				Message: fmt.Sprintf("tool %s is neither local nor advertised by a connected server", call.Name),
			}
		}

		e.publish(model.ToolResultEvent{StreamID: e.streamID, Result: result})
		e.thinking(fmt.Sprintf("\nTool call #%d result:\n%s\n", call.Index+1, result.ContentJSON()))

		responses = append(responses, model.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    result.ContentJSON(),
			Timestamp:  time.Now(),
		})
	}

	// Commit the text gathered this round before the tool exchange.
	if reasoning != "" {
		e.messages = append(e.messages, model.Message{
			Role:      "assistant",
			Content:   "<think>" + reasoning + "</think>" + answer,
			Timestamp: time.Now(),
		})
	} else if answer != "" {
		e.messages = append(e.messages, model.Message{
			Role:      "assistant",
			Content:   answer,
			Timestamp: time.Now(),
		})
	}

	// One assistant message carries the full round, resolved and waiting
	// calls alike; the waiting ones get their tool message on resume.
	e.messages = append(e.messages, model.Message{
		Role:      "assistant",
		ToolCalls: calls,
		Timestamp: time.Now(),
	})
	e.messages = append(e.messages, responses...)

	if len(waiting) > 0 {
		for _, call := range waiting {
			e.suspendOnQuestion(call, questions[call.ID])
		}
		return nil
	}

	return e.round(ctx)
}

// suspendOnQuestion records an unanswered ask_question call: the question is
// persisted and announced to the human. The raw tool call already sits in
// the round's assistant message, so the resume can recover it from history.
func (e *engine) suspendOnQuestion(call model.ToolCallRef, question string) {
	if e.deps.Questions != nil {
		if err := e.deps.Questions.RegisterQuestion(call.ID, e.streamID, question); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[provider] failed to persist question %s: %v", call.ID, err)
		}
	}

	e.publish(model.HumanQuestion{
		ToolCallID:       call.ID,
		OriginalStreamID: e.streamID,
		Question:         question,
	})

	e.thinking(fmt.Sprintf("\nTool call #%d is waiting for the user to answer: %q\n", call.Index+1, question))
}

// SubmitToolResult replays ask_question with the human's answer, appends
// the real tool message and resumes generation on the same stream,
// appending to the reasoning container opened before the suspension.
func (e *engine) SubmitToolResult(ctx context.Context, toolCallID, answer string) error {
	if toolCallID == "" {
		return fmt.Errorf("tool call id is required")
	}

	question := e.pendingQuestionText(toolCallID)

	argsRaw, err := json.Marshal(map[string]any{
		"question":      question,
		"user_response": answer,
	})
	if err != nil {
		return err
	}

	result := e.deps.Executor.Execute(ctx, tools.AskQuestionName, string(argsRaw))

	e.publish(model.StreamStart{StreamID: e.streamID})
	if e.hasContainer {
		e.thinking(fmt.Sprintf("\nReceived the user's answer: %q\n", answer))
	}
	e.publish(model.ToolResultEvent{StreamID: e.streamID, Result: result})

	e.messages = append(e.messages, model.Message{
		Role:       "tool",
		ToolCallID: toolCallID,
		Content:    result.ContentJSON(),
		Timestamp:  time.Now(),
	})

	return e.run(ctx)
}

// pendingQuestionText recovers the original question from the placeholder
// assistant message holding the suspended tool call.
func (e *engine) pendingQuestionText(toolCallID string) string {
	for i := len(e.messages) - 1; i >= 0; i-- {
		msg := e.messages[i]
		if msg.Role != "assistant" {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID && tc.Name == tools.AskQuestionName {
				args := tools.ParseArguments(tc.Name, tc.ArgumentsRaw)
				if q, ok := args["question"].(string); ok && q != "" {
					return q
				}
			}
		}
	}
	return "Please provide more information"
}

// Rebind points the conversation at a new stream id and sink.
func (e *engine) Rebind(streamID string, sink model.Sink) {
	e.streamID = streamID
	e.deps.Sink = sink
}

// History returns a copy of the conversation so far.
func (e *engine) History() []model.Message {
	out := make([]model.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

func (e *engine) publish(ev model.Event) {
	if e.deps.Sink != nil {
		e.deps.Sink.Publish(ev)
	}
}

func (e *engine) thinking(text string) {
	if e.hasContainer {
		e.publish(model.ThinkingUpdate{
			StreamID:    e.streamID,
			ContainerID: e.containerID,
			Text:        text,
		})
	}
}
