package session

import (
	"context"
	"fmt"
	"time"

	"askd/config"
	"askd/model"
	"askd/storage"
)

// RegisterQuestion persists an unanswered ask_question call so it survives a
// daemon restart. Implements provider.QuestionRecorder; called by a driver
// while its generation suspends.
func (m *Manager) RegisterQuestion(toolCallID, streamID, question string) error {
	if m.questions == nil {
		return nil
	}

	m.mu.Lock()
	stream := m.streams[streamID]
	m.mu.Unlock()

	record := storage.PendingQuestion{
		ToolCallID:       toolCallID,
		OriginalStreamID: streamID,
		Question:         question,
		CreatedAt:        time.Now(),
	}
	if stream != nil {
		record.SessionID = stream.sessionID
		record.Model = stream.modelName
	}

	return m.questions.Put(record)
}

// PendingQuestions returns every stored question, newest first.
func (m *Manager) PendingQuestions() ([]storage.PendingQuestion, error) {
	if m.questions == nil {
		return nil, nil
	}
	return m.questions.List()
}

// SubmitAnswer resolves a pending question with the human's answer and
// resumes the suspended generation on its original stream id. Returns that
// stream id so the caller can follow the resumed events.
func (m *Manager) SubmitAnswer(toolCallID, answer string, sink model.Sink) (string, error) {
	if m.questions == nil {
		return "", ErrUnknownQuestion
	}

	record, err := m.questions.Get(toolCallID)
	if err != nil {
		return "", fmt.Errorf("failed to look up question: %w", err)
	}
	if record == nil {
		return "", ErrUnknownQuestion
	}

	m.mu.Lock()
	pooled := m.sessions[record.SessionID]
	if pooled == nil {
		m.mu.Unlock()
		// The conversation is gone; drop the orphaned record.
		if err := m.questions.Delete(toolCallID); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[session] failed to delete orphaned question %s: %v", toolCallID, err)
		}
		return "", ErrSessionExpired
	}
	if pooled.busy {
		m.mu.Unlock()
		return "", ErrSessionBusy
	}

	// Resume on the original stream id so the UI appends to the message and
	// reasoning container it already rendered.
	streamID := record.OriginalStreamID
	gate := newGatedSink(sink)
	pooled.prov.Rebind(streamID, gate)
	pooled.busy = true
	pooled.streamID = streamID
	pooled.lastActive = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	m.streams[streamID] = &activeStream{
		sessionID: record.SessionID,
		modelName: record.Model,
		sink:      gate,
		cancel:    cancel,
		createdAt: time.Now(),
	}
	prov := pooled.prov
	m.mu.Unlock()

	if err := m.questions.MarkAnswered(toolCallID); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[session] failed to mark question %s answered: %v", toolCallID, err)
	}

	go func() {
		defer cancel()
		err := prov.SubmitToolResult(ctx, toolCallID, answer)
		m.finishStream(streamID, record.SessionID)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[session] resume of stream %s failed: %v", streamID, err)
			}
			return
		}
		if err := m.questions.Delete(toolCallID); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[session] failed to delete answered question %s: %v", toolCallID, err)
		}
	}()

	return streamID, nil
}
