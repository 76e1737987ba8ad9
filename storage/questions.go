// Package storage persists engine state that must survive restarts,
// backed by sqlite in the data directory.
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// PendingQuestion is one unanswered ask_question call. The record keeps
// everything needed to resume the suspended generation: the tool call that
// raised the question, the stream it interrupted and the session owning the
// conversation.
type PendingQuestion struct {
	ToolCallID       string
	OriginalStreamID string
	SessionID        string
	Question         string
	Model            string
	Answered         bool
	CreatedAt        time.Time
}

// QuestionStore is the sqlite-backed store of pending questions.
type QuestionStore struct {
	db *sql.DB
}

// NewQuestionStore opens (creating if needed) the question database in the
// data directory.
func NewQuestionStore(dataDir string) (*QuestionStore, error) {
	dbPath := filepath.Join(dataDir, "questions.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &QuestionStore{db: db}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (qs *QuestionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_questions (
		tool_call_id TEXT PRIMARY KEY,
		original_stream_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		model TEXT NOT NULL,
		answered INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_questions_session ON pending_questions(session_id);
	`

	_, err := qs.db.Exec(schema)
	if err != nil {
		return err
	}

	if err := qs.migrateSchema(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	return nil
}

// migrateSchema adds columns missing from databases created by older
// versions.
func (qs *QuestionStore) migrateSchema() error {
	hasSession, err := qs.columnExists("pending_questions", "session_id")
	if err != nil {
		return fmt.Errorf("failed to check for session_id column: %w", err)
	}

	if !hasSession {
		_, err := qs.db.Exec(`ALTER TABLE pending_questions ADD COLUMN session_id TEXT DEFAULT ''`)
		if err != nil {
			return fmt.Errorf("failed to add session_id column: %w", err)
		}
	}

	hasModel, err := qs.columnExists("pending_questions", "model")
	if err != nil {
		return fmt.Errorf("failed to check for model column: %w", err)
	}

	if !hasModel {
		_, err := qs.db.Exec(`ALTER TABLE pending_questions ADD COLUMN model TEXT DEFAULT ''`)
		if err != nil {
			return fmt.Errorf("failed to add model column: %w", err)
		}
	}

	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info
func (qs *QuestionStore) columnExists(tableName, columnName string) (bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := qs.db.Query(query)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk)
		if err != nil {
			return false, err
		}

		if name == columnName {
			return true, nil
		}
	}

	return false, rows.Err()
}

// Put records a new pending question, replacing any stale record with the
// same tool call id.
func (qs *QuestionStore) Put(q PendingQuestion) error {
	query := `
	INSERT OR REPLACE INTO pending_questions (tool_call_id, original_stream_id, session_id, question, model, answered, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := qs.db.Exec(query,
		q.ToolCallID,
		q.OriginalStreamID,
		q.SessionID,
		q.Question,
		q.Model,
		q.Answered,
		q.CreatedAt,
	)

	return err
}

// Get returns the question for a tool call id, or nil when unknown.
func (qs *QuestionStore) Get(toolCallID string) (*PendingQuestion, error) {
	query := `
	SELECT tool_call_id, original_stream_id, session_id, question, model, answered, created_at
	FROM pending_questions
	WHERE tool_call_id = ?
	`

	var q PendingQuestion
	err := qs.db.QueryRow(query, toolCallID).Scan(
		&q.ToolCallID,
		&q.OriginalStreamID,
		&q.SessionID,
		&q.Question,
		&q.Model,
		&q.Answered,
		&q.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &q, nil
}

// MarkAnswered flags a question as answered without deleting it, so a crash
// between resume and completion still shows what happened.
func (qs *QuestionStore) MarkAnswered(toolCallID string) error {
	query := `UPDATE pending_questions SET answered = 1 WHERE tool_call_id = ?`
	_, err := qs.db.Exec(query, toolCallID)
	return err
}

// Delete removes a resolved question.
func (qs *QuestionStore) Delete(toolCallID string) error {
	query := `DELETE FROM pending_questions WHERE tool_call_id = ?`
	_, err := qs.db.Exec(query, toolCallID)
	return err
}

// List returns every stored question, newest first.
func (qs *QuestionStore) List() ([]PendingQuestion, error) {
	query := `
	SELECT tool_call_id, original_stream_id, session_id, question, model, answered, created_at
	FROM pending_questions
	ORDER BY created_at DESC
	`

	rows, err := qs.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []PendingQuestion
	for rows.Next() {
		var q PendingQuestion
		err := rows.Scan(
			&q.ToolCallID,
			&q.OriginalStreamID,
			&q.SessionID,
			&q.Question,
			&q.Model,
			&q.Answered,
			&q.CreatedAt,
		)
		if err != nil {
			continue
		}
		questions = append(questions, q)
	}

	return questions, nil
}

// DeleteForSession removes every question belonging to a session, used when
// the conversation is cleared.
func (qs *QuestionStore) DeleteForSession(sessionID string) error {
	query := `DELETE FROM pending_questions WHERE session_id = ?`
	_, err := qs.db.Exec(query, sessionID)
	return err
}

// Close closes the underlying database.
func (qs *QuestionStore) Close() error {
	return qs.db.Close()
}
