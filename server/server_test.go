package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"askd/config"
	"askd/session"
	"askd/storage"
)

func dialTestServer(t *testing.T) *websocket.Conn {
	t.Helper()

	questions, err := storage.NewQuestionStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating question store: %v", err)
	}
	t.Cleanup(func() { questions.Close() })

	cfg := &config.Config{
		DefaultBackend: "openai",
		Backends: []config.BackendConfig{
			{ID: "openai", Name: "OpenAI", BaseURL: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini", Enabled: true},
		},
		CredentialStore: config.NewCredentialStore(config.SecurityPlainText, ""),
	}
	manager := session.NewManager(cfg, questions)
	t.Cleanup(manager.Shutdown)

	srv := NewServer(cfg, manager)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var raw struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return frame{Type: raw.Type, Payload: raw.Payload}
}

func TestUnknownCommand(t *testing.T) {
	conn := dialTestServer(t)

	if err := conn.WriteJSON(map[string]string{"type": "frobnicate"}); err != nil {
		t.Fatalf("writing: %v", err)
	}

	got := readFrame(t, conn)
	if got.Type != "error" {
		t.Fatalf("frame type = %q, want error", got.Type)
	}
}

func TestMalformedCommand(t *testing.T) {
	conn := dialTestServer(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("writing: %v", err)
	}

	got := readFrame(t, conn)
	if got.Type != "error" {
		t.Fatalf("frame type = %q, want error", got.Type)
	}
}

func TestAskRequiresQuestion(t *testing.T) {
	conn := dialTestServer(t)

	if err := conn.WriteJSON(map[string]string{"type": "ask"}); err != nil {
		t.Fatalf("writing: %v", err)
	}

	got := readFrame(t, conn)
	if got.Type != "error" {
		t.Fatalf("frame type = %q, want error", got.Type)
	}

	var payload map[string]string
	if err := json.Unmarshal(got.Payload.(json.RawMessage), &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload["request"] != "ask" {
		t.Errorf("error names request %q, want ask", payload["request"])
	}
}

func TestAskUnknownBackend(t *testing.T) {
	conn := dialTestServer(t)

	if err := conn.WriteJSON(map[string]string{
		"type":     "ask",
		"question": "hello",
		"backend":  "nonsense",
	}); err != nil {
		t.Fatalf("writing: %v", err)
	}

	got := readFrame(t, conn)
	if got.Type != "error" {
		t.Fatalf("frame type = %q, want error", got.Type)
	}
}

func TestPendingQuestionsEmpty(t *testing.T) {
	conn := dialTestServer(t)

	if err := conn.WriteJSON(map[string]string{"type": "pending_questions"}); err != nil {
		t.Fatalf("writing: %v", err)
	}

	got := readFrame(t, conn)
	if got.Type != "pending_questions" {
		t.Fatalf("frame type = %q, want pending_questions", got.Type)
	}
}

func TestStopUnknownStream(t *testing.T) {
	conn := dialTestServer(t)

	if err := conn.WriteJSON(map[string]string{"type": "stop", "stream_id": "nope"}); err != nil {
		t.Fatalf("writing: %v", err)
	}

	got := readFrame(t, conn)
	if got.Type != "error" {
		t.Fatalf("frame type = %q, want error", got.Type)
	}
}

func TestClearSessionReplies(t *testing.T) {
	conn := dialTestServer(t)

	if err := conn.WriteJSON(map[string]string{"type": "clear_session", "session_id": "sess"}); err != nil {
		t.Fatalf("writing: %v", err)
	}

	got := readFrame(t, conn)
	if got.Type != "session_cleared" {
		t.Fatalf("frame type = %q, want session_cleared", got.Type)
	}
}
