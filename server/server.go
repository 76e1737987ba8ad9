// Package server exposes the engine to host UIs over a websocket: commands
// come in as JSON frames, engine events go out on the same connection.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"askd/config"
	"askd/mcp"
	"askd/model"
	"askd/session"
)

// command is one inbound frame. Fields beyond Type are read per command.
type command struct {
	Type       string                 `json:"type"`
	SessionID  string                 `json:"session_id,omitempty"`
	Question   string                 `json:"question,omitempty"`
	Backend    string                 `json:"backend,omitempty"`
	Model      string                 `json:"model,omitempty"`
	Context    *model.QuestionContext `json:"context,omitempty"`
	StreamID   string                 `json:"stream_id,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Answer     string                 `json:"answer,omitempty"`
	ServerURL  string                 `json:"server_url,omitempty"`
	Name       string                 `json:"name,omitempty"`
}

// frame is one outbound message: an engine event or a command reply.
type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// wsSink publishes engine events onto one websocket connection. gorilla
// allows a single concurrent writer, so every write goes through the mutex.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Publish(ev model.Event) {
	s.send(frame{Type: ev.EventType(), Payload: ev})
}

func (s *wsSink) send(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(f); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("[server] write failed: %v", err)
	}
}

func (s *wsSink) sendError(requestType, message string) {
	s.send(frame{Type: "error", Payload: map[string]string{
		"request": requestType,
		"error":   message,
	}})
}

// Server is the websocket gateway.
type Server struct {
	cfg      *config.Config
	manager  *session.Manager
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates the gateway. Connections are expected from local host
// UIs only; the origin check is left to the listen address.
func NewServer(cfg *config.Config, manager *session.Manager) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ListenAndServe blocks serving websocket connections on addr.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops accepting connections and drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[server] upgrade failed: %v", err)
		}
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[server] connection closed: %v", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			sink.sendError("", fmt.Sprintf("malformed command: %v", err))
			continue
		}

		s.dispatch(r.Context(), sink, cmd)
	}
}

func (s *Server) dispatch(ctx context.Context, sink *wsSink, cmd command) {
	switch cmd.Type {
	case "ask":
		if cmd.Question == "" {
			sink.sendError(cmd.Type, "question is required")
			return
		}
		streamID, err := s.manager.Start(session.AskRequest{
			SessionID: cmd.SessionID,
			Question:  cmd.Question,
			Backend:   cmd.Backend,
			Model:     cmd.Model,
			Context:   cmd.Context,
		}, sink)
		if err != nil {
			sink.sendError(cmd.Type, err.Error())
			return
		}
		sink.send(frame{Type: "stream_allocated", Payload: map[string]string{
			"stream_id":  streamID,
			"session_id": cmd.SessionID,
		}})

	case "stop":
		if err := s.manager.Stop(cmd.StreamID); err != nil {
			sink.sendError(cmd.Type, err.Error())
		}

	case "answer":
		streamID, err := s.manager.SubmitAnswer(cmd.ToolCallID, cmd.Answer, sink)
		if err != nil {
			sink.sendError(cmd.Type, err.Error())
			return
		}
		sink.send(frame{Type: "stream_resumed", Payload: map[string]string{
			"stream_id":    streamID,
			"tool_call_id": cmd.ToolCallID,
		}})

	case "pending_questions":
		questions, err := s.manager.PendingQuestions()
		if err != nil {
			sink.sendError(cmd.Type, err.Error())
			return
		}
		sink.send(frame{Type: "pending_questions", Payload: questions})

	case "clear_session":
		if err := s.manager.ClearSession(cmd.SessionID); err != nil {
			sink.sendError(cmd.Type, err.Error())
			return
		}
		sink.send(frame{Type: "session_cleared", Payload: map[string]string{
			"session_id": cmd.SessionID,
		}})

	case "history":
		sink.send(frame{Type: "history", Payload: map[string]any{
			"session_id": cmd.SessionID,
			"messages":   s.manager.History(cmd.SessionID),
		}})

	case "test_tool_server":
		testCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		count, err := mcp.TestServer(testCtx, mcp.ServerConfig{
			Name:      cmd.Name,
			ServerURL: cmd.ServerURL,
		})
		if err != nil {
			sink.sendError(cmd.Type, err.Error())
			return
		}
		sink.send(frame{Type: "tool_server_ok", Payload: map[string]any{
			"server_url": cmd.ServerURL,
			"tool_count": count,
		}})

	default:
		sink.sendError(cmd.Type, fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}
