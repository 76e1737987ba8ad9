// Package session owns the lifecycle of streams and conversations: stream id
// allocation, per-session provider pooling, forced stops, idle expiry and the
// bridge resuming generations suspended on a human question.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"askd/config"
	"askd/mcp"
	"askd/model"
	"askd/provider"
	"askd/storage"
	"askd/tools"
)

var (
	// ErrSessionBusy is returned when a session already has a generation in
	// flight. One generation per session at a time.
	ErrSessionBusy = errors.New("session is busy with another generation")

	// ErrSessionExpired is returned when an answer arrives for a question
	// whose conversation is no longer pooled.
	ErrSessionExpired = errors.New("session has expired, please ask again")

	// ErrUnknownQuestion is returned when an answer references no pending
	// question.
	ErrUnknownQuestion = errors.New("no pending question with that id")
)

// Default lifetimes, overridable per manager.
const (
	DefaultStreamMaxAge    = 30 * time.Minute
	DefaultProviderMaxIdle = 10 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// AskRequest is one question from the host UI.
type AskRequest struct {
	SessionID string
	Question  string
	Backend   string // backend id; empty means the configured default
	Model     string // model name; empty means the backend's default
	Context   *model.QuestionContext
}

type activeStream struct {
	sessionID string
	modelName string
	sink      *gatedSink
	cancel    context.CancelFunc
	createdAt time.Time
}

type pooledSession struct {
	prov       provider.Provider
	backend    string
	modelName  string
	router     *mcp.Router
	busy       bool
	streamID   string // stream of the generation in flight, empty when idle
	doomed     bool   // cleared while busy; destroyed once the generation returns
	lastActive time.Time
}

// Manager tracks active streams and pools one provider per session so
// follow-up questions continue the same conversation. One mutex guards both
// maps; every state transition happens under it.
type Manager struct {
	cfg       *config.Config
	executor  *tools.Executor
	questions *storage.QuestionStore

	mu       sync.Mutex
	streams  map[string]*activeStream
	sessions map[string]*pooledSession

	streamMaxAge    time.Duration
	providerMaxIdle time.Duration
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, questions *storage.QuestionStore) *Manager {
	return &Manager{
		cfg:             cfg,
		executor:        tools.NewExecutor(cfg),
		questions:       questions,
		streams:         make(map[string]*activeStream),
		sessions:        make(map[string]*pooledSession),
		streamMaxAge:    DefaultStreamMaxAge,
		providerMaxIdle: DefaultProviderMaxIdle,
	}
}

// Start begins generation for a question. The stream id is allocated and
// registered synchronously so the caller can correlate events before the
// first one arrives; generation itself runs in a goroutine.
func (m *Manager) Start(req AskRequest, sink model.Sink) (string, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	backendID := req.Backend
	if backendID == "" {
		backendID = m.cfg.DefaultBackend
	}

	backend := m.cfg.Backend(backendID)
	if backend == nil {
		return "", fmt.Errorf("no backend configured with id %s", backendID)
	}

	modelName := req.Model
	if modelName == "" {
		modelName = backend.DefaultModel
	}

	streamID := uuid.New().String()
	gate := newGatedSink(sink)

	m.mu.Lock()
	defer m.mu.Unlock()

	pooled := m.sessions[req.SessionID]
	if pooled != nil && pooled.busy {
		return "", ErrSessionBusy
	}

	// A backend or model switch starts the conversation over.
	if pooled != nil && (pooled.backend != backendID || pooled.modelName != modelName) {
		pooled.prov.Destroy()
		delete(m.sessions, req.SessionID)
		pooled = nil
	}

	if pooled == nil {
		router := mcp.NewRouter()
		reqCfg := provider.RequestConfig{
			APIKey:         m.cfg.APIKey(backendID),
			Endpoint:       backend.BaseURL,
			ModelName:      modelName,
			Backend:        backendID,
			EnableThinking: req.Context != nil && req.Context.EnableThinking,
			UseTools:       req.Context != nil && req.Context.UseTools,
		}
		prov, err := provider.New(reqCfg, streamID, provider.Deps{
			Sink:      gate,
			Executor:  m.executor,
			Router:    router,
			Questions: m,
			Servers:   m.cfg.ToolServers,
		})
		if err != nil {
			return "", err
		}
		pooled = &pooledSession{
			prov:      prov,
			backend:   backendID,
			modelName: modelName,
			router:    router,
		}
		m.sessions[req.SessionID] = pooled
	} else {
		pooled.prov.Rebind(streamID, gate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.streams[streamID] = &activeStream{
		sessionID: req.SessionID,
		modelName: modelName,
		sink:      gate,
		cancel:    cancel,
		createdAt: time.Now(),
	}
	pooled.busy = true
	pooled.streamID = streamID
	pooled.lastActive = time.Now()

	prov := pooled.prov
	go func() {
		defer cancel()
		err := prov.ProcessQuestion(ctx, req.Question, req.Context)
		m.finishStream(streamID, req.SessionID)
		if err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[session] stream %s ended with error: %v", streamID, err)
		}
	}()

	return streamID, nil
}

// finishStream releases the stream and frees the session for the next
// request, once the generation goroutine has actually returned. The provider
// (and its history) stays pooled. Only the session's current generation may
// free it: a stale goroutine that outlived a stop must not unbusy a newer
// one. A session doomed by ClearSession mid-generation is destroyed here.
func (m *Manager) finishStream(streamID, sessionID string) {
	m.mu.Lock()
	delete(m.streams, streamID)

	var doomed *pooledSession
	if pooled := m.sessions[sessionID]; pooled != nil && pooled.streamID == streamID {
		pooled.busy = false
		pooled.streamID = ""
		pooled.lastActive = time.Now()
		if pooled.doomed {
			delete(m.sessions, sessionID)
			doomed = pooled
		}
	}
	m.mu.Unlock()

	if doomed != nil {
		doomed.prov.Destroy()
	}
}

// Stop cancels a running stream. The conversation's history survives; only
// the in-flight generation is abandoned. The forced StreamEnd is published
// here because the provider goroutine may be blocked mid-request; sealing
// the gate with it guarantees it is the last event on the stream. The
// session stays busy until the aborted goroutine returns through
// finishStream, so a new Start cannot race the old generation on the pooled
// conversation.
func (m *Manager) Stop(streamID string) error {
	m.mu.Lock()
	stream, ok := m.streams[streamID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no active stream with id %s", streamID)
	}
	delete(m.streams, streamID)
	m.mu.Unlock()

	stream.cancel()
	stream.sink.seal(model.StreamEnd{StreamID: streamID, Forced: true})
	return nil
}

// ClearSession destroys a session's conversation and its pending questions.
// When a generation is in flight the provider is still executing, so the
// session is marked and finishStream destroys it once the goroutine returns.
func (m *Manager) ClearSession(sessionID string) error {
	m.mu.Lock()
	pooled := m.sessions[sessionID]

	var stopped []*activeStream
	var ids []string
	for id, stream := range m.streams {
		if stream.sessionID == sessionID {
			stopped = append(stopped, stream)
			ids = append(ids, id)
			delete(m.streams, id)
		}
	}

	destroyNow := false
	if pooled != nil {
		if pooled.busy {
			pooled.doomed = true
		} else {
			delete(m.sessions, sessionID)
			destroyNow = true
		}
	}
	m.mu.Unlock()

	for i, stream := range stopped {
		stream.cancel()
		stream.sink.seal(model.StreamEnd{StreamID: ids[i], Forced: true})
	}
	if destroyNow {
		pooled.prov.Destroy()
	}

	if m.questions != nil {
		if err := m.questions.DeleteForSession(sessionID); err != nil {
			return fmt.Errorf("failed to clear pending questions: %w", err)
		}
	}
	return nil
}

// History returns the pooled conversation for a session, or nil when none.
func (m *Manager) History(sessionID string) []model.Message {
	m.mu.Lock()
	pooled := m.sessions[sessionID]
	m.mu.Unlock()

	if pooled == nil {
		return nil
	}
	return pooled.prov.History()
}

// CleanupExpiredStreams cancels streams older than the configured lifetime.
// Streams normally remove themselves; this catches generations wedged on an
// unresponsive backend. The cancel unblocks the wedged goroutine and its
// finishStream frees the session.
func (m *Manager) CleanupExpiredStreams() int {
	cutoff := time.Now().Add(-m.streamMaxAge)

	m.mu.Lock()
	var expired []*activeStream
	var ids []string
	for id, stream := range m.streams {
		if stream.createdAt.Before(cutoff) {
			expired = append(expired, stream)
			ids = append(ids, id)
			delete(m.streams, id)
		}
	}
	m.mu.Unlock()

	for i, stream := range expired {
		stream.cancel()
		stream.sink.seal(model.StreamEnd{StreamID: ids[i], Forced: true})
	}
	return len(expired)
}

// CleanupIdleProviders destroys pooled conversations idle past the
// configured lifetime. Busy sessions are never collected.
func (m *Manager) CleanupIdleProviders() int {
	cutoff := time.Now().Add(-m.providerMaxIdle)

	m.mu.Lock()
	var victims []*pooledSession
	for id, pooled := range m.sessions {
		if !pooled.busy && pooled.lastActive.Before(cutoff) {
			victims = append(victims, pooled)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, pooled := range victims {
		pooled.prov.Destroy()
	}
	return len(victims)
}

// RunCleanup sweeps expired streams and idle providers until the context is
// done.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			streams := m.CleanupExpiredStreams()
			providers := m.CleanupIdleProviders()
			if (streams > 0 || providers > 0) && config.DebugLog != nil {
				config.DebugLog.Printf("[session] cleanup: %d expired streams, %d idle providers", streams, providers)
			}
		}
	}
}

// Shutdown stops every stream and destroys every idle pooled provider. Busy
// sessions are marked instead; their goroutines observe the cancel and
// finishStream destroys them on the way out.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[string]*activeStream)

	var idle []*pooledSession
	for id, pooled := range m.sessions {
		if pooled.busy {
			pooled.doomed = true
			continue
		}
		delete(m.sessions, id)
		idle = append(idle, pooled)
	}
	m.mu.Unlock()

	for _, stream := range streams {
		stream.cancel()
	}
	for _, pooled := range idle {
		pooled.prov.Destroy()
	}
}
