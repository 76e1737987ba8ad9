package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"askd/config"
	"askd/model"
	"askd/storage"
)

// fakeProvider records lifecycle calls in place of a real backend driver.
type fakeProvider struct {
	mu            sync.Mutex
	destroyed     bool
	streamID      string
	resumed       chan string // receives the answer on SubmitToolResult
	history       []model.Message
	submitErr     error
	processCalled bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{resumed: make(chan string, 1)}
}

func (f *fakeProvider) ProcessQuestion(ctx context.Context, question string, qctx *model.QuestionContext) error {
	f.mu.Lock()
	f.processCalled = true
	f.history = append(f.history, model.Message{Role: "user", Content: question})
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) SubmitToolResult(ctx context.Context, toolCallID, answer string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.resumed <- answer
	return nil
}

func (f *fakeProvider) Rebind(streamID string, sink model.Sink) {
	f.mu.Lock()
	f.streamID = streamID
	f.mu.Unlock()
}

func (f *fakeProvider) History() []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, len(f.history))
	copy(out, f.history)
	return out
}

func (f *fakeProvider) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.mu.Unlock()
}

func (f *fakeProvider) isDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Publish(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

func testManager(t *testing.T) *Manager {
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
	return NewManager(cfg, questions)
}

// pool injects a fake conversation, as if a generation had already run.
func (m *Manager) pool(sessionID string, prov *fakeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &pooledSession{
		prov:       prov,
		backend:    "openai",
		modelName:  "gpt-4o-mini",
		lastActive: time.Now(),
	}
}

func TestStartUnknownBackend(t *testing.T) {
	m := testManager(t)

	_, err := m.Start(AskRequest{Question: "hi", Backend: "nonsense"}, &recordingSink{})
	if err == nil {
		t.Fatal("expected an error for an unconfigured backend")
	}
}

func TestStartBusySession(t *testing.T) {
	m := testManager(t)

	prov := newFakeProvider()
	m.pool("sess", prov)
	m.mu.Lock()
	m.sessions["sess"].busy = true
	m.mu.Unlock()

	_, err := m.Start(AskRequest{SessionID: "sess", Question: "hi"}, &recordingSink{})
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want ErrSessionBusy", err)
	}
}

func TestStopPublishesForcedEnd(t *testing.T) {
	m := testManager(t)
	sink := &recordingSink{}

	prov := newFakeProvider()
	m.pool("sess", prov)

	canceled := false
	m.mu.Lock()
	m.sessions["sess"].busy = true
	m.sessions["sess"].streamID = "stream-1"
	m.streams["stream-1"] = &activeStream{
		sessionID: "sess",
		sink:      newGatedSink(sink),
		cancel:    func() { canceled = true },
		createdAt: time.Now(),
	}
	m.mu.Unlock()

	if err := m.Stop("stream-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !canceled {
		t.Error("stream context was not canceled")
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want the forced stream_end", len(events))
	}
	end, ok := events[0].(model.StreamEnd)
	if !ok || !end.Forced || end.StreamID != "stream-1" {
		t.Errorf("event = %+v, want forced StreamEnd for stream-1", events[0])
	}

	// The aborted goroutine has not returned yet; the pooled conversation is
	// still in its hands, so the session stays busy.
	m.mu.Lock()
	busy := m.sessions["sess"].busy
	_, streamAlive := m.streams["stream-1"]
	m.mu.Unlock()
	if !busy {
		t.Error("session freed before the aborted generation returned")
	}
	if streamAlive {
		t.Error("stream still registered after stop")
	}

	// The generation observes the cancel and returns.
	m.finishStream("stream-1", "sess")
	m.mu.Lock()
	busy = m.sessions["sess"].busy
	m.mu.Unlock()
	if busy {
		t.Error("session still busy after the generation returned")
	}

	if err := m.Stop("stream-1"); err == nil {
		t.Error("stopping an already stopped stream should fail")
	}
}

func TestStopKeepsSessionBusyUntilGenerationReturns(t *testing.T) {
	m := testManager(t)

	prov := newFakeProvider()
	m.pool("sess", prov)

	m.mu.Lock()
	m.sessions["sess"].busy = true
	m.sessions["sess"].streamID = "stream-1"
	m.streams["stream-1"] = &activeStream{
		sessionID: "sess",
		sink:      newGatedSink(&recordingSink{}),
		cancel:    func() {},
		createdAt: time.Now(),
	}
	m.mu.Unlock()

	if err := m.Stop("stream-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// The pooled provider is still executing the aborted generation; a new
	// one on the same session must wait for it to return.
	_, err := m.Start(AskRequest{SessionID: "sess", Question: "again"}, &recordingSink{})
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want ErrSessionBusy", err)
	}

	m.finishStream("stream-1", "sess")

	streamID, err := m.Start(AskRequest{SessionID: "sess", Question: "again"}, &recordingSink{})
	if err != nil {
		t.Fatalf("start after the generation returned: %v", err)
	}
	if streamID == "" {
		t.Fatal("no stream id allocated")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		m.mu.Lock()
		busy := m.sessions["sess"].busy
		m.mu.Unlock()
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second generation never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStaleFinishDoesNotFreeNewerGeneration(t *testing.T) {
	m := testManager(t)

	prov := newFakeProvider()
	m.pool("sess", prov)

	m.mu.Lock()
	m.sessions["sess"].busy = true
	m.sessions["sess"].streamID = "stream-2"
	m.mu.Unlock()

	// A goroutine left over from a stopped stream finishes late.
	m.finishStream("stream-1", "sess")

	m.mu.Lock()
	busy := m.sessions["sess"].busy
	m.mu.Unlock()
	if !busy {
		t.Error("stale finish freed the session out from under the newer generation")
	}

	m.finishStream("stream-2", "sess")
	m.mu.Lock()
	busy = m.sessions["sess"].busy
	m.mu.Unlock()
	if busy {
		t.Error("session still busy after its own generation finished")
	}
}

// A driver that pulled a chunk from its stream buffer before the
// cancellation publishes it only after the stop; the sealed gate drops it so
// the forced end stays the last event observed.
func TestStopSealsSinkAgainstLateEvents(t *testing.T) {
	m := testManager(t)
	sink := &recordingSink{}
	gate := newGatedSink(sink)

	m.mu.Lock()
	m.streams["stream-1"] = &activeStream{
		sessionID: "sess",
		sink:      gate,
		cancel:    func() {},
		createdAt: time.Now(),
	}
	m.mu.Unlock()

	if err := m.Stop("stream-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	gate.Publish(model.Token{StreamID: "stream-1", Text: "late"})
	gate.Publish(model.StreamEnd{StreamID: "stream-1", FullText: "late"})

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want only the forced stream_end", len(events))
	}
	end, ok := events[0].(model.StreamEnd)
	if !ok || !end.Forced {
		t.Errorf("event = %+v, want the forced StreamEnd", events[0])
	}
}

func TestClearSessionDestroysProviderAndQuestions(t *testing.T) {
	m := testManager(t)

	prov := newFakeProvider()
	m.pool("sess", prov)

	q := storage.PendingQuestion{
		ToolCallID:       "call_1",
		OriginalStreamID: "stream-1",
		SessionID:        "sess",
		Question:         "q",
		CreatedAt:        time.Now(),
	}
	if err := m.questions.Put(q); err != nil {
		t.Fatalf("put question: %v", err)
	}

	if err := m.ClearSession("sess"); err != nil {
		t.Fatalf("clear session: %v", err)
	}

	if !prov.isDestroyed() {
		t.Error("provider not destroyed")
	}

	got, err := m.questions.Get("call_1")
	if err != nil {
		t.Fatalf("get question: %v", err)
	}
	if got != nil {
		t.Error("pending question survived clear")
	}

	if history := m.History("sess"); history != nil {
		t.Errorf("history after clear = %v, want nil", history)
	}
}

func TestClearSessionDefersDestroyWhileBusy(t *testing.T) {
	m := testManager(t)

	prov := newFakeProvider()
	m.pool("sess", prov)

	canceled := false
	m.mu.Lock()
	m.sessions["sess"].busy = true
	m.sessions["sess"].streamID = "stream-1"
	m.streams["stream-1"] = &activeStream{
		sessionID: "sess",
		sink:      newGatedSink(&recordingSink{}),
		cancel:    func() { canceled = true },
		createdAt: time.Now(),
	}
	m.mu.Unlock()

	if err := m.ClearSession("sess"); err != nil {
		t.Fatalf("clear session: %v", err)
	}
	if !canceled {
		t.Error("in-flight stream was not canceled")
	}
	if prov.isDestroyed() {
		t.Fatal("provider destroyed while its generation was still running")
	}

	// The generation observes the cancel and returns; only then is the
	// conversation torn down.
	m.finishStream("stream-1", "sess")
	if !prov.isDestroyed() {
		t.Error("provider not destroyed after the generation returned")
	}

	m.mu.Lock()
	_, alive := m.sessions["sess"]
	m.mu.Unlock()
	if alive {
		t.Error("cleared session still pooled")
	}
}

func TestCleanupIdleProviders(t *testing.T) {
	m := testManager(t)

	idle := newFakeProvider()
	fresh := newFakeProvider()
	busy := newFakeProvider()
	m.pool("idle", idle)
	m.pool("fresh", fresh)
	m.pool("busy", busy)

	m.mu.Lock()
	m.sessions["idle"].lastActive = time.Now().Add(-time.Hour)
	m.sessions["busy"].lastActive = time.Now().Add(-time.Hour)
	m.sessions["busy"].busy = true
	m.mu.Unlock()

	if n := m.CleanupIdleProviders(); n != 1 {
		t.Fatalf("collected %d providers, want 1", n)
	}
	if !idle.isDestroyed() {
		t.Error("idle provider not destroyed")
	}
	if fresh.isDestroyed() {
		t.Error("fresh provider destroyed")
	}
	if busy.isDestroyed() {
		t.Error("busy provider destroyed despite being busy")
	}
}

func TestCleanupExpiredStreams(t *testing.T) {
	m := testManager(t)
	sink := &recordingSink{}

	canceled := false
	m.mu.Lock()
	m.streams["old"] = &activeStream{
		sessionID: "sess",
		sink:      newGatedSink(sink),
		cancel:    func() { canceled = true },
		createdAt: time.Now().Add(-time.Hour),
	}
	m.streams["new"] = &activeStream{
		sessionID: "sess",
		sink:      newGatedSink(sink),
		cancel:    func() {},
		createdAt: time.Now(),
	}
	m.mu.Unlock()

	if n := m.CleanupExpiredStreams(); n != 1 {
		t.Fatalf("expired %d streams, want 1", n)
	}
	if !canceled {
		t.Error("expired stream not canceled")
	}

	m.mu.Lock()
	_, oldAlive := m.streams["old"]
	_, newAlive := m.streams["new"]
	m.mu.Unlock()
	if oldAlive {
		t.Error("expired stream still registered")
	}
	if !newAlive {
		t.Error("young stream was collected")
	}
}

func TestRegisterQuestionRecordsStreamContext(t *testing.T) {
	m := testManager(t)

	m.mu.Lock()
	m.streams["stream-1"] = &activeStream{
		sessionID: "sess",
		modelName: "gpt-4o-mini",
		cancel:    func() {},
		createdAt: time.Now(),
	}
	m.mu.Unlock()

	if err := m.RegisterQuestion("call_1", "stream-1", "Which region?"); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := m.questions.Get("call_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("question not persisted")
	}
	if got.SessionID != "sess" || got.Model != "gpt-4o-mini" {
		t.Errorf("record = %+v, want session and model filled from the stream", got)
	}
	if got.OriginalStreamID != "stream-1" {
		t.Errorf("stream id = %q, want stream-1", got.OriginalStreamID)
	}
}

func TestSubmitAnswerResumesOnOriginalStream(t *testing.T) {
	m := testManager(t)
	sink := &recordingSink{}

	prov := newFakeProvider()
	m.pool("sess", prov)

	q := storage.PendingQuestion{
		ToolCallID:       "call_1",
		OriginalStreamID: "stream-orig",
		SessionID:        "sess",
		Question:         "Which region?",
		Model:            "gpt-4o-mini",
		CreatedAt:        time.Now(),
	}
	if err := m.questions.Put(q); err != nil {
		t.Fatalf("put question: %v", err)
	}

	streamID, err := m.SubmitAnswer("call_1", "eu-west-1", sink)
	if err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	if streamID != "stream-orig" {
		t.Errorf("resumed stream = %q, want the original stream-orig", streamID)
	}

	select {
	case answer := <-prov.resumed:
		if answer != "eu-west-1" {
			t.Errorf("provider got answer %q, want eu-west-1", answer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("provider was never resumed")
	}

	prov.mu.Lock()
	rebound := prov.streamID
	prov.mu.Unlock()
	if rebound != "stream-orig" {
		t.Errorf("provider rebound to %q, want stream-orig", rebound)
	}

	// The record is deleted once the resume completes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := m.questions.Get("call_1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("answered question was never deleted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmitAnswerUnknownQuestion(t *testing.T) {
	m := testManager(t)

	_, err := m.SubmitAnswer("missing", "answer", &recordingSink{})
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("err = %v, want ErrUnknownQuestion", err)
	}
}

func TestSubmitAnswerExpiredSession(t *testing.T) {
	m := testManager(t)

	q := storage.PendingQuestion{
		ToolCallID:       "call_1",
		OriginalStreamID: "stream-orig",
		SessionID:        "gone",
		Question:         "q",
		CreatedAt:        time.Now(),
	}
	if err := m.questions.Put(q); err != nil {
		t.Fatalf("put question: %v", err)
	}

	_, err := m.SubmitAnswer("call_1", "answer", &recordingSink{})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}

	// The orphaned record is dropped so the UI stops offering it.
	got, err := m.questions.Get("call_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("orphaned question survived")
	}
}
