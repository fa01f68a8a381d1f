package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"arbor/internal/bus"
	"arbor/internal/capabilities"
	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/middleware"
	"arbor/internal/provider"
	"arbor/internal/provider/lorem"
	"arbor/internal/service"
	"arbor/internal/stream"
)

// memStore backs the reconciler in handler tests; only the operations the
// chat path touches are meaningful.
type memStore struct {
	mu         sync.Mutex
	nextConvID int64
	nextMsgID  int64
	convs      map[int64]*models.Conversation
	msgs       []models.Message
}

func newMemStore() *memStore {
	return &memStore{convs: make(map[int64]*models.Conversation)}
}

func (m *memStore) Create(ctx context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextConvID++
	conv.ID = m.nextConvID
	clone := *conv
	m.convs[conv.ID] = &clone
	return nil
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %d: %w", id, domain.ErrNotFound)
	}
	clone := *conv
	return &clone, nil
}

func (m *memStore) Update(ctx context.Context, id int64, name string, folderID *int64) error {
	return nil
}
func (m *memStore) List(ctx context.Context) ([]models.Conversation, error) { return nil, nil }
func (m *memStore) ListByFolder(ctx context.Context, folderID *int64) ([]models.Conversation, error) {
	return nil, nil
}
func (m *memStore) ListForks(ctx context.Context, parentID int64) ([]models.Conversation, error) {
	return nil, nil
}
func (m *memStore) Fork(ctx context.Context, sourceID, cutMessageID int64, name string, folderID *int64) (int64, error) {
	return 0, domain.ErrNotFound
}
func (m *memStore) MoveToFolder(ctx context.Context, ids []int64, folderID *int64) error { return nil }
func (m *memStore) Delete(ctx context.Context, id int64) error                           { return nil }

func (m *memStore) Add(ctx context.Context, conversationID int64, content string, sender models.Sender) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	m.msgs = append(m.msgs, models.Message{
		ID:             m.nextMsgID,
		ConversationID: conversationID,
		Content:        content,
		Sender:         sender,
		Timestamp:      time.Now(),
	})
	return m.nextMsgID, nil
}

func (m *memStore) messageRepo() *memMessageRepo { return &memMessageRepo{store: m} }

type memMessageRepo struct{ store *memStore }

func (r *memMessageRepo) Add(ctx context.Context, conversationID int64, content string, sender models.Sender) (int64, error) {
	return r.store.Add(ctx, conversationID, content, sender)
}

func (r *memMessageRepo) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	return nil, domain.ErrNotFound
}

func (r *memMessageRepo) ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Message
	for _, msg := range r.store.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func newTestChatHandler(t *testing.T, store *memStore, extra ...provider.Invoker) (*ChatHandler, *service.SessionManager) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	catalog, err := capabilities.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}

	sessions := service.NewSessionManager()
	reconciler := service.NewReconciler(store, store.messageRepo(), bus.New(), logger)
	providers := provider.NewRegistry(lorem.NewProvider())
	for _, inv := range extra {
		providers.Register(inv)
	}

	return NewChatHandler(providers, catalog, sessions, reconciler, "lorem-test", logger), sessions
}

// stallProvider emits a single chunk and then holds the stream open until
// the request context is cancelled.
type stallProvider struct{}

func (stallProvider) Name() string                    { return "stall" }
func (stallProvider) SupportsModel(model string) bool { return model == "stall-test" }

func (stallProvider) Stream(ctx context.Context, req *provider.Request, ch *stream.Emitter) error {
	go func() {
		ch.Emit(stream.EventChunk, "partial ")
		<-ctx.Done()
		ch.Emit(stream.EventError, ctx.Err().Error())
	}()
	return nil
}

// failingProvider streams one chunk and then fails mid-stream.
type failingProvider struct{}

func (failingProvider) Name() string                    { return "failing" }
func (failingProvider) SupportsModel(model string) bool { return model == "fail-test" }

func (failingProvider) Stream(ctx context.Context, req *provider.Request, ch *stream.Emitter) error {
	go func() {
		ch.Emit(stream.EventChunk, "partial answer")
		ch.Emit(stream.EventError, "upstream exploded")
	}()
	return nil
}

func postChat(t *testing.T, h *ChatHandler, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(string(payload)))
	w := httptest.NewRecorder()
	h.Chat(w, req)
	return w
}

func TestChatStreamsAndPersists(t *testing.T) {
	store := newMemStore()
	h, sessions := newTestChatHandler(t, store)

	w := postChat(t, h, ChatRequest{
		Messages:  []models.ChatMessage{{Role: "user", Content: "tell me things"}},
		Model:     "lorem-test",
		SessionID: "s1",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if v := w.Header().Get("X-Chat-Stream"); v != "v1" {
		t.Errorf("expected stream marker, got %q", v)
	}
	if w.Body.Len() == 0 {
		t.Error("expected streamed text in the body")
	}

	// The exchange must have been reconciled into the store.
	session := sessions.Get("s1")
	convID := session.ConversationID()
	if convID == nil {
		t.Fatal("session must be bound after the stream settles")
	}
	conv, err := store.GetByID(context.Background(), *convID)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Name != "tell me things" {
		t.Errorf("conversation title from first user message, got %q", conv.Name)
	}

	msgs, _ := store.messageRepo().ListByConversation(context.Background(), *convID)
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant rows, got %d", len(msgs))
	}
	if msgs[1].Sender != models.SenderAssistant || msgs[1].Content != w.Body.String() {
		t.Errorf("persisted assistant text must equal the streamed bytes")
	}
}

func TestChatRejectsUnknownModel(t *testing.T) {
	store := newMemStore()
	h, _ := newTestChatHandler(t, store)

	w := postChat(t, h, ChatRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
		Model:    "gpt-imaginary",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unresolvable model, got %d", w.Code)
	}
	if len(store.msgs) != 0 {
		t.Error("a rejected request must not persist anything")
	}
}

func TestChatRejectsEmptyTranscript(t *testing.T) {
	store := newMemStore()
	h, _ := newTestChatHandler(t, store)

	w := postChat(t, h, ChatRequest{Model: "lorem-test"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = postChat(t, h, ChatRequest{
		Messages: []models.ChatMessage{{Role: "assistant", Content: "I speak first"}},
		Model:    "lorem-test",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when last message is not a user message, got %d", w.Code)
	}
}

func TestChatContinuesAcrossRequests(t *testing.T) {
	store := newMemStore()
	h, sessions := newTestChatHandler(t, store)

	first := postChat(t, h, ChatRequest{
		Messages:  []models.ChatMessage{{Role: "user", Content: "first"}},
		Model:     "lorem-test",
		SessionID: "s2",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first exchange: %d", first.Code)
	}

	second := postChat(t, h, ChatRequest{
		Messages: []models.ChatMessage{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: first.Body.String()},
			{Role: "user", Content: "second"},
		},
		Model:     "lorem-test",
		SessionID: "s2",
	})
	if second.Code != http.StatusOK {
		t.Fatalf("second exchange: %d", second.Code)
	}

	convID := sessions.Get("s2").ConversationID()
	if convID == nil {
		t.Fatal("session must stay bound")
	}
	msgs, _ := store.messageRepo().ListByConversation(context.Background(), *convID)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 rows after two exchanges, got %d", len(msgs))
	}

	// Only one conversation was created for the whole session.
	if len(store.convs) != 1 {
		t.Errorf("expected a single bound conversation, got %d", len(store.convs))
	}
}

func TestChatClientDisconnectReleasesSession(t *testing.T) {
	store := newMemStore()
	h, sessions := newTestChatHandler(t, store, stallProvider{})

	payload, err := json.Marshal(ChatRequest{
		Messages:  []models.ChatMessage{{Role: "user", Content: "hang on"}},
		Model:     "stall-test",
		SessionID: "s8",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(string(payload))).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Chat(w, req)
	}()

	// Let the first chunk flow, then vanish like a closed browser tab.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler must return once the client context is cancelled")
	}

	// The partial exchange is settled and reconciled, not left streaming.
	session := sessions.Get("s8")
	convID := session.ConversationID()
	if convID == nil {
		t.Fatal("session must be bound after a disconnect settles it")
	}
	msgs, _ := store.messageRepo().ListByConversation(context.Background(), *convID)
	if len(msgs) != 2 {
		t.Fatalf("expected user and partial assistant rows, got %d", len(msgs))
	}
	if msgs[1].Content != "partial " {
		t.Errorf("partial assistant text must be kept, got %q", msgs[1].Content)
	}
}

func TestChatMidStreamErrorAbortsConnection(t *testing.T) {
	store := newMemStore()
	h, _ := newTestChatHandler(t, store, failingProvider{})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(middleware.Recovery(logger)(http.HandlerFunc(h.Chat)))
	defer srv.Close()

	payload, err := json.Marshal(ChatRequest{
		Messages:  []models.ChatMessage{{Role: "user", Content: "doomed"}},
		Model:     "fail-test",
		SessionID: "s9",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(string(payload)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Headers flush before the failure, so the status is already 200; the
	// failure must surface on the read side instead of a clean end.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 before the failure, got %d", resp.StatusCode)
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr == nil {
		t.Error("a mid-stream failure must break the connection, not end cleanly")
	}
	if got := string(body); got != "partial answer" {
		t.Errorf("bytes before the failure still reach the client, got %q", got)
	}

	// The partial reply is persisted before the connection is torn down.
	if len(store.msgs) != 2 || store.msgs[1].Content != "partial answer" {
		t.Errorf("expected the partial exchange persisted, got %+v", store.msgs)
	}
}

func TestChatRejectsConversationSwitch(t *testing.T) {
	store := newMemStore()
	h, _ := newTestChatHandler(t, store)

	one, two := int64(1), int64(2)
	w := postChat(t, h, ChatRequest{
		Messages:       []models.ChatMessage{{Role: "user", Content: "hello"}},
		Model:          "lorem-test",
		SessionID:      "s10",
		ConversationID: &one,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("first exchange: %d", w.Code)
	}
	persisted := len(store.msgs)

	w = postChat(t, h, ChatRequest{
		Messages:       []models.ChatMessage{{Role: "user", Content: "again"}},
		Model:          "lorem-test",
		SessionID:      "s10",
		ConversationID: &two,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a session bound to another conversation, got %d", w.Code)
	}
	if len(store.msgs) != persisted {
		t.Error("a rejected rebind must not persist anything")
	}
}
