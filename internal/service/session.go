package service

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
)

// SessionState tracks where a chat session is in its streaming lifecycle.
type SessionState string

const (
	// SessionIdle: no stream in flight; the transcript is stable.
	SessionIdle SessionState = "idle"
	// SessionStreaming: an assistant reply is arriving; the last entry may
	// be partial. The store must not be written in this state.
	SessionStreaming SessionState = "streaming"
	// SessionSettled: the stream finished; the transcript is stable and
	// ready to reconcile with the store.
	SessionSettled SessionState = "settled"
)

// SessionMessage is one transcript entry. Seq is a per-session monotonic
// token assigned at append time; reconciliation uses it to tell which
// entries have already been persisted, so identical consecutive texts are
// still distinct entries.
type SessionMessage struct {
	Seq     int64
	Sender  models.Sender
	Content string
}

// Session is the live, in-memory transcript of one chat exchange. It is the
// source of truth while a reply streams; the store catches up only at settle
// time.
type Session struct {
	mu sync.Mutex

	id             string
	state          SessionState
	messages       []SessionMessage
	nextSeq        int64
	conversationID *int64
	lastSyncedSeq  int64
}

// NewSession creates an idle session with a fresh identity.
func NewSession() *Session {
	return &Session{
		id:    uuid.NewString(),
		state: SessionIdle,
	}
}

// ID returns the session's identity.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the bound conversation, or nil if the session has
// not been persisted yet.
func (s *Session) ConversationID() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == nil {
		return nil
	}
	id := *s.conversationID
	return &id
}

// Messages returns a snapshot of the transcript.
func (s *Session) Messages() []SessionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// AppendUser records a user message and marks the session streaming: a user
// turn is always immediately followed by an in-flight assistant reply.
func (s *Session) AppendUser(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionStreaming {
		return fmt.Errorf("session %s is already streaming: %w", s.id, domain.ErrValidation)
	}

	s.append(models.SenderUser, content)
	s.state = SessionStreaming
	return nil
}

// BeginAssistant opens an empty assistant entry that deltas accumulate into.
func (s *Session) BeginAssistant() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionStreaming {
		return fmt.Errorf("session %s is not streaming: %w", s.id, domain.ErrValidation)
	}

	s.append(models.SenderAssistant, "")
	return nil
}

// AppendAssistantDelta extends the in-flight assistant entry.
func (s *Session) AppendAssistantDelta(delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionStreaming {
		return fmt.Errorf("session %s is not streaming: %w", s.id, domain.ErrValidation)
	}
	last := len(s.messages) - 1
	if last < 0 || s.messages[last].Sender != models.SenderAssistant {
		return fmt.Errorf("session %s has no open assistant entry: %w", s.id, domain.ErrValidation)
	}

	s.messages[last].Content += delta
	return nil
}

// Settle closes the streaming phase. An assistant entry that received no
// text (the stream failed before the first chunk) is dropped rather than
// persisted empty.
func (s *Session) Settle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionStreaming {
		return
	}

	last := len(s.messages) - 1
	if last >= 0 && s.messages[last].Sender == models.SenderAssistant && s.messages[last].Content == "" {
		s.messages = s.messages[:last]
	}

	s.state = SessionSettled
}

// Reset clears the transcript and conversation binding, returning the
// session to idle for a new chat. The session identity is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.nextSeq = 0
	s.conversationID = nil
	s.lastSyncedSeq = 0
	s.state = SessionIdle
}

// Bind attaches the session to a persisted conversation and records the
// highest sequence token covered by the store.
func (s *Session) Bind(conversationID int64, syncedThrough int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversationID = &conversationID
	if syncedThrough > s.lastSyncedSeq {
		s.lastSyncedSeq = syncedThrough
	}
}

// markSynced advances the persisted watermark.
func (s *Session) markSynced(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq > s.lastSyncedSeq {
		s.lastSyncedSeq = seq
	}
}

// unsynced returns transcript entries past the persisted watermark.
func (s *Session) unsynced() []SessionMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SessionMessage
	for _, m := range s.messages {
		if m.Seq > s.lastSyncedSeq {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) append(sender models.Sender, content string) {
	s.nextSeq++
	s.messages = append(s.messages, SessionMessage{
		Seq:     s.nextSeq,
		Sender:  sender,
		Content: content,
	})
}

// SessionManager hands out sessions by ID, creating them on first use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Get returns the session for id, creating one if needed. An empty id gets
// a fresh session with a generated identity.
func (m *SessionManager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return s
		}
	}

	s := NewSession()
	if id != "" {
		s.id = id
	}
	m.sessions[s.id] = s
	return s
}

// Remove forgets a session.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
