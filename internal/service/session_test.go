package service

import (
	"errors"
	"testing"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession()

	if s.State() != SessionIdle {
		t.Fatalf("new session must be idle, got %s", s.State())
	}

	if err := s.AppendUser("hi"); err != nil {
		t.Fatalf("AppendUser: %v", err)
	}
	if s.State() != SessionStreaming {
		t.Fatalf("expected streaming after user message, got %s", s.State())
	}

	// A second user turn cannot start while the reply streams.
	if err := s.AppendUser("again"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for concurrent user turn, got %v", err)
	}

	if err := s.BeginAssistant(); err != nil {
		t.Fatalf("BeginAssistant: %v", err)
	}
	if err := s.AppendAssistantDelta("hel"); err != nil {
		t.Fatalf("AppendAssistantDelta: %v", err)
	}
	if err := s.AppendAssistantDelta("lo"); err != nil {
		t.Fatalf("AppendAssistantDelta: %v", err)
	}

	s.Settle()
	if s.State() != SessionSettled {
		t.Fatalf("expected settled, got %s", s.State())
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(msgs))
	}
	if msgs[0].Sender != models.SenderUser || msgs[0].Content != "hi" {
		t.Errorf("unexpected user entry: %+v", msgs[0])
	}
	if msgs[1].Sender != models.SenderAssistant || msgs[1].Content != "hello" {
		t.Errorf("deltas must concatenate, got %+v", msgs[1])
	}
	if msgs[0].Seq >= msgs[1].Seq {
		t.Errorf("sequence tokens must be monotonic: %d then %d", msgs[0].Seq, msgs[1].Seq)
	}
}

func TestSessionSettleDropsEmptyAssistantEntry(t *testing.T) {
	s := NewSession()

	if err := s.AppendUser("hi"); err != nil {
		t.Fatal(err)
	}
	if err := s.BeginAssistant(); err != nil {
		t.Fatal(err)
	}

	// Stream failed before the first chunk.
	s.Settle()

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Sender != models.SenderUser {
		t.Errorf("empty assistant entry must be dropped, got %+v", msgs)
	}
}

func TestSessionReset(t *testing.T) {
	s := NewSession()

	s.AppendUser("hi")
	s.BeginAssistant()
	s.AppendAssistantDelta("yo")
	s.Settle()
	s.Bind(42, 2)

	s.Reset()

	if s.State() != SessionIdle {
		t.Errorf("expected idle after reset, got %s", s.State())
	}
	if len(s.Messages()) != 0 {
		t.Errorf("transcript must be cleared")
	}
	if s.ConversationID() != nil {
		t.Errorf("conversation binding must be cleared")
	}

	// Sequence tokens restart; the next exchange syncs from scratch.
	s.AppendUser("fresh")
	if got := s.Messages()[0].Seq; got != 1 {
		t.Errorf("expected seq restart at 1, got %d", got)
	}
}

func TestSessionManagerReusesByID(t *testing.T) {
	m := NewSessionManager()

	a := m.Get("abc")
	b := m.Get("abc")
	if a != b {
		t.Error("same id must return the same session")
	}

	c := m.Get("")
	if c == a {
		t.Error("empty id must create a fresh session")
	}
	if c.ID() == "" {
		t.Error("fresh session must have a generated identity")
	}

	m.Remove("abc")
	if m.Get("abc") == a {
		t.Error("removed session must not be handed out again")
	}
}
