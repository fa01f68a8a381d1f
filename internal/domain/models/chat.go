package models

import "time"

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Valid reports whether s is a known sender value.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// Folder is a node in the conversation folder tree. ParentID is nil for root
// folders; the parent relation is acyclic.
type Folder struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation is an ordered sequence of messages, optionally filed in a
// folder. A conversation with a non-nil ParentConversationID is a fork: it
// was created by copying the parent's messages up to and including
// ForkMessageID. UpdatedAt is bumped on every message append.
type Conversation struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	FolderID             *int64    `json:"folder_id"`
	ParentConversationID *int64    `json:"parent_conversation_id"`
	ForkMessageID        *int64    `json:"fork_message_id"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Message is immutable once written - no in-place edits, only append and
// (for forks) copy. Ordering within a conversation is by Timestamp; ID is
// the stable surrogate used for fork cut-points.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Content        string    `json:"content"`
	Sender         Sender    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
}

// ChatMessage is the wire envelope accepted by the chat endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
