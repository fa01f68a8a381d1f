package repositories

import (
	"context"

	"arbor/internal/domain/models"
)

// FolderRepository persists the folder tree.
type FolderRepository interface {
	Create(ctx context.Context, folder *models.Folder) error
	GetByID(ctx context.Context, id int64) (*models.Folder, error)
	Rename(ctx context.Context, id int64, name string) error
	// List returns all folders ordered by name.
	List(ctx context.Context) ([]models.Folder, error)
	// ListChildren returns folders with the given parent, ordered by name.
	// A nil parent selects root folders.
	ListChildren(ctx context.Context, parentID *int64) ([]models.Folder, error)
	// Delete unfiles contained conversations (folder reference cleared) and
	// removes the folder row. Conversations are never cascaded.
	Delete(ctx context.Context, id int64) error
}

// ConversationRepository persists conversations and their fork lineage.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	Update(ctx context.Context, id int64, name string, folderID *int64) error
	// List returns all conversations, most recently active first.
	List(ctx context.Context) ([]models.Conversation, error)
	// ListByFolder returns conversations filed in the given folder, most
	// recently active first. A nil folder selects unfiled conversations.
	ListByFolder(ctx context.Context, folderID *int64) ([]models.Conversation, error)
	// ListForks returns conversations forked from the given parent, oldest
	// first.
	ListForks(ctx context.Context, parentID int64) ([]models.Conversation, error)
	// Fork creates a new conversation referencing source and cut message,
	// copying the source's messages with id <= cutMessageID in timestamp
	// order, timestamps preserved. Runs as a single transaction.
	Fork(ctx context.Context, sourceID, cutMessageID int64, name string, folderID *int64) (int64, error)
	// MoveToFolder refiles the given conversations; a nil folder unfiles.
	MoveToFolder(ctx context.Context, ids []int64, folderID *int64) error
	// Delete removes the conversation's messages, then the conversation row.
	Delete(ctx context.Context, id int64) error
}

// MessageRepository persists conversation messages.
type MessageRepository interface {
	// Add inserts a message with the current timestamp and bumps the owning
	// conversation's updated_at to the same instant, atomically.
	Add(ctx context.Context, conversationID int64, content string, sender models.Sender) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	// ListByConversation returns messages ordered by timestamp.
	ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error)
}
