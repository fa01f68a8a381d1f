package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/repositories"
)

// MaxConversationNameLength bounds user-supplied conversation names.
const MaxConversationNameLength = 120

// CreateConversationRequest is the payload for creating a conversation.
type CreateConversationRequest struct {
	Name     string `json:"name"`
	FolderID *int64 `json:"folder_id"`
}

// UpdateConversationRequest renames and/or refiles a conversation.
type UpdateConversationRequest struct {
	Name     string `json:"name"`
	FolderID *int64 `json:"folder_id"`
}

// ForkConversationRequest is the payload for forking a conversation at a
// cut message.
type ForkConversationRequest struct {
	CutMessageID int64  `json:"cut_message_id"`
	Name         string `json:"name"`
	FolderID     *int64 `json:"folder_id"`
}

// MoveConversationsRequest refiles a batch of conversations; a nil folder
// unfiles them.
type MoveConversationsRequest struct {
	IDs      []int64 `json:"ids"`
	FolderID *int64  `json:"folder_id"`
}

// AddMessageRequest is the payload for appending a message.
type AddMessageRequest struct {
	Content string        `json:"content"`
	Sender  models.Sender `json:"sender"`
}

// conversationLocks serializes store writes per conversation: a fork's
// conversation-create plus message copies must not interleave with a
// concurrent delete of the same conversation. Entries are never freed; the
// map is bounded by the number of conversations touched in this process.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *conversationLocks) lock(id int64) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// ConversationService manages conversations, their messages and forks.
type ConversationService struct {
	convs  repositories.ConversationRepository
	msgs   repositories.MessageRepository
	locks  *conversationLocks
	logger *slog.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(
	convs repositories.ConversationRepository,
	msgs repositories.MessageRepository,
	logger *slog.Logger,
) *ConversationService {
	return &ConversationService{
		convs:  convs,
		msgs:   msgs,
		locks:  newConversationLocks(),
		logger: logger,
	}
}

// CreateConversation creates a fresh conversation.
func (s *ConversationService) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*models.Conversation, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, MaxConversationNameLength)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	conv := &models.Conversation{
		Name:     strings.TrimSpace(req.Name),
		FolderID: req.FolderID,
	}
	if err := s.convs.Create(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Info("conversation created", "id", conv.ID, "name", conv.Name)

	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *ConversationService) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	return s.convs.GetByID(ctx, id)
}

// UpdateConversation renames and/or refiles a conversation.
func (s *ConversationService) UpdateConversation(ctx context.Context, id int64, req *UpdateConversationRequest) (*models.Conversation, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, MaxConversationNameLength)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.convs.Update(ctx, id, strings.TrimSpace(req.Name), req.FolderID); err != nil {
		return nil, err
	}

	return s.convs.GetByID(ctx, id)
}

// ListConversations returns all conversations, most recently active first.
func (s *ConversationService) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	return s.convs.List(ctx)
}

// ListConversationsByFolder returns conversations in a folder; nil selects
// unfiled ones.
func (s *ConversationService) ListConversationsByFolder(ctx context.Context, folderID *int64) ([]models.Conversation, error) {
	return s.convs.ListByFolder(ctx, folderID)
}

// ListForks returns conversations forked from the given parent.
func (s *ConversationService) ListForks(ctx context.Context, parentID int64) ([]models.Conversation, error) {
	if _, err := s.convs.GetByID(ctx, parentID); err != nil {
		return nil, err
	}
	return s.convs.ListForks(ctx, parentID)
}

// ForkConversation branches the source conversation after the cut message:
// the new conversation carries copies of all source messages with
// id <= cut, so the selected message is retained in both branches.
func (s *ConversationService) ForkConversation(ctx context.Context, sourceID int64, req *ForkConversationRequest) (*models.Conversation, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, MaxConversationNameLength)),
		validation.Field(&req.CutMessageID, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	unlock := s.locks.lock(sourceID)
	defer unlock()

	newID, err := s.convs.Fork(ctx, sourceID, req.CutMessageID, strings.TrimSpace(req.Name), req.FolderID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation forked",
		"source_id", sourceID,
		"cut_message_id", req.CutMessageID,
		"new_id", newID,
	)

	return s.convs.GetByID(ctx, newID)
}

// MoveConversations refiles the given conversations in one statement.
func (s *ConversationService) MoveConversations(ctx context.Context, req *MoveConversationsRequest) error {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.IDs, validation.Required),
	); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if err := s.convs.MoveToFolder(ctx, req.IDs, req.FolderID); err != nil {
		return err
	}

	s.logger.Info("conversations moved", "count", len(req.IDs), "folder_id", req.FolderID)

	return nil
}

// AddMessage appends a message; the owning conversation's updated_at is
// bumped atomically with the insert.
func (s *ConversationService) AddMessage(ctx context.Context, conversationID int64, req *AddMessageRequest) (*models.Message, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Content, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if !req.Sender.Valid() {
		return nil, fmt.Errorf("sender '%s': %w", req.Sender, domain.ErrValidation)
	}

	unlock := s.locks.lock(conversationID)
	defer unlock()

	id, err := s.msgs.Add(ctx, conversationID, req.Content, req.Sender)
	if err != nil {
		return nil, err
	}

	return s.msgs.GetByID(ctx, id)
}

// ListMessages returns a conversation's messages ordered by timestamp.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	if _, err := s.convs.GetByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.msgs.ListByConversation(ctx, conversationID)
}

// DeleteConversation removes a conversation and its messages.
func (s *ConversationService) DeleteConversation(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.convs.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("conversation deleted", "id", id)

	return nil
}
