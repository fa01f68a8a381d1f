package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
)

// fakeStore is an in-memory stand-in for the Postgres repositories, good
// enough for sync and service tests. One struct implements both the
// conversation and message interfaces so test wiring stays short.
type fakeStore struct {
	mu sync.Mutex

	nextConvID int64
	nextMsgID  int64
	convs      map[int64]*models.Conversation
	msgs       map[int64]*models.Message

	// failAdds makes the next N Add calls fail with a StorageError.
	failAdds int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs: make(map[int64]*models.Conversation),
		msgs:  make(map[int64]*models.Message),
	}
}

func (f *fakeStore) Create(ctx context.Context, conv *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextConvID++
	conv.ID = f.nextConvID
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	clone := *conv
	f.convs[conv.ID] = &clone
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %d: %w", id, domain.ErrNotFound)
	}
	clone := *conv
	return &clone, nil
}

func (f *fakeStore) Update(ctx context.Context, id int64, name string, folderID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.convs[id]
	if !ok {
		return fmt.Errorf("conversation %d: %w", id, domain.ErrNotFound)
	}
	conv.Name = name
	conv.FolderID = folderID
	conv.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) List(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.Conversation, 0, len(f.convs))
	for _, conv := range f.convs {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) ListByFolder(ctx context.Context, folderID *int64) ([]models.Conversation, error) {
	all, _ := f.List(ctx)
	var out []models.Conversation
	for _, conv := range all {
		switch {
		case folderID == nil && conv.FolderID == nil:
			out = append(out, conv)
		case folderID != nil && conv.FolderID != nil && *conv.FolderID == *folderID:
			out = append(out, conv)
		}
	}
	return out, nil
}

func (f *fakeStore) ListForks(ctx context.Context, parentID int64) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Conversation
	for _, conv := range f.convs {
		if conv.ParentConversationID != nil && *conv.ParentConversationID == parentID {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) Fork(ctx context.Context, sourceID, cutMessageID int64, name string, folderID *int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.convs[sourceID]; !ok {
		return 0, fmt.Errorf("conversation %d: %w", sourceID, domain.ErrNotFound)
	}
	cut, ok := f.msgs[cutMessageID]
	if !ok {
		return 0, fmt.Errorf("fork message %d: %w", cutMessageID, domain.ErrNotFound)
	}
	if cut.ConversationID != sourceID {
		return 0, fmt.Errorf("fork message %d: %w", cutMessageID, domain.ErrValidation)
	}

	f.nextConvID++
	now := time.Now()
	f.convs[f.nextConvID] = &models.Conversation{
		ID:                   f.nextConvID,
		Name:                 name,
		FolderID:             folderID,
		ParentConversationID: &sourceID,
		ForkMessageID:        &cutMessageID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	var toCopy []*models.Message
	for _, msg := range f.msgs {
		if msg.ConversationID == sourceID && msg.ID <= cutMessageID {
			toCopy = append(toCopy, msg)
		}
	}
	sort.Slice(toCopy, func(i, j int) bool { return toCopy[i].Timestamp.Before(toCopy[j].Timestamp) })
	newID := f.nextConvID
	for _, msg := range toCopy {
		f.nextMsgID++
		f.msgs[f.nextMsgID] = &models.Message{
			ID:             f.nextMsgID,
			ConversationID: newID,
			Content:        msg.Content,
			Sender:         msg.Sender,
			Timestamp:      msg.Timestamp,
		}
	}

	return newID, nil
}

func (f *fakeStore) MoveToFolder(ctx context.Context, ids []int64, folderID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		if conv, ok := f.convs[id]; ok {
			conv.FolderID = folderID
			conv.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.convs[id]; !ok {
		return fmt.Errorf("conversation %d: %w", id, domain.ErrNotFound)
	}
	delete(f.convs, id)
	for msgID, msg := range f.msgs {
		if msg.ConversationID == id {
			delete(f.msgs, msgID)
		}
	}
	return nil
}

func (f *fakeStore) Add(ctx context.Context, conversationID int64, content string, sender models.Sender) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAdds > 0 {
		f.failAdds--
		return 0, &domain.StorageError{Op: "add message", Err: fmt.Errorf("connection reset")}
	}

	conv, ok := f.convs[conversationID]
	if !ok {
		return 0, fmt.Errorf("conversation %d: %w", conversationID, domain.ErrNotFound)
	}

	f.nextMsgID++
	now := time.Now()
	f.msgs[f.nextMsgID] = &models.Message{
		ID:             f.nextMsgID,
		ConversationID: conversationID,
		Content:        content,
		Sender:         sender,
		Timestamp:      now,
	}
	conv.UpdatedAt = now
	return f.nextMsgID, nil
}

// GetByID is taken by the conversation interface, so the message
// repository view goes through a thin wrapper.
type fakeMessageRepo struct{ store *fakeStore }

func (f *fakeMessageRepo) Add(ctx context.Context, conversationID int64, content string, sender models.Sender) (int64, error) {
	return f.store.Add(ctx, conversationID, content, sender)
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	return f.store.messageByID(id)
}

func (f *fakeMessageRepo) ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	var out []models.Message
	for _, msg := range f.store.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (f *fakeStore) messageByID(id int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.msgs[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
	}
	clone := *msg
	return &clone, nil
}
