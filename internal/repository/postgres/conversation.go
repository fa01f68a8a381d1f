package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/repositories"
)

// ConversationRepository implements repositories.ConversationRepository on
// Postgres.
type ConversationRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	tm     repositories.TransactionManager
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(config *RepositoryConfig) repositories.ConversationRepository {
	return &ConversationRepository{
		pool:   config.Pool,
		tables: config.Tables,
		tm:     NewTransactionManager(config.Pool),
	}
}

// Create inserts a new conversation.
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (name, folder_id, parent_conversation_id, fork_message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.tables.Conversations)

	err := GetExecutor(ctx, r.pool).QueryRow(ctx, query,
		conv.Name,
		conv.FolderID,
		conv.ParentConversationID,
		conv.ForkMessageID,
		conv.CreatedAt,
		conv.UpdatedAt,
	).Scan(&conv.ID)

	if err != nil {
		if isPgForeignKeyError(err) {
			return fmt.Errorf("conversation folder: %w", domain.ErrConstraint)
		}
		return domain.NewStorageError("create conversation", err)
	}

	return nil
}

// GetByID retrieves a conversation by ID.
func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, name, folder_id, parent_conversation_id, fork_message_id, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Conversations)

	var conv models.Conversation
	err := GetExecutor(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.Name,
		&conv.FolderID,
		&conv.ParentConversationID,
		&conv.ForkMessageID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)

	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("conversation %d: %w", id, domain.ErrNotFound)
		}
		return nil, domain.NewStorageError("get conversation", err)
	}

	return &conv, nil
}

// Update renames and/or refiles a conversation.
func (r *ConversationRepository) Update(ctx context.Context, id int64, name string, folderID *int64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $1, folder_id = $2, updated_at = $3
		WHERE id = $4
	`, r.tables.Conversations)

	result, err := GetExecutor(ctx, r.pool).Exec(ctx, query, name, folderID, time.Now(), id)
	if err != nil {
		if isPgForeignKeyError(err) {
			return fmt.Errorf("conversation folder: %w", domain.ErrConstraint)
		}
		return domain.NewStorageError("update conversation", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("conversation %d: %w", id, domain.ErrNotFound)
	}

	return nil
}

// List returns all conversations, most recently active first.
func (r *ConversationRepository) List(ctx context.Context) ([]models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, name, folder_id, parent_conversation_id, fork_message_id, created_at, updated_at
		FROM %s
		ORDER BY updated_at DESC
	`, r.tables.Conversations)

	rows, err := GetExecutor(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, domain.NewStorageError("list conversations", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// ListByFolder returns conversations filed in the folder, most recently
// active first. A nil folder selects unfiled conversations.
func (r *ConversationRepository) ListByFolder(ctx context.Context, folderID *int64) ([]models.Conversation, error) {
	var query string
	var args []any

	if folderID == nil {
		query = fmt.Sprintf(`
			SELECT id, name, folder_id, parent_conversation_id, fork_message_id, created_at, updated_at
			FROM %s
			WHERE folder_id IS NULL
			ORDER BY updated_at DESC
		`, r.tables.Conversations)
	} else {
		query = fmt.Sprintf(`
			SELECT id, name, folder_id, parent_conversation_id, fork_message_id, created_at, updated_at
			FROM %s
			WHERE folder_id = $1
			ORDER BY updated_at DESC
		`, r.tables.Conversations)
		args = append(args, *folderID)
	}

	rows, err := GetExecutor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("list conversations by folder", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// ListForks returns conversations forked from the parent, oldest first.
func (r *ConversationRepository) ListForks(ctx context.Context, parentID int64) ([]models.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, name, folder_id, parent_conversation_id, fork_message_id, created_at, updated_at
		FROM %s
		WHERE parent_conversation_id = $1
		ORDER BY created_at ASC
	`, r.tables.Conversations)

	rows, err := GetExecutor(ctx, r.pool).Query(ctx, query, parentID)
	if err != nil {
		return nil, domain.NewStorageError("list forks", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// Fork creates a new conversation referencing the source and cut message,
// then copies the source's messages with id <= cutMessageID in timestamp
// order. Timestamps are copied, not regenerated, preserving the relative
// ordering history. The whole fork is one transaction.
//
// The cut is inclusive: forking branches after the selected message, so the
// selected message is retained in both branches.
func (r *ConversationRepository) Fork(ctx context.Context, sourceID, cutMessageID int64, name string, folderID *int64) (int64, error) {
	var newID int64

	err := r.tm.ExecTx(ctx, func(txCtx context.Context) error {
		// Validate the source conversation and cut message first; an
		// invalid fork must be rejected with no partial writes.
		if _, err := r.GetByID(txCtx, sourceID); err != nil {
			return err
		}

		var cutOwner int64
		ownerQuery := fmt.Sprintf(`SELECT conversation_id FROM %s WHERE id = $1`, r.tables.Messages)
		if err := GetExecutor(txCtx, r.pool).QueryRow(txCtx, ownerQuery, cutMessageID).Scan(&cutOwner); err != nil {
			if isPgNoRowsError(err) {
				return fmt.Errorf("fork message %d: %w", cutMessageID, domain.ErrNotFound)
			}
			return err
		}
		if cutOwner != sourceID {
			return fmt.Errorf("fork message %d does not belong to conversation %d: %w",
				cutMessageID, sourceID, domain.ErrValidation)
		}

		conv := &models.Conversation{
			Name:                 name,
			FolderID:             folderID,
			ParentConversationID: &sourceID,
			ForkMessageID:        &cutMessageID,
		}
		if err := r.Create(txCtx, conv); err != nil {
			return err
		}
		newID = conv.ID

		copyQuery := fmt.Sprintf(`
			INSERT INTO %s (conversation_id, content, sender, timestamp)
			SELECT $1, content, sender, timestamp
			FROM %s
			WHERE conversation_id = $2 AND id <= $3
			ORDER BY timestamp ASC
		`, r.tables.Messages, r.tables.Messages)

		if _, err := GetExecutor(txCtx, r.pool).Exec(txCtx, copyQuery, newID, sourceID, cutMessageID); err != nil {
			return err
		}

		return nil
	})

	if err != nil {
		return 0, domain.NewStorageError("fork conversation", err)
	}

	return newID, nil
}

// MoveToFolder refiles the given conversations; a nil folder unfiles them.
func (r *ConversationRepository) MoveToFolder(ctx context.Context, ids []int64, folderID *int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET folder_id = $1, updated_at = $2
		WHERE id = ANY($3)
	`, r.tables.Conversations)

	_, err := GetExecutor(ctx, r.pool).Exec(ctx, query, folderID, time.Now(), ids)
	if err != nil {
		if isPgForeignKeyError(err) {
			return fmt.Errorf("conversation folder: %w", domain.ErrConstraint)
		}
		return domain.NewStorageError("move conversations", err)
	}

	return nil
}

// Delete removes the conversation's messages, then the conversation row, in
// one transaction. Messages cannot outlive their conversation.
func (r *ConversationRepository) Delete(ctx context.Context, id int64) error {
	err := r.tm.ExecTx(ctx, func(txCtx context.Context) error {
		delMessages := fmt.Sprintf(`DELETE FROM %s WHERE conversation_id = $1`, r.tables.Messages)
		if _, err := GetExecutor(txCtx, r.pool).Exec(txCtx, delMessages, id); err != nil {
			return err
		}

		delConv := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Conversations)
		result, err := GetExecutor(txCtx, r.pool).Exec(txCtx, delConv, id)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("conversation %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})

	return domain.NewStorageError("delete conversation", err)
}

func scanConversations(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.Conversation, error) {
	var convs []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(
			&conv.ID,
			&conv.Name,
			&conv.FolderID,
			&conv.ParentConversationID,
			&conv.ForkMessageID,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err != nil {
			return nil, domain.NewStorageError("scan conversation", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("iterate conversations", err)
	}

	return convs, nil
}
