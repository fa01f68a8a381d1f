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

// MessageRepository implements repositories.MessageRepository on Postgres.
type MessageRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	tm     repositories.TransactionManager
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(config *RepositoryConfig) repositories.MessageRepository {
	return &MessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		tm:     NewTransactionManager(config.Pool),
	}
}

// Add inserts a message and bumps the owning conversation's updated_at to
// the same timestamp. Both writes happen in one transaction; either both
// succeed or both roll back.
func (r *MessageRepository) Add(ctx context.Context, conversationID int64, content string, sender models.Sender) (int64, error) {
	if !sender.Valid() {
		return 0, fmt.Errorf("sender '%s': %w", sender, domain.ErrValidation)
	}

	var id int64
	now := time.Now()

	err := r.tm.ExecTx(ctx, func(txCtx context.Context) error {
		bump := fmt.Sprintf(`
			UPDATE %s SET updated_at = $1 WHERE id = $2
		`, r.tables.Conversations)
		result, err := GetExecutor(txCtx, r.pool).Exec(txCtx, bump, now, conversationID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("conversation %d: %w", conversationID, domain.ErrNotFound)
		}

		insert := fmt.Sprintf(`
			INSERT INTO %s (conversation_id, content, sender, timestamp)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, r.tables.Messages)
		return GetExecutor(txCtx, r.pool).QueryRow(txCtx, insert,
			conversationID, content, string(sender), now,
		).Scan(&id)
	})

	if err != nil {
		return 0, domain.NewStorageError("add message", err)
	}

	return id, nil
}

// GetByID retrieves a message by ID.
func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, content, sender, timestamp
		FROM %s
		WHERE id = $1
	`, r.tables.Messages)

	var msg models.Message
	err := GetExecutor(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Content,
		&msg.Sender,
		&msg.Timestamp,
	)

	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("message %d: %w", id, domain.ErrNotFound)
		}
		return nil, domain.NewStorageError("get message", err)
	}

	return &msg, nil
}

// ListByConversation returns messages ordered by timestamp.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID int64) ([]models.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, content, sender, timestamp
		FROM %s
		WHERE conversation_id = $1
		ORDER BY timestamp ASC, id ASC
	`, r.tables.Messages)

	rows, err := GetExecutor(ctx, r.pool).Query(ctx, query, conversationID)
	if err != nil {
		return nil, domain.NewStorageError("list messages", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Content,
			&msg.Sender,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, domain.NewStorageError("scan message", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("iterate messages", err)
	}

	return messages, nil
}
