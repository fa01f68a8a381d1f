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

// FolderRepository implements repositories.FolderRepository on Postgres.
type FolderRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	tm     repositories.TransactionManager
}

// NewFolderRepository creates a new folder repository.
func NewFolderRepository(config *RepositoryConfig) repositories.FolderRepository {
	return &FolderRepository{
		pool:   config.Pool,
		tables: config.Tables,
		tm:     NewTransactionManager(config.Pool),
	}
}

// Create inserts a new folder. Fails with ErrConstraint if the parent does
// not exist.
func (r *FolderRepository) Create(ctx context.Context, folder *models.Folder) error {
	now := time.Now()
	folder.CreatedAt = now
	folder.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (name, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, r.tables.Folders)

	err := GetExecutor(ctx, r.pool).QueryRow(ctx, query,
		folder.Name,
		folder.ParentID,
		folder.CreatedAt,
		folder.UpdatedAt,
	).Scan(&folder.ID)

	if err != nil {
		if isPgForeignKeyError(err) {
			return fmt.Errorf("parent folder: %w", domain.ErrConstraint)
		}
		return domain.NewStorageError("create folder", err)
	}

	return nil
}

// GetByID retrieves a folder by ID.
func (r *FolderRepository) GetByID(ctx context.Context, id int64) (*models.Folder, error) {
	query := fmt.Sprintf(`
		SELECT id, name, parent_id, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Folders)

	var folder models.Folder
	err := GetExecutor(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&folder.ID,
		&folder.Name,
		&folder.ParentID,
		&folder.CreatedAt,
		&folder.UpdatedAt,
	)

	if err != nil {
		if isPgNoRowsError(err) {
			return nil, fmt.Errorf("folder %d: %w", id, domain.ErrNotFound)
		}
		return nil, domain.NewStorageError("get folder", err)
	}

	return &folder, nil
}

// Rename updates a folder's name.
func (r *FolderRepository) Rename(ctx context.Context, id int64, name string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $1, updated_at = $2
		WHERE id = $3
	`, r.tables.Folders)

	result, err := GetExecutor(ctx, r.pool).Exec(ctx, query, name, time.Now(), id)
	if err != nil {
		return domain.NewStorageError("rename folder", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("folder %d: %w", id, domain.ErrNotFound)
	}

	return nil
}

// List returns all folders ordered by name.
func (r *FolderRepository) List(ctx context.Context) ([]models.Folder, error) {
	query := fmt.Sprintf(`
		SELECT id, name, parent_id, created_at, updated_at
		FROM %s
		ORDER BY name ASC
	`, r.tables.Folders)

	rows, err := GetExecutor(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, domain.NewStorageError("list folders", err)
	}
	defer rows.Close()

	return scanFolders(rows)
}

// ListChildren returns immediate child folders; a nil parent selects roots.
func (r *FolderRepository) ListChildren(ctx context.Context, parentID *int64) ([]models.Folder, error) {
	var query string
	var args []any

	if parentID == nil {
		query = fmt.Sprintf(`
			SELECT id, name, parent_id, created_at, updated_at
			FROM %s
			WHERE parent_id IS NULL
			ORDER BY name ASC
		`, r.tables.Folders)
	} else {
		query = fmt.Sprintf(`
			SELECT id, name, parent_id, created_at, updated_at
			FROM %s
			WHERE parent_id = $1
			ORDER BY name ASC
		`, r.tables.Folders)
		args = append(args, *parentID)
	}

	rows, err := GetExecutor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("list folder children", err)
	}
	defer rows.Close()

	return scanFolders(rows)
}

// Delete unfiles contained conversations and removes the folder row, in one
// transaction. Conversations are never deleted.
func (r *FolderRepository) Delete(ctx context.Context, id int64) error {
	err := r.tm.ExecTx(ctx, func(txCtx context.Context) error {
		unfile := fmt.Sprintf(`
			UPDATE %s SET folder_id = NULL WHERE folder_id = $1
		`, r.tables.Conversations)
		if _, err := GetExecutor(txCtx, r.pool).Exec(txCtx, unfile, id); err != nil {
			return err
		}

		// Child folders are promoted to the root rather than deleted.
		promote := fmt.Sprintf(`
			UPDATE %s SET parent_id = NULL WHERE parent_id = $1
		`, r.tables.Folders)
		if _, err := GetExecutor(txCtx, r.pool).Exec(txCtx, promote, id); err != nil {
			return err
		}

		del := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Folders)
		result, err := GetExecutor(txCtx, r.pool).Exec(txCtx, del, id)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("folder %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})

	return domain.NewStorageError("delete folder", err)
}

func scanFolders(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.Folder, error) {
	var folders []models.Folder
	for rows.Next() {
		var folder models.Folder
		err := rows.Scan(
			&folder.ID,
			&folder.Name,
			&folder.ParentID,
			&folder.CreatedAt,
			&folder.UpdatedAt,
		)
		if err != nil {
			return nil, domain.NewStorageError("scan folder", err)
		}
		folders = append(folders, folder)
	}

	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("iterate folders", err)
	}

	return folders, nil
}
