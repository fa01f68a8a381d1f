package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"arbor/internal/domain"
	"arbor/internal/domain/models"
	"arbor/internal/domain/repositories"
)

// MaxFolderNameLength bounds user-supplied folder names.
const MaxFolderNameLength = 120

// CreateFolderRequest is the payload for creating a folder.
type CreateFolderRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

// RenameFolderRequest is the payload for renaming a folder.
type RenameFolderRequest struct {
	Name string `json:"name"`
}

// FolderService manages the conversation folder tree.
type FolderService struct {
	folders repositories.FolderRepository
	logger  *slog.Logger
}

// NewFolderService creates a new folder service.
func NewFolderService(folders repositories.FolderRepository, logger *slog.Logger) *FolderService {
	return &FolderService{folders: folders, logger: logger}
}

// CreateFolder creates a new folder. A referenced parent must exist.
func (s *FolderService) CreateFolder(ctx context.Context, req *CreateFolderRequest) (*models.Folder, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, MaxFolderNameLength)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if req.ParentID != nil {
		if _, err := s.folders.GetByID(ctx, *req.ParentID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("parent folder %d: %w", *req.ParentID, domain.ErrConstraint)
			}
			return nil, err
		}
	}

	folder := &models.Folder{
		Name:     strings.TrimSpace(req.Name),
		ParentID: req.ParentID,
	}
	if err := s.folders.Create(ctx, folder); err != nil {
		return nil, err
	}

	s.logger.Info("folder created", "id", folder.ID, "name", folder.Name)

	return folder, nil
}

// GetFolder retrieves a folder by ID.
func (s *FolderService) GetFolder(ctx context.Context, id int64) (*models.Folder, error) {
	return s.folders.GetByID(ctx, id)
}

// RenameFolder updates a folder's name.
func (s *FolderService) RenameFolder(ctx context.Context, id int64, req *RenameFolderRequest) (*models.Folder, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, MaxFolderNameLength)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if err := s.folders.Rename(ctx, id, strings.TrimSpace(req.Name)); err != nil {
		return nil, err
	}

	return s.folders.GetByID(ctx, id)
}

// ListFolders returns all folders ordered by name.
func (s *FolderService) ListFolders(ctx context.Context) ([]models.Folder, error) {
	return s.folders.List(ctx)
}

// ListChildFolders returns folders under the given parent; nil selects
// roots.
func (s *FolderService) ListChildFolders(ctx context.Context, parentID *int64) ([]models.Folder, error) {
	return s.folders.ListChildren(ctx, parentID)
}

// DeleteFolder removes a folder. Contained conversations become unfiled;
// they are never deleted with their folder.
func (s *FolderService) DeleteFolder(ctx context.Context, id int64) error {
	if err := s.folders.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("folder deleted", "id", id)

	return nil
}
