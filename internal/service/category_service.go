package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type categoryStore interface {
	List(ctx context.Context) ([]models.Category, error)
	Create(ctx context.Context, category *models.Category) error
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
}

// CategoryRequest is the payload for creating or renaming a category.
type CategoryRequest struct {
	Name string `json:"name"`
}

// CategoryService manages catalog categories.
type CategoryService struct {
	repo   categoryStore
	cache  *CacheService
	logger *zap.Logger
}

// NewCategoryService constructs the service.
func NewCategoryService(repo categoryStore, cache *CacheService, logger *zap.Logger) *CategoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CategoryService{repo: repo, cache: cache, logger: logger}
}

// List returns every category.
func (s *CategoryService) List(ctx context.Context) ([]models.Category, error) {
	categories, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list categories")
	}
	return categories, nil
}

// Create adds a category with a unique name.
func (s *CategoryService) Create(ctx context.Context, req CategoryRequest) (*models.Category, error) {
	existing, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list categories")
	}
	if err := ValidateCategoryName(existing, req.Name); err != nil {
		return nil, err
	}
	category := &models.Category{Name: strings.TrimSpace(req.Name)}
	if err := s.repo.Create(ctx, category); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "category name already exists")
		}
		return nil, appErrors.Internal(err, "failed to create category")
	}
	return category, nil
}

// Rename changes a category name, keeping names unique.
func (s *CategoryService) Rename(ctx context.Context, id string, req CategoryRequest) (*models.Category, error) {
	existing, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list categories")
	}
	var current *models.Category
	others := make([]models.Category, 0, len(existing))
	for i := range existing {
		if existing[i].ID == id {
			current = &existing[i]
			continue
		}
		others = append(others, existing[i])
	}
	if current == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "category not found")
	}
	if err := ValidateCategoryName(others, req.Name); err != nil {
		return nil, err
	}
	if err := s.repo.Rename(ctx, id, req.Name); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "category name already exists")
		}
		return nil, lookupError(err, appErrors.ErrNotFound, "rename category")
	}
	current.Name = strings.TrimSpace(req.Name)
	return current, nil
}

// Delete removes a category and detaches it from courses.
func (s *CategoryService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return lookupError(err, appErrors.ErrNotFound, "delete category")
	}
	_ = s.cache.Invalidate(ctx, "lms:course:*")
	return nil
}
