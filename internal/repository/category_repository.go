package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

// CategoryRepository persists catalog categories.
type CategoryRepository struct {
	db *sqlx.DB
}

// NewCategoryRepository constructs the repository.
func NewCategoryRepository(db *sqlx.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// List returns all categories ordered by name.
func (r *CategoryRepository) List(ctx context.Context) ([]models.Category, error) {
	const query = `SELECT id, name, created_at FROM categories ORDER BY name ASC`
	categories := []models.Category{}
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

// Create inserts a category. A name taken case-insensitively yields ErrDuplicate.
func (r *CategoryRepository) Create(ctx context.Context, category *models.Category) error {
	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	category.Name = strings.TrimSpace(category.Name)
	category.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO categories (id, name, created_at) VALUES (:id, :name, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, category); err != nil {
		return fmt.Errorf("create category: %w", mapWriteError(err))
	}
	return nil
}

// Rename changes the display name of a category.
func (r *CategoryRepository) Rename(ctx context.Context, id, name string) error {
	const query = `UPDATE categories SET name = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("rename category: %w", mapWriteError(err))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a category and detaches it from every course.
func (r *CategoryRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin category transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	needle, err := json.Marshal([]string{id})
	if err != nil {
		return fmt.Errorf("encode category filter: %w", err)
	}
	const detachQuery = `UPDATE courses SET categories = categories - $1::text, updated_at = $3 WHERE categories @> $2::jsonb`
	if _, err = tx.ExecContext(ctx, detachQuery, id, string(needle), time.Now().UTC()); err != nil {
		return fmt.Errorf("detach category from courses: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete category rows affected: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit category transaction: %w", err)
	}
	return nil
}
