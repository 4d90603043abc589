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

const organizationColumns = `id, name, users, course_ids, created_at, updated_at`

// OrganizationRepository persists organizations and their rosters.
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository constructs the repository.
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// FindByID returns an organization by identifier.
func (r *OrganizationRepository) FindByID(ctx context.Context, id string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1 LIMIT 1`
	var org models.Organization
	if err := r.db.GetContext(ctx, &org, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find organization by id: %w", err)
	}
	return &org, nil
}

// FindByIDs returns the organizations among ids.
func (r *OrganizationRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Organization, error) {
	if len(ids) == 0 {
		return []models.Organization{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+organizationColumns+` FROM organizations WHERE id IN (?) ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("build organizations query: %w", err)
	}
	var orgs []models.Organization
	if err := r.db.SelectContext(ctx, &orgs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find organizations by ids: %w", err)
	}
	return orgs, nil
}

// FindByMemberEmail returns organizations whose roster lists email.
func (r *OrganizationRepository) FindByMemberEmail(ctx context.Context, email string) ([]models.Organization, error) {
	needle, err := json.Marshal([]map[string]string{{"email": strings.ToLower(strings.TrimSpace(email))}})
	if err != nil {
		return nil, fmt.Errorf("encode member filter: %w", err)
	}
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE users @> $1::jsonb ORDER BY created_at ASC`
	var orgs []models.Organization
	if err := r.db.SelectContext(ctx, &orgs, query, string(needle)); err != nil {
		return nil, fmt.Errorf("find organizations by member: %w", err)
	}
	return orgs, nil
}

// List returns organizations with a total count.
func (r *OrganizationRepository) List(ctx context.Context, filter models.OrganizationFilter) ([]models.Organization, int, error) {
	base := `FROM organizations`
	var args []interface{}
	if filter.Search != "" {
		base += " WHERE LOWER(name) LIKE $1"
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	_, pageSize, offset := normalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY name ASC LIMIT %d OFFSET %d", organizationColumns, base, pageSize, offset)
	var orgs []models.Organization
	if err := r.db.SelectContext(ctx, &orgs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list organizations: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count organizations: %w", err)
	}
	return orgs, total, nil
}

// Create inserts a new organization.
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now
	const query = `INSERT INTO organizations (id, name, users, course_ids, created_at, updated_at) VALUES (:id, :name, :users, :course_ids, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, org); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}
	return nil
}

// Update persists the name, roster and course list.
func (r *OrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	org.UpdatedAt = time.Now().UTC()
	const query = `UPDATE organizations SET name = :name, users = :users, course_ids = :course_ids, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, org); err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

// Delete removes an organization. Memberships cascade.
func (r *OrganizationRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM organizations WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	return nil
}
