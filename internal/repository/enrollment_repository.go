package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
)

const enrollmentColumns = `id, user_id, course_id, organization_id, status, time_spent, percentage, completed_at, certificate_id, rating, comment, version, created_at, updated_at`

// MembershipChange is the mutation applied to a single user when an
// organization roster or course list changes.
type MembershipChange struct {
	UserID         string
	OrganizationID string
	Join           bool
	Leave          bool
	Grant          []string
	Revoke         []string
}

// Empty reports whether the change has nothing to apply.
func (c MembershipChange) Empty() bool {
	return !c.Join && !c.Leave && len(c.Grant) == 0 && len(c.Revoke) == 0
}

// EnrollmentRepository persists user course records, completed lessons and
// organization memberships.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByUserAndCourse returns the user's record for a course with its
// completed lessons.
func (r *EnrollmentRepository) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM user_courses WHERE user_id = $1 AND course_id = $2 LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	list := []models.Enrollment{enrollment}
	if err := r.attachLessons(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// List returns enrollments matching the filter with their completed lessons.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.OrganizationID != "" {
		conditions = append(conditions, fmt.Sprintf("organization_id = $%d", len(args)+1))
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	query := `SELECT ` + enrollmentColumns + ` FROM user_courses`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	if err := r.attachLessons(ctx, enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// ListActiveByCourse returns every non-saved record of a course.
func (r *EnrollmentRepository) ListActiveByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM user_courses WHERE course_id = $1 AND status <> $2 ORDER BY created_at ASC, id ASC`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID, models.EnrollmentStatusSaved); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	if err := r.attachLessons(ctx, enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// ListForUsers returns records of the given users restricted to courseIDs.
func (r *EnrollmentRepository) ListForUsers(ctx context.Context, userIDs, courseIDs []string) ([]models.Enrollment, error) {
	if len(userIDs) == 0 || len(courseIDs) == 0 {
		return []models.Enrollment{}, nil
	}
	query := `SELECT ` + enrollmentColumns + ` FROM user_courses WHERE user_id = ANY($1) AND course_id = ANY($2) ORDER BY user_id, course_id`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, pq.Array(userIDs), pq.Array(courseIDs)); err != nil {
		return nil, fmt.Errorf("list enrollments for users: %w", err)
	}
	if err := r.attachLessons(ctx, enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// Create inserts a record unless the user already has one for the course.
// It reports whether a row was written.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	if enrollment.Version == 0 {
		enrollment.Version = 1
	}
	const query = `INSERT INTO user_courses (id, user_id, course_id, organization_id, status, time_spent, percentage, completed_at, certificate_id, rating, comment, version, created_at, updated_at)
VALUES (:id, :user_id, :course_id, :organization_id, :status, :time_spent, :percentage, :completed_at, :certificate_id, :rating, :comment, :version, :created_at, :updated_at)
ON CONFLICT (user_id, course_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, enrollment)
	if err != nil {
		return false, fmt.Errorf("create enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create enrollment rows affected: %w", err)
	}
	return affected > 0, nil
}

// AddCompletedLesson records lessonID as completed. Repeated calls are no-ops;
// the result reports whether the lesson was new.
func (r *EnrollmentRepository) AddCompletedLesson(ctx context.Context, enrollmentID, lessonID string) (bool, error) {
	const query = `INSERT INTO completed_lessons (enrollment_id, lesson_id, completed_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, enrollmentID, lessonID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("add completed lesson: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add completed lesson rows affected: %w", err)
	}
	return affected > 0, nil
}

// PruneCompletedLessons deletes completed lessons that are not in keep.
func (r *EnrollmentRepository) PruneCompletedLessons(ctx context.Context, enrollmentID string, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	const query = `DELETE FROM completed_lessons WHERE enrollment_id = $1 AND NOT (lesson_id = ANY($2))`
	res, err := r.db.ExecContext(ctx, query, enrollmentID, pq.Array(keep))
	if err != nil {
		return 0, fmt.Errorf("prune completed lessons: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune completed lessons rows affected: %w", err)
	}
	return affected, nil
}

// UpdateProgress writes the derived progress fields guarded by the version
// read earlier. ErrVersionConflict means another writer got there first.
func (r *EnrollmentRepository) UpdateProgress(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE user_courses SET status = :status, percentage = :percentage, completed_at = :completed_at, certificate_id = :certificate_id, organization_id = :organization_id, updated_at = :updated_at, version = version + 1
WHERE id = :id AND version = :version`
	res, err := r.db.NamedExecContext(ctx, query, enrollment)
	if err != nil {
		// only certificate_id is unique among the written columns
		return fmt.Errorf("update enrollment progress: %w", mapWriteError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrollment progress rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	enrollment.Version++
	return nil
}

// AddTimeSpent increments the tracked learning time.
func (r *EnrollmentRepository) AddTimeSpent(ctx context.Context, id string, seconds int) error {
	const query = `UPDATE user_courses SET time_spent = time_spent + $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, seconds, time.Now().UTC()); err != nil {
		return fmt.Errorf("add time spent: %w", err)
	}
	return nil
}

// UpdateRating stores the learner's rating on the enrollment record.
func (r *EnrollmentRepository) UpdateRating(ctx context.Context, id string, rating int, comment string) error {
	const query = `UPDATE user_courses SET rating = $2, comment = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, rating, comment, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment rating: %w", err)
	}
	return nil
}

// Delete removes a record and its completed lessons.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM user_courses WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// ListOrganizationIDs returns the organizations the user belongs to.
func (r *EnrollmentRepository) ListOrganizationIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT organization_id FROM user_organizations WHERE user_id = $1 ORDER BY created_at ASC`
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("list user organizations: %w", err)
	}
	return ids, nil
}

// ListMemberIDs returns the users linked to an organization.
func (r *EnrollmentRepository) ListMemberIDs(ctx context.Context, orgID string) ([]string, error) {
	const query = `SELECT user_id FROM user_organizations WHERE organization_id = $1 ORDER BY created_at ASC`
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, orgID); err != nil {
		return nil, fmt.Errorf("list organization members: %w", err)
	}
	return ids, nil
}

// ApplyMembershipChange applies one user's share of an organization sync in a
// single transaction. Every statement is idempotent so a replay after a
// partial failure converges to the same state.
func (r *EnrollmentRepository) ApplyMembershipChange(ctx context.Context, change MembershipChange) (err error) {
	if change.Empty() {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin membership transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if change.Join {
		const joinQuery = `INSERT INTO user_organizations (user_id, organization_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
		if _, err = tx.ExecContext(ctx, joinQuery, change.UserID, change.OrganizationID, now); err != nil {
			return fmt.Errorf("add organization membership: %w", err)
		}
	}

	for _, courseID := range change.Grant {
		const grantQuery = `INSERT INTO user_courses (id, user_id, course_id, organization_id, status, time_spent, percentage, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, 0, 1, $6, $6)
ON CONFLICT (user_id, course_id) DO NOTHING`
		if _, err = tx.ExecContext(ctx, grantQuery, uuid.NewString(), change.UserID, courseID, change.OrganizationID, models.EnrollmentStatusInProgress, now); err != nil {
			return fmt.Errorf("grant organization course: %w", err)
		}
	}

	if change.Leave {
		const revokeAllQuery = `DELETE FROM user_courses WHERE user_id = $1 AND organization_id = $2`
		if _, err = tx.ExecContext(ctx, revokeAllQuery, change.UserID, change.OrganizationID); err != nil {
			return fmt.Errorf("revoke organization courses: %w", err)
		}
		const leaveQuery = `DELETE FROM user_organizations WHERE user_id = $1 AND organization_id = $2`
		if _, err = tx.ExecContext(ctx, leaveQuery, change.UserID, change.OrganizationID); err != nil {
			return fmt.Errorf("remove organization membership: %w", err)
		}
	} else if len(change.Revoke) > 0 {
		const revokeQuery = `DELETE FROM user_courses WHERE user_id = $1 AND organization_id = $2 AND course_id = ANY($3)`
		if _, err = tx.ExecContext(ctx, revokeQuery, change.UserID, change.OrganizationID, pq.Array(change.Revoke)); err != nil {
			return fmt.Errorf("revoke organization courses: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit membership transaction: %w", err)
	}
	return nil
}

// CountActive returns the number of non-saved records.
func (r *EnrollmentRepository) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM user_courses WHERE status <> $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, models.EnrollmentStatusSaved); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return total, nil
}

func (r *EnrollmentRepository) attachLessons(ctx context.Context, enrollments []models.Enrollment) error {
	if len(enrollments) == 0 {
		return nil
	}
	ids := make([]string, len(enrollments))
	index := make(map[string]int, len(enrollments))
	for i := range enrollments {
		ids[i] = enrollments[i].ID
		index[enrollments[i].ID] = i
		enrollments[i].CompletedLessons = []string{}
	}

	const query = `SELECT enrollment_id, lesson_id FROM completed_lessons WHERE enrollment_id = ANY($1) ORDER BY completed_at ASC, lesson_id ASC`
	var rows []struct {
		EnrollmentID string `db:"enrollment_id"`
		LessonID     string `db:"lesson_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("load completed lessons: %w", err)
	}
	for _, row := range rows {
		if i, ok := index[row.EnrollmentID]; ok {
			enrollments[i].CompletedLessons = append(enrollments[i].CompletedLessons, row.LessonID)
		}
	}
	return nil
}
