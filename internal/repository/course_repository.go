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
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
)

const courseColumns = `id, title, description, status, instructor_id, categories, duration, rating, content, content_version, review_note, created_at, updated_at`

// CourseRepository manages catalog persistence.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course with its content.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1 LIMIT 1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// FindByIDs returns the courses that exist among ids.
func (r *CourseRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Course, error) {
	if len(ids) == 0 {
		return []models.Course{}, nil
	}
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = ANY($1)`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find courses by ids: %w", err)
	}
	return courses, nil
}

// List returns catalog entries with a total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := `FROM courses`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Category != "" {
		encoded, err := json.Marshal([]string{filter.Category})
		if err != nil {
			return nil, 0, fmt.Errorf("encode category filter: %w", err)
		}
		conditions = append(conditions, fmt.Sprintf("categories @> $%d::jsonb", len(args)+1))
		args = append(args, string(encoded))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{
		"title":      true,
		"rating":     true,
		"duration":   true,
		"created_at": true,
		"updated_at": true,
	}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := normalizeOrder(filter.SortOrder)
	_, pageSize, offset := normalizePage(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", courseColumns, base, sortBy, sortOrder, pageSize, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	if course.ContentVersion == 0 {
		course.ContentVersion = 1
	}
	const query = `INSERT INTO courses (id, title, description, status, instructor_id, categories, duration, rating, content, content_version, review_note, created_at, updated_at)
VALUES (:id, :title, :description, :status, :instructor_id, :categories, :duration, :rating, :content, :content_version, :review_note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update stores the mutable metadata and workflow fields of a course.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, description = :description, status = :status, categories = :categories, review_note = :review_note, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// UpdateContent replaces the curriculum and its derived duration if the
// stored content is still at version. ErrVersionConflict means another edit
// was saved in between.
func (r *CourseRepository) UpdateContent(ctx context.Context, id string, version int, content models.CourseContent, duration int) error {
	const query = `UPDATE courses SET content = $3, duration = $4, updated_at = $5, content_version = content_version + 1
WHERE id = $1 AND content_version = $2`
	res, err := r.db.ExecContext(ctx, query, id, version, content, duration, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update course content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update course content rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// HasReview reports whether the user already reviewed the course.
func (r *CourseRepository) HasReview(ctx context.Context, courseID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM course_reviews WHERE course_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, courseID, userID); err != nil {
		return false, fmt.Errorf("check course review: %w", err)
	}
	return exists, nil
}

// CreateReview stores a review and refreshes the course average in the same
// transaction.
func (r *CourseRepository) CreateReview(ctx context.Context, review *models.CourseReview) (rating float64, err error) {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin review transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertQuery = `INSERT INTO course_reviews (id, course_id, user_id, rating, comment, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err = tx.ExecContext(ctx, insertQuery, review.ID, review.CourseID, review.UserID, review.Rating, review.Comment, review.CreatedAt); err != nil {
		return 0, fmt.Errorf("create course review: %w", mapWriteError(err))
	}

	const ratingQuery = `UPDATE courses SET rating = COALESCE((SELECT AVG(rating) FROM course_reviews WHERE course_id = $1), 0), updated_at = $2 WHERE id = $1 RETURNING rating`
	if err = tx.GetContext(ctx, &rating, ratingQuery, review.CourseID, review.CreatedAt); err != nil {
		return 0, fmt.Errorf("refresh course rating: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit review transaction: %w", err)
	}
	return rating, nil
}

// ListReviews returns the reviews of a course, newest first.
func (r *CourseRepository) ListReviews(ctx context.Context, courseID string) ([]models.CourseReview, error) {
	const query = `SELECT id, course_id, user_id, rating, comment, created_at FROM course_reviews WHERE course_id = $1 ORDER BY created_at DESC`
	reviews := []models.CourseReview{}
	if err := r.db.SelectContext(ctx, &reviews, query, courseID); err != nil {
		return nil, fmt.Errorf("list course reviews: %w", err)
	}
	return reviews, nil
}

// CountByStatus returns course counts keyed by status.
func (r *CourseRepository) CountByStatus(ctx context.Context) (map[models.CourseStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS total FROM courses GROUP BY status`
	var rows []struct {
		Status models.CourseStatus `db:"status"`
		Total  int                 `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count courses by status: %w", err)
	}
	out := make(map[models.CourseStatus]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
