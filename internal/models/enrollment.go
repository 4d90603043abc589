package models

import "time"

// EnrollmentStatus represents the lifecycle of a learner's course record.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusSaved      EnrollmentStatus = "saved"
	EnrollmentStatusInProgress EnrollmentStatus = "in progress"
	EnrollmentStatusCompleted  EnrollmentStatus = "completed"
)

// IsActive reports whether the status counts as an actual enrollment.
func (s EnrollmentStatus) IsActive() bool {
	return s == EnrollmentStatusInProgress || s == EnrollmentStatusCompleted
}

// Enrollment is one entry of a user's course list. OrganizationID is nil for
// personal enrollments and set for organization grants.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	UserID           string           `db:"user_id" json:"user_id"`
	CourseID         string           `db:"course_id" json:"course_id"`
	OrganizationID   *string          `db:"organization_id" json:"organization_id,omitempty"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	TimeSpent        int              `db:"time_spent" json:"time_spent"`
	Percentage       int              `db:"percentage" json:"percentage"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CertificateID    *string          `db:"certificate_id" json:"certificate_id,omitempty"`
	Rating           *int             `db:"rating" json:"rating,omitempty"`
	Comment          *string          `db:"comment" json:"comment,omitempty"`
	Version          int              `db:"version" json:"-"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
	CompletedLessons []string         `db:"-" json:"completed_lessons"`
}

// IsOrganizationGrant reports whether the record was granted by orgID.
func (e *Enrollment) IsOrganizationGrant(orgID string) bool {
	return e != nil && e.OrganizationID != nil && *e.OrganizationID == orgID
}

// Progress is the externally visible progress block of an enrollment.
type Progress struct {
	Percentage       int      `json:"percentage"`
	CompletedLessons []string `json:"completed_lessons"`
	TimeSpent        int      `json:"time_spent"`
}

// LessonCompletionResult is returned after recording a completed lesson.
type LessonCompletionResult struct {
	EnrollmentID  string           `json:"enrollment_id"`
	CourseID      string           `json:"course_id"`
	Status        EnrollmentStatus `json:"status"`
	Progress      Progress         `json:"progress"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CertificateID *string          `json:"certificate_id,omitempty"`
}

// EnrollmentView is an effective enrollment as seen by the learner. Synthesized
// organization grants have no persisted ID yet.
type EnrollmentView struct {
	ID             string           `json:"id,omitempty"`
	CourseID       string           `json:"course_id"`
	CourseTitle    string           `json:"course_title,omitempty"`
	OrganizationID *string          `json:"organization_id,omitempty"`
	Status         EnrollmentStatus `json:"status"`
	Progress       Progress         `json:"progress"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CertificateID  *string          `json:"certificate_id,omitempty"`
	Synthesized    bool             `json:"synthesized"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	UserID         string
	CourseID       string
	OrganizationID string
	Status         EnrollmentStatus
}

// PruneFailure describes an enrollment that could not be recomputed.
type PruneFailure struct {
	EnrollmentID string `json:"enrollment_id"`
	UserID       string `json:"user_id"`
	Reason       string `json:"reason"`
}

// PruneReport summarises a stale-progress pass over a course.
type PruneReport struct {
	CourseID string         `json:"course_id"`
	Updated  []string       `json:"updated"`
	Failed   []PruneFailure `json:"failed"`
}
