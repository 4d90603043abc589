package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

var enrollmentRowColumns = []string{"id", "user_id", "course_id", "organization_id", "status", "time_spent", "percentage", "completed_at", "certificate_id", "rating", "comment", "version", "created_at", "updated_at"}

func TestFindByUserAndCourseAttachesLessons(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_courses WHERE user_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("u1", "c1").
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns).
			AddRow("e1", "u1", "c1", nil, string(models.EnrollmentStatusInProgress), 30, 50, nil, nil, nil, nil, 2, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM completed_lessons WHERE enrollment_id = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "lesson_id"}).
			AddRow("e1", "l1").
			AddRow("e1", "l2"))

	enrollment, err := repo.FindByUserAndCourse(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2"}, enrollment.CompletedLessons)
	assert.Equal(t, 2, enrollment.Version)
	assert.Nil(t, enrollment.OrganizationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEnrollmentIgnoresExistingRecord(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO user_courses .* ON CONFLICT \\(user_id, course_id\\) DO NOTHING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Create(context.Background(), &models.Enrollment{UserID: "u1", CourseID: "c1", Status: models.EnrollmentStatusInProgress})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCompletedLessonIsIdempotent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO completed_lessons (enrollment_id, lesson_id, completed_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING")).
		WithArgs("e1", "l1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO completed_lessons")).
		WithArgs("e1", "l1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := repo.AddCompletedLesson(context.Background(), "e1", "l1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.AddCompletedLesson(context.Background(), "e1", "l1")
	require.NoError(t, err)
	assert.False(t, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressVersionConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE user_courses SET status = .* version = version \\+ 1\\s+WHERE id = .* AND version = ").
		WillReturnResult(sqlmock.NewResult(0, 0))

	enrollment := &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusInProgress, Version: 3}
	err := repo.UpdateProgress(context.Background(), enrollment)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 3, enrollment.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressReportsTakenCertificate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE user_courses SET status").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "user_courses_certificate_id_key"})

	cert := "CERT-URSE-1-ER-1-1714557600000"
	enrollment := &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusCompleted, Percentage: 100, CertificateID: &cert, Version: 2}
	err := repo.UpdateProgress(context.Background(), enrollment)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 2, enrollment.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressBumpsVersion(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("UPDATE user_courses SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.Enrollment{ID: "e1", Status: models.EnrollmentStatusCompleted, Percentage: 100, Version: 3}
	require.NoError(t, repo.UpdateProgress(context.Background(), enrollment))
	assert.Equal(t, 4, enrollment.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMembershipChangeJoinAndGrant(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_organizations")).
		WithArgs("u1", "o1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_courses")).
		WithArgs(sqlmock.AnyArg(), "u1", "c1", "o1", models.EnrollmentStatusInProgress, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_courses")).
		WithArgs(sqlmock.AnyArg(), "u1", "c2", "o1", models.EnrollmentStatusInProgress, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.ApplyMembershipChange(context.Background(), MembershipChange{UserID: "u1", OrganizationID: "o1", Join: true, Grant: []string{"c1", "c2"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMembershipChangeLeaveRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_courses WHERE user_id = $1 AND organization_id = $2")).
		WithArgs("u1", "o1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_organizations")).
		WithArgs("u1", "o1").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.ApplyMembershipChange(context.Background(), MembershipChange{UserID: "u1", OrganizationID: "o1", Leave: true})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMembershipChangeSkipsEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	require.NoError(t, repo.ApplyMembershipChange(context.Background(), MembershipChange{UserID: "u1", OrganizationID: "o1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneCompletedLessons(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM completed_lessons WHERE enrollment_id = $1 AND NOT (lesson_id = ANY($2))")).
		WithArgs("e1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	removed, err := repo.PruneCompletedLessons(context.Background(), "e1", []string{"l1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
