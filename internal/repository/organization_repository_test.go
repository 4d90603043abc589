package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestFindByMemberEmailUsesContainment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOrganizationRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM organizations WHERE users @> $1::jsonb")).
		WithArgs(`[{"email":"ada@example.com"}]`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "users", "course_ids", "created_at", "updated_at"}).
			AddRow("o1", "Acme", []byte(`[{"full_name":"Ada","email":"ada@example.com"}]`), []byte(`["c1"]`), now, now))

	orgs, err := repo.FindByMemberEmail(context.Background(), " Ada@Example.com")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "Ada", orgs[0].Users[0].FullName)
	assert.True(t, orgs[0].CourseIDs.Contains("c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrganization(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewOrganizationRepository(db)

	mock.ExpectExec("UPDATE organizations SET name").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), &models.Organization{ID: "o1", Name: "Acme"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
