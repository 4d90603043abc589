package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteCategoryDetachesFromCourses(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCategoryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET categories = categories - $1::text")).
		WithArgs("cat-1", `["cat-1"]`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM categories WHERE id = $1")).
		WithArgs("cat-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "cat-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingCategoryRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCategoryRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE courses").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM categories").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
