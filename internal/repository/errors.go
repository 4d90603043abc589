package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrVersionConflict is returned when an optimistic update lost the race
	// against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicate is returned when a unique constraint rejected the write.
	ErrDuplicate = errors.New("duplicate record")
)

const uniqueViolation = "23505"

// mapWriteError converts driver level constraint errors into repository errors.
func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func normalizePage(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}

func normalizeOrder(order string) string {
	if order == "ASC" || order == "asc" {
		return "ASC"
	}
	return "DESC"
}
