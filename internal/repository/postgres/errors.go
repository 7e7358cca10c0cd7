package postgres

import (
	"database/sql"

	"github.com/lib/pq"
	ierr "github.com/tixello/settlement/internal/errors"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return ierr.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// dbError marks a driver error with the matching sentinel
func dbError(err error, hint string) error {
	switch {
	case ierr.Is(err, sql.ErrNoRows):
		return ierr.WithError(err).WithHint(hint).Mark(ierr.ErrNotFound)
	case isUniqueViolation(err):
		return ierr.WithError(err).WithHint(hint).Mark(ierr.ErrAlreadyExists)
	default:
		return ierr.WithError(err).WithHint(hint).Mark(ierr.ErrDatabase)
	}
}
