package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"robots-backend/internal/errs"
)

const pgUniqueViolation = "23505"

// translate maps a driver error onto the errs taxonomy. Unique-constraint
// violations become a ConflictError for name; anything else not already
// categorised becomes a StorageError.
func translate(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if errs.IsDomain(err) {
		return err
	}
	if isUniqueViolation(err) {
		return &errs.ConflictError{Name: name}
	}
	return errs.Storage(op, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
