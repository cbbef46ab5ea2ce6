package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgClassIntegrityViolation = "23"
	pgCodeUndefinedTable      = "42P01"
)

// IsIntegrityViolation reports whether err is a row-level constraint failure
// (unique, foreign key, not-null, check). These are skippable per row; anything
// else coming back from the store is treated as fatal for the run.
func IsIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgClassIntegrityViolation
}

// IsUndefinedTable reports whether err means the relation does not exist yet.
// The novelty probe treats this as "nothing is known" instead of failing.
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgCodeUndefinedTable
}
