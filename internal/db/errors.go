package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes handled explicitly.
const (
	codeDuplicateColumn  = "42701"
	codeDuplicateTable   = "42P07"
	codeDuplicateObject  = "42710"
	codeUniqueViolation  = "23505"
	codeObjectNotInState = "55000"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsDuplicateColumn reports whether err is a "column already exists" error.
func IsDuplicateColumn(err error) bool {
	return pgCode(err) == codeDuplicateColumn
}

// IsDuplicateObject reports whether err signals a table, index or other
// object that already exists. Concurrent CREATE ... IF NOT EXISTS can race
// into these, and a unique violation on pg_type is the same race.
func IsDuplicateObject(err error) bool {
	switch pgCode(err) {
	case codeDuplicateTable, codeDuplicateObject, codeUniqueViolation:
		return true
	}
	return false
}

// IsNotPopulatedOrNoIndex reports whether a concurrent materialized view
// refresh was refused and a plain refresh should be attempted instead.
func IsNotPopulatedOrNoIndex(err error) bool {
	code := pgCode(err)
	return code == codeObjectNotInState || code == "0A000"
}
