package dberrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories react to
const (
	CodeUniqueViolation = "23505"
	CodeUndefinedTable  = "42P01"
)

// PgCode returns the SQLSTATE of a PostgreSQL error and the constraint it names, if any
func PgCode(err error) (code, constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", "", false
	}
	return pgErr.Code, pgErr.ConstraintName, true
}

// IsDuplicateConstraintError reports whether err is a unique violation of constraintName.
// An empty constraintName matches any unique violation.
func IsDuplicateConstraintError(err error, constraintName string) bool {
	code, constraint, ok := PgCode(err)
	if !ok || code != CodeUniqueViolation {
		return false
	}
	return constraintName == "" || constraint == constraintName
}

// IsUndefinedTable reports whether err comes from a query against a missing table,
// which usually means migrations have not run
func IsUndefinedTable(err error) bool {
	code, _, ok := PgCode(err)
	return ok && code == CodeUndefinedTable
}
