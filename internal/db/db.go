// Package db provides PostgreSQL-backed repository implementations for the
// Minha Floresta reconciliation pipeline. All repositories accept a DBTX
// interface that is satisfied by both *pgxpool.Pool (for normal queries) and
// pgx.Tx (for transactional execution), enabling clean transaction support.
//
// The pipeline leans on database constraints rather than locks for
// correctness: unique indexes discriminate "lost the race" from real errors,
// and fund counters are mutated only via atomic increments.
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// uniqueViolationCode is the SQLSTATE PostgreSQL reports when an insert hits
// a unique index.
const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation. Repositories treat these as "a concurrent writer got there
// first" rather than as failures.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// constraintName extracts the violated constraint's name from a unique
// violation, or "" when err is not one. Used where a table has more than one
// unique index and the reaction differs per index.
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
