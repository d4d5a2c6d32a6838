package database

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jason-s-yu/scrimlobby/internal/apperr"
)

// Postgres SQLSTATE codes the repositories translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// translate maps a storage error onto the application taxonomy so raw
// driver errors never reach callers. Constraint violations become
// InvalidState; everything else becomes Internal with the cause kept for logs.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.InvalidState("%s: already exists", op)
		case pgForeignKeyViolation:
			return apperr.InvalidState("%s: referenced record does not exist", op)
		case pgCheckViolation:
			return apperr.InvalidState("%s: value out of range", op)
		}
	}
	return apperr.Internal(err, "%s failed", op)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
