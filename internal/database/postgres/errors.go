package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/dbireg/internal/database"
	"github.com/koustreak/dbireg/internal/errs"
)

// PostgreSQL SQLSTATE classes and codes
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection     = "08"
	pgClassDataException  = "22"
	pgClassInvalidAuth    = "28"
	pgErrInsufficientPriv = "42501"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
// It returns a nil error interface for a nil err.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if e := database.MapContextError(err, msg); e != nil {
		return e
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		text := fmt.Sprintf("%s: %s", msg, pgErr.Message)
		kind := errs.ErrKindQueryFailed
		switch {
		case pgErr.Code == pgErrInsufficientPriv, sqlClass(pgErr.Code) == pgClassInvalidAuth:
			kind = errs.ErrKindPermissionDenied
		case sqlClass(pgErr.Code) == pgClassConnection:
			kind = errs.ErrKindConnectionFailed
		case sqlClass(pgErr.Code) == pgClassDataException:
			kind = errs.ErrKindInvalidInput
		}
		return errs.Wrap(kind, text, err)
	}

	// Fallthrough: connection-level errors (TLS, network, closed conn)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

func sqlClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
