package mysql

import (
	"database/sql"
	"errors"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/koustreak/dbireg/internal/database"
	"github.com/koustreak/dbireg/internal/errs"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDBAccessDenied  = 1044
	errAccessDenied    = 1045
	errTooManyConns    = 1040
	errUnknownDatabase = 1049
	errUserConnLimit   = 1203
	errConnRefused     = 2003
)

// mapError converts a go-sql-driver/mysql error into an *errs.Error.
// It returns a nil error interface for a nil err.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if e := database.MapContextError(err, msg); e != nil {
		return e
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		text := fmt.Sprintf("%s: %s", msg, mysqlErr.Message)
		switch mysqlErr.Number {
		case errDBAccessDenied, errAccessDenied:
			return errs.Wrap(errs.ErrKindPermissionDenied, text, err)
		case errTooManyConns, errUnknownDatabase, errUserConnLimit, errConnRefused:
			return errs.Wrap(errs.ErrKindConnectionFailed, text, err)
		}
		return errs.Wrap(errs.ErrKindQueryFailed, text, err)
	}

	// Anything else (gomysql.ErrInvalidConn, dial errors, sql.ErrConnDone)
	// means the session is unusable.
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
