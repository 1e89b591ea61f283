package database

import (
	"context"

	"github.com/koustreak/dbireg/internal/registry"
	"github.com/koustreak/dbireg/internal/typemap"
)

// Opener is the contract every driver package implements. The Layer talks
// only to this interface; it never imports the postgres or mysql packages.
type Opener interface {
	// Name is the driver name recorded on the manager, e.g. "MySQL".
	Name() string

	// Dialect selects identifier quoting and placeholders.
	Dialect() Dialect

	// Mapper classifies the driver's native column types.
	Mapper() *typemap.Mapper

	// ClientVersion is the version of the client library, "NA" if unknown.
	ClientVersion() string

	// Open establishes one server session.
	Open(ctx context.Context, cfg *Config) (Conn, error)
}

// Conn is one server session. It backs exactly one registry connection.
type Conn interface {
	// Query runs a statement that produces rows. args fill the dialect's
	// placeholders.
	Query(ctx context.Context, statement string, args ...any) (Rows, error)

	// Exec runs a statement that produces no rows and reports the number of
	// rows affected.
	Exec(ctx context.Context, statement string, args ...any) (int64, error)

	// Details describes the server side of the session.
	Details() registry.Details

	// Close ends the session.
	Close(ctx context.Context) error
}

// Rows is an open cursor over a result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Columns describes the result columns in driver-native terms.
	Columns() []typemap.Column

	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Values returns the current row, one value per column, nil for NULL.
	Values() ([]any, error)

	// Err returns any error encountered during iteration.
	Err() error

	// Close releases resources held by the cursor.
	Close() error
}
