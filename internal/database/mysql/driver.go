// Package mysql opens MySQL sessions for the database layer using
// database/sql and go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/koustreak/dbireg/internal/database"
	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/registry"
	"github.com/koustreak/dbireg/internal/typemap"
)

const (
	defaultPort = "3306"

	// protocolVersion is the client/server protocol spoken by every MySQL
	// server since 3.21.
	protocolVersion = 10
)

// Opener implements database.Opener for MySQL.
type Opener struct{}

// New returns the MySQL opener.
func New() *Opener { return &Opener{} }

func (*Opener) Name() string              { return "MySQL" }
func (*Opener) Dialect() database.Dialect { return database.DialectMySQL }
func (*Opener) Mapper() *typemap.Mapper   { return typemap.MySQL }

func (*Opener) ClientVersion() string {
	return database.ModuleVersion("github.com/go-sql-driver/mysql")
}

// Open establishes one session. The pool behind it is capped at a single
// connection so that every statement runs in the same server session.
func (*Opener) Open(ctx context.Context, cfg *database.Config) (database.Conn, error) {
	mcfg, err := buildConfig(cfg)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid mysql configuration", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	openCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := db.Conn(openCtx)
	if err != nil {
		_ = db.Close()
		return nil, mapError(err, "failed to connect")
	}

	s := &session{db: db, conn: conn, cfg: cfg, details: baseDetails(mcfg)}
	if err := s.loadServerInfo(openCtx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

// buildConfig turns the layer configuration into a driver configuration.
// A DSN wins over the discrete fields.
func buildConfig(cfg *database.Config) (*mysql.Config, error) {
	if cfg.DSN != "" {
		mcfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid DSN", err)
		}
		if cfg.ConnectTimeout > 0 && mcfg.Timeout == 0 {
			mcfg.Timeout = cfg.ConnectTimeout
		}
		return mcfg, nil
	}

	port := defaultPort
	if cfg.Port > 0 {
		port = strconv.Itoa(cfg.Port)
	}
	mcfg := mysql.NewConfig()
	mcfg.User = cfg.User
	mcfg.Passwd = cfg.Password
	mcfg.Net = "tcp"
	mcfg.Addr = net.JoinHostPort(cfg.Host, port)
	mcfg.DBName = cfg.Database
	mcfg.Timeout = cfg.ConnectTimeout
	return mcfg, nil
}

func baseDetails(mcfg *mysql.Config) registry.Details {
	d := registry.DefaultDetails()
	host := mcfg.Addr
	if h, _, err := net.SplitHostPort(mcfg.Addr); err == nil {
		host = h
	}
	if host != "" {
		d.Host = host
	}
	if mcfg.User != "" {
		d.User = mcfg.User
	}
	if mcfg.DBName != "" {
		d.DBName = mcfg.DBName
	}
	switch mcfg.Net {
	case "unix":
		d.ConType = "Localhost via UNIX socket"
	default:
		d.ConType = host + " via TCP/IP"
	}
	d.ProtocolVersion = protocolVersion
	return d
}

// --- session ---

type session struct {
	db      *sql.DB
	conn    *sql.Conn
	cfg     *database.Config
	details registry.Details
}

func (s *session) loadServerInfo(ctx context.Context) error {
	var (
		version string
		thread  int64
	)
	err := s.conn.QueryRowContext(ctx, "SELECT VERSION(), CONNECTION_ID()").Scan(&version, &thread)
	if err != nil {
		return mapError(err, "failed to read server info")
	}
	s.details.ServerVersion = version
	s.details.ThreadID = int(thread)
	return nil
}

func (s *session) Details() registry.Details { return s.details }

func (s *session) Query(ctx context.Context, statement string, args ...any) (database.Rows, error) {
	rows, err := s.conn.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	c, err := newCursor(rows)
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return c, nil
}

func (s *session) Exec(ctx context.Context, statement string, args ...any) (int64, error) {
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}
	res, err := s.conn.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, mapError(err, "statement failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return n, nil
}

func (s *session) Close(context.Context) error {
	cerr := s.conn.Close()
	if err := s.db.Close(); err != nil {
		return mapError(err, "failed to close connection")
	}
	if cerr != nil && cerr != sql.ErrConnDone {
		return mapError(cerr, "failed to close connection")
	}
	return nil
}

// --- cursor ---

type cursor struct {
	rows *sql.Rows
	cols []typemap.Column
	dest []any
	ptrs []any
}

func newCursor(rows *sql.Rows) (*cursor, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, mapError(err, "failed to read column types")
	}
	c := &cursor{
		rows: rows,
		cols: make([]typemap.Column, len(types)),
		dest: make([]any, len(types)),
		ptrs: make([]any, len(types)),
	}
	for i, ct := range types {
		c.cols[i] = columnFromType(ct)
		c.ptrs[i] = &c.dest[i]
	}
	return c, nil
}

func (c *cursor) Columns() []typemap.Column { return c.cols }
func (c *cursor) Next() bool                { return c.rows.Next() }

// Values scans the current row. Text-protocol values arrive as []byte and
// are copied by database/sql, so the returned slice may be retained.
func (c *cursor) Values() ([]any, error) {
	if err := c.rows.Scan(c.ptrs...); err != nil {
		return nil, mapError(err, "failed to scan row")
	}
	out := make([]any, len(c.dest))
	copy(out, c.dest)
	return out, nil
}

func (c *cursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return mapError(err, "error during row iteration")
	}
	return nil
}

func (c *cursor) Close() error {
	if err := c.rows.Close(); err != nil {
		return mapError(err, "failed to close cursor")
	}
	return nil
}

// --- column metadata ---

// typeCodes maps database/sql type names reported by go-sql-driver/mysql
// back to protocol type codes. The driver folds some codes together (DATE
// and NEWDATE, VARCHAR and VAR_STRING); the mapping picks the common one.
var typeCodes = map[string]int{
	"TINYINT":    typemap.MySQLTiny,
	"SMALLINT":   typemap.MySQLShort,
	"MEDIUMINT":  typemap.MySQLInt24,
	"INT":        typemap.MySQLLong,
	"BIGINT":     typemap.MySQLLongLong,
	"BIT":        typemap.MySQLBit,
	"DECIMAL":    typemap.MySQLNewDecimal,
	"FLOAT":      typemap.MySQLFloat,
	"DOUBLE":     typemap.MySQLDouble,
	"NULL":       typemap.MySQLNull,
	"TIMESTAMP":  typemap.MySQLTimestamp,
	"DATE":       typemap.MySQLDate,
	"TIME":       typemap.MySQLTime,
	"DATETIME":   typemap.MySQLDateTime,
	"YEAR":       typemap.MySQLYear,
	"CHAR":       typemap.MySQLString,
	"BINARY":     typemap.MySQLString,
	"VARCHAR":    typemap.MySQLVarString,
	"VARBINARY":  typemap.MySQLVarString,
	"TINYTEXT":   typemap.MySQLTinyBlob,
	"TINYBLOB":   typemap.MySQLTinyBlob,
	"TEXT":       typemap.MySQLBlob,
	"BLOB":       typemap.MySQLBlob,
	"MEDIUMTEXT": typemap.MySQLMediumBlob,
	"MEDIUMBLOB": typemap.MySQLMediumBlob,
	"LONGTEXT":   typemap.MySQLLongBlob,
	"LONGBLOB":   typemap.MySQLLongBlob,
	"ENUM":       typemap.MySQLEnum,
	"SET":        typemap.MySQLSet,
	"JSON":       typemap.MySQLJSON,
	"GEOMETRY":   typemap.MySQLGeometry,
}

// unknownCode is reported for type names the table does not know.
const unknownCode = -1

// bitLength stands in for the width of a BIT column. The driver reports no
// column lengths, so the widest BIT(64) is assumed.
const bitLength = 64

// meta is the subset of *sql.ColumnType the mapping needs.
type meta struct {
	name                  string
	dbType                string
	length                int64
	hasLength             bool
	precision, scale      int64
	hasDecimal            bool
	nullable, hasNullable bool
}

func columnFromType(ct *sql.ColumnType) typemap.Column {
	m := meta{name: ct.Name(), dbType: ct.DatabaseTypeName()}
	m.length, m.hasLength = ct.Length()
	m.precision, m.scale, m.hasDecimal = ct.DecimalSize()
	m.nullable, m.hasNullable = ct.Nullable()
	return columnFromMeta(m)
}

func columnFromMeta(m meta) typemap.Column {
	name := strings.ToUpper(m.dbType)
	unsigned := strings.HasPrefix(name, "UNSIGNED ")
	name = strings.TrimPrefix(name, "UNSIGNED ")

	code, ok := typeCodes[name]
	if !ok {
		code = unknownCode
	}

	col := typemap.Column{
		Name:     m.name,
		Code:     code,
		Unsigned: unsigned,
		Textual:  !strings.Contains(name, "BLOB") && !strings.Contains(name, "BINARY"),
	}
	if m.hasLength {
		col.Length = int(m.length)
	} else if code == typemap.MySQLBit {
		col.Length = bitLength
	}
	col.Precision = col.Length
	if m.hasDecimal {
		col.Precision = int(m.precision)
		col.Scale = int(m.scale)
	}
	if m.hasNullable {
		col.NotNull = !m.nullable
	}
	return col
}
