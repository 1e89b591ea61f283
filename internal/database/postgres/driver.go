// Package postgres opens PostgreSQL sessions for the database layer using
// jackc/pgx/v5.
package postgres

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/koustreak/dbireg/internal/database"
	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/registry"
	"github.com/koustreak/dbireg/internal/typemap"
)

// protocolVersion is the frontend/backend protocol pgx speaks.
const protocolVersion = 3

// Opener implements database.Opener for PostgreSQL.
type Opener struct{}

// New returns the PostgreSQL opener.
func New() *Opener { return &Opener{} }

func (*Opener) Name() string              { return "PostgreSQL" }
func (*Opener) Dialect() database.Dialect { return database.DialectPostgres }
func (*Opener) Mapper() *typemap.Mapper   { return Mapper }

func (*Opener) ClientVersion() string {
	return database.ModuleVersion("github.com/jackc/pgx/v5")
}

// Open connects one pgx session. A registry connection maps onto exactly one
// server backend, so no pool is involved.
func (*Opener) Open(ctx context.Context, cfg *database.Config) (database.Conn, error) {
	cc, err := buildConfig(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.ConnectConfig(ctx, cc)
	if err != nil {
		return nil, mapError(err, "failed to connect")
	}

	d := baseDetails(cc)
	pg := conn.PgConn()
	if v := pg.ParameterStatus("server_version"); v != "" {
		d.ServerVersion = v
	}
	d.ThreadID = int(pg.PID())

	return &session{conn: conn, cfg: cfg, details: d}, nil
}

// buildConfig turns the layer configuration into a pgx configuration.
// A DSN wins over the discrete fields.
func buildConfig(cfg *database.Config) (*pgx.ConnConfig, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = connString(cfg)
	}
	cc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid DSN", err)
	}
	if cfg.ConnectTimeout > 0 && cc.ConnectTimeout == 0 {
		cc.ConnectTimeout = cfg.ConnectTimeout
	}
	return cc, nil
}

// connString renders the discrete fields as a postgres:// URL.
func connString(cfg *database.Config) string {
	u := url.URL{Scheme: "postgres", Path: "/" + cfg.Database}
	u.Host = cfg.Host
	if cfg.Port > 0 {
		u.Host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	switch {
	case cfg.User != "" && cfg.Password != "":
		u.User = url.UserPassword(cfg.User, cfg.Password)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", cfg.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func baseDetails(cc *pgx.ConnConfig) registry.Details {
	d := registry.DefaultDetails()
	if cc.Host != "" {
		d.Host = cc.Host
	}
	if cc.User != "" {
		d.User = cc.User
	}
	if cc.Database != "" {
		d.DBName = cc.Database
	}
	if strings.HasPrefix(cc.Host, "/") {
		d.ConType = "Localhost via UNIX socket"
	} else {
		d.ConType = cc.Host + " via TCP/IP"
	}
	d.ProtocolVersion = protocolVersion
	return d
}

// --- session ---

type session struct {
	conn    *pgx.Conn
	cfg     *database.Config
	details registry.Details
}

func (s *session) Details() registry.Details { return s.details }

func (s *session) Query(ctx context.Context, statement string, args ...any) (database.Rows, error) {
	rows, err := s.conn.Query(ctx, statement, args...)
	if err != nil {
		if rows != nil {
			rows.Close()
		}
		return nil, mapError(err, "query failed")
	}
	return newCursor(rows), nil
}

func (s *session) Exec(ctx context.Context, statement string, args ...any) (int64, error) {
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}
	tag, err := s.conn.Exec(ctx, statement, args...)
	if err != nil {
		return 0, mapError(err, "statement failed")
	}
	return tag.RowsAffected(), nil
}

func (s *session) Close(ctx context.Context) error {
	if err := s.conn.Close(ctx); err != nil {
		return mapError(err, "failed to close connection")
	}
	return nil
}

// --- cursor ---

type cursor struct {
	rows pgx.Rows
	cols []typemap.Column
}

func newCursor(rows pgx.Rows) *cursor {
	descs := rows.FieldDescriptions()
	c := &cursor{rows: rows, cols: make([]typemap.Column, len(descs))}
	for i, fd := range descs {
		c.cols[i] = columnFromField(fd.Name, fd.DataTypeOID, fd.DataTypeSize, fd.TypeModifier)
	}
	return c
}

func (c *cursor) Columns() []typemap.Column { return c.cols }
func (c *cursor) Next() bool                { return c.rows.Next() }

func (c *cursor) Values() ([]any, error) {
	vals, err := c.rows.Values()
	if err != nil {
		return nil, mapError(err, "failed to scan row")
	}
	for i, v := range vals {
		if vals[i], err = normalize(v); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed,
				"failed to decode column "+c.cols[i].Name, err)
		}
	}
	return vals, nil
}

func (c *cursor) Err() error {
	if err := c.rows.Err(); err != nil {
		return mapError(err, "error during row iteration")
	}
	return nil
}

func (c *cursor) Close() error {
	c.rows.Close()
	if err := c.rows.Err(); err != nil {
		return mapError(err, "failed to close cursor")
	}
	return nil
}
