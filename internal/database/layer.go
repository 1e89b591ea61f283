package database

import (
	"context"
	"strings"

	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/fields"
	"github.com/koustreak/dbireg/internal/logger"
	"github.com/koustreak/dbireg/internal/registry"
)

// Layer is the driver-agnostic database interface: it opens driver sessions,
// runs statements and fetches rows, keeping every object in the registry and
// handing out registry handles only.
//
// Like the registry, a Layer is single-threaded.
type Layer struct {
	reg    *registry.Registry
	opener Opener
	mh     registry.Handle
	log    *logger.Logger
	notify errs.Notifier
}

// NewLayer allocates (or reuses) the registry manager for the opener's driver.
// cfg sizes the manager; a nil log uses the global logger.
func NewLayer(reg *registry.Registry, opener Opener, cfg *Config, log *logger.Logger) (*Layer, error) {
	if log == nil {
		log = logger.Global()
	}
	var maxCon, fetch int
	if cfg != nil {
		maxCon, fetch = cfg.MaxConnections, cfg.FetchSize
	}

	mh, err := reg.AllocateManager(opener.Name(), maxCon, fetch, false)
	if err != nil {
		return nil, err
	}
	m, err := reg.Manager(mh)
	if err != nil {
		return nil, err
	}
	m.ClientVersion = opener.ClientVersion()

	return &Layer{
		reg:    reg,
		opener: opener,
		mh:     mh,
		log:    log.With().Str("driver", opener.Name()).Logger(),
		notify: log,
	}, nil
}

// SetNotifier redirects warnings raised while building field descriptors and
// sanitising identifiers.
func (l *Layer) SetNotifier(n errs.Notifier) { l.notify = n }

// Registry returns the registry the layer allocates in.
func (l *Layer) Registry() *registry.Registry { return l.reg }

// Manager returns the manager handle.
func (l *Layer) Manager() registry.Handle { return l.mh }

// Dialect returns the driver's SQL dialect.
func (l *Layer) Dialect() Dialect { return l.opener.Dialect() }

// --- Connections ---

// Connect opens a driver session in a new connection slot. If the session
// cannot be opened the slot is released before the error is returned.
func (l *Layer) Connect(ctx context.Context, cfg *Config) (registry.Handle, error) {
	if cfg == nil {
		return registry.Handle{}, errs.New(errs.ErrKindInvalidInput, "connection config is required")
	}
	if err := cfg.Validate(); err != nil {
		return registry.Handle{}, err
	}
	ch, err := l.reg.AllocateConnection(l.mh, cfg.MaxResultSets)
	if err != nil {
		return registry.Handle{}, err
	}

	conn, err := l.opener.Open(ctx, cfg)
	if err != nil {
		if ferr := l.reg.FreeConnection(ch); ferr != nil {
			l.log.With().Err(ferr).Logger().Error("failed to release connection slot")
		}
		return registry.Handle{}, err
	}

	con, err := l.reg.Connection(ch)
	if err != nil {
		_ = conn.Close(ctx)
		return registry.Handle{}, err
	}
	params := *cfg
	params.Password = ""
	con.Driver = conn
	con.Params = &params
	con.Details = conn.Details()

	l.log.With().Int("connection_id", ch.ConnectionID()).Str("host", con.Details.Host).Logger().
		Info("connection opened")
	return ch, nil
}

// Disconnect clears the connection's result sets, closes the driver session
// and frees the connection. The connection is freed even if closing the
// session fails; that error is returned afterwards.
func (l *Layer) Disconnect(ctx context.Context, ch registry.Handle) error {
	con, err := l.reg.Connection(ch)
	if err != nil {
		return err
	}
	for _, rh := range con.ResultSetHandles() {
		if err := l.ClearResult(ctx, rh); err != nil {
			l.log.With().Err(err).Logger().Warn("failed to clear result set")
		}
	}

	var closeErr error
	if conn, ok := con.Driver.(Conn); ok {
		closeErr = conn.Close(ctx)
	}
	con.Driver = nil
	con.Params = nil

	if err := l.reg.FreeConnection(ch); err != nil {
		return err
	}
	l.log.With().Int("connection_id", ch.ConnectionID()).Logger().Info("connection closed")
	return closeErr
}

// Close disconnects every open connection and frees the manager.
func (l *Layer) Close(ctx context.Context) error {
	m, err := l.reg.Manager(l.mh)
	if err != nil {
		return err
	}
	var first error
	for _, id := range m.ConnectionIDs() {
		ch, err := registry.FromInts(m.ID, id)
		if err == nil {
			err = l.Disconnect(ctx, ch)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	if err := l.reg.FreeManager(l.mh); err != nil {
		return err
	}
	return first
}

func (l *Layer) session(ch registry.Handle) (*registry.Connection, Conn, error) {
	con, err := l.reg.Connection(ch)
	if err != nil {
		return nil, nil, err
	}
	conn, ok := con.Driver.(Conn)
	if !ok {
		return nil, nil, errs.Newf(errs.ErrKindConnectionFailed, "connection %s has no open session", ch)
	}
	return con, conn, nil
}

// --- Statements ---

// Execute runs statement in a new result set. Completed result sets still
// open on the connection are cleared first; one with pending rows is an error.
//
// For a row-producing statement the result set keeps the open cursor and its
// field descriptors; otherwise it records the affected row count and is
// complete immediately.
func (l *Layer) Execute(ctx context.Context, ch registry.Handle, statement string, args ...any) (registry.Handle, error) {
	con, conn, err := l.session(ch)
	if err != nil {
		return registry.Handle{}, err
	}
	for _, rh := range con.ResultSetHandles() {
		rs, err := l.reg.ResultSet(rh)
		if err != nil {
			return registry.Handle{}, err
		}
		if rs.Completed != registry.True {
			return registry.Handle{}, errs.New(errs.ErrKindInvalidInput,
				"connection with pending rows, close resultSet before continuing")
		}
		errs.Message(l.notify, "layer", "closing completed resultSet %s", rh)
		if err := l.ClearResult(ctx, rh); err != nil {
			return registry.Handle{}, err
		}
	}

	rh, err := l.reg.AllocateResultSet(ch)
	if err != nil {
		return registry.Handle{}, err
	}
	rs, err := l.reg.ResultSet(rh)
	if err != nil {
		return registry.Handle{}, err
	}
	rs.Statement = statement
	isSelect := IsSelectStatement(statement)
	rs.IsSelect = registry.TristateOf(isSelect)
	rs.Completed = registry.TristateOf(!isSelect)

	if isSelect {
		rows, err := conn.Query(ctx, statement, args...)
		if err != nil {
			l.discard(rh)
			return registry.Handle{}, err
		}
		rs.Cursor = rows
		rs.Fields = fields.Build(rows.Columns(), l.opener.Mapper(), l.notify)
	} else {
		n, err := conn.Exec(ctx, statement, args...)
		if err != nil {
			l.discard(rh)
			return registry.Handle{}, err
		}
		rs.RowsAffected = int(n)
	}

	l.log.With().Int("connection_id", ch.ConnectionID()).Int("result_set_id", rh.ResultSetID()).
		Str("statement", statement).Logger().Debug("statement executed")
	return rh, nil
}

func (l *Layer) discard(rh registry.Handle) {
	if err := l.reg.FreeResultSet(rh); err != nil {
		l.log.With().Err(err).Logger().Error("failed to release resultSet slot")
	}
}

// Fetch reads up to n rows into freshly allocated output buffers. A negative
// n reads every remaining row, growing the buffers from the manager's default
// fetch size by doubling. The buffers are trimmed to the rows actually read.
func (l *Layer) Fetch(ctx context.Context, rh registry.Handle, n int) (*fields.Output, error) {
	rs, err := l.reg.ResultSet(rh)
	if err != nil {
		return nil, err
	}
	if rs.IsSelect != registry.True {
		return nil, errs.New(errs.ErrKindInvalidInput, "resultSet does not correspond to a SELECT statement")
	}
	if rs.Completed == registry.True {
		return fields.AllocOutput(rs.Fields, 0)
	}
	rows, ok := rs.Cursor.(Rows)
	if !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "resultSet %s has no open cursor", rh)
	}

	expand := n < 0
	numRec := n
	if expand {
		m, err := l.reg.Manager(l.mh)
		if err != nil {
			return nil, err
		}
		numRec = m.FetchDefault
	}
	out, err := fields.AllocOutput(rs.Fields, numRec)
	if err != nil {
		return nil, err
	}

	row := 0
	for {
		if row == numRec {
			if !expand {
				break
			}
			numRec *= 2
			if err := fields.Expand(out, numRec); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, MapContextError(err, "fetch interrupted")
		}
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, err
			}
			rs.Completed = registry.True
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		if err := out.SetRow(row, vals); err != nil {
			return nil, err
		}
		row++
	}

	if row < numRec {
		if err := fields.Expand(out, row); err != nil {
			return nil, err
		}
	}
	rs.RowCount += row
	return out, nil
}

// ClearResult closes the cursor of a result set and frees it.
func (l *Layer) ClearResult(_ context.Context, rh registry.Handle) error {
	rs, err := l.reg.ResultSet(rh)
	if err != nil {
		return err
	}
	var closeErr error
	if rows, ok := rs.Cursor.(Rows); ok {
		closeErr = rows.Close()
	}
	rs.Cursor = nil
	if err := l.reg.FreeResultSet(rh); err != nil {
		return err
	}
	return closeErr
}

// GetQuery executes statement, fetches every row and clears the result set.
// A statement that returns no rows yields an empty output.
func (l *Layer) GetQuery(ctx context.Context, ch registry.Handle, statement string, args ...any) (*fields.Output, error) {
	rh, err := l.Execute(ctx, ch, statement, args...)
	if err != nil {
		return nil, err
	}
	rs, err := l.reg.ResultSet(rh)
	if err != nil {
		return nil, err
	}

	out := &fields.Output{}
	if rs.IsSelect == registry.True {
		out, err = l.Fetch(ctx, rh, -1)
	}
	if cerr := l.ClearResult(ctx, rh); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Tables ---

// ReadTable fetches a whole table, at most limit rows when limit > 0.
func (l *Layer) ReadTable(ctx context.Context, ch registry.Handle, table string, limit int) (*fields.Output, error) {
	b := Select(table, l.opener.Dialect())
	if limit > 0 {
		b.Limit(limit)
	}
	q, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return l.GetQuery(ctx, ch, q, args...)
}

// ListTables returns the base tables of the connection's current database.
func (l *Layer) ListTables(ctx context.Context, ch registry.Handle) ([]string, error) {
	out, err := l.GetQuery(ctx, ch, listTablesQuery(l.opener.Dialect()))
	if err != nil {
		return nil, err
	}
	if len(out.Columns) == 0 {
		return []string{}, nil
	}
	col := out.Columns[0]
	tables := make([]string, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		if v, ok := col.Value(i).(string); ok {
			tables = append(tables, v)
		}
	}
	return tables, nil
}

// ExistsTable reports whether name is one of the connection's tables,
// ignoring case.
func (l *Layer) ExistsTable(ctx context.Context, ch registry.Handle, name string) (bool, error) {
	tables, err := l.ListTables(ctx, ch)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if strings.EqualFold(t, name) {
			return true, nil
		}
	}
	return false, nil
}

// MakeSQLNames sanitises names with the layer's notifier.
func (l *Layer) MakeSQLNames(names ...string) []string {
	return MakeSQLNames(names, l.notify)
}

func listTablesQuery(d Dialect) string {
	if d == DialectMySQL {
		return `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`
	}
	return `
		SELECT table_name::text
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`
}
