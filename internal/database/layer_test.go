package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/logger"
	"github.com/koustreak/dbireg/internal/registry"
	"github.com/koustreak/dbireg/internal/typemap"
)

// --- fakes ---

type fakeTable struct {
	cols []typemap.Column
	rows [][]any
}

type fakeOpener struct {
	tables  map[string]fakeTable
	openErr error
	opened  []*fakeConn
}

func (o *fakeOpener) Name() string            { return "MySQL" }
func (o *fakeOpener) Dialect() Dialect        { return DialectMySQL }
func (o *fakeOpener) Mapper() *typemap.Mapper { return typemap.MySQL }
func (o *fakeOpener) ClientVersion() string   { return "fake-1.0" }

func (o *fakeOpener) Open(_ context.Context, cfg *Config) (Conn, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	c := &fakeConn{opener: o, host: cfg.Host}
	o.opened = append(o.opened, c)
	return c, nil
}

type fakeConn struct {
	opener  *fakeOpener
	host    string
	closed  bool
	queries []string
	cursors []*fakeRows
}

func (c *fakeConn) Query(_ context.Context, statement string, args ...any) (Rows, error) {
	c.queries = append(c.queries, statement)
	t, ok := c.opener.tables[statement]
	if !ok {
		return nil, errs.New(errs.ErrKindQueryFailed, "no such query")
	}
	r := &fakeRows{table: t, pos: -1}
	c.cursors = append(c.cursors, r)
	return r, nil
}

func (c *fakeConn) Exec(_ context.Context, statement string, _ ...any) (int64, error) {
	c.queries = append(c.queries, statement)
	if statement == "DELETE FROM broken" {
		return 0, errs.New(errs.ErrKindQueryFailed, "broken")
	}
	return 3, nil
}

func (c *fakeConn) Details() registry.Details {
	d := registry.DefaultDetails()
	d.Host = c.host
	d.ServerVersion = "8.0.36"
	return d
}

func (c *fakeConn) Close(context.Context) error {
	c.closed = true
	return nil
}

type fakeRows struct {
	table  fakeTable
	pos    int
	closed bool
}

func (r *fakeRows) Columns() []typemap.Column { return r.table.cols }
func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.table.rows)
}
func (r *fakeRows) Values() ([]any, error) { return r.table.rows[r.pos], nil }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

// --- fixture ---

const testPID = 777

func numbers(n int) fakeTable {
	t := fakeTable{cols: []typemap.Column{
		{Name: "id", Code: typemap.MySQLLong, Length: 11, NotNull: true},
		{Name: "label", Code: typemap.MySQLVarString, Length: 64},
	}}
	for i := 0; i < n; i++ {
		t.rows = append(t.rows, []any{[]byte{byte('0' + i%10)}, []byte("row")})
	}
	return t
}

func newLayer(t *testing.T, opener *fakeOpener, fetch int) (*Layer, *errs.Collector) {
	t.Helper()
	notes := &errs.Collector{}
	reg, err := registry.New(nil,
		registry.WithIdentity(func() int { return testPID }),
		registry.WithNotifier(notes),
		registry.WithLogger(logger.Nop()),
	)
	require.NoError(t, err)

	l, err := NewLayer(reg, opener, &Config{MaxConnections: 2, FetchSize: fetch}, logger.Nop())
	require.NoError(t, err)
	l.SetNotifier(notes)
	return l, notes
}

func connCfg() *Config {
	cfg := DefaultConfig(DriverMySQL)
	cfg.Password = "secret"
	return cfg
}

// --- tests ---

func TestNewLayer_Manager(t *testing.T) {
	l, _ := newLayer(t, &fakeOpener{}, 4)

	info, err := l.Registry().ManagerInfo(l.Manager())
	require.NoError(t, err)
	assert.Equal(t, "MySQL", info.DriverName)
	assert.Equal(t, "fake-1.0", info.ClientVersion)
	assert.Equal(t, 2, info.Length)
	assert.Equal(t, 4, info.FetchDefaultRec)
}

func TestConnect(t *testing.T) {
	op := &fakeOpener{}
	l, _ := newLayer(t, op, 4)

	ch, err := l.Connect(context.Background(), connCfg())
	require.NoError(t, err)

	con, err := l.Registry().Connection(ch)
	require.NoError(t, err)
	assert.Equal(t, "localhost", con.Details.Host)
	assert.Equal(t, "8.0.36", con.Details.ServerVersion)
	params, ok := con.Params.(*Config)
	require.True(t, ok)
	assert.Empty(t, params.Password, "password is not kept")
	assert.Same(t, op.opened[0], con.Driver)
}

func TestConnect_OpenFailureReleasesSlot(t *testing.T) {
	l, notes := newLayer(t, &fakeOpener{openErr: errs.New(errs.ErrKindConnectionFailed, "refused")}, 4)

	_, err := l.Connect(context.Background(), connCfg())
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))

	info, _ := l.Registry().ManagerInfo(l.Manager())
	assert.Equal(t, 0, info.NumCon)
	assert.Empty(t, notes.Warnings())
}

func TestConnect_InvalidConfig(t *testing.T) {
	l, _ := newLayer(t, &fakeOpener{}, 4)
	_, err := l.Connect(context.Background(), &Config{Driver: "oracle", Host: "x"})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = l.Connect(context.Background(), nil)
	assert.True(t, errs.IsInvalidInput(err))

	info, _ := l.Registry().ManagerInfo(l.Manager())
	assert.Equal(t, 0, info.NumCon)
}

func TestExecute_Select(t *testing.T) {
	const q = "SELECT id, label FROM t"
	op := &fakeOpener{tables: map[string]fakeTable{q: numbers(3)}}
	l, _ := newLayer(t, op, 4)
	ctx := context.Background()

	ch, err := l.Connect(ctx, connCfg())
	require.NoError(t, err)
	rh, err := l.Execute(ctx, ch, q)
	require.NoError(t, err)

	info, err := l.Registry().ResultSetInfo(rh)
	require.NoError(t, err)
	assert.Equal(t, q, info.Statement)
	assert.Equal(t, registry.True, info.IsSelect)
	assert.Equal(t, registry.False, info.Completed)
	assert.Equal(t, -1, info.RowsAffected)
	require.NotNil(t, info.Fields)
	assert.Equal(t, []string{"integer", "character"}, info.Fields.Sclass)
}

func TestExecute_NonSelect(t *testing.T) {
	l, _ := newLayer(t, &fakeOpener{}, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())

	rh, err := l.Execute(ctx, ch, "DELETE FROM t WHERE id > 2")
	require.NoError(t, err)

	info, _ := l.Registry().ResultSetInfo(rh)
	assert.Equal(t, registry.False, info.IsSelect)
	assert.Equal(t, 3, info.RowsAffected)
	assert.Equal(t, registry.True, info.Completed)
	assert.Nil(t, info.Fields)

	_, err = l.Fetch(ctx, rh, 10)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestExecute_FailureReleasesResultSet(t *testing.T) {
	l, _ := newLayer(t, &fakeOpener{}, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())

	_, err := l.Execute(ctx, ch, "SELECT nothing")
	assert.True(t, errs.IsQueryFailed(err))
	_, err = l.Execute(ctx, ch, "DELETE FROM broken")
	assert.True(t, errs.IsQueryFailed(err))

	ci, _ := l.Registry().ConnectionInfo(ch)
	assert.Equal(t, 0, ci.NumRes)
}

func TestExecute_PendingRows(t *testing.T) {
	const q = "SELECT * FROM t"
	l, notes := newLayer(t, &fakeOpener{tables: map[string]fakeTable{q: numbers(5)}}, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())

	rh, err := l.Execute(ctx, ch, q)
	require.NoError(t, err)
	_, err = l.Execute(ctx, ch, "UPDATE t SET a = 1")
	assert.True(t, errs.IsInvalidInput(err))

	_, err = l.Fetch(ctx, rh, -1)
	require.NoError(t, err)

	// a completed result set is cleared automatically
	_, err = l.Execute(ctx, ch, "UPDATE t SET a = 1")
	require.NoError(t, err)
	assert.False(t, l.Registry().Valid(rh))

	require.NotEmpty(t, notes.Notices)
	last := notes.Notices[len(notes.Notices)-1]
	assert.Equal(t, errs.SeverityMessage, last.Severity)
	assert.Contains(t, last.Message, "closing completed resultSet")
	assert.Empty(t, notes.Warnings())
}

func TestFetch_Chunks(t *testing.T) {
	const q = "SELECT * FROM t"
	op := &fakeOpener{tables: map[string]fakeTable{q: numbers(5)}}
	l, _ := newLayer(t, op, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())
	rh, err := l.Execute(ctx, ch, q)
	require.NoError(t, err)

	out, err := l.Fetch(ctx, rh, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows())
	assert.Equal(t, []int32{0, 1}, out.Columns[0].Ints)

	out, err = l.Fetch(ctx, rh, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3}, out.Columns[0].Ints)

	info, _ := l.Registry().ResultSetInfo(rh)
	assert.Equal(t, 4, info.RowCount)
	assert.Equal(t, registry.False, info.Completed)

	out, err = l.Fetch(ctx, rh, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Rows(), "trimmed to the rows read")
	assert.Equal(t, []string{"id", "label"}, out.Names())

	info, _ = l.Registry().ResultSetInfo(rh)
	assert.Equal(t, 5, info.RowCount)
	assert.Equal(t, registry.True, info.Completed)

	out, err = l.Fetch(ctx, rh, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Rows())
}

func TestFetch_AllGrowsBuffers(t *testing.T) {
	const q = "SELECT * FROM t"
	l, _ := newLayer(t, &fakeOpener{tables: map[string]fakeTable{q: numbers(11)}}, 2)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())
	rh, _ := l.Execute(ctx, ch, q)

	out, err := l.Fetch(ctx, rh, -1)
	require.NoError(t, err)
	assert.Equal(t, 11, out.Rows())
	assert.Equal(t, int32(0), out.Columns[0].Ints[10])
	assert.Equal(t, "row", out.Columns[1].Strings[10])
}

func TestFetch_CancelledContext(t *testing.T) {
	const q = "SELECT * FROM t"
	l, _ := newLayer(t, &fakeOpener{tables: map[string]fakeTable{q: numbers(3)}}, 4)
	ch, _ := l.Connect(context.Background(), connCfg())
	rh, _ := l.Execute(context.Background(), ch, q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Fetch(ctx, rh, -1)
	assert.True(t, errs.IsTimeout(err))
}

func TestClearResult_ClosesCursor(t *testing.T) {
	const q = "SELECT * FROM t"
	op := &fakeOpener{tables: map[string]fakeTable{q: numbers(3)}}
	l, notes := newLayer(t, op, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())
	rh, _ := l.Execute(ctx, ch, q)

	require.NoError(t, l.ClearResult(ctx, rh))
	assert.True(t, op.opened[0].cursors[0].closed)
	assert.False(t, l.Registry().Valid(rh))
	assert.Empty(t, notes.Warnings(), "cursor released before the free")
}

func TestGetQuery(t *testing.T) {
	const q = "SELECT * FROM t"
	l, notes := newLayer(t, &fakeOpener{tables: map[string]fakeTable{q: numbers(3)}}, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())

	out, err := l.GetQuery(ctx, ch, q)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Rows())

	ci, _ := l.Registry().ConnectionInfo(ch)
	assert.Equal(t, 0, ci.NumRes)
	assert.Empty(t, notes.Warnings())

	out, err = l.GetQuery(ctx, ch, "UPDATE t SET a = 1")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Rows())
}

func TestReadTable(t *testing.T) {
	op := &fakeOpener{tables: map[string]fakeTable{
		"SELECT * FROM `people`":         numbers(2),
		"SELECT * FROM `people` LIMIT ?": numbers(1),
	}}
	l, _ := newLayer(t, op, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())

	out, err := l.ReadTable(ctx, ch, "people", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows())

	out, err = l.ReadTable(ctx, ch, "people", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Rows())
}

func TestListAndExistsTable(t *testing.T) {
	tables := fakeTable{
		cols: []typemap.Column{{Name: "table_name", Code: typemap.MySQLVarString, Length: 64}},
		rows: [][]any{{[]byte("Orders")}, {[]byte("people")}},
	}
	op := &fakeOpener{tables: map[string]fakeTable{listTablesQuery(DialectMySQL): tables}}
	l, _ := newLayer(t, op, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())

	names, err := l.ListTables(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"Orders", "people"}, names)

	ok, err := l.ExistsTable(ctx, ch, "orders")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.ExistsTable(ctx, ch, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisconnect(t *testing.T) {
	const q = "SELECT * FROM t"
	op := &fakeOpener{tables: map[string]fakeTable{q: numbers(3)}}
	l, notes := newLayer(t, op, 4)
	ctx := context.Background()
	ch, _ := l.Connect(ctx, connCfg())
	rh, _ := l.Execute(ctx, ch, q)

	require.NoError(t, l.Disconnect(ctx, ch))
	assert.True(t, op.opened[0].closed)
	assert.True(t, op.opened[0].cursors[0].closed)
	assert.False(t, l.Registry().Valid(ch))
	assert.False(t, l.Registry().Valid(rh))
	assert.Empty(t, notes.Warnings(), "nothing left for the registry to force-close")

	err := l.Disconnect(ctx, ch)
	assert.True(t, errs.IsInvalidHandle(err))
}

func TestClose(t *testing.T) {
	op := &fakeOpener{}
	l, notes := newLayer(t, op, 4)
	ctx := context.Background()
	_, err := l.Connect(ctx, connCfg())
	require.NoError(t, err)
	_, err = l.Connect(ctx, connCfg())
	require.NoError(t, err)

	require.NoError(t, l.Close(ctx))
	for _, c := range op.opened {
		assert.True(t, c.closed)
	}
	assert.False(t, l.Registry().Valid(l.Manager()))
	assert.Empty(t, notes.Warnings())
}

func TestLayer_MakeSQLNames(t *testing.T) {
	l, notes := newLayer(t, &fakeOpener{}, 4)
	assert.Equal(t, []string{"Xcol", "a_b"}, l.MakeSQLNames("1col", "a.b"))
	assert.Empty(t, notes.Warnings())
}

func TestMapContextError(t *testing.T) {
	assert.True(t, errs.IsTimeout(MapContextError(context.DeadlineExceeded, "q")))
	assert.Nil(t, MapContextError(errors.New("other"), "q"))
}

func TestModuleVersion_Unknown(t *testing.T) {
	assert.Equal(t, registry.NA, ModuleVersion("example.com/not/linked"))
}
