package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/fields"
	"github.com/koustreak/dbireg/internal/logger"
	"github.com/koustreak/dbireg/internal/typemap"
)

const testPID = 4242

type fixture struct {
	reg   *Registry
	notes *errs.Collector
	pid   int
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	f := &fixture{notes: &errs.Collector{}, pid: testPID}
	reg, err := New(cfg,
		WithIdentity(func() int { return f.pid }),
		WithNotifier(f.notes),
		WithLogger(logger.Nop()),
	)
	require.NoError(t, err)
	f.reg = reg
	return f
}

func (f *fixture) manager(t *testing.T, maxCon int) Handle {
	t.Helper()
	h, err := f.reg.AllocateManager("MySQL", maxCon, 0, false)
	require.NoError(t, err)
	return h
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(&Config{MaxConnections: 0, MaxResultSets: 1, FetchSize: 1, CapacityLimit: 1})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = New(&Config{MaxConnections: 8, MaxResultSets: 1, FetchSize: 1, CapacityLimit: 4})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestAllocateManager(t *testing.T) {
	f := newFixture(t, nil)

	h := f.manager(t, 4)
	assert.Equal(t, TierManager, h.Tier())
	assert.Equal(t, []int{testPID}, h.Ints())
	assert.Equal(t, f.reg.Epoch(), h.Epoch())

	m, err := f.reg.Manager(h)
	require.NoError(t, err)
	assert.Equal(t, "MySQL", m.DriverName)
	assert.Equal(t, 4, m.Length())
	assert.Equal(t, 500, m.FetchDefault, "configured fetch size")
	assert.Equal(t, NA, m.ClientVersion)
	assert.Equal(t, 0, m.Counter())
}

func TestAllocateManager_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	h := f.manager(t, 4)

	again, err := f.reg.AllocateManager("other", 99, 7, false)
	require.NoError(t, err)
	assert.Equal(t, h, again)

	m, _ := f.reg.Manager(h)
	assert.Equal(t, 4, m.Length(), "unchanged without force")
	assert.Equal(t, "MySQL", m.DriverName)
}

func TestAllocateManager_ForceKeepsCounter(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 2)

	for i := 0; i < 3; i++ {
		ch, err := f.reg.AllocateConnection(mh, 1)
		require.NoError(t, err)
		require.NoError(t, f.reg.FreeConnection(ch))
	}

	mh, err := f.reg.AllocateManager("MySQL", 8, 100, true)
	require.NoError(t, err)

	m, _ := f.reg.Manager(mh)
	assert.Equal(t, 8, m.Length())
	assert.Equal(t, 100, m.FetchDefault)
	assert.Equal(t, 3, m.Counter())

	ch, err := f.reg.AllocateConnection(mh, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, ch.ConnectionID())
}

func TestAllocateManager_ForceWithLiveConnections(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 2)
	ch, err := f.reg.AllocateConnection(mh, 1)
	require.NoError(t, err)

	_, err = f.reg.AllocateManager("MySQL", 8, 0, true)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))

	assert.True(t, f.reg.Valid(ch), "failed reallocation leaves the tree alone")
	m, _ := f.reg.Manager(mh)
	assert.Equal(t, 2, m.Length())
}

func TestAllocateManager_CapacityLimit(t *testing.T) {
	f := newFixture(t, &Config{DriverName: "MySQL", MaxConnections: 2, MaxResultSets: 1, FetchSize: 10, CapacityLimit: 8})

	_, err := f.reg.AllocateManager("", 9, 0, false)
	require.Error(t, err)
	assert.True(t, errs.IsAllocation(err))

	h, err := f.reg.AllocateManager("", 0, 0, false)
	require.NoError(t, err)
	m, _ := f.reg.Manager(h)
	assert.Equal(t, 2, m.Length())
}

func TestAllocateManager_OtherProcessIsReplaced(t *testing.T) {
	f := newFixture(t, nil)
	old := f.manager(t, 2)
	_, err := f.reg.AllocateConnection(old, 1)
	require.NoError(t, err)

	f.pid = 5151
	h, err := f.reg.AllocateManager("MySQL", 2, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 5151, h.ManagerID())
	assert.Len(t, f.notes.Warnings(), 1)

	m, _ := f.reg.Manager(h)
	assert.Equal(t, 0, m.NumCon())
	assert.Equal(t, 1, m.Counter(), "ids keep growing")
	assert.False(t, f.reg.Valid(old))
}

func TestAllocateConnection_IdsAreMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 4)

	var hs []Handle
	for i := 0; i < 4; i++ {
		h, err := f.reg.AllocateConnection(mh, 1)
		require.NoError(t, err)
		assert.Equal(t, i, h.ConnectionID())
		hs = append(hs, h)
	}

	require.NoError(t, f.reg.FreeConnection(hs[2]))
	h, err := f.reg.AllocateConnection(mh, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, h.ConnectionID(), "fresh id, higher than any issued")

	m, _ := f.reg.Manager(mh)
	assert.Equal(t, []int{0, 1, 4, 3}, m.ConnectionIDs(), "slot 2 reused")
}

func TestAllocateConnection_CapacityExhausted(t *testing.T) {
	const n = 3
	f := newFixture(t, nil)
	mh := f.manager(t, n)

	for i := 0; i < n; i++ {
		_, err := f.reg.AllocateConnection(mh, 1)
		require.NoError(t, err)
	}

	_, err := f.reg.AllocateConnection(mh, 1)
	require.Error(t, err)
	assert.True(t, errs.IsCapacity(err))
	assert.Contains(t, err.Error(), "maximum of 3 connections already opened")

	m, _ := f.reg.Manager(mh)
	assert.Equal(t, n, m.NumCon())
	assert.Equal(t, n, m.Counter(), "no id consumed by the failure")
	assert.Len(t, m.ConnectionIDs(), n)
}

func TestAllocateConnection_ResultSetCapacityTooLarge(t *testing.T) {
	f := newFixture(t, &Config{DriverName: "MySQL", MaxConnections: 2, MaxResultSets: 1, FetchSize: 10, CapacityLimit: 8})
	mh := f.manager(t, 2)

	_, err := f.reg.AllocateConnection(mh, 9)
	require.Error(t, err)
	assert.True(t, errs.IsAllocation(err))

	m, _ := f.reg.Manager(mh)
	assert.Equal(t, 0, m.NumCon(), "no slot leaked")
	assert.Equal(t, 0, m.Counter())
}

func TestFreeConnection_ClosesResultSets(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 2)
	ch, err := f.reg.AllocateConnection(mh, 2)
	require.NoError(t, err)

	r1, err := f.reg.AllocateResultSet(ch)
	require.NoError(t, err)
	r2, err := f.reg.AllocateResultSet(ch)
	require.NoError(t, err)

	con, err := f.reg.Connection(ch)
	require.NoError(t, err)
	require.NoError(t, f.reg.FreeConnection(ch))

	assert.Equal(t, 0, con.NumRes())
	warnings := f.notes.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "opened resultSet(s) forcibly closed", warnings[0].Message)

	assert.False(t, f.reg.Valid(ch))
	assert.False(t, f.reg.Valid(r1))
	assert.False(t, f.reg.Valid(r2))
	m, _ := f.reg.Manager(mh)
	assert.Equal(t, 0, m.NumCon())
}

func TestFreeConnection_WarnsOnDriverLeftovers(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 1)
	ch, err := f.reg.AllocateConnection(mh, 1)
	require.NoError(t, err)

	con, _ := f.reg.Connection(ch)
	con.Driver = struct{}{}
	con.Params = "dsn"
	con.Data = 1

	require.NoError(t, f.reg.FreeConnection(ch))
	assert.Len(t, f.notes.Warnings(), 3)
	assert.False(t, f.reg.Valid(ch))
}

func TestResultSet_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 1)
	ch, err := f.reg.AllocateConnection(mh, 1)
	require.NoError(t, err)

	rh, err := f.reg.AllocateResultSet(ch)
	require.NoError(t, err)
	assert.Equal(t, []int{testPID, 0, 0}, rh.Ints())

	rs, err := f.reg.ResultSet(rh)
	require.NoError(t, err)
	assert.Equal(t, Unknown, rs.IsSelect)
	assert.Equal(t, Unknown, rs.Completed)
	assert.Equal(t, -1, rs.RowsAffected)
	assert.Equal(t, 0, rs.RowCount)
	assert.Nil(t, rs.Fields)

	_, err = f.reg.AllocateResultSet(ch)
	require.Error(t, err)
	assert.True(t, errs.IsCapacity(err))
	assert.Contains(t, err.Error(), "maximum of 1 resultSets already reached")

	rs.Statement = "SELECT 1"
	rs.Fields = fields.Build([]typemap.Column{{Name: "1", Code: typemap.MySQLLongLong}}, typemap.MySQL, errs.Discard)
	require.NoError(t, f.reg.FreeResultSet(rh))
	assert.Nil(t, rs.Fields)
	assert.Empty(t, rs.Statement)
	assert.False(t, f.reg.Valid(rh))
	assert.Empty(t, f.notes.Warnings())

	rh2, err := f.reg.AllocateResultSet(ch)
	require.NoError(t, err)
	assert.Equal(t, 1, rh2.ResultSetID())
}

func TestFreeResultSet_WarnsOnCursor(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 1)
	ch, _ := f.reg.AllocateConnection(mh, 1)
	rh, _ := f.reg.AllocateResultSet(ch)

	rs, _ := f.reg.ResultSet(rh)
	rs.Cursor = "open"
	require.NoError(t, f.reg.FreeResultSet(rh))
	assert.Len(t, f.notes.Warnings(), 1)
}

func TestFreeManager(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 2)
	ch, _ := f.reg.AllocateConnection(mh, 1)
	_, _ = f.reg.AllocateConnection(mh, 1)

	require.NoError(t, f.reg.FreeManager(mh))
	assert.Len(t, f.notes.Warnings(), 1)
	assert.False(t, f.reg.Valid(mh), "invalid until reallocated")
	assert.False(t, f.reg.Valid(ch))

	_, err := f.reg.AllocateConnection(mh, 1)
	assert.True(t, errs.IsInvalidHandle(err))

	mh2, err := f.reg.AllocateManager("MySQL", 2, 0, false)
	require.NoError(t, err)
	assert.True(t, f.reg.Valid(mh2))
	ch2, err := f.reg.AllocateConnection(mh2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, ch2.ConnectionID(), "counter survives FreeManager")
}

func TestValidation(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 2)
	ch, _ := f.reg.AllocateConnection(mh, 1)
	rh, _ := f.reg.AllocateResultSet(ch)

	t.Run("live handles", func(t *testing.T) {
		assert.True(t, f.reg.Valid(mh))
		assert.True(t, f.reg.Valid(ch))
		assert.True(t, f.reg.Valid(rh))
	})

	t.Run("wrong tier", func(t *testing.T) {
		_, err := f.reg.Connection(rh)
		assert.True(t, errs.IsInvalidHandle(err))
		_, err = f.reg.ResultSet(ch)
		assert.True(t, errs.IsInvalidHandle(err))
		assert.Error(t, f.reg.Validate(mh, TierConnection))
	})

	t.Run("zero handle", func(t *testing.T) {
		assert.False(t, f.reg.Valid(Handle{}))
	})

	t.Run("unbound handle from ints", func(t *testing.T) {
		h, err := FromInts(ch.Ints()...)
		require.NoError(t, err)
		assert.True(t, f.reg.Valid(h))
		assert.True(t, f.reg.Valid(rh.Unbind()))
	})

	t.Run("unknown ids", func(t *testing.T) {
		h, _ := FromInts(testPID, 77)
		_, err := f.reg.Connection(h)
		assert.True(t, errs.IsInvalidHandle(err))
		h, _ = FromInts(testPID, 0, 77)
		assert.False(t, f.reg.Valid(h))
	})

	t.Run("other process", func(t *testing.T) {
		f.pid = 1
		defer func() { f.pid = testPID }()
		assert.False(t, f.reg.Valid(mh))
		assert.False(t, f.reg.Valid(ch))
		assert.False(t, f.reg.Valid(rh))
	})

	t.Run("other registry", func(t *testing.T) {
		other := newFixture(t, nil)
		omh := other.manager(t, 2)
		assert.False(t, f.reg.Valid(omh), "same pid, different epoch")
		assert.True(t, f.reg.Valid(omh.Unbind()), "unbound handles only carry ids")
	})
}

func TestValidation_DoesNotMutate(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 2)
	before, err := f.reg.ManagerInfo(mh)
	require.NoError(t, err)

	for _, ids := range [][]int{{testPID, 5}, {1}, {testPID, 0, 0}} {
		h, _ := FromInts(ids...)
		f.reg.Valid(h)
	}

	after, err := f.reg.ManagerInfo(mh)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOccupancyInvariant(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 5)

	live := map[int]Handle{}
	ops := []int{+1, +1, +1, -1, +1, +1, -1, -1, +1, +1, -1, +1}
	for _, op := range ops {
		if op > 0 {
			h, err := f.reg.AllocateConnection(mh, 1)
			require.NoError(t, err)
			live[h.ConnectionID()] = h
		} else {
			for id, h := range live {
				require.NoError(t, f.reg.FreeConnection(h))
				delete(live, id)
				break
			}
		}

		m, _ := f.reg.Manager(mh)
		ids := m.ConnectionIDs()
		assert.Equal(t, len(live), m.NumCon())
		assert.Len(t, ids, len(live))
		seen := map[int]bool{}
		for _, id := range ids {
			assert.GreaterOrEqual(t, id, 0)
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
			_, ok := live[id]
			assert.True(t, ok)
		}
	}
}

func TestInfoSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	mh := f.manager(t, 3)
	ch, _ := f.reg.AllocateConnection(mh, 2)
	rh, _ := f.reg.AllocateResultSet(ch)

	mi, err := f.reg.ManagerInfo(mh)
	require.NoError(t, err)
	assert.Equal(t, &ManagerInfo{
		ConnectionIDs:   []int{0},
		FetchDefaultRec: 500,
		ManagerID:       testPID,
		Length:          3,
		NumCon:          1,
		Counter:         1,
		ClientVersion:   NA,
		DriverName:      "MySQL",
	}, mi)

	ci, err := f.reg.ConnectionInfo(ch)
	require.NoError(t, err)
	assert.Equal(t, DefaultDetails(), ci.Details)
	assert.Equal(t, []int{0}, ci.ResultSetIDs)
	assert.Equal(t, []Handle{rh}, ci.RSHandle)
	assert.Equal(t, 2, ci.Length)

	rs, _ := f.reg.ResultSet(rh)
	rs.Statement = "SELECT id FROM t"
	rs.IsSelect = True
	rs.Fields = fields.Build([]typemap.Column{{Name: "id", Code: typemap.MySQLLong, NotNull: true}}, typemap.MySQL, errs.Discard)

	ri, err := f.reg.ResultSetInfo(rh)
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM t", ri.Statement)
	assert.Equal(t, True, ri.IsSelect)
	require.NotNil(t, ri.Fields)
	assert.Equal(t, []string{"id"}, ri.Fields.Name)

	// snapshots do not follow later changes
	_, _ = f.reg.AllocateConnection(mh, 1)
	assert.Equal(t, 1, mi.NumCon)
	rs.RowCount = 10
	assert.Equal(t, 0, ri.RowCount)

	b, err := json.Marshal(ri)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"isSelect":1`)
	assert.Contains(t, string(b), `"completed":-1`)
	assert.Contains(t, string(b), `"Sclass":["integer"]`)
}

func TestInfo_InvalidHandle(t *testing.T) {
	f := newFixture(t, nil)
	h, _ := FromInts(testPID)
	_, err := f.reg.ManagerInfo(h)
	assert.True(t, errs.IsInvalidHandle(err))
}
