// Package registry tracks the manager, connection and result set objects of a
// database interface layer and hands out handles to them.
//
// Objects form a strict tree: one Manager owns up to Length() Connections, each
// Connection owns up to Length() ResultSets. Children live in fixed-capacity
// slot tables. Ids come from a per-parent counter that only moves forward, so
// a freed slot is reused under a fresh id and an old handle can never resolve
// to a newer object.
//
// A Registry is single-threaded. Callers that share one across goroutines
// must serialise access themselves.
package registry

import (
	"os"
	"sync/atomic"

	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/logger"
	"github.com/koustreak/dbireg/internal/slottable"
)

const component = "registry"

var epochs atomic.Uint64

// Registry owns the object tree of one process.
type Registry struct {
	cfg      Config
	epoch    uint64
	identity func() int
	notify   errs.Notifier
	log      *logger.Logger

	mgr *Manager
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdentity replaces os.Getpid as the source of the process identity.
func WithIdentity(fn func() int) Option {
	return func(r *Registry) { r.identity = fn }
}

// WithNotifier sends warnings to n instead of the logger.
func WithNotifier(n errs.Notifier) Option {
	return func(r *Registry) { r.notify = n }
}

// WithLogger sets the logger used for debug events and, unless WithNotifier
// is given, for warnings.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// New creates an empty registry. A nil cfg uses DefaultConfig.
func New(cfg *Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		cfg:      *cfg,
		epoch:    epochs.Add(1),
		identity: os.Getpid,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Global()
	}
	if r.notify == nil {
		r.notify = r.log
	}
	return r, nil
}

// Epoch identifies this registry inside handles it issues.
func (r *Registry) Epoch() uint64 { return r.epoch }

// Config returns a copy of the registry defaults.
func (r *Registry) Config() Config { return r.cfg }

func (r *Registry) checkCapacity(what string, n int) error {
	if n > r.cfg.CapacityLimit {
		return errs.Newf(errs.ErrKindAllocation, "could not allocate memory for %d %s (limit %d)", n, what, r.cfg.CapacityLimit)
	}
	return nil
}

// --- Manager ---

// AllocateManager returns the manager handle, creating the manager on first
// use. Zero or negative capacities fall back to the configuration and an
// empty driverName to the configured driver.
//
// An existing manager is returned unchanged unless force is set. Forcing
// requires zero open connections; the slot table is then rebuilt at the new
// capacity while the connection id counter carries on.
func (r *Registry) AllocateManager(driverName string, maxConnections, fetchSize int, force bool) (Handle, error) {
	if driverName == "" {
		driverName = r.cfg.DriverName
	}
	if maxConnections <= 0 {
		maxConnections = r.cfg.MaxConnections
	}
	if fetchSize <= 0 {
		fetchSize = r.cfg.FetchSize
	}

	pid := r.identity()
	counter := 0
	if m := r.mgr; m != nil {
		counter = m.counter
		if m.conns != nil {
			switch {
			case m.ID != pid:
				errs.Warn(r.notify, component, "discarding manager of process %d (%d connections) in process %d", m.ID, m.NumCon(), pid)
			case !force:
				return m.handle, nil
			case m.NumCon() > 0:
				return Handle{}, errs.Newf(errs.ErrKindInvalidInput,
					"cannot reallocate the manager: %d connections still open", m.NumCon())
			}
		}
	}

	if err := r.checkCapacity("connections", maxConnections); err != nil {
		return Handle{}, err
	}
	conns, err := slottable.New[Connection](maxConnections)
	if err != nil {
		return Handle{}, errs.Wrap(errs.ErrKindAllocation, "could not allocate the connection table", err)
	}

	m := r.mgr
	if m == nil {
		m = &Manager{}
	}
	*m = Manager{
		ID:            pid,
		DriverName:    driverName,
		ClientVersion: NA,
		FetchDefault:  fetchSize,
		Data:          m.Data,
		handle:        newHandle(TierManager, r.epoch, pid),
		counter:       counter,
		conns:         conns,
	}
	r.mgr = m

	r.log.With().Int("manager_id", pid).Str("driver", driverName).Int("length", maxConnections).Logger().
		Debug("manager allocated")
	return m.handle, nil
}

// FreeManager closes any connections still open, with a single warning, and
// releases the connection table. The counter survives so ids stay unique if
// the manager is allocated again; until then the manager handle is invalid.
func (r *Registry) FreeManager(h Handle) error {
	m, err := r.Manager(h)
	if err != nil {
		return err
	}
	if m.NumCon() > 0 {
		m.conns.Each(func(_, _ int, con *Connection) bool {
			con.results.Each(func(i, _ int, _ *ResultSet) bool {
				con.results.FreeEntry(i)
				return true
			})
			return true
		})
		errs.Warn(r.notify, component, "all opened connections were forcibly closed")
	}
	if m.Data != nil {
		errs.Warn(r.notify, component, "internal error in FreeManager: non-freed manager driver data")
		m.Data = nil
	}
	m.conns = nil
	r.log.With().Int("manager_id", m.ID).Logger().Debug("manager freed")
	return nil
}

// Manager resolves a manager handle.
func (r *Registry) Manager(h Handle) (*Manager, error) {
	if err := r.check(h, TierManager); err != nil {
		return nil, err
	}
	return r.mgr, nil
}

// --- Connection ---

// AllocateConnection opens a connection slot under the manager. A zero or
// negative maxResultSets uses the configured default.
func (r *Registry) AllocateConnection(mh Handle, maxResultSets int) (Handle, error) {
	m, err := r.Manager(mh)
	if err != nil {
		return Handle{}, err
	}
	if maxResultSets <= 0 {
		maxResultSets = r.cfg.MaxResultSets
	}

	idx, ok := m.conns.NewEntry()
	if !ok {
		return Handle{}, errs.Newf(errs.ErrKindCapacity,
			"cannot allocate a new connection -- maximum of %d connections already opened", m.conns.Cap())
	}
	if err := r.checkCapacity("resultSets", maxResultSets); err != nil {
		return Handle{}, err
	}
	results, err := slottable.New[ResultSet](maxResultSets)
	if err != nil {
		return Handle{}, errs.Wrap(errs.ErrKindAllocation, "could not allocate the resultSet table", err)
	}

	id := m.counter
	con := &Connection{
		ManagerID: m.ID,
		ID:        id,
		Details:   DefaultDetails(),
		handle:    newHandle(TierConnection, r.epoch, m.ID, id),
		results:   results,
	}
	m.conns.Claim(idx, id, con)
	m.counter++

	r.log.With().Int("manager_id", m.ID).Int("connection_id", id).Int("slot", idx).Logger().
		Debug("connection allocated")
	return con.handle, nil
}

// FreeConnection removes a connection from the manager. Open result sets are
// closed first with one warning; driver state left attached is reported but
// never blocks the close.
func (r *Registry) FreeConnection(h Handle) error {
	con, err := r.Connection(h)
	if err != nil {
		return err
	}
	m := r.mgr

	if con.NumRes() > 0 {
		con.results.Each(func(i, _ int, _ *ResultSet) bool {
			con.results.FreeEntry(i)
			return true
		})
		errs.Warn(r.notify, component, "opened resultSet(s) forcibly closed")
	}
	if con.Driver != nil {
		errs.Warn(r.notify, component, "internal error in FreeConnection: driver might have left open its connection on the server")
	}
	if con.Params != nil {
		errs.Warn(r.notify, component, "internal error in FreeConnection: non-freed connection parameters")
	}
	if con.Data != nil {
		errs.Warn(r.notify, component, "internal error in FreeConnection: non-freed driver data")
	}

	idx, _ := m.conns.Lookup(con.ID)
	m.conns.FreeEntry(idx)

	r.log.With().Int("manager_id", m.ID).Int("connection_id", con.ID).Logger().Debug("connection freed")
	return nil
}

// Connection resolves a connection handle.
func (r *Registry) Connection(h Handle) (*Connection, error) {
	if err := r.check(h, TierConnection); err != nil {
		return nil, err
	}
	con, _ := r.mgr.conns.Get(h.ids[1])
	return con, nil
}

// --- ResultSet ---

// AllocateResultSet opens a result set slot under the connection.
func (r *Registry) AllocateResultSet(ch Handle) (Handle, error) {
	con, err := r.Connection(ch)
	if err != nil {
		return Handle{}, err
	}

	idx, ok := con.results.NewEntry()
	if !ok {
		return Handle{}, errs.Newf(errs.ErrKindCapacity,
			"cannot allocate a new resultSet -- maximum of %d resultSets already reached", con.results.Cap())
	}

	id := con.counter
	rs := &ResultSet{
		ManagerID:    con.ManagerID,
		ConnectionID: con.ID,
		ID:           id,
		IsSelect:     Unknown,
		RowsAffected: -1,
		RowCount:     0,
		Completed:    Unknown,
		handle:       newHandle(TierResultSet, r.epoch, con.ManagerID, con.ID, id),
	}
	con.results.Claim(idx, id, rs)
	con.counter++

	r.log.With().Int("connection_id", con.ID).Int("result_set_id", id).Int("slot", idx).Logger().
		Debug("resultSet allocated")
	return rs.handle, nil
}

// FreeResultSet releases the result set, its statement and field descriptors.
func (r *Registry) FreeResultSet(h Handle) error {
	rs, err := r.ResultSet(h)
	if err != nil {
		return err
	}
	con, _ := r.mgr.conns.Get(rs.ConnectionID)

	if rs.Cursor != nil {
		errs.Warn(r.notify, component, "internal error in FreeResultSet: non-freed driver cursor")
	}
	if rs.Data != nil {
		errs.Warn(r.notify, component, "internal error in FreeResultSet: non-freed driver data")
	}
	rs.Fields = nil
	rs.Statement = ""

	idx, _ := con.results.Lookup(rs.ID)
	con.results.FreeEntry(idx)

	r.log.With().Int("connection_id", con.ID).Int("result_set_id", rs.ID).Logger().Debug("resultSet freed")
	return nil
}

// ResultSet resolves a result set handle.
func (r *Registry) ResultSet(h Handle) (*ResultSet, error) {
	if err := r.check(h, TierResultSet); err != nil {
		return nil, err
	}
	con, _ := r.mgr.conns.Get(h.ids[1])
	rs, _ := con.results.Get(h.ids[2])
	return rs, nil
}

// --- Validation ---

// Valid reports whether h resolves to a live object of its tier.
func (r *Registry) Valid(h Handle) bool {
	return h.tier >= TierManager && h.tier <= TierResultSet && r.check(h, h.tier) == nil
}

// Validate is Valid with the reason for rejection.
func (r *Registry) Validate(h Handle, tier Tier) error {
	return r.check(h, tier)
}

// check never mutates the registry.
func (r *Registry) check(h Handle, tier Tier) error {
	if h.tier != tier {
		return errs.Newf(errs.ErrKindInvalidHandle, "invalid %s handle %s", tier, h)
	}
	if h.epoch != 0 && h.epoch != r.epoch {
		return errs.Newf(errs.ErrKindInvalidHandle, "handle %s was issued by another registry", h)
	}
	pid := r.identity()
	if h.ids[0] != pid {
		return errs.Newf(errs.ErrKindInvalidHandle, "handle %s does not belong to process %d", h, pid)
	}
	m := r.mgr
	if m == nil || m.conns == nil || m.ID != pid {
		return errs.Newf(errs.ErrKindInvalidHandle, "handle %s: manager not allocated", h)
	}
	if tier == TierManager {
		return nil
	}
	con, ok := m.conns.Get(h.ids[1])
	if !ok {
		return errs.Newf(errs.ErrKindInvalidHandle, "handle %s: connection %d not found", h, h.ids[1])
	}
	if tier == TierConnection {
		return nil
	}
	if _, ok := con.results.Get(h.ids[2]); !ok {
		return errs.Newf(errs.ErrKindInvalidHandle, "handle %s: resultSet %d not found", h, h.ids[2])
	}
	return nil
}
