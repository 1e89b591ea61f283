package registry

import (
	"github.com/koustreak/dbireg/internal/fields"
	"github.com/koustreak/dbireg/internal/slottable"
)

// NA is the text reported for connection details a driver did not fill in.
const NA = "NA"

// Tristate is a boolean that may not be known yet.
type Tristate int

const (
	Unknown Tristate = -1
	False   Tristate = 0
	True    Tristate = 1
)

// TristateOf converts a known boolean.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Manager is the root of the ownership tree. There is at most one per
// Registry; its id is the process identity it was allocated under.
type Manager struct {
	ID            int
	DriverName    string
	ClientVersion string
	FetchDefault  int
	// Data is driver-private state attached to the manager.
	Data any

	handle  Handle
	counter int
	conns   *slottable.Table[Connection]
}

// Handle returns the manager's handle.
func (m *Manager) Handle() Handle { return m.handle }

// Length is the maximum number of simultaneous connections.
func (m *Manager) Length() int {
	if m.conns == nil {
		return 0
	}
	return m.conns.Cap()
}

// NumCon is the number of open connections.
func (m *Manager) NumCon() int {
	if m.conns == nil {
		return 0
	}
	return m.conns.Len()
}

// Counter is the id the next connection will get.
func (m *Manager) Counter() int { return m.counter }

// ConnectionIDs lists the open connection ids in slot order.
func (m *Manager) ConnectionIDs() []int {
	if m.conns == nil {
		return []int{}
	}
	return m.conns.IDs()
}

// Details describes the server side of a connection. Drivers fill it in after
// connecting; unknown values stay NA / -1.
type Details struct {
	Host            string `json:"host" yaml:"host"`
	User            string `json:"user" yaml:"user"`
	DBName          string `json:"dbname" yaml:"dbname"`
	ConType         string `json:"conType" yaml:"conType"`
	ServerVersion   string `json:"serverVersion" yaml:"serverVersion"`
	ProtocolVersion int    `json:"protocolVersion" yaml:"protocolVersion"`
	ThreadID        int    `json:"threadId" yaml:"threadId"`
}

// DefaultDetails returns details with every field unknown.
func DefaultDetails() Details {
	return Details{
		Host:            NA,
		User:            NA,
		DBName:          NA,
		ConType:         NA,
		ServerVersion:   NA,
		ProtocolVersion: -1,
		ThreadID:        -1,
	}
}

// Connection is one open database connection owned by the Manager.
type Connection struct {
	ManagerID int
	ID        int
	Details   Details

	// Driver, Params and Data are driver-private. The driver must release
	// them (set them to nil) before the connection is freed.
	Driver any
	Params any
	Data   any

	handle  Handle
	counter int
	results *slottable.Table[ResultSet]
}

// Handle returns the connection's handle.
func (c *Connection) Handle() Handle { return c.handle }

// Length is the maximum number of simultaneous result sets.
func (c *Connection) Length() int { return c.results.Cap() }

// NumRes is the number of open result sets.
func (c *Connection) NumRes() int { return c.results.Len() }

// Counter is the id the next result set will get.
func (c *Connection) Counter() int { return c.counter }

// ResultSetIDs lists the open result set ids in slot order.
func (c *Connection) ResultSetIDs() []int { return c.results.IDs() }

// ResultSetHandles returns the handles of every open result set.
func (c *Connection) ResultSetHandles() []Handle {
	out := make([]Handle, 0, c.results.Len())
	c.results.Each(func(_, _ int, rs *ResultSet) bool {
		out = append(out, rs.handle)
		return true
	})
	return out
}

// ResultSet is one executed statement owned by a Connection.
type ResultSet struct {
	ManagerID    int
	ConnectionID int
	ID           int

	Statement    string
	IsSelect     Tristate
	RowsAffected int
	RowCount     int
	Completed    Tristate
	Fields       *fields.Set

	// Cursor and Data are driver-private and must be released by the driver
	// before the result set is freed.
	Cursor any
	Data   any

	handle Handle
}

// Handle returns the result set's handle.
func (rs *ResultSet) Handle() Handle { return rs.handle }
