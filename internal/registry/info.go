package registry

import "github.com/koustreak/dbireg/internal/fields"

// ManagerInfo is a snapshot of the manager.
type ManagerInfo struct {
	ConnectionIDs   []int  `json:"connectionIds" yaml:"connectionIds"`
	FetchDefaultRec int    `json:"fetch_default_rec" yaml:"fetch_default_rec"`
	ManagerID       int    `json:"managerId" yaml:"managerId"`
	Length          int    `json:"length" yaml:"length"`
	NumCon          int    `json:"num_con" yaml:"num_con"`
	Counter         int    `json:"counter" yaml:"counter"`
	ClientVersion   string `json:"clientVersion" yaml:"clientVersion"`
	DriverName      string `json:"drvName" yaml:"drvName"`
}

// ConnectionInfo is a snapshot of one connection.
type ConnectionInfo struct {
	Details      `yaml:",inline"`
	ManagerID    int      `json:"managerId" yaml:"managerId"`
	ConnectionID int      `json:"connectionId" yaml:"connectionId"`
	Length       int      `json:"length" yaml:"length"`
	NumRes       int      `json:"num_res" yaml:"num_res"`
	Counter      int      `json:"counter" yaml:"counter"`
	ResultSetIDs []int    `json:"resultSetIds" yaml:"resultSetIds"`
	RSHandle     []Handle `json:"rsHandle" yaml:"rsHandle"`
}

// ResultSetInfo is a snapshot of one result set. Fields is nil until column
// metadata has been attached.
type ResultSetInfo struct {
	ManagerID    int                 `json:"managerId" yaml:"managerId"`
	ConnectionID int                 `json:"connectionId" yaml:"connectionId"`
	ResultSetID  int                 `json:"resultSetId" yaml:"resultSetId"`
	Statement    string              `json:"statement" yaml:"statement"`
	IsSelect     Tristate            `json:"isSelect" yaml:"isSelect"`
	RowsAffected int                 `json:"rowsAffected" yaml:"rowsAffected"`
	RowCount     int                 `json:"rowCount" yaml:"rowCount"`
	Completed    Tristate            `json:"completed" yaml:"completed"`
	Fields       *fields.Description `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// ManagerInfo snapshots the manager behind h.
func (r *Registry) ManagerInfo(h Handle) (*ManagerInfo, error) {
	m, err := r.Manager(h)
	if err != nil {
		return nil, err
	}
	return &ManagerInfo{
		ConnectionIDs:   m.ConnectionIDs(),
		FetchDefaultRec: m.FetchDefault,
		ManagerID:       m.ID,
		Length:          m.Length(),
		NumCon:          m.NumCon(),
		Counter:         m.counter,
		ClientVersion:   m.ClientVersion,
		DriverName:      m.DriverName,
	}, nil
}

// ConnectionInfo snapshots the connection behind h.
func (r *Registry) ConnectionInfo(h Handle) (*ConnectionInfo, error) {
	con, err := r.Connection(h)
	if err != nil {
		return nil, err
	}
	return &ConnectionInfo{
		Details:      con.Details,
		ManagerID:    con.ManagerID,
		ConnectionID: con.ID,
		Length:       con.Length(),
		NumRes:       con.NumRes(),
		Counter:      con.counter,
		ResultSetIDs: con.ResultSetIDs(),
		RSHandle:     con.ResultSetHandles(),
	}, nil
}

// ResultSetInfo snapshots the result set behind h.
func (r *Registry) ResultSetInfo(h Handle) (*ResultSetInfo, error) {
	rs, err := r.ResultSet(h)
	if err != nil {
		return nil, err
	}
	info := &ResultSetInfo{
		ManagerID:    rs.ManagerID,
		ConnectionID: rs.ConnectionID,
		ResultSetID:  rs.ID,
		Statement:    rs.Statement,
		IsSelect:     rs.IsSelect,
		RowsAffected: rs.RowsAffected,
		RowCount:     rs.RowCount,
		Completed:    rs.Completed,
	}
	if rs.Fields != nil {
		d := rs.Fields.FieldDescriptions()
		info.Fields = &d
	}
	return info, nil
}
