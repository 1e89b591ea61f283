// Package fields holds the column metadata of a result set and shapes the
// per-column output buffers rows are fetched into.
//
// A Set is built once from the driver's raw column descriptions, consulting a
// typemap.Mapper for the portable class of every column, and is immutable
// afterwards. Lossy mappings are reported through an errs.Notifier; they never
// fail the build.
package fields

import (
	"fmt"

	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/typemap"
)

const component = "fields"

// Descriptor is the metadata of one result-set column.
type Descriptor struct {
	Name      string        `json:"name" yaml:"name"`
	Class     typemap.Class `json:"Sclass" yaml:"Sclass"`
	Type      int           `json:"type" yaml:"type"`
	Length    int           `json:"len" yaml:"len"`
	Precision int           `json:"precision" yaml:"precision"`
	Scale     int           `json:"scale" yaml:"scale"`
	VarLength bool          `json:"isVarLength" yaml:"isVarLength"`
	Nullable  bool          `json:"nullOK" yaml:"nullOK"`
	Kind      typemap.Kind  `json:"-" yaml:"-"`
}

// Set is an immutable, ordered collection of column descriptors.
type Set struct {
	descs []Descriptor
}

// Build maps every column through m and returns the resulting Set. A column
// whose mapping carries a diagnostic produces one warning on n.
func Build(cols []typemap.Column, m *typemap.Mapper, n errs.Notifier) *Set {
	s := &Set{descs: make([]Descriptor, len(cols))}
	for i, c := range cols {
		mp := m.MapColumn(c)
		if mp.Lossy() {
			errs.Warn(n, component, "column %d (%s): %s", i, c.Name, mp.Diagnostic)
		}
		s.descs[i] = Descriptor{
			Name:      c.Name,
			Class:     mp.Class,
			Type:      c.Code,
			Length:    c.Length,
			Precision: c.Precision,
			Scale:     c.Scale,
			VarLength: mp.VarLength,
			Nullable:  !c.NotNull,
			Kind:      mp.Kind,
		}
	}
	return s
}

// New builds a Set from descriptors that were already mapped.
func New(descs []Descriptor) *Set {
	out := make([]Descriptor, len(descs))
	copy(out, descs)
	return &Set{descs: out}
}

// Len returns the number of columns. A nil Set has none.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.descs)
}

// At returns the descriptor of column i.
func (s *Set) At(i int) Descriptor {
	return s.descs[i]
}

// Descriptors returns a copy of every descriptor, all eight attributes.
func (s *Set) Descriptors() []Descriptor {
	out := make([]Descriptor, s.Len())
	if s != nil {
		copy(out, s.descs)
	}
	return out
}

// Names returns the column names in order.
func (s *Set) Names() []string {
	out := make([]string, s.Len())
	for i := range out {
		out[i] = s.descs[i].Name
	}
	return out
}

// Classes returns the portable class of every column in order.
func (s *Set) Classes() []typemap.Class {
	out := make([]typemap.Class, s.Len())
	for i := range out {
		out[i] = s.descs[i].Class
	}
	return out
}

// Description is the columnar seven-attribute view of a Set reported to
// callers inspecting a result set: the variable-length flag is internal to
// buffer shaping and left out.
type Description struct {
	Name      []string `json:"name" yaml:"name"`
	Sclass    []string `json:"Sclass" yaml:"Sclass"`
	Type      []int    `json:"type" yaml:"type"`
	Len       []int    `json:"len" yaml:"len"`
	Precision []int    `json:"precision" yaml:"precision"`
	Scale     []int    `json:"scale" yaml:"scale"`
	NullOK    []bool   `json:"nullOK" yaml:"nullOK"`
}

// Table is the columnar eight-attribute copy of a Set.
type Table struct {
	Description `yaml:",inline"`
	IsVarLength []bool `json:"isVarLength" yaml:"isVarLength"`
}

// FieldDescriptions returns the seven-attribute columnar view.
func (s *Set) FieldDescriptions() Description {
	n := s.Len()
	d := Description{
		Name:      make([]string, n),
		Sclass:    make([]string, n),
		Type:      make([]int, n),
		Len:       make([]int, n),
		Precision: make([]int, n),
		Scale:     make([]int, n),
		NullOK:    make([]bool, n),
	}
	for i := 0; i < n; i++ {
		f := s.descs[i]
		d.Name[i] = f.Name
		d.Sclass[i] = f.Class.String()
		d.Type[i] = f.Type
		d.Len[i] = f.Length
		d.Precision[i] = f.Precision
		d.Scale[i] = f.Scale
		d.NullOK[i] = f.Nullable
	}
	return d
}

// Copy returns the full eight-attribute columnar copy.
func (s *Set) Copy() Table {
	t := Table{Description: s.FieldDescriptions(), IsVarLength: make([]bool, s.Len())}
	for i := range t.IsVarLength {
		t.IsVarLength[i] = s.descs[i].VarLength
	}
	return t
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s %s(type=%d len=%d)", d.Name, d.Class, d.Type, d.Length)
}
