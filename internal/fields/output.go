package fields

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/typemap"
)

// Vector is the output buffer of one column. Exactly one of the typed slices
// is in use, picked by Class; NA marks NULL cells.
type Vector struct {
	Name    string
	Class   typemap.Class
	Kind    typemap.Kind
	Bools   []bool
	Ints    []int32
	Doubles []float64
	Strings []string
	Values  []any
	NA      []bool
}

// Len returns the number of cells in the vector.
func (v *Vector) Len() int { return len(v.NA) }

func newVector(d Descriptor, n int) (*Vector, error) {
	v := &Vector{Name: d.Name, Class: d.Class, Kind: d.Kind, NA: make([]bool, n)}
	switch d.Class {
	case typemap.ClassBoolean:
		v.Bools = make([]bool, n)
	case typemap.ClassInteger:
		v.Ints = make([]int32, n)
	case typemap.ClassDouble:
		v.Doubles = make([]float64, n)
	case typemap.ClassString:
		v.Strings = make([]string, n)
	case typemap.ClassList:
		v.Values = make([]any, n)
	default:
		return nil, errs.Newf(errs.ErrKindUnsupported, "unsupported data type %d for column %q", int(d.Class), d.Name)
	}
	return v, nil
}

func resize[T any](s []T, n int) []T {
	if n <= cap(s) {
		clear(s[min(len(s), n):n])
		return s[:n]
	}
	out := make([]T, n)
	copy(out, s)
	return out
}

func (v *Vector) resize(n int) error {
	switch v.Class {
	case typemap.ClassBoolean:
		v.Bools = resize(v.Bools, n)
	case typemap.ClassInteger:
		v.Ints = resize(v.Ints, n)
	case typemap.ClassDouble:
		v.Doubles = resize(v.Doubles, n)
	case typemap.ClassString:
		v.Strings = resize(v.Strings, n)
	case typemap.ClassList:
		v.Values = resize(v.Values, n)
	default:
		return errs.Newf(errs.ErrKindUnsupported, "unsupported data type %d for column %q", int(v.Class), v.Name)
	}
	v.NA = resize(v.NA, n)
	return nil
}

// Output is a data-frame style result: one Vector per column, all of the same
// length, named after the columns.
type Output struct {
	Columns []*Vector
}

// AllocOutput builds fresh buffers of numRec cells for every column of s.
func AllocOutput(s *Set, numRec int) (*Output, error) {
	if numRec < 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "negative record count %d", numRec)
	}
	out := &Output{Columns: make([]*Vector, s.Len())}
	for i := range out.Columns {
		v, err := newVector(s.At(i), numRec)
		if err != nil {
			return nil, err
		}
		out.Columns[i] = v
	}
	return out, nil
}

// Expand adjusts every buffer of out to numRec cells, keeping the values
// already stored in the retained prefix.
func Expand(out *Output, numRec int) error {
	if numRec < 0 {
		return errs.Newf(errs.ErrKindInvalidInput, "negative record count %d", numRec)
	}
	for _, v := range out.Columns {
		if err := v.resize(numRec); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns the buffer length shared by every column.
func (o *Output) Rows() int {
	if o == nil || len(o.Columns) == 0 {
		return 0
	}
	return o.Columns[0].Len()
}

// Names returns the column names.
func (o *Output) Names() []string {
	names := make([]string, len(o.Columns))
	for i, v := range o.Columns {
		names[i] = v.Name
	}
	return names
}

// SetRow stores one row of driver values, one per column.
func (o *Output) SetRow(row int, vals []any) error {
	if len(vals) != len(o.Columns) {
		return errs.Newf(errs.ErrKindInvalidInput, "row has %d values, result set has %d columns", len(vals), len(o.Columns))
	}
	for j, v := range o.Columns {
		if err := v.Set(row, vals[j]); err != nil {
			return err
		}
	}
	return nil
}

// Value returns the cell at row as a Go value, nil when NA.
func (v *Vector) Value(row int) any {
	if v.NA[row] {
		return nil
	}
	switch v.Class {
	case typemap.ClassBoolean:
		return v.Bools[row]
	case typemap.ClassInteger:
		return v.Ints[row]
	case typemap.ClassDouble:
		return v.Doubles[row]
	case typemap.ClassString:
		return v.Strings[row]
	default:
		return v.Values[row]
	}
}

// Slice returns the column as a []any, NA cells as nil.
func (v *Vector) Slice() []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Value(i)
	}
	return out
}

// TimeLayout is the text form of temporal values delivered as String.
const TimeLayout = "2006-01-02 15:04:05"

// Set coerces val into the column's class and stores it at row. nil stores NA.
func (v *Vector) Set(row int, val any) error {
	if row < 0 || row >= v.Len() {
		return errs.Newf(errs.ErrKindInvalidInput, "row %d out of range for column %q of %d rows", row, v.Name, v.Len())
	}
	if val == nil {
		v.NA[row] = true
		v.zero(row)
		return nil
	}
	v.NA[row] = false

	var err error
	switch v.Class {
	case typemap.ClassBoolean:
		v.Bools[row], err = toBool(val)
	case typemap.ClassInteger:
		v.Ints[row], err = v.toInt32(val)
	case typemap.ClassDouble:
		v.Doubles[row], err = toFloat64(val)
	case typemap.ClassString:
		v.Strings[row], err = v.toString(val)
	case typemap.ClassList:
		if b, ok := val.([]byte); ok {
			val = append([]byte(nil), b...)
		}
		v.Values[row] = val
	default:
		err = errs.Newf(errs.ErrKindUnsupported, "unsupported data type %d for column %q", int(v.Class), v.Name)
	}
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "cannot store value in column "+strconv.Quote(v.Name), err)
	}
	return nil
}

func (v *Vector) zero(row int) {
	switch v.Class {
	case typemap.ClassBoolean:
		v.Bools[row] = false
	case typemap.ClassInteger:
		v.Ints[row] = 0
	case typemap.ClassDouble:
		v.Doubles[row] = 0
	case typemap.ClassString:
		v.Strings[row] = ""
	case typemap.ClassList:
		v.Values[row] = nil
	}
}

func toBool(val any) (bool, error) {
	if b, ok := val.([]byte); ok {
		val = string(b)
	}
	return cast.ToBoolE(val)
}

func (v *Vector) toInt32(val any) (int32, error) {
	var (
		n   int64
		err error
	)
	switch x := val.(type) {
	case []byte:
		if v.Kind == typemap.KindBit {
			u, err := decodeBits(x)
			if err != nil {
				return 0, err
			}
			if u > math.MaxInt32 {
				return 0, errs.Newf(errs.ErrKindInvalidInput, "BIT value %d overflows a 32-bit integer", u)
			}
			return int32(u), nil
		} else {
			n, err = strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
		}
	case string:
		n, err = strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	default:
		n, err = cast.ToInt64E(val)
	}
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, errs.Newf(errs.ErrKindInvalidInput, "value %d overflows a 32-bit integer", n)
	}
	return int32(n), nil
}

func toFloat64(val any) (float64, error) {
	switch x := val.(type) {
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return cast.ToFloat64E(val)
}

func (v *Vector) toString(val any) (string, error) {
	switch x := val.(type) {
	case []byte:
		if v.Kind == typemap.KindBit {
			u, err := decodeBits(x)
			if err != nil {
				return "", err
			}
			return strconv.FormatUint(u, 10), nil
		}
		return string(x), nil
	case time.Time:
		return x.Format(TimeLayout), nil
	}
	return cast.ToStringE(val)
}

// decodeBits reads a BIT(n) payload, big-endian, at most 8 bytes.
func decodeBits(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, errs.Newf(errs.ErrKindInvalidInput, "BIT payload of %d bytes exceeds 64 bits", len(b))
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:]), nil
}
