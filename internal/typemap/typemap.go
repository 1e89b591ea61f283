// Package typemap decides the portable class of a result-set column from its
// native type description.
//
// The decision is a pure function of (native type code, declared length,
// unsigned flag, textual flag). A Mapper first classifies the driver's native
// code into a closed Kind enumeration, then maps the Kind to a Class with an
// exhaustive switch. Lossy or ambiguous mappings carry a diagnostic; an
// unrecognised code still maps to String so a Mapper always produces a class.
//
// Known limitation: the text and blob families share one native code in MySQL,
// so binary payloads are delivered as String exactly like text. Non-ASCII
// binary data may not survive that round trip; the textual flag is recorded
// for callers but does not change the mapping.
package typemap

import (
	"fmt"
	"strings"

	"github.com/koustreak/dbireg/internal/errs"
)

// Class is the driver-independent category a column is delivered as.
type Class int

const (
	ClassBoolean Class = iota
	ClassInteger
	ClassDouble
	ClassString
	ClassList
)

var classNames = map[Class]string{
	ClassBoolean: "logical",
	ClassInteger: "integer",
	ClassDouble:  "double",
	ClassString:  "character",
	ClassList:    "list",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Valid reports whether c is one of the five portable classes.
func (c Class) Valid() bool {
	_, ok := classNames[c]
	return ok
}

// MarshalText renders the class by name so snapshots read "integer", not 1.
func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, errs.Newf(errs.ErrKindUnsupported, "unsupported class %d", int(c))
	}
	return []byte(c.String()), nil
}

// ParseClass resolves a class name. "numeric" is accepted for double.
func ParseClass(name string) (Class, error) {
	switch strings.ToLower(name) {
	case "logical":
		return ClassBoolean, nil
	case "integer":
		return ClassInteger, nil
	case "double", "numeric":
		return ClassDouble, nil
	case "character":
		return ClassString, nil
	case "list":
		return ClassList, nil
	}
	return 0, errs.Newf(errs.ErrKindUnsupported, "unsupported data type %q", name)
}

// Kind is the closed set of native type categories the mapper understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindTinyInt
	KindSmallInt
	KindMediumInt
	KindInt // 4 bytes
	KindBigInt
	KindBit
	KindDecimal
	KindFloat
	KindDouble
	KindChar // char / varchar
	KindText // text and blob families
	KindTemporal
	KindEnum
	KindSet
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindTinyInt:   "tinyint",
	KindSmallInt:  "smallint",
	KindMediumInt: "mediumint",
	KindInt:       "int",
	KindBigInt:    "bigint",
	KindBit:       "bit",
	KindDecimal:   "decimal",
	KindFloat:     "float",
	KindDouble:    "double",
	KindChar:      "char",
	KindText:      "text",
	KindTemporal:  "temporal",
	KindEnum:      "enum",
	KindSet:       "set",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IntegerBits is the widest BIT(n) field still delivered as Integer: the
// portable integer is a signed 32-bit value.
const IntegerBits = 31

// Column is the raw metadata a driver reports for one result-set column.
type Column struct {
	Name      string
	Code      int // native type code, meaning depends on the Mapper
	Length    int // declared length; bits for BIT fields
	Precision int
	Scale     int
	NotNull   bool
	Unsigned  bool
	Textual   bool
}

// Mapping is the outcome of mapping one column.
type Mapping struct {
	Kind       Kind
	Class      Class
	VarLength  bool
	Diagnostic string // empty when the mapping is exact
}

// Lossy reports whether the mapping carries a diagnostic.
func (m Mapping) Lossy() bool { return m.Diagnostic != "" }

// Classifier turns a driver's native type code into a Kind.
type Classifier func(code int) Kind

// Mapper maps native columns of one driver family to portable classes.
type Mapper struct {
	name     string
	classify Classifier
}

// NewMapper builds a Mapper around a driver-specific classifier.
func NewMapper(name string, classify Classifier) *Mapper {
	return &Mapper{name: name, classify: classify}
}

// Name returns the driver family the mapper serves.
func (m *Mapper) Name() string { return m.name }

// MapColumn maps a full column description.
func (m *Mapper) MapColumn(c Column) Mapping {
	return m.Map(c.Code, c.Length, c.Unsigned, c.Textual)
}

// Map decides (class, variable-length, diagnostic) for one native column.
// textual is accepted for completeness; see the package comment.
func (m *Mapper) Map(code, length int, unsigned, textual bool) Mapping {
	kind := m.classify(code)
	out := Mapping{Kind: kind}

	switch kind {
	case KindTinyInt, KindSmallInt, KindMediumInt:
		out.Class = ClassInteger
	case KindInt:
		if unsigned {
			out.Class = ClassDouble
			out.Diagnostic = "unsigned INTEGER imported as numeric"
		} else {
			out.Class = ClassInteger
		}
	case KindBigInt:
		out.Class = ClassDouble
		out.Diagnostic = "BIGINT imported as numeric"
	case KindBit:
		if length <= IntegerBits {
			out.Class = ClassInteger
		} else {
			out.Class = ClassString
			out.Diagnostic = fmt.Sprintf("BIT field too long (%d bits) for an integer (imported as character)", length)
		}
	case KindDecimal:
		out.Class = ClassDouble
		out.Diagnostic = "decimal imported as numeric"
	case KindFloat, KindDouble:
		out.Class = ClassDouble
	case KindChar, KindText, KindTemporal, KindEnum:
		out.Class = ClassString
		out.VarLength = true
	case KindSet:
		out.Class = ClassString
	case KindUnknown:
		out.Class = ClassString
		out.VarLength = true
		out.Diagnostic = fmt.Sprintf("unrecognized %s field type %d imported as character", m.name, code)
	default:
		// Kind is closed; a classifier returning anything else is a bug in
		// the classifier, treated like an unrecognised code.
		out.Kind = KindUnknown
		out.Class = ClassString
		out.VarLength = true
		out.Diagnostic = fmt.Sprintf("unrecognized %s field type %d imported as character", m.name, code)
	}
	return out
}
