package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/koustreak/dbireg/internal/typemap"
)

// Type OIDs pgtype does not export.
const (
	timetzOID = 1266
	xmlOID    = 142
)

// Mapper classifies PostgreSQL columns by type OID.
var Mapper = typemap.NewMapper("PostgreSQL", classifyOID)

func classifyOID(code int) typemap.Kind {
	switch code {
	case pgtype.BoolOID:
		return typemap.KindTinyInt
	case pgtype.Int2OID:
		return typemap.KindSmallInt
	case pgtype.Int4OID, pgtype.OIDOID:
		return typemap.KindInt
	case pgtype.Int8OID:
		return typemap.KindBigInt
	case pgtype.NumericOID:
		return typemap.KindDecimal
	case pgtype.Float4OID:
		return typemap.KindFloat
	case pgtype.Float8OID:
		return typemap.KindDouble
	case pgtype.BPCharOID, pgtype.VarcharOID, pgtype.NameOID, pgtype.QCharOID, pgtype.UUIDOID:
		return typemap.KindChar
	case pgtype.TextOID, pgtype.JSONOID, pgtype.JSONBOID, xmlOID, pgtype.ByteaOID:
		return typemap.KindText
	case pgtype.DateOID, pgtype.TimeOID, timetzOID, pgtype.TimestampOID,
		pgtype.TimestamptzOID, pgtype.IntervalOID:
		return typemap.KindTemporal
	case pgtype.BitOID, pgtype.VarbitOID:
		return typemap.KindBit
	default:
		return typemap.KindUnknown
	}
}

// varbitLength stands in for an unconstrained BIT VARYING column.
const varbitLength = 64

// columnFromField translates a row description entry. typmod is -1 when the
// column carries no modifier.
func columnFromField(name string, oid uint32, size int16, typmod int32) typemap.Column {
	col := typemap.Column{
		Name:     name,
		Code:     int(oid),
		Unsigned: oid == pgtype.OIDOID,
		Textual:  oid != pgtype.ByteaOID,
	}
	if size > 0 {
		col.Length = int(size)
	}

	switch oid {
	case pgtype.BPCharOID, pgtype.VarcharOID:
		if typmod >= 4 {
			col.Length = int(typmod - 4)
		}
	case pgtype.BitOID, pgtype.VarbitOID:
		col.Length = varbitLength
		if typmod > 0 {
			col.Length = int(typmod)
		}
	}

	col.Precision = col.Length
	if oid == pgtype.NumericOID && typmod >= 4 {
		mod := typmod - 4
		col.Precision = int((mod >> 16) & 0xffff)
		col.Scale = int(mod & 0xffff)
	}
	return col
}

// normalize reduces a pgx-decoded value to the shapes fields.Vector.Set
// accepts: Go scalars, strings, []byte and time.Time.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int16, int32, int64, uint32, float32, float64, string, []byte, time.Time:
		return v, nil
	case pgtype.Numeric:
		if !x.Valid {
			return nil, nil
		}
		f, err := x.Float64Value()
		if err != nil {
			return nil, err
		}
		if !f.Valid {
			return nil, nil
		}
		return f.Float64, nil
	case pgtype.Bits:
		if !x.Valid {
			return nil, nil
		}
		return bitsValue(x), nil
	case [16]byte:
		return formatUUID(x), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nil, err
		}
		return dv, nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// bitsValue returns the unsigned value of a bit string of up to 64 bits, and
// its 0/1 text for longer ones. pgtype stores bits left-aligned.
func bitsValue(b pgtype.Bits) any {
	if b.Len <= 64 {
		n := new(big.Int).SetBytes(b.Bytes)
		n.Rsh(n, uint(len(b.Bytes)*8-int(b.Len)))
		return n.Uint64()
	}
	var sb strings.Builder
	sb.Grow(int(b.Len))
	for i := int32(0); i < b.Len; i++ {
		if b.Bytes[i/8]&(0x80>>(i%8)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func formatUUID(u [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", u[0:4], u[4:8], u[8:10], u[10:12], u[12:16])
}
