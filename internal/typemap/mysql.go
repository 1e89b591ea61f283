package typemap

// MySQL protocol column type codes (enum_field_types).
const (
	MySQLDecimal    = 0
	MySQLTiny       = 1
	MySQLShort      = 2
	MySQLLong       = 3
	MySQLFloat      = 4
	MySQLDouble     = 5
	MySQLNull       = 6
	MySQLTimestamp  = 7
	MySQLLongLong   = 8
	MySQLInt24      = 9
	MySQLDate       = 10
	MySQLTime       = 11
	MySQLDateTime   = 12
	MySQLYear       = 13
	MySQLNewDate    = 14
	MySQLVarchar    = 15
	MySQLBit        = 16
	MySQLJSON       = 245
	MySQLNewDecimal = 246
	MySQLEnum       = 247
	MySQLSet        = 248
	MySQLTinyBlob   = 249
	MySQLMediumBlob = 250
	MySQLLongBlob   = 251
	MySQLBlob       = 252
	MySQLVarString  = 253
	MySQLString     = 254
	MySQLGeometry   = 255
)

// MySQL is the mapper for MySQL / MariaDB protocol type codes.
var MySQL = NewMapper("MySQL", classifyMySQL)

func classifyMySQL(code int) Kind {
	switch code {
	case MySQLTiny:
		return KindTinyInt
	case MySQLShort:
		return KindSmallInt
	case MySQLInt24:
		return KindMediumInt
	case MySQLLong:
		return KindInt
	case MySQLLongLong:
		return KindBigInt
	case MySQLBit:
		return KindBit
	case MySQLDecimal, MySQLNewDecimal:
		return KindDecimal
	case MySQLFloat:
		return KindFloat
	case MySQLDouble:
		return KindDouble
	case MySQLVarString, MySQLString, MySQLVarchar:
		return KindChar
	case MySQLTinyBlob, MySQLMediumBlob, MySQLLongBlob, MySQLBlob:
		return KindText
	case MySQLDate, MySQLTime, MySQLDateTime, MySQLYear, MySQLNewDate, MySQLTimestamp:
		return KindTemporal
	case MySQLEnum:
		return KindEnum
	case MySQLSet:
		return KindSet
	default:
		return KindUnknown
	}
}
