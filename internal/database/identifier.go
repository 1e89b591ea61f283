package database

import (
	"strings"
	"unicode/utf8"

	"github.com/koustreak/dbireg/internal/errs"
)

// MaxIdentifierLength is the conventional identifier length above which
// MakeSQLName warns.
const MaxIdentifierLength = 18

// MakeSQLName turns name into something usable as a SQL identifier. A name
// wrapped in double quotes is a delimited identifier and is returned as is.
// Otherwise a leading character that is not an ASCII letter becomes 'X' and
// every later '.' becomes '_'. Names longer than MaxIdentifierLength are
// reported on n but never truncated.
func MakeSQLName(name string, n errs.Notifier) string {
	if utf8.RuneCountInString(name) > MaxIdentifierLength {
		errs.Warn(n, "identifier", "SQL identifier %q longer than %d chars", name, MaxIdentifierLength)
	}
	if name == "" || isDelimited(name) {
		return name
	}

	var sb strings.Builder
	sb.Grow(len(name))
	for i, r := range name {
		switch {
		case i == 0 && !isASCIILetter(r) && r != '"':
			sb.WriteByte('X')
		case i > 0 && r == '.':
			sb.WriteByte('_')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// MakeSQLNames applies MakeSQLName to every name.
func MakeSQLNames(names []string, n errs.Notifier) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = MakeSQLName(name, n)
	}
	return out
}

func isDelimited(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// selectKeywords are the leading keywords of statements that return rows.
var selectKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"VALUES":   true,
	"TABLE":    true,
}

// IsSelectStatement reports whether statement is expected to return rows,
// judged by its first keyword after comments and opening parentheses.
func IsSelectStatement(statement string) bool {
	s := strings.TrimSpace(statement)
	for {
		switch {
		case strings.HasPrefix(s, "--") || strings.HasPrefix(s, "#"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return false
			}
			s = strings.TrimSpace(s[i+1:])
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return false
			}
			s = strings.TrimSpace(s[i+2:])
		case strings.HasPrefix(s, "("):
			s = strings.TrimSpace(s[1:])
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !isASCIILetter(r)
			})
			if end < 0 {
				end = len(s)
			}
			return selectKeywords[strings.ToUpper(s[:end])]
		}
	}
}
