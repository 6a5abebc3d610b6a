package introspection

import (
	"errors"
	"fmt"
	"strings"
)

var errMemberList = errors.New("malformed member list")

// memberList reads the values of an ENUM or SET column type, e.g.
// enum('M','F'). A quote inside a value is escaped with a backslash or by
// doubling it.
func memberList(columnType string) ([]string, error) {
	s := strings.TrimSpace(columnType)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("%w: %q", errMemberList, columnType)
	}
	switch strings.ToLower(strings.TrimSpace(s[:open])) {
	case "enum", "set":
	default:
		return nil, fmt.Errorf("%w: %q is not an enum or set", errMemberList, columnType)
	}

	body := s[open+1 : len(s)-1]
	var (
		values  []string
		current strings.Builder
		inValue bool
		needSep bool
	)
	for i := 0; i < len(body); i++ {
		c := body[i]
		if !inValue {
			switch {
			case c == ' ' || c == '\t':
			case c == ',' && needSep:
				needSep = false
			case c == '\'' && !needSep:
				inValue = true
				current.Reset()
			default:
				return nil, fmt.Errorf("%w: unexpected %q at %d in %q", errMemberList, c, i, columnType)
			}
			continue
		}
		switch {
		case c == '\\' && i+1 < len(body):
			i++
			current.WriteByte(body[i])
		case c == '\'' && i+1 < len(body) && body[i+1] == '\'':
			i++
			current.WriteByte('\'')
		case c == '\'':
			inValue = false
			needSep = true
			values = append(values, current.String())
		default:
			current.WriteByte(c)
		}
	}
	if inValue {
		return nil, fmt.Errorf("%w: unterminated value in %q", errMemberList, columnType)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values in %q", errMemberList, columnType)
	}
	return values, nil
}
