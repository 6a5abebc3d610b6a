// Package sqltype classifies SQL column types into the value categories used
// when materializing rows and describing plan output schemas.
package sqltype

import "strings"

// Category is the Go-side value category of a SQL column.
type Category int

const (
	// String is the default for text, enums and unknown SQL types.
	String Category = iota
	// Int represents integer numeric types.
	Int
	// Float represents floating-point and fixed-point numeric types.
	Float
	// Bool represents boolean types.
	Bool
	// Time represents DATE, DATETIME and TIMESTAMP values.
	Time
	// Bytes represents binary types.
	Bytes
	// JSON represents JSON data types.
	JSON
)

// Classify converts a SQL data type string to its value category.
// The input is case-insensitive. Size specifiers like (10,2) or (255) and
// modifiers like UNSIGNED are stripped before matching. Types not known to
// MySQL fall back to SQLite's declared-type affinity rules.
func Classify(sqlType string) Category {
	base := strings.TrimSpace(sqlType)
	if idx := strings.Index(base, "("); idx != -1 {
		base = base[:idx]
	}
	if idx := strings.Index(base, " "); idx != -1 {
		base = base[:idx]
	}
	switch strings.ToUpper(base) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT",
		"INTEGER", "BIGINT", "SERIAL", "BIT", "YEAR":
		return Int
	case "FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return Float
	case "BOOL", "BOOLEAN":
		return Bool
	case "JSON":
		return JSON
	case "DATE", "DATETIME", "TIMESTAMP":
		return Time
	case "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB":
		return Bytes
	case "CHAR", "VARCHAR", "TINYTEXT", "TEXT", "MEDIUMTEXT", "LONGTEXT",
		"ENUM", "SET", "TIME":
		return String
	}
	return affinity(strings.ToUpper(sqlType))
}

// affinity applies SQLite's rules for declared column types.
func affinity(upper string) Category {
	switch {
	case strings.Contains(upper, "INT"):
		return Int
	case strings.Contains(upper, "CHAR"), strings.Contains(upper, "CLOB"), strings.Contains(upper, "TEXT"):
		return String
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"), strings.Contains(upper, "DOUB"):
		return Float
	default:
		return String
	}
}

// IsNumeric reports whether values of the category support arithmetic aggregates.
func (c Category) IsNumeric() bool {
	return c == Int || c == Float
}

// String returns the category name shown in table descriptions.
func (c Category) String() string {
	switch c {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case Bytes:
		return "bytes"
	case JSON:
		return "json"
	default:
		return "string"
	}
}
