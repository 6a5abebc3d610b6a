// Package sqlutil holds the identifier and dialect helpers shared by the
// planner and introspection.
package sqlutil

import "strings"

// enclose wraps s in q, doubling every q inside it.
func enclose(s string, q byte) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(q)
	for i := 0; i < len(s); i++ {
		if s[i] == q {
			b.WriteByte(q)
		}
		b.WriteByte(s[i])
	}
	b.WriteByte(q)
	return b.String()
}

// QuoteIdentifier backtick-quotes a table, column or alias name. Both mysql
// and sqlite accept backticks, so generated SQL is the same for either.
func QuoteIdentifier(name string) string { return enclose(name, '`') }

// QualifiedName joins the quoted parts with dots, skipping empty ones, so
// QualifiedName("", "census") is just `census`.
func QualifiedName(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			quoted = append(quoted, QuoteIdentifier(p))
		}
	}
	return strings.Join(quoted, ".")
}

// QuoteString renders s as a single-quoted literal. Generated queries bind
// values as arguments; this is for plan descriptions only.
func QuoteString(s string) string { return enclose(s, '\'') }
