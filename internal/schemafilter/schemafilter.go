// Package schemafilter hides tables and columns of the krsp schema by glob.
//
// A denied table behaves as if it does not exist: it is missing from table
// listings and referencing it fails the same way a missing table does. A
// denied column is removed from its table. Deny rules beat allow rules, and
// an empty allow list allows everything.
package schemafilter

import (
	"path"
	"slices"
	"strings"

	"krsp-query/internal/introspection"
)

// Config controls allow/deny filters for tables and columns. Column maps are
// keyed by table glob; "*" applies to every table.
type Config struct {
	AllowTables      []string            `mapstructure:"allow_tables"`
	DenyTables       []string            `mapstructure:"deny_tables"`
	ScanViewsEnabled bool                `mapstructure:"scan_views_enabled"`
	AllowColumns     map[string][]string `mapstructure:"allow_columns"`
	DenyColumns      map[string][]string `mapstructure:"deny_columns"`
}

// globs matches case-insensitively. Filters are operator configuration;
// column references in queries stay case-sensitive.
type globs []string

func (g globs) match(name string) bool {
	name = strings.ToLower(name)
	return slices.ContainsFunc(g, func(pattern string) bool {
		ok, err := path.Match(strings.ToLower(pattern), name)
		return pattern != "" && err == nil && ok
	})
}

// admits applies deny-then-allow to name.
func admits(allow, deny globs, name string) bool {
	return !deny.match(name) && (len(allow) == 0 || allow.match(name))
}

func (c Config) allowsTable(name string) bool {
	return admits(c.AllowTables, c.DenyTables, name)
}

func (c Config) allowsColumn(table, column string) bool {
	return admits(columnGlobs(c.AllowColumns, table), columnGlobs(c.DenyColumns, table), column)
}

// columnGlobs collects the column patterns of every table glob matching table.
func columnGlobs(byTable map[string][]string, table string) globs {
	var out globs
	for tablePattern, patterns := range byTable {
		if (globs{tablePattern}).match(table) {
			out = append(out, patterns...)
		}
	}
	return out
}

// TableAllowed reports whether a table or view passes the table filters.
func TableAllowed(info introspection.TableInfo, cfg Config) bool {
	if info.IsView && !cfg.ScanViewsEnabled {
		return false
	}
	return cfg.allowsTable(info.Name)
}

// FilterTables returns the entries of a table listing that pass the table filters.
func FilterTables(tables []introspection.TableInfo, cfg Config) []introspection.TableInfo {
	var kept []introspection.TableInfo
	for _, info := range tables {
		if TableAllowed(info, cfg) {
			kept = append(kept, info)
		}
	}
	return kept
}

// FilterTable removes denied columns and any foreign key that would point
// into or out of something hidden. It reports false when no column survives.
func FilterTable(table introspection.Table, cfg Config) (introspection.Table, bool) {
	table.Columns = slices.DeleteFunc(slices.Clone(table.Columns), func(col introspection.Column) bool {
		return !cfg.allowsColumn(table.Name, col.Name)
	})
	if len(table.Columns) == 0 {
		return introspection.Table{}, false
	}
	table.ForeignKeys = slices.DeleteFunc(slices.Clone(table.ForeignKeys), func(fk introspection.ForeignKey) bool {
		return !cfg.allowsColumn(table.Name, fk.ColumnName) ||
			!cfg.allowsTable(fk.ReferencedTable) ||
			!cfg.allowsColumn(fk.ReferencedTable, fk.ReferencedColumn)
	})
	if len(table.ForeignKeys) == 0 {
		table.ForeignKeys = nil
	}
	return table, true
}

// Apply filters a snapshot in place. Foreign keys whose referenced table was
// dropped from the snapshot are removed too.
func Apply(schema *introspection.Schema, cfg Config) {
	if schema == nil {
		return
	}
	var kept []introspection.Table
	for _, table := range schema.Tables {
		if !TableAllowed(introspection.TableInfo{Name: table.Name, IsView: table.IsView}, cfg) {
			continue
		}
		if filtered, ok := FilterTable(table, cfg); ok {
			kept = append(kept, filtered)
		}
	}

	present := &introspection.Schema{Tables: kept}
	for i := range kept {
		kept[i].ForeignKeys = slices.DeleteFunc(kept[i].ForeignKeys, func(fk introspection.ForeignKey) bool {
			remote, ok := present.Table(fk.ReferencedTable)
			if !ok {
				return true
			}
			_, ok = remote.Column(fk.ReferencedColumn)
			return !ok
		})
		if len(kept[i].ForeignKeys) == 0 {
			kept[i].ForeignKeys = nil
		}
	}
	schema.Tables = kept
}
