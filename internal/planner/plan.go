// Package planner builds immutable query plans over krsp tables and
// compiles them to a single SQL statement.
//
// Every builder operation returns a new *Plan and never modifies its
// receiver, so a plan can be reused as the base of several queries. Column
// references are validated when the plan is built; constructs the handle's
// dialect cannot express are reported when the plan is compiled.
package planner

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"krsp-query/internal/errs"
	"krsp-query/internal/introspection"
	"krsp-query/internal/sqltype"
	"krsp-query/internal/sqlutil"
)

// Source is the connection a plan reads from.
type Source interface {
	Dialect() sqlutil.Dialect
	Schema() string
	DescribeTable(ctx context.Context, name string) (introspection.Table, error)
}

// Field is one column of a plan's output schema.
type Field struct {
	Name     string
	Category sqltype.Category
	// DatabaseType is the declared type for columns read straight from a table.
	DatabaseType string
}

// Relation is anything that can be used as a plan: a *Plan or a *TableRef.
type Relation interface {
	plan() *Plan
}

// Plan is an immutable description of a query.
type Plan struct {
	source Source
	parent *Plan
	step   step
	label  string

	fields []Field
	// groups are pending grouping keys consumed by the next Aggregate.
	groups []string
	// tables are the base tables read by the plan, for join suggestions.
	tables []introspection.Table
}

func (p *Plan) plan() *Plan { return p }

// TableRef is a plan that reads one table. It carries the table's metadata.
type TableRef struct {
	*Plan
	meta introspection.Table
}

// Table resolves name in the source's schema. The name is matched by exact
// case. No rows are read.
func Table(ctx context.Context, src Source, name string) (*TableRef, error) {
	meta, err := src.DescribeTable(ctx, name)
	if err != nil {
		return nil, err
	}
	return FromTable(src, meta), nil
}

// FromTable builds a table reference from metadata that is already loaded.
func FromTable(src Source, meta introspection.Table) *TableRef {
	fields := make([]Field, len(meta.Columns))
	for i, col := range meta.Columns {
		fields[i] = Field{Name: col.Name, Category: col.Category, DatabaseType: col.DataType}
	}
	return &TableRef{
		Plan: &Plan{
			source: src,
			step:   scanStep{table: meta.Name},
			label:  meta.Name,
			fields: fields,
			tables: []introspection.Table{meta},
		},
		meta: meta,
	}
}

// Metadata returns the columns, keys and comment of the table.
func (t *TableRef) Metadata() introspection.Table { return t.meta }

// Name is the table name.
func (t *TableRef) Name() string { return t.meta.Name }

// Source returns the connection the plan reads from.
func (p *Plan) Source() Source { return p.source }

// Fields returns the plan's output schema in column order.
func (p *Plan) Fields() []Field { return slices.Clone(p.fields) }

// Columns returns the output column names in order.
func (p *Plan) Columns() []string {
	names := make([]string, len(p.fields))
	for i, f := range p.fields {
		names[i] = f.Name
	}
	return names
}

// Groups returns the grouping keys waiting for an Aggregate.
func (p *Plan) Groups() []string { return slices.Clone(p.groups) }

// String names the plan in errors and logs.
func (p *Plan) String() string { return p.label }

func (p *Plan) derive(s step, fields []Field, groups []string) *Plan {
	return &Plan{
		source: p.source,
		parent: p,
		step:   s,
		label:  p.label,
		fields: fields,
		groups: groups,
		tables: p.tables,
	}
}

func (p *Plan) field(name string) (Field, bool) {
	for _, f := range p.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (p *Plan) requireColumns(op string, names ...string) error {
	for _, name := range names {
		if _, ok := p.field(name); !ok {
			return &errs.ColumnError{Op: op, Column: name, Available: p.Columns()}
		}
	}
	return nil
}

// Select keeps the named columns in the given order. On a grouped plan the
// grouping keys are kept in front even when they are not named.
func (p *Plan) Select(names ...string) (*Plan, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("select: at least one column is required")
	}
	if err := p.requireColumns("select", names...); err != nil {
		return nil, err
	}

	keep := make([]string, 0, len(p.groups)+len(names))
	for _, key := range p.groups {
		if !slices.Contains(names, key) {
			keep = append(keep, key)
		}
	}
	for _, name := range names {
		if !slices.Contains(keep, name) {
			keep = append(keep, name)
		}
	}

	fields := make([]Field, len(keep))
	for i, name := range keep {
		fields[i], _ = p.field(name)
	}
	return p.derive(selectStep{names: keep}, fields, p.groups), nil
}

// Rename changes a column name. Grouping keys follow the rename.
func (p *Plan) Rename(from, to string) (*Plan, error) {
	if err := p.requireColumns("rename", from); err != nil {
		return nil, err
	}
	if strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("rename: new name for %q is empty", from)
	}
	if from == to {
		return p, nil
	}
	if _, exists := p.field(to); exists {
		return nil, fmt.Errorf("rename: column %q already exists", to)
	}

	fields := slices.Clone(p.fields)
	for i := range fields {
		if fields[i].Name == from {
			fields[i].Name = to
		}
	}
	groups := slices.Clone(p.groups)
	for i := range groups {
		if groups[i] == from {
			groups[i] = to
		}
	}
	return p.derive(renameStep{from: from, to: to}, fields, groups), nil
}

// Mutate adds a computed column, or replaces the column of the same name in place.
func (p *Plan) Mutate(name string, expr Expr) (*Plan, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("mutate: column name is empty")
	}
	if err := validateExpr("mutate", expr, p); err != nil {
		return nil, err
	}

	field := Field{Name: name, Category: expr.category(p)}
	fields := slices.Clone(p.fields)
	replaced := false
	for i := range fields {
		if fields[i].Name == name {
			fields[i] = field
			replaced = true
		}
	}
	if !replaced {
		fields = append(fields, field)
	}
	return p.derive(mutateStep{name: name, expr: expr}, fields, p.groups), nil
}

// Filter keeps the rows for which predicate holds. After an Aggregate the
// predicate is applied to the aggregated rows.
func (p *Plan) Filter(predicate Expr) (*Plan, error) {
	if predicate == nil {
		return nil, fmt.Errorf("filter: predicate is nil")
	}
	if err := validateExpr("filter", predicate, p); err != nil {
		return nil, err
	}
	return p.derive(filterStep{predicate: predicate}, p.fields, p.groups), nil
}

// Distinct removes duplicate rows.
func (p *Plan) Distinct() *Plan {
	return p.derive(distinctStep{}, p.fields, p.groups)
}

// SortKey orders rows by one column.
type SortKey struct {
	Column     string
	Descending bool
}

// Asc sorts by column in ascending order.
func Asc(column string) SortKey { return SortKey{Column: column} }

// Desc sorts by column in descending order.
func Desc(column string) SortKey { return SortKey{Column: column, Descending: true} }

// Sort orders rows by keys, applied in order. It replaces any earlier Sort.
func (p *Plan) Sort(keys ...SortKey) (*Plan, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("sort: at least one key is required")
	}
	for _, key := range keys {
		if err := p.requireColumns("sort", key.Column); err != nil {
			return nil, err
		}
	}
	return p.derive(sortStep{keys: slices.Clone(keys)}, p.fields, p.groups), nil
}

// GroupBy sets the grouping keys of the next Aggregate.
func (p *Plan) GroupBy(keys ...string) (*Plan, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("group by: at least one key is required")
	}
	if err := p.requireColumns("group by", keys...); err != nil {
		return nil, err
	}
	return p.derive(groupStep{keys: slices.Clone(keys)}, p.fields, slices.Clone(keys)), nil
}

// Ungroup drops pending grouping keys.
func (p *Plan) Ungroup() *Plan {
	return p.derive(groupStep{}, p.fields, nil)
}
