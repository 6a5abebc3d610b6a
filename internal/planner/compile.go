package planner

import (
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"krsp-query/internal/errs"
	"krsp-query/internal/sqlutil"
)

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []any
}

// NoLimit compiles a plan without a LIMIT clause.
const NoLimit = -1

// SQL renders the plan without executing it. It reports the same
// TranslationErrors a collect would.
func (p *Plan) SQL() (SQLQuery, error) {
	return p.Compile(NoLimit)
}

// Compile translates the whole plan into one SELECT statement. A negative
// limit omits the LIMIT clause.
func (p *Plan) Compile(limit int) (SQLQuery, error) {
	c := &compiler{dialect: p.source.Dialect(), schema: p.source.Schema()}
	if c.dialect == sqlutil.SQLite {
		// sqlite databases are a single unnamed schema.
		c.schema = ""
	}

	state, err := c.compile(p)
	if err != nil {
		return SQLQuery{}, err
	}
	builder := c.selectBuilder(state, true)
	if limit >= 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, &errs.TranslationError{Op: "compile", Dialect: c.dialect.String(), Detail: err.Error()}
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

type compiler struct {
	dialect sqlutil.Dialect
	schema  string
	aliases int
}

func (c *compiler) nextAlias() string {
	alias := fmt.Sprintf("t%d", c.aliases)
	c.aliases++
	return alias
}

func (c *compiler) compile(p *Plan) (*queryState, error) {
	var in *queryState
	if p.parent != nil {
		var err error
		if in, err = c.compile(p.parent); err != nil {
			return nil, err
		}
	}
	return p.step.apply(c, p, in)
}

type outputColumn struct {
	name string
	expr fragment
}

type orderItem struct {
	// name is the output column the key was taken from, or empty once that
	// column has been replaced.
	name string
	expr fragment
	desc bool
}

// queryState is one SELECT under construction.
type queryState struct {
	// table is a quoted table reference with its alias; sub is a derived
	// table read under alias. Exactly one is set.
	table string
	sub   *sq.SelectBuilder
	alias string

	joins      []fragment
	where      []fragment
	groupBy    []string
	having     []fragment
	columns    []outputColumn
	orderBy    []orderItem
	distinct   bool
	aggregated bool
}

func (s *queryState) clone() *queryState {
	out := *s
	out.joins = slices.Clone(s.joins)
	out.where = slices.Clone(s.where)
	out.groupBy = slices.Clone(s.groupBy)
	out.having = slices.Clone(s.having)
	out.columns = slices.Clone(s.columns)
	out.orderBy = slices.Clone(s.orderBy)
	return &out
}

func (s *queryState) column(name string) (fragment, bool) {
	for _, col := range s.columns {
		if col.name == name {
			return col.expr, true
		}
	}
	return fragment{}, false
}

func (s *queryState) renderContext(c *compiler, op string) *renderContext {
	return &renderContext{op: op, dialect: c.dialect, column: s.column}
}

// inlinable reports whether s can be joined as a plain table reference.
func (s *queryState) inlinable() bool {
	if len(s.joins) > 0 || len(s.where) > 0 || len(s.groupBy) > 0 || len(s.having) > 0 || s.distinct || s.aggregated {
		return false
	}
	for _, col := range s.columns {
		if col.expr.hasArgs() {
			return false
		}
	}
	return true
}

func (c *compiler) selectBuilder(s *queryState, withOrder bool) sq.SelectBuilder {
	b := sq.Select().PlaceholderFormat(sq.Question)
	if s.distinct {
		b = b.Distinct()
	}
	for _, col := range s.columns {
		b = b.Column(col.expr.SQL+" AS "+sqlutil.QuoteIdentifier(col.name), col.expr.Args...)
	}
	if s.sub != nil {
		b = b.FromSelect(*s.sub, sqlutil.QuoteIdentifier(s.alias))
	} else {
		b = b.From(s.table)
	}
	for _, join := range s.joins {
		b = b.JoinClause(join.SQL, join.Args...)
	}
	for _, pred := range s.where {
		b = b.Where(pred.SQL, pred.Args...)
	}
	if len(s.groupBy) > 0 {
		b = b.GroupBy(s.groupBy...)
	}
	for _, pred := range s.having {
		b = b.Having(pred.SQL, pred.Args...)
	}
	if withOrder && len(s.orderBy) > 0 {
		items := make([]string, len(s.orderBy))
		for i, item := range s.orderBy {
			items[i] = item.expr.SQL
			if item.desc {
				items[i] += " DESC"
			}
		}
		b = b.OrderBy(items...)
	}
	return b
}

// wrap turns s into a derived table and starts a new SELECT over it. Sort
// keys that are still output columns carry over.
func (c *compiler) wrap(s *queryState) *queryState {
	sub := c.selectBuilder(s, false)
	out := &queryState{sub: &sub, alias: c.nextAlias()}
	for _, col := range s.columns {
		out.columns = append(out.columns, outputColumn{
			name: col.name,
			expr: fragment{SQL: sqlutil.QualifiedName(out.alias, col.name)},
		})
	}
	for _, item := range s.orderBy {
		if expr, ok := out.column(item.name); ok && item.name != "" {
			out.orderBy = append(out.orderBy, orderItem{name: item.name, expr: expr, desc: item.desc})
		}
	}
	return out
}

// joinSource renders s as the right side of a join.
func (c *compiler) joinSource(s *queryState) (fragment, error) {
	if s.sub == nil {
		return fragment{SQL: s.table}, nil
	}
	query, args, err := s.sub.ToSql()
	if err != nil {
		return fragment{}, err
	}
	return fragment{SQL: "(" + query + ") AS " + sqlutil.QuoteIdentifier(s.alias), Args: args}, nil
}

type step interface {
	apply(c *compiler, p *Plan, in *queryState) (*queryState, error)
}

type scanStep struct{ table string }

func (st scanStep) apply(c *compiler, p *Plan, _ *queryState) (*queryState, error) {
	alias := c.nextAlias()
	s := &queryState{
		table: sqlutil.QualifiedName(c.schema, st.table) + " AS " + sqlutil.QuoteIdentifier(alias),
		alias: alias,
	}
	for _, f := range p.fields {
		s.columns = append(s.columns, outputColumn{name: f.Name, expr: fragment{SQL: sqlutil.QualifiedName(alias, f.Name)}})
	}
	return s, nil
}

type selectStep struct{ names []string }

func (st selectStep) apply(c *compiler, _ *Plan, in *queryState) (*queryState, error) {
	s := in
	if s.distinct {
		s = c.wrap(s)
	} else {
		s = s.clone()
	}
	columns := make([]outputColumn, 0, len(st.names))
	for _, name := range st.names {
		expr, ok := s.column(name)
		if !ok {
			return nil, &errs.TranslationError{Op: "select", Dialect: c.dialect.String(), Detail: fmt.Sprintf("column %q is not available", name)}
		}
		columns = append(columns, outputColumn{name: name, expr: expr})
	}
	s.columns = columns
	return s, nil
}

type renameStep struct{ from, to string }

func (st renameStep) apply(_ *compiler, _ *Plan, in *queryState) (*queryState, error) {
	s := in.clone()
	for i := range s.columns {
		if s.columns[i].name == st.from {
			s.columns[i].name = st.to
		}
	}
	for i := range s.orderBy {
		if s.orderBy[i].name == st.from {
			s.orderBy[i].name = st.to
		}
	}
	return s, nil
}

type mutateStep struct {
	name string
	expr Expr
}

func (st mutateStep) apply(c *compiler, _ *Plan, in *queryState) (*queryState, error) {
	s := in
	if s.distinct {
		s = c.wrap(s)
	} else {
		s = s.clone()
	}
	expr, err := st.expr.render(s.renderContext(c, "mutate"))
	if err != nil {
		return nil, err
	}

	replaced := false
	for i := range s.columns {
		if s.columns[i].name == st.name {
			s.columns[i].expr = expr
			replaced = true
		}
	}
	if !replaced {
		s.columns = append(s.columns, outputColumn{name: st.name, expr: expr})
	}
	for i := range s.orderBy {
		if s.orderBy[i].name == st.name {
			s.orderBy[i].name = ""
		}
	}
	return s, nil
}

type filterStep struct{ predicate Expr }

func (st filterStep) apply(c *compiler, _ *Plan, in *queryState) (*queryState, error) {
	s := in
	if s.distinct {
		s = c.wrap(s)
	} else {
		s = s.clone()
	}
	pred, err := st.predicate.render(s.renderContext(c, "filter"))
	if err != nil {
		return nil, err
	}
	if s.aggregated {
		s.having = append(s.having, pred)
	} else {
		s.where = append(s.where, pred)
	}
	return s, nil
}

type distinctStep struct{}

func (distinctStep) apply(_ *compiler, _ *Plan, in *queryState) (*queryState, error) {
	s := in.clone()
	s.distinct = true
	kept := s.orderBy[:0]
	for _, item := range s.orderBy {
		if expr, ok := s.column(item.name); ok && item.name != "" {
			item.expr = expr
			kept = append(kept, item)
		}
	}
	s.orderBy = kept
	return s, nil
}

type sortStep struct{ keys []SortKey }

func (st sortStep) apply(c *compiler, _ *Plan, in *queryState) (*queryState, error) {
	s := in.clone()
	for _, key := range st.keys {
		if expr, ok := s.column(key.Column); ok && expr.hasArgs() {
			s = c.wrap(s)
			break
		}
	}
	s.orderBy = nil
	for _, key := range st.keys {
		expr, ok := s.column(key.Column)
		if !ok {
			return nil, &errs.TranslationError{Op: "sort", Dialect: c.dialect.String(), Detail: fmt.Sprintf("column %q is not available", key.Column)}
		}
		s.orderBy = append(s.orderBy, orderItem{name: key.Column, expr: expr, desc: key.Descending})
	}
	return s, nil
}

// groupStep only records keys on the plan; Aggregate consumes them.
type groupStep struct{ keys []string }

func (groupStep) apply(_ *compiler, _ *Plan, in *queryState) (*queryState, error) {
	return in, nil
}

type aggregateStep struct {
	keys []string
	aggs []Aggregation
}

func (st aggregateStep) apply(c *compiler, _ *Plan, in *queryState) (*queryState, error) {
	s := in
	needsWrap := s.aggregated || s.distinct
	for _, key := range st.keys {
		if expr, ok := s.column(key); ok && expr.hasArgs() {
			needsWrap = true
		}
	}
	if needsWrap {
		s = c.wrap(s)
	} else {
		s = s.clone()
	}

	columns := make([]outputColumn, 0, len(st.keys)+len(st.aggs))
	groupBy := make([]string, 0, len(st.keys))
	for _, key := range st.keys {
		expr, ok := s.column(key)
		if !ok {
			return nil, &errs.TranslationError{Op: "aggregate", Dialect: c.dialect.String(), Detail: fmt.Sprintf("grouping key %q is not available", key)}
		}
		columns = append(columns, outputColumn{name: key, expr: expr})
		groupBy = append(groupBy, expr.SQL)
	}

	for _, agg := range st.aggs {
		var input fragment
		if agg.Input != "" {
			var ok bool
			if input, ok = s.column(agg.Input); !ok {
				return nil, &errs.TranslationError{Op: "aggregate", Dialect: c.dialect.String(), Detail: fmt.Sprintf("column %q is not available", agg.Input)}
			}
		}
		expr, ok := aggregateFuncs[agg.Function].render(c.dialect, input)
		if !ok {
			return nil, &errs.TranslationError{
				Op:      "aggregate",
				Dialect: c.dialect.String(),
				Detail:  fmt.Sprintf("%s(%s) for %q has no translation", agg.Function, agg.Input, agg.Output),
			}
		}
		columns = append(columns, outputColumn{name: agg.Output, expr: expr})
	}

	s.columns = columns
	s.groupBy = groupBy
	s.orderBy = nil
	s.aggregated = true
	return s, nil
}

type joinStep struct {
	right   *Plan
	kind    JoinKind
	keys    []JoinKey
	columns []joinColumn
}

func (st joinStep) apply(c *compiler, _ *Plan, in *queryState) (*queryState, error) {
	left := in
	if left.aggregated || left.distinct || (len(left.where) > 0 && (st.kind == RightJoin || st.kind == FullJoin)) {
		left = c.wrap(left)
	} else {
		left = left.clone()
	}
	sorted := left.orderBy
	left.orderBy = nil

	right, err := c.compile(st.right)
	if err != nil {
		return nil, err
	}
	if !right.inlinable() {
		right = c.wrap(right)
	}
	src, err := c.joinSource(right)
	if err != nil {
		return nil, &errs.TranslationError{Op: "join", Dialect: c.dialect.String(), Detail: err.Error()}
	}

	var s *queryState
	if st.kind == FullJoin {
		if s, err = c.fullJoin(st, left, right, src); err != nil {
			return nil, err
		}
	} else {
		s = left
		clause, err := st.clause(c, joinKeyword(st.kind), left, right, src)
		if err != nil {
			return nil, err
		}
		s.joins = append(s.joins, clause)
		if s.columns, err = st.output(c, left, right, st.kind == RightJoin); err != nil {
			return nil, err
		}
	}
	s.orderBy = st.carrySort(sorted, s)
	return s, nil
}

// carrySort maps the left side's sort keys onto the join's output columns.
func (st joinStep) carrySort(keys []orderItem, out *queryState) []orderItem {
	var carried []orderItem
	for _, item := range keys {
		for _, col := range st.columns {
			if col.right || item.name == "" || col.source != item.name {
				continue
			}
			if expr, ok := out.column(col.name); ok {
				carried = append(carried, orderItem{name: col.name, expr: expr, desc: item.desc})
			}
			break
		}
	}
	return carried
}

func joinKeyword(kind JoinKind) string {
	switch kind {
	case LeftJoin:
		return "LEFT JOIN"
	case RightJoin:
		return "RIGHT JOIN"
	default:
		return "INNER JOIN"
	}
}

// clause renders KIND JOIN src ON l1 = r1 AND ...
func (st joinStep) clause(c *compiler, keyword string, left, right *queryState, src fragment) (fragment, error) {
	conds := make([]string, 0, len(st.keys))
	args := slices.Clone(src.Args)
	for _, key := range st.keys {
		l, lok := left.column(key.Left)
		r, rok := right.column(key.Right)
		if !lok || !rok {
			return fragment{}, &errs.TranslationError{Op: "join", Dialect: c.dialect.String(), Detail: fmt.Sprintf("join key %s is not available", key)}
		}
		conds = append(conds, l.SQL+" = "+r.SQL)
		args = append(args, l.Args...)
		args = append(args, r.Args...)
	}
	return fragment{SQL: keyword + " " + src.SQL + " ON " + strings.Join(conds, " AND "), Args: args}, nil
}

// output lists the join's columns. Key columns read the right side when
// rightKeys is set, as the left side is NULL for unmatched right rows.
func (st joinStep) output(c *compiler, left, right *queryState, rightKeys bool) ([]outputColumn, error) {
	columns := make([]outputColumn, 0, len(st.columns))
	for _, col := range st.columns {
		var expr fragment
		var ok bool
		switch {
		case col.key != nil && rightKeys:
			expr, ok = right.column(col.key.Right)
		case col.right:
			expr, ok = right.column(col.source)
		default:
			expr, ok = left.column(col.source)
		}
		if !ok {
			return nil, &errs.TranslationError{Op: "join", Dialect: c.dialect.String(), Detail: fmt.Sprintf("column %q is not available", col.source)}
		}
		columns = append(columns, outputColumn{name: col.name, expr: expr})
	}
	return columns, nil
}

// fullJoin emits LEFT JOIN rows UNION ALL the RIGHT JOIN rows with no left
// match, read back as one derived table.
func (c *compiler) fullJoin(st joinStep, left, right *queryState, src fragment) (*queryState, error) {
	matched := left.clone()
	clause, err := st.clause(c, "LEFT JOIN", left, right, src)
	if err != nil {
		return nil, err
	}
	matched.joins = append(matched.joins, clause)
	if matched.columns, err = st.output(c, left, right, false); err != nil {
		return nil, err
	}

	unmatched := left.clone()
	if clause, err = st.clause(c, "RIGHT JOIN", left, right, src); err != nil {
		return nil, err
	}
	unmatched.joins = append(unmatched.joins, clause)
	if unmatched.columns, err = st.output(c, left, right, true); err != nil {
		return nil, err
	}
	leftKey, _ := left.column(st.keys[0].Left)
	isNull, err := IsNull(Col(st.keys[0].Left)).render(&renderContext{
		op:      "join",
		dialect: c.dialect,
		column: func(string) (fragment, bool) {
			return leftKey, true
		},
	})
	if err != nil {
		return nil, err
	}
	unmatched.where = append(unmatched.where, isNull)

	second, secondArgs, err := c.selectBuilder(unmatched, false).ToSql()
	if err != nil {
		return nil, &errs.TranslationError{Op: "join", Dialect: c.dialect.String(), Detail: err.Error()}
	}
	union := c.selectBuilder(matched, false).Suffix("UNION ALL "+second, secondArgs...)

	out := &queryState{sub: &union, alias: c.nextAlias()}
	for _, col := range matched.columns {
		out.columns = append(out.columns, outputColumn{
			name: col.name,
			expr: fragment{SQL: sqlutil.QualifiedName(out.alias, col.name)},
		})
	}
	return out, nil
}
