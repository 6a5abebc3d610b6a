package planner

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"krsp-query/internal/errs"
	"krsp-query/internal/sqltype"
	"krsp-query/internal/sqlutil"
)

// Expr is a column expression used by Filter and Mutate.
type Expr interface {
	fmt.Stringer
	// refs lists the columns the expression reads.
	refs() []string
	category(p *Plan) sqltype.Category
	render(rc *renderContext) (fragment, error)
}

// fragment is a piece of SQL with its bound arguments.
type fragment struct {
	SQL  string
	Args []any
}

func (f fragment) hasArgs() bool { return len(f.Args) > 0 }

// renderContext resolves column names against the query being compiled.
type renderContext struct {
	op      string
	dialect sqlutil.Dialect
	column  func(name string) (fragment, bool)
}

func (rc *renderContext) translationError(format string, args ...any) error {
	return &errs.TranslationError{Op: rc.op, Dialect: rc.dialect.String(), Detail: fmt.Sprintf(format, args...)}
}

func fromSqlizer(s sq.Sqlizer) (fragment, error) {
	sql, args, err := s.ToSql()
	if err != nil {
		return fragment{}, err
	}
	return fragment{SQL: sql, Args: args}, nil
}

func validateExpr(op string, e Expr, p *Plan) error {
	if e == nil {
		return fmt.Errorf("%s: expression is nil", op)
	}
	return p.requireColumns(op, e.refs()...)
}

type colExpr struct{ name string }

// Col references a column of the plan's output schema by exact name.
func Col(name string) Expr { return colExpr{name: name} }

func (e colExpr) String() string { return e.name }
func (e colExpr) refs() []string { return []string{e.name} }
func (e colExpr) category(p *Plan) sqltype.Category {
	f, _ := p.field(e.name)
	return f.Category
}

func (e colExpr) render(rc *renderContext) (fragment, error) {
	frag, ok := rc.column(e.name)
	if !ok {
		return fragment{}, rc.translationError("column %q is not available at this point of the query", e.name)
	}
	return frag, nil
}

type litExpr struct{ value any }

// Lit is a literal value bound as a query argument.
func Lit(value any) Expr { return litExpr{value: value} }

func asExpr(v any) Expr {
	if e, ok := v.(Expr); ok {
		return e
	}
	return Lit(v)
}

func (e litExpr) String() string {
	if s, ok := e.value.(string); ok {
		return sqlutil.QuoteString(s)
	}
	return fmt.Sprint(e.value)
}

func (e litExpr) refs() []string { return nil }

func (e litExpr) category(*Plan) sqltype.Category {
	switch e.value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return sqltype.Int
	case float32, float64:
		return sqltype.Float
	case bool:
		return sqltype.Bool
	case time.Time:
		return sqltype.Time
	default:
		return sqltype.String
	}
}

func (e litExpr) render(rc *renderContext) (fragment, error) {
	if e.value == nil {
		return fragment{SQL: "NULL"}, nil
	}
	v, err := bindValue(rc, e.value)
	if err != nil {
		return fragment{}, err
	}
	return fragment{SQL: "?", Args: []any{v}}, nil
}

// bindValue accepts the scalar types both drivers bind natively.
func bindValue(rc *renderContext, v any) (any, error) {
	switch v := v.(type) {
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, time.Time:
		return v, nil
	case []byte:
		return nil, rc.translationError("binary literals are not supported")
	default:
		return nil, rc.translationError("unsupported literal type %T", v)
	}
}

type cmpExpr struct {
	op    string
	left  Expr
	right Expr
}

// Eq compares left = right. right is an Expr or a literal value.
func Eq(left Expr, right any) Expr { return cmpExpr{op: "=", left: left, right: asExpr(right)} }

// Ne compares left <> right.
func Ne(left Expr, right any) Expr { return cmpExpr{op: "<>", left: left, right: asExpr(right)} }

// Lt compares left < right.
func Lt(left Expr, right any) Expr { return cmpExpr{op: "<", left: left, right: asExpr(right)} }

// Le compares left <= right.
func Le(left Expr, right any) Expr { return cmpExpr{op: "<=", left: left, right: asExpr(right)} }

// Gt compares left > right.
func Gt(left Expr, right any) Expr { return cmpExpr{op: ">", left: left, right: asExpr(right)} }

// Ge compares left >= right.
func Ge(left Expr, right any) Expr { return cmpExpr{op: ">=", left: left, right: asExpr(right)} }

func (e cmpExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.left, e.op, e.right)
}

func (e cmpExpr) refs() []string { return append(e.left.refs(), e.right.refs()...) }
func (e cmpExpr) category(*Plan) sqltype.Category { return sqltype.Bool }

func (e cmpExpr) render(rc *renderContext) (fragment, error) {
	if isNullLit(e.left) || isNullLit(e.right) {
		return fragment{}, rc.translationError("comparison %q against NULL never matches; use IsNull or IsNotNull", e.String())
	}

	left, err := e.left.render(rc)
	if err != nil {
		return fragment{}, err
	}
	if lit, ok := e.right.(litExpr); ok && !left.hasArgs() {
		v, err := bindValue(rc, lit.value)
		if err != nil {
			return fragment{}, err
		}
		return fromSqlizer(comparison(e.op, left.SQL, v))
	}

	right, err := e.right.render(rc)
	if err != nil {
		return fragment{}, err
	}
	return fragment{
		SQL:  left.SQL + " " + e.op + " " + right.SQL,
		Args: append(append([]any{}, left.Args...), right.Args...),
	}, nil
}

func comparison(op, column string, v any) sq.Sqlizer {
	switch op {
	case "<>":
		return sq.NotEq{column: v}
	case "<":
		return sq.Lt{column: v}
	case "<=":
		return sq.LtOrEq{column: v}
	case ">":
		return sq.Gt{column: v}
	case ">=":
		return sq.GtOrEq{column: v}
	default:
		return sq.Eq{column: v}
	}
}

func isNullLit(e Expr) bool {
	lit, ok := e.(litExpr)
	return ok && lit.value == nil
}

type nullExpr struct {
	expr Expr
	not  bool
}

// IsNull matches rows where expr is NULL.
func IsNull(expr Expr) Expr { return nullExpr{expr: expr} }

// IsNotNull matches rows where expr is not NULL.
func IsNotNull(expr Expr) Expr { return nullExpr{expr: expr, not: true} }

func (e nullExpr) String() string {
	if e.not {
		return e.expr.String() + " IS NOT NULL"
	}
	return e.expr.String() + " IS NULL"
}

func (e nullExpr) refs() []string { return e.expr.refs() }
func (e nullExpr) category(*Plan) sqltype.Category { return sqltype.Bool }

func (e nullExpr) render(rc *renderContext) (fragment, error) {
	inner, err := e.expr.render(rc)
	if err != nil {
		return fragment{}, err
	}
	if inner.hasArgs() {
		suffix := " IS NULL"
		if e.not {
			suffix = " IS NOT NULL"
		}
		return fragment{SQL: inner.SQL + suffix, Args: inner.Args}, nil
	}
	if e.not {
		return fromSqlizer(sq.NotEq{inner.SQL: nil})
	}
	return fromSqlizer(sq.Eq{inner.SQL: nil})
}

type inExpr struct {
	expr   Expr
	values []any
}

// In matches rows where expr equals one of values.
func In(expr Expr, values ...any) Expr { return inExpr{expr: expr, values: values} }

func (e inExpr) String() string {
	parts := make([]string, len(e.values))
	for i, v := range e.values {
		parts[i] = Lit(v).String()
	}
	return fmt.Sprintf("%s IN (%s)", e.expr, strings.Join(parts, ", "))
}

func (e inExpr) refs() []string { return e.expr.refs() }
func (e inExpr) category(*Plan) sqltype.Category { return sqltype.Bool }

func (e inExpr) render(rc *renderContext) (fragment, error) {
	inner, err := e.expr.render(rc)
	if err != nil {
		return fragment{}, err
	}
	values := make([]any, len(e.values))
	for i, v := range e.values {
		if v == nil {
			return fragment{}, rc.translationError("IN list of %s contains NULL; combine with IsNull instead", e.expr)
		}
		if values[i], err = bindValue(rc, v); err != nil {
			return fragment{}, err
		}
	}
	if len(values) == 0 {
		return fragment{SQL: "(1=0)"}, nil
	}
	if !inner.hasArgs() {
		return fromSqlizer(sq.Eq{inner.SQL: values})
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	return fragment{
		SQL:  inner.SQL + " IN (" + placeholders + ")",
		Args: append(append([]any{}, inner.Args...), values...),
	}, nil
}

type likeExpr struct {
	expr    Expr
	pattern string
}

// Like matches expr against a SQL LIKE pattern.
func Like(expr Expr, pattern string) Expr { return likeExpr{expr: expr, pattern: pattern} }

func (e likeExpr) String() string {
	return fmt.Sprintf("%s LIKE %s", e.expr, sqlutil.QuoteString(e.pattern))
}

func (e likeExpr) refs() []string { return e.expr.refs() }
func (e likeExpr) category(*Plan) sqltype.Category { return sqltype.Bool }

func (e likeExpr) render(rc *renderContext) (fragment, error) {
	inner, err := e.expr.render(rc)
	if err != nil {
		return fragment{}, err
	}
	if !inner.hasArgs() {
		return fromSqlizer(sq.Like{inner.SQL: e.pattern})
	}
	return fragment{SQL: inner.SQL + " LIKE ?", Args: append(append([]any{}, inner.Args...), e.pattern)}, nil
}

type logicExpr struct {
	op    string
	exprs []Expr
}

// And holds when every expression holds.
func And(exprs ...Expr) Expr { return logicExpr{op: "AND", exprs: exprs} }

// Or holds when any expression holds.
func Or(exprs ...Expr) Expr { return logicExpr{op: "OR", exprs: exprs} }

func (e logicExpr) String() string {
	parts := make([]string, len(e.exprs))
	for i, sub := range e.exprs {
		parts[i] = sub.String()
	}
	return "(" + strings.Join(parts, " "+e.op+" ") + ")"
}

func (e logicExpr) refs() []string {
	var out []string
	for _, sub := range e.exprs {
		out = append(out, sub.refs()...)
	}
	return out
}

func (e logicExpr) category(*Plan) sqltype.Category { return sqltype.Bool }

func (e logicExpr) render(rc *renderContext) (fragment, error) {
	parts := make([]sq.Sqlizer, len(e.exprs))
	for i, sub := range e.exprs {
		frag, err := sub.render(rc)
		if err != nil {
			return fragment{}, err
		}
		parts[i] = sq.Expr(frag.SQL, frag.Args...)
	}
	if e.op == "OR" {
		return fromSqlizer(sq.Or(parts))
	}
	return fromSqlizer(sq.And(parts))
}

type notExpr struct{ expr Expr }

// Not negates expr.
func Not(expr Expr) Expr { return notExpr{expr: expr} }

func (e notExpr) String() string { return "NOT (" + e.expr.String() + ")" }
func (e notExpr) refs() []string { return e.expr.refs() }
func (e notExpr) category(*Plan) sqltype.Category { return sqltype.Bool }

func (e notExpr) render(rc *renderContext) (fragment, error) {
	inner, err := e.expr.render(rc)
	if err != nil {
		return fragment{}, err
	}
	return fragment{SQL: "NOT (" + inner.SQL + ")", Args: inner.Args}, nil
}
