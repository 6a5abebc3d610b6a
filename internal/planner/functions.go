package planner

import (
	"fmt"
	"strings"

	"krsp-query/internal/sqltype"
	"krsp-query/internal/sqlutil"
)

type callExpr struct {
	name string
	args []Expr
}

// Call applies a scalar function. Arguments are Exprs or literal values.
// Functions without a translation for the handle's dialect fail when the
// plan is compiled.
func Call(name string, args ...any) Expr {
	exprs := make([]Expr, len(args))
	for i, arg := range args {
		exprs[i] = asExpr(arg)
	}
	return callExpr{name: strings.ToLower(name), args: exprs}
}

func (e callExpr) String() string {
	parts := make([]string, len(e.args))
	for i, arg := range e.args {
		parts[i] = arg.String()
	}
	return e.name + "(" + strings.Join(parts, ", ") + ")"
}

func (e callExpr) refs() []string {
	var out []string
	for _, arg := range e.args {
		out = append(out, arg.refs()...)
	}
	return out
}

func (e callExpr) category(p *Plan) sqltype.Category {
	fn, ok := functions[e.name]
	if !ok {
		return sqltype.String
	}
	if fn.result != nil {
		return *fn.result
	}
	if len(e.args) > 0 {
		return e.args[0].category(p)
	}
	return sqltype.String
}

func (e callExpr) render(rc *renderContext) (fragment, error) {
	fn, ok := functions[e.name]
	if !ok {
		return fragment{}, rc.translationError("function %q has no SQL translation", e.name)
	}
	if len(e.args) < fn.minArgs || (fn.maxArgs >= 0 && len(e.args) > fn.maxArgs) {
		return fragment{}, rc.translationError("function %q takes %s, got %d", e.name, fn.arity(), len(e.args))
	}

	args := make([]fragment, len(e.args))
	for i, arg := range e.args {
		frag, err := arg.render(rc)
		if err != nil {
			return fragment{}, err
		}
		args[i] = frag
	}

	switch rc.dialect {
	case sqlutil.SQLite:
		if fn.sqlite != nil {
			return fn.sqlite(args), nil
		}
	default:
		if fn.mysql != nil {
			return fn.mysql(args), nil
		}
	}
	return fragment{}, rc.translationError("function %q is not available", e.name)
}

type function struct {
	minArgs int
	// maxArgs is -1 for variadic functions.
	maxArgs int
	// result is nil when the function returns its first argument's category.
	result *sqltype.Category
	mysql  func(args []fragment) fragment
	sqlite func(args []fragment) fragment
}

func (f function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", f.minArgs)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("%d arguments", f.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
	}
}

func category(c sqltype.Category) *sqltype.Category { return &c }

// named renders NAME(arg, ...).
func named(name string) func([]fragment) fragment {
	return func(args []fragment) fragment {
		return joinFragments(name+"(", args, ", ", ")")
	}
}

// datePart renders strftime extraction cast back to an integer.
func datePart(format string) func([]fragment) fragment {
	return func(args []fragment) fragment {
		return joinFragments("CAST(strftime('"+format+"', ", args, ", ", ") AS INTEGER)")
	}
}

// pipeConcat renders (a || b) for stores without CONCAT.
func pipeConcat(args []fragment) fragment {
	return joinFragments("(", args, " || ", ")")
}

func joinFragments(prefix string, args []fragment, sep, suffix string) fragment {
	var sb strings.Builder
	var bound []any
	sb.WriteString(prefix)
	for i, arg := range args {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(arg.SQL)
		bound = append(bound, arg.Args...)
	}
	sb.WriteString(suffix)
	return fragment{SQL: sb.String(), Args: bound}
}

var functions = map[string]function{
	"lower":     {minArgs: 1, maxArgs: 1, result: category(sqltype.String), mysql: named("LOWER"), sqlite: named("LOWER")},
	"upper":     {minArgs: 1, maxArgs: 1, result: category(sqltype.String), mysql: named("UPPER"), sqlite: named("UPPER")},
	"abs":       {minArgs: 1, maxArgs: 1, mysql: named("ABS"), sqlite: named("ABS")},
	"round":     {minArgs: 1, maxArgs: 2, result: category(sqltype.Float), mysql: named("ROUND"), sqlite: named("ROUND")},
	"coalesce":  {minArgs: 1, maxArgs: -1, mysql: named("COALESCE"), sqlite: named("COALESCE")},
	"concat":    {minArgs: 1, maxArgs: -1, result: category(sqltype.String), mysql: named("CONCAT"), sqlite: pipeConcat},
	"concat_ws": {minArgs: 2, maxArgs: -1, result: category(sqltype.String), mysql: named("CONCAT_WS"), sqlite: named("CONCAT_WS")},
	"length":    {minArgs: 1, maxArgs: 1, result: category(sqltype.Int), mysql: named("CHAR_LENGTH"), sqlite: named("LENGTH")},
	"year":      {minArgs: 1, maxArgs: 1, result: category(sqltype.Int), mysql: named("YEAR"), sqlite: datePart("%Y")},
	"month":     {minArgs: 1, maxArgs: 1, result: category(sqltype.Int), mysql: named("MONTH"), sqlite: datePart("%m")},
	"day":       {minArgs: 1, maxArgs: 1, result: category(sqltype.Int), mysql: named("DAY"), sqlite: datePart("%d")},
}
