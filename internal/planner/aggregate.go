package planner

import (
	"fmt"
	"slices"
	"strings"

	"krsp-query/internal/errs"
	"krsp-query/internal/sqltype"
	"krsp-query/internal/sqlutil"
)

// Aggregation computes one output column from a group of rows.
type Aggregation struct {
	Output   string
	Function string
	// Input is the column aggregated. Empty means the whole row, for count.
	Input string
}

// Agg names an aggregation of input by function into output.
func Agg(output, function, input string) Aggregation {
	return Aggregation{Output: output, Function: function, Input: input}
}

// Count counts rows into output.
func Count(output string) Aggregation {
	return Aggregation{Output: output, Function: "count"}
}

type aggregateFunc struct {
	needsInput bool
	// result is nil when the output keeps the input's category.
	result *sqltype.Category
	render func(d sqlutil.Dialect, input fragment) (fragment, bool)
}

// Functions that require an order-statistic pass have no portable SQL form
// and are refused when the plan is built.
var aggregateFuncs = map[string]aggregateFunc{
	"count":          {result: category(sqltype.Int), render: aggregateCall("COUNT", "COUNT")},
	"count_distinct": {needsInput: true, result: category(sqltype.Int), render: countDistinct},
	"sum":            {needsInput: true, render: aggregateCall("SUM", "SUM")},
	"mean":           {needsInput: true, result: category(sqltype.Float), render: aggregateCall("AVG", "AVG")},
	"min":            {needsInput: true, render: aggregateCall("MIN", "MIN")},
	"max":            {needsInput: true, render: aggregateCall("MAX", "MAX")},
	"stddev":         {needsInput: true, result: category(sqltype.Float), render: aggregateCall("STDDEV_SAMP", "")},
	"variance":       {needsInput: true, result: category(sqltype.Float), render: aggregateCall("VAR_SAMP", "")},
}

// aggregateCall renders NAME(input), or NAME(*) without an input. An empty
// name means the dialect has no translation.
func aggregateCall(mysqlName, sqliteName string) func(sqlutil.Dialect, fragment) (fragment, bool) {
	return func(d sqlutil.Dialect, input fragment) (fragment, bool) {
		name := mysqlName
		if d == sqlutil.SQLite {
			name = sqliteName
		}
		if name == "" {
			return fragment{}, false
		}
		if input.SQL == "" {
			return fragment{SQL: name + "(*)"}, true
		}
		return fragment{SQL: name + "(" + input.SQL + ")", Args: input.Args}, true
	}
}

func countDistinct(_ sqlutil.Dialect, input fragment) (fragment, bool) {
	return fragment{SQL: "COUNT(DISTINCT " + input.SQL + ")", Args: input.Args}, true
}

// Aggregate collapses each group into one row. The output schema is the
// grouping keys followed by the aggregation outputs, and the grouping is
// consumed. Without GroupBy the whole plan is one group.
func (p *Plan) Aggregate(aggs ...Aggregation) (*Plan, error) {
	if len(aggs) == 0 {
		return nil, fmt.Errorf("aggregate: at least one output is required")
	}

	fields := make([]Field, 0, len(p.groups)+len(aggs))
	for _, key := range p.groups {
		f, _ := p.field(key)
		fields = append(fields, f)
	}

	aggs = slices.Clone(aggs)
	for i := range aggs {
		aggs[i].Function = strings.ToLower(strings.TrimSpace(aggs[i].Function))
		agg := aggs[i]
		fn, ok := aggregateFuncs[agg.Function]
		if !ok {
			return nil, &errs.UnsupportedAggregateError{Output: agg.Output, Function: agg.Function}
		}
		if strings.TrimSpace(agg.Output) == "" {
			return nil, fmt.Errorf("aggregate: %s output has no name", agg.Function)
		}
		if slices.ContainsFunc(fields, func(f Field) bool { return f.Name == agg.Output }) {
			return nil, fmt.Errorf("aggregate: output %q is already a column", agg.Output)
		}

		out := Field{Name: agg.Output}
		if agg.Input == "" {
			if fn.needsInput {
				return nil, fmt.Errorf("aggregate %q: %s requires an input column", agg.Output, agg.Function)
			}
		} else if err := p.requireColumns("aggregate", agg.Input); err != nil {
			return nil, err
		}

		switch {
		case fn.result != nil:
			out.Category = *fn.result
		default:
			in, _ := p.field(agg.Input)
			out.Category = in.Category
		}
		fields = append(fields, out)
	}

	return p.derive(aggregateStep{keys: slices.Clone(p.groups), aggs: aggs}, fields, nil), nil
}
