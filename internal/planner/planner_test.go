package planner

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krsp-query/internal/errs"
	"krsp-query/internal/introspection"
	"krsp-query/internal/sqltype"
	"krsp-query/internal/sqlutil"
)

type fakeSource struct {
	dialect sqlutil.Dialect
	tables  map[string]introspection.Table
}

func (f *fakeSource) Dialect() sqlutil.Dialect { return f.dialect }
func (f *fakeSource) Schema() string { return "krsp" }

func (f *fakeSource) DescribeTable(_ context.Context, name string) (introspection.Table, error) {
	table, ok := f.tables[name]
	if !ok {
		return introspection.Table{}, &errs.SchemaError{Schema: "krsp", Table: name}
	}
	return table, nil
}

func columns(spec ...any) []introspection.Column {
	cols := make([]introspection.Column, 0, len(spec)/2)
	for i := 0; i < len(spec); i += 2 {
		cols = append(cols, introspection.Column{Name: spec[i].(string), Category: spec[i+1].(sqltype.Category)})
	}
	return cols
}

func newSource(dialect sqlutil.Dialect) *fakeSource {
	str, num, flt, tm := sqltype.String, sqltype.Int, sqltype.Float, sqltype.Time

	squirrel := introspection.Table{Name: "squirrel"}
	squirrel.Columns = columns("id", num, "gr", str, "sex", str, "colorlft", str, "colorrt", str,
		"taglft", str, "tagrt", str, "locx", str, "locy", str, "trap_date", tm)

	litter := introspection.Table{Name: "litter"}
	litter.Columns = columns("litter_id", num, "squirrel_id", num, "grid", str, "yr", num, "br", num,
		"ln", num, "fieldBDate", tm, "date1", tm, "tagDt", tm)
	litter.ForeignKeys = []introspection.ForeignKey{
		{ColumnName: "squirrel_id", ReferencedTable: "squirrel", ReferencedColumn: "id", ConstraintName: "litter_ibfk_1", OrdinalPosition: 1},
	}

	trapping := introspection.Table{Name: "trapping"}
	trapping.Columns = columns("id", num, "squirrel_id", num, "gr", str, "date", tm, "locx", str, "locy", str,
		"wgt", flt, "ft", num, "obs", str)

	census := introspection.Table{Name: "census"}
	census.Columns = columns("id", num, "squirrel_id", num, "gr", str, "census_date", tm,
		"LocX", str, "LocY", str, "sq_fate", num, "reflo", str)

	return &fakeSource{
		dialect: dialect,
		tables: map[string]introspection.Table{
			"squirrel": squirrel,
			"litter":   litter,
			"trapping": trapping,
			"census":   census,
		},
	}
}

func mustTable(t *testing.T, src Source, name string) *TableRef {
	t.Helper()
	ref, err := Table(t.Context(), src, name)
	require.NoError(t, err)
	return ref
}

func mustSQL(t *testing.T, p *Plan) SQLQuery {
	t.Helper()
	q, err := p.SQL()
	require.NoError(t, err)
	return q
}

func TestTable_MissingTable(t *testing.T) {
	src := newSource(sqlutil.MySQL)

	for _, name := range []string{"nests", "Squirrel"} {
		_, err := Table(t.Context(), src, name)
		var schemaErr *errs.SchemaError
		require.ErrorAs(t, err, &schemaErr, name)
		assert.True(t, errs.IsBuildError(err))
	}
}

func TestScan_MySQLAndSQLite(t *testing.T) {
	q := mustSQL(t, mustTable(t, newSource(sqlutil.MySQL), "census").Plan)
	assert.Equal(t, "SELECT `t0`.`id` AS `id`, `t0`.`squirrel_id` AS `squirrel_id`, `t0`.`gr` AS `gr`, "+
		"`t0`.`census_date` AS `census_date`, `t0`.`LocX` AS `LocX`, `t0`.`LocY` AS `LocY`, "+
		"`t0`.`sq_fate` AS `sq_fate`, `t0`.`reflo` AS `reflo` FROM `krsp`.`census` AS `t0`", q.SQL)
	assert.Empty(t, q.Args)

	sel, err := mustTable(t, newSource(sqlutil.SQLite), "census").Select("gr")
	require.NoError(t, err)
	assert.Equal(t, "SELECT `t0`.`gr` AS `gr` FROM `census` AS `t0`", mustSQL(t, sel).SQL)
}

func TestSelect_UnknownColumnIsCaseSensitive(t *testing.T) {
	census := mustTable(t, newSource(sqlutil.MySQL), "census")

	_, err := census.Select("locx")
	var colErr *errs.ColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "locx", colErr.Column)
	assert.Contains(t, colErr.Available, "LocX")
	assert.Contains(t, err.Error(), `did you mean "LocX"`)

	p, err := census.Select("LocX")
	require.NoError(t, err)
	assert.Equal(t, []string{"LocX"}, p.Columns())
}

func TestPlan_OperationsDoNotModifyReceiver(t *testing.T) {
	squirrel := mustTable(t, newSource(sqlutil.MySQL), "squirrel")
	before := mustSQL(t, squirrel.Plan)

	_, err := squirrel.Select("gr")
	require.NoError(t, err)
	_, err = squirrel.Filter(Eq(Col("gr"), "KL"))
	require.NoError(t, err)
	_, err = squirrel.Rename("gr", "grid")
	require.NoError(t, err)

	assert.Len(t, squirrel.Columns(), 10)
	assert.Equal(t, before, mustSQL(t, squirrel.Plan))
}

func TestSelect_RetainsGroupKeys(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	grouped, err := trapping.GroupBy("squirrel_id")
	require.NoError(t, err)
	p, err := grouped.Select("wgt")
	require.NoError(t, err)
	assert.Equal(t, []string{"squirrel_id", "wgt"}, p.Columns())
	assert.Equal(t, []string{"squirrel_id"}, p.Groups())

	renamed, err := p.Rename("squirrel_id", "sid")
	require.NoError(t, err)
	assert.Equal(t, []string{"sid"}, renamed.Groups())
}

func TestFilter_IsNullIsNeverEquals(t *testing.T) {
	litter := mustTable(t, newSource(sqlutil.MySQL), "litter")

	p, err := litter.Filter(And(IsNull(Col("br")), IsNotNull(Col("ln"))))
	require.NoError(t, err)
	q := mustSQL(t, p)
	assert.Contains(t, q.SQL, "WHERE (`t0`.`br` IS NULL AND `t0`.`ln` IS NOT NULL)")
	assert.NotContains(t, q.SQL, "= NULL")
	assert.Empty(t, q.Args)

	// A comparison against a nil literal is refused rather than emitted.
	p, err = litter.Filter(Eq(Col("br"), nil))
	require.NoError(t, err)
	_, err = p.SQL()
	var transErr *errs.TranslationError
	require.ErrorAs(t, err, &transErr)
	assert.Contains(t, transErr.Detail, "IsNull")
}

func TestFilter_Predicates(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	tests := []struct {
		name      string
		predicate Expr
		where     string
		args      []any
	}{
		{name: "equal", predicate: Eq(Col("gr"), "KL"), where: "`t0`.`gr` = ?", args: []any{"KL"}},
		{name: "not equal", predicate: Ne(Col("gr"), "KL"), where: "`t0`.`gr` <> ?", args: []any{"KL"}},
		{name: "range", predicate: And(Ge(Col("wgt"), 200.0), Lt(Col("wgt"), 300)), where: "(`t0`.`wgt` >= ? AND `t0`.`wgt` < ?)", args: []any{200.0, 300}},
		{name: "or", predicate: Or(Le(Col("ft"), 1), Gt(Col("ft"), 4)), where: "(`t0`.`ft` <= ? OR `t0`.`ft` > ?)", args: []any{1, 4}},
		{name: "not", predicate: Not(Eq(Col("obs"), "SWT")), where: "NOT (`t0`.`obs` = ?)", args: []any{"SWT"}},
		{name: "in", predicate: In(Col("gr"), "KL", "SU"), where: "`t0`.`gr` IN (?,?)", args: []any{"KL", "SU"}},
		{name: "like", predicate: Like(Col("obs"), "S%"), where: "`t0`.`obs` LIKE ?", args: []any{"S%"}},
		{name: "column to column", predicate: Eq(Col("locx"), Col("locy")), where: "`t0`.`locx` = `t0`.`locy`"},
		{name: "function", predicate: Eq(Call("upper", Col("obs")), "SWT"), where: "UPPER(`t0`.`obs`) = ?", args: []any{"SWT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := trapping.Filter(tt.predicate)
			require.NoError(t, err)
			q := mustSQL(t, p)
			assert.Contains(t, q.SQL, " WHERE "+tt.where)
			assert.Equal(t, tt.args, q.Args)
		})
	}
}

func TestFilter_ValidatesColumnsAtBuild(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	_, err := trapping.Filter(Eq(Col("weight"), 1))
	var colErr *errs.ColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "filter", colErr.Op)
}

func TestFilter_TranslationErrorsAreDeferred(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	tests := []struct {
		name      string
		predicate Expr
	}{
		{name: "unknown function", predicate: Eq(Call("soundex", Col("obs")), "S")},
		{name: "wrong arity", predicate: Eq(Call("lower", Col("obs"), Col("gr")), "s")},
		{name: "binary literal", predicate: Eq(Col("obs"), []byte("S"))},
		{name: "unsupported literal", predicate: Eq(Col("obs"), struct{}{})},
		{name: "null in list", predicate: In(Col("gr"), "KL", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := trapping.Filter(tt.predicate)
			require.NoError(t, err)

			_, err = p.SQL()
			var transErr *errs.TranslationError
			require.ErrorAs(t, err, &transErr)
			assert.Equal(t, "mysql", transErr.Dialect)
			assert.False(t, errs.IsBuildError(err))
		})
	}
}

func TestMutate_DialectFunctions(t *testing.T) {
	tests := []struct {
		dialect sqlutil.Dialect
		expr    Expr
		want    string
	}{
		{sqlutil.MySQL, Call("concat", Col("colorlft"), Col("colorrt")), "CONCAT(`t0`.`colorlft`, `t0`.`colorrt`)"},
		{sqlutil.SQLite, Call("concat", Col("colorlft"), Col("colorrt")), "(`t0`.`colorlft` || `t0`.`colorrt`)"},
		{sqlutil.MySQL, Call("length", Col("taglft")), "CHAR_LENGTH(`t0`.`taglft`)"},
		{sqlutil.SQLite, Call("length", Col("taglft")), "LENGTH(`t0`.`taglft`)"},
		{sqlutil.MySQL, Call("year", Col("trap_date")), "YEAR(`t0`.`trap_date`)"},
		{sqlutil.SQLite, Call("year", Col("trap_date")), "CAST(strftime('%Y', `t0`.`trap_date`) AS INTEGER)"},
		{sqlutil.SQLite, Call("coalesce", Col("tagrt"), "NA"), "COALESCE(`t0`.`tagrt`, ?)"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.String()+"/"+tt.expr.String(), func(t *testing.T) {
			squirrel := mustTable(t, newSource(tt.dialect), "squirrel")
			p, err := squirrel.Mutate("out", tt.expr)
			require.NoError(t, err)
			p, err = p.Select("out")
			require.NoError(t, err)
			assert.Contains(t, mustSQL(t, p).SQL, "SELECT "+tt.want+" AS `out` FROM")
		})
	}
}

func TestMutate_ReplacesColumnInPlace(t *testing.T) {
	squirrel := mustTable(t, newSource(sqlutil.MySQL), "squirrel")

	p, err := squirrel.Mutate("gr", Call("lower", Col("gr")))
	require.NoError(t, err)
	assert.Equal(t, squirrel.Columns(), p.Columns())

	p, err = p.Mutate("tag_length", Call("length", Col("taglft")))
	require.NoError(t, err)
	fields := p.Fields()
	assert.Equal(t, "tag_length", fields[len(fields)-1].Name)
	assert.Equal(t, sqltype.Int, fields[len(fields)-1].Category)
}

func TestRename_RejectsExistingName(t *testing.T) {
	squirrel := mustTable(t, newSource(sqlutil.MySQL), "squirrel")

	_, err := squirrel.Rename("gr", "sex")
	assert.ErrorContains(t, err, "already exists")

	_, err = squirrel.Rename("grid", "gr2")
	var colErr *errs.ColumnError
	assert.ErrorAs(t, err, &colErr)
}

func TestJoin_AmbiguousWithoutCommonColumns(t *testing.T) {
	src := newSource(sqlutil.MySQL)
	litter := mustTable(t, src, "litter")
	squirrel := mustTable(t, src, "squirrel")

	_, err := Join(litter, squirrel, InnerJoin)
	var joinErr *errs.AmbiguousJoinError
	require.ErrorAs(t, err, &joinErr)
	assert.Equal(t, "litter", joinErr.Left)
	assert.Equal(t, "squirrel", joinErr.Right)
	assert.Equal(t, []errs.KeyPair{{Left: "squirrel_id", Right: "id"}}, joinErr.Suggestions)
	assert.True(t, errs.IsBuildError(err))
}

func TestJoin_InfersCommonColumnNames(t *testing.T) {
	src := newSource(sqlutil.MySQL)
	trapping := mustTable(t, src, "trapping")
	census := mustTable(t, src, "census")

	p, err := trapping.Join(census, InnerJoin)
	require.NoError(t, err)
	// id, squirrel_id and gr are shared; LocX and locx differ by case.
	assert.Equal(t, []string{"id", "squirrel_id", "gr", "date", "locx", "locy", "wgt", "ft", "obs",
		"census_date", "LocX", "LocY", "sq_fate", "reflo"}, p.Columns())
	assert.Contains(t, mustSQL(t, p).SQL,
		"INNER JOIN `krsp`.`census` AS `t1` ON `t0`.`id` = `t1`.`id` AND `t0`.`squirrel_id` = `t1`.`squirrel_id` AND `t0`.`gr` = `t1`.`gr`")
}

func TestJoin_SuffixesCollidingColumns(t *testing.T) {
	src := newSource(sqlutil.MySQL)
	trapping := mustTable(t, src, "trapping")
	census := mustTable(t, src, "census")

	p, err := Join(trapping, census, LeftJoin, Using("squirrel_id"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id.x", "squirrel_id", "gr.x", "date", "locx", "locy", "wgt", "ft", "obs",
		"id.y", "gr.y", "census_date", "LocX", "LocY", "sq_fate", "reflo"}, p.Columns())

	q := mustSQL(t, p)
	assert.Contains(t, q.SQL, "`t0`.`id` AS `id.x`")
	assert.Contains(t, q.SQL, "`t1`.`gr` AS `gr.y`")
	assert.Contains(t, q.SQL, "LEFT JOIN `krsp`.`census` AS `t1` ON `t0`.`squirrel_id` = `t1`.`squirrel_id`")
}

func TestJoin_ValidatesExplicitKeys(t *testing.T) {
	src := newSource(sqlutil.MySQL)
	litter := mustTable(t, src, "litter")
	squirrel := mustTable(t, src, "squirrel")

	_, err := Join(litter, squirrel, InnerJoin, On("squirrel_id", "ID"))
	var colErr *errs.ColumnError
	require.ErrorAs(t, err, &colErr)
	assert.Equal(t, "ID", colErr.Column)
}

func TestJoin_RequiresSameSource(t *testing.T) {
	litter := mustTable(t, newSource(sqlutil.MySQL), "litter")
	squirrel := mustTable(t, newSource(sqlutil.MySQL), "squirrel")

	_, err := Join(litter, squirrel, InnerJoin, On("squirrel_id", "id"))
	assert.ErrorContains(t, err, "different connections")
}

func TestJoin_RightSideWithFilterIsWrapped(t *testing.T) {
	src := newSource(sqlutil.MySQL)
	squirrel := mustTable(t, src, "squirrel")
	trapping := mustTable(t, src, "trapping")

	trapped, err := trapping.Filter(Eq(Call("year", Col("date")), 2015))
	require.NoError(t, err)
	trapped, err = trapped.Select("squirrel_id")
	require.NoError(t, err)

	p, err := Join(squirrel, trapped, LeftJoin, On("id", "squirrel_id"))
	require.NoError(t, err)
	q := mustSQL(t, p)
	assert.Contains(t, q.SQL, "LEFT JOIN (SELECT `t1`.`squirrel_id` AS `squirrel_id` FROM `krsp`.`trapping` AS `t1` "+
		"WHERE YEAR(`t1`.`date`) = ?) AS `t2` ON `t0`.`id` = `t2`.`squirrel_id`")
	assert.Equal(t, []any{2015}, q.Args)
}

func TestJoin_FullJoinEmulation(t *testing.T) {
	src := newSource(sqlutil.MySQL)
	squirrel, err := mustTable(t, src, "squirrel").Select("id", "gr")
	require.NoError(t, err)
	litter, err := mustTable(t, src, "litter").Select("squirrel_id", "yr")
	require.NoError(t, err)

	p, err := Join(squirrel, litter, FullJoin, On("id", "squirrel_id"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "gr", "yr"}, p.Columns())

	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	g.Assert(t, "full_join", []byte(mustSQL(t, p).SQL+"\n"))
}

func TestAggregate_GroupedCounts(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	grouped, err := trapping.GroupBy("squirrel_id")
	require.NoError(t, err)
	p, err := grouped.Aggregate(Count("n"), Agg("mean_wgt", "mean", "wgt"), Agg("max_ft", "max", "ft"))
	require.NoError(t, err)

	assert.Equal(t, []string{"squirrel_id", "n", "mean_wgt", "max_ft"}, p.Columns())
	assert.Empty(t, p.Groups())
	fields := p.Fields()
	assert.Equal(t, sqltype.Int, fields[1].Category)
	assert.Equal(t, sqltype.Float, fields[2].Category)
	assert.Equal(t, sqltype.Int, fields[3].Category)

	assert.Equal(t, "SELECT `t0`.`squirrel_id` AS `squirrel_id`, COUNT(*) AS `n`, AVG(`t0`.`wgt`) AS `mean_wgt`, "+
		"MAX(`t0`.`ft`) AS `max_ft` FROM `krsp`.`trapping` AS `t0` GROUP BY `t0`.`squirrel_id`", mustSQL(t, p).SQL)
}

func TestAggregate_FilterAfterAggregateIsHaving(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	filtered, err := trapping.Filter(IsNotNull(Col("wgt")))
	require.NoError(t, err)
	grouped, err := filtered.GroupBy("squirrel_id")
	require.NoError(t, err)
	p, err := grouped.Aggregate(Count("n"))
	require.NoError(t, err)
	p, err = p.Filter(Gt(Col("n"), 1))
	require.NoError(t, err)
	p, err = p.Sort(Desc("n"))
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	g.Assert(t, "having", []byte(mustSQL(t, p).SQL+"\n"))
}

func TestAggregate_UnsupportedFunctionsFailAtBuild(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	for _, fn := range []string{"median", "quantile", "mode"} {
		_, err := trapping.Aggregate(Agg("w", fn, "wgt"))
		var aggErr *errs.UnsupportedAggregateError
		require.ErrorAs(t, err, &aggErr, fn)
		assert.Equal(t, fn, aggErr.Function)
		assert.True(t, errs.IsBuildError(err))
	}
}

func TestAggregate_FunctionNamesIgnoreCase(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	aggs := []Aggregation{
		{Output: "total", Function: "SUM", Input: "wgt"},
		{Output: "n", Function: "Count"},
	}
	p, err := trapping.Aggregate(aggs...)
	require.NoError(t, err)
	assert.Equal(t, "SUM", aggs[0].Function)
	assert.Equal(t, "SELECT SUM(`t0`.`wgt`) AS `total`, COUNT(*) AS `n` FROM `krsp`.`trapping` AS `t0`", mustSQL(t, p).SQL)

	_, err = trapping.Aggregate(Aggregation{Output: "mid", Function: "MEDIAN", Input: "wgt"})
	var aggErr *errs.UnsupportedAggregateError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, "median", aggErr.Function)
}

func TestAggregate_Validation(t *testing.T) {
	trapping := mustTable(t, newSource(sqlutil.MySQL), "trapping")

	_, err := trapping.Aggregate(Agg("n", "sum", ""))
	assert.ErrorContains(t, err, "requires an input column")

	_, err = trapping.Aggregate(Agg("w", "sum", "weight"))
	var colErr *errs.ColumnError
	assert.ErrorAs(t, err, &colErr)

	grouped, err := trapping.GroupBy("gr")
	require.NoError(t, err)
	_, err = grouped.Aggregate(Count("gr"))
	assert.ErrorContains(t, err, "already a column")
}

func TestAggregate_StddevByDialect(t *testing.T) {
	p, err := mustTable(t, newSource(sqlutil.MySQL), "trapping").Aggregate(Agg("sd", "stddev", "wgt"), Agg("var", "variance", "wgt"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT STDDEV_SAMP(`t0`.`wgt`) AS `sd`, VAR_SAMP(`t0`.`wgt`) AS `var` FROM `krsp`.`trapping` AS `t0`", mustSQL(t, p).SQL)

	p, err = mustTable(t, newSource(sqlutil.SQLite), "trapping").Aggregate(Agg("sd", "stddev", "wgt"))
	require.NoError(t, err)
	_, err = p.SQL()
	var transErr *errs.TranslationError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, "sqlite", transErr.Dialect)
}

func TestAggregate_ComputedGroupKey(t *testing.T) {
	census := mustTable(t, newSource(sqlutil.MySQL), "census")

	p, err := census.Mutate("year", Call("year", Col("census_date")))
	require.NoError(t, err)
	p, err = p.GroupBy("year")
	require.NoError(t, err)
	p, err = p.Aggregate(Count("n"), Agg("grids", "count_distinct", "gr"))
	require.NoError(t, err)

	assert.Equal(t, "SELECT YEAR(`t0`.`census_date`) AS `year`, COUNT(*) AS `n`, COUNT(DISTINCT `t0`.`gr`) AS `grids` "+
		"FROM `krsp`.`census` AS `t0` GROUP BY YEAR(`t0`.`census_date`)", mustSQL(t, p).SQL)
}

func TestAggregate_GroupKeyWithArgsIsWrapped(t *testing.T) {
	squirrel := mustTable(t, newSource(sqlutil.MySQL), "squirrel")

	p, err := squirrel.Mutate("colors", Call("concat_ws", "/", Col("colorlft"), Col("colorrt")))
	require.NoError(t, err)
	p, err = p.GroupBy("colors")
	require.NoError(t, err)
	p, err = p.Aggregate(Count("n"))
	require.NoError(t, err)

	q := mustSQL(t, p)
	assert.Contains(t, q.SQL, "GROUP BY `t1`.`colors`")
	assert.Contains(t, q.SQL, "CONCAT_WS(?, `t0`.`colorlft`, `t0`.`colorrt`) AS `colors`")
	assert.Equal(t, []any{"/"}, q.Args)
}

func TestSort_MultipleKeysAndReplacement(t *testing.T) {
	squirrel := mustTable(t, newSource(sqlutil.MySQL), "squirrel")

	p, err := squirrel.Sort(Desc("sex"))
	require.NoError(t, err)
	p, err = p.Sort(Asc("gr"), Desc("trap_date"))
	require.NoError(t, err)
	q := mustSQL(t, p)
	assert.Contains(t, q.SQL, " ORDER BY `t0`.`gr`, `t0`.`trap_date` DESC")
	assert.NotContains(t, q.SQL, "`t0`.`sex` DESC")

	_, err = squirrel.Sort(Asc("Gr"))
	var colErr *errs.ColumnError
	assert.ErrorAs(t, err, &colErr)
}

func TestSort_CarriesThroughJoin(t *testing.T) {
	src := newSource(sqlutil.MySQL)
	squirrel, err := mustTable(t, src, "squirrel").Select("id", "gr")
	require.NoError(t, err)
	squirrel, err = squirrel.Sort(Desc("id"))
	require.NoError(t, err)
	litter, err := mustTable(t, src, "litter").Select("squirrel_id", "grid")
	require.NoError(t, err)

	p, err := Join(squirrel, litter, LeftJoin, On("id", "squirrel_id"))
	require.NoError(t, err)
	assert.Contains(t, mustSQL(t, p).SQL, " ORDER BY `t0`.`id` DESC")

	p, err = Join(squirrel, litter, FullJoin, On("id", "squirrel_id"))
	require.NoError(t, err)
	q := mustSQL(t, p).SQL
	assert.Contains(t, q, "UNION ALL")
	assert.Regexp(t, " ORDER BY `t\\d+`\\.`id` DESC$", q)
}

func TestDistinct_FilterAfterDistinctIsWrapped(t *testing.T) {
	census := mustTable(t, newSource(sqlutil.MySQL), "census")

	p, err := census.Select("gr")
	require.NoError(t, err)
	p, err = p.Distinct().Filter(Eq(Col("gr"), "KL"))
	require.NoError(t, err)

	q := mustSQL(t, p)
	assert.Equal(t, "SELECT `t1`.`gr` AS `gr` FROM (SELECT DISTINCT `t0`.`gr` AS `gr` FROM `krsp`.`census` AS `t0`) AS `t1` "+
		"WHERE `t1`.`gr` = ?", q.SQL)
	assert.Equal(t, []any{"KL"}, q.Args)
}

func TestCompile_Limit(t *testing.T) {
	squirrel := mustTable(t, newSource(sqlutil.MySQL), "squirrel")
	p, err := squirrel.Select("id")
	require.NoError(t, err)

	q, err := p.Compile(11)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `t0`.`id` AS `id` FROM `krsp`.`squirrel` AS `t0` LIMIT 11", q.SQL)
}

func TestCompile_IsDeterministic(t *testing.T) {
	src := newSource(sqlutil.MySQL)
	litter := mustTable(t, src, "litter")
	squirrel := mustTable(t, src, "squirrel")

	p, err := Join(litter, squirrel, InnerJoin, On("squirrel_id", "id"))
	require.NoError(t, err)
	p, err = p.Filter(Eq(Col("yr"), 2015))
	require.NoError(t, err)

	first := mustSQL(t, p)
	second := mustSQL(t, p)
	assert.Equal(t, first, second)
}
