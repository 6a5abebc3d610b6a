package catalog

import (
	"context"
	"sync"

	"krsp-query/internal/planner"
)

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := New(
		littersMissingBreedingCode,
		trappingByGrid,
		trappingCounts,
		juvenilesByLitterYear,
		censusByGrid,
		behaviourForSquirrel,
		squirrelsNeverTrapped,
	)
	if err != nil {
		panic(err)
	}
	return c
})

// Default returns the standard krsp query catalog.
func Default() *Catalog { return defaultCatalog() }

var yearParam = Param{Name: "year", Kind: IntParam, Description: "field season, e.g. 2015"}

var littersMissingBreedingCode = Entry{
	Name:        "litters-missing-breeding-code",
	Description: "Litters of a year whose breeding status code was never recorded, with the mother's identification",
	Params:      []Param{yearParam},
	Build: func(ctx context.Context, src planner.Source, args Args) (*planner.Plan, error) {
		litter, err := planner.Table(ctx, src, "litter")
		if err != nil {
			return nil, err
		}
		squirrel, err := planner.Table(ctx, src, "squirrel")
		if err != nil {
			return nil, err
		}
		joined, err := planner.Join(litter, squirrel, planner.InnerJoin, planner.On("squirrel_id", "id"))
		if err != nil {
			return nil, err
		}
		return chain(joined,
			filter(planner.And(
				planner.IsNull(planner.Col("br")),
				planner.Eq(planner.Col("yr"), args.Int("year")),
			)),
			mutate("colors", slashed("colorlft", "colorrt")),
			mutate("tags", slashed("taglft", "tagrt")),
			mutate("location", slashed("locx", "locy")),
			rename("squirrel_id", "id"),
			rename("trap_date", "trapDate"),
			sortBy(planner.Asc("grid"), planner.Asc("trapDate")),
			selectCols("grid", "id", "colors", "tags", "location", "trapDate"),
		)
	},
}

var trappingByGrid = Entry{
	Name:        "trapping-by-grid",
	Description: "Trapping records on one grid during a year, in trapping order",
	Params: []Param{
		{Name: "grid", Kind: StringParam, Description: "grid code, e.g. KL"},
		yearParam,
	},
	Build: func(ctx context.Context, src planner.Source, args Args) (*planner.Plan, error) {
		trapping, err := planner.Table(ctx, src, "trapping")
		if err != nil {
			return nil, err
		}
		return chain(trapping.Plan,
			filter(planner.And(
				planner.Eq(planner.Col("gr"), args.String("grid")),
				planner.Eq(planner.Call("year", planner.Col("date")), args.Int("year")),
			)),
			sortBy(planner.Asc("date"), planner.Asc("id")),
			selectCols("id", "squirrel_id", "date", "locx", "locy", "wgt", "ft", "obs"),
		)
	},
}

var trappingCounts = Entry{
	Name:        "trapping-counts",
	Description: "Captures and mean weight per squirrel during a year, most trapped first",
	Params:      []Param{yearParam},
	Build: func(ctx context.Context, src planner.Source, args Args) (*planner.Plan, error) {
		trapping, err := planner.Table(ctx, src, "trapping")
		if err != nil {
			return nil, err
		}
		return chain(trapping.Plan,
			filter(planner.Eq(planner.Call("year", planner.Col("date")), args.Int("year"))),
			groupBy("squirrel_id"),
			aggregate(planner.Count("captures"), planner.Agg("mean_wgt", "mean", "wgt")),
			sortBy(planner.Desc("captures"), planner.Asc("squirrel_id")),
		)
	},
}

var juvenilesByLitterYear = Entry{
	Name:        "juveniles-by-litter-year",
	Description: "Juveniles of the litters born in a year, with grid and mother",
	Params:      []Param{yearParam},
	Build: func(ctx context.Context, src planner.Source, args Args) (*planner.Plan, error) {
		juvenile, err := planner.Table(ctx, src, "juvenile")
		if err != nil {
			return nil, err
		}
		litter, err := planner.Table(ctx, src, "litter")
		if err != nil {
			return nil, err
		}
		// squirrel_id is the juvenile's own id on one side and the mother's on the other.
		joined, err := planner.Join(juvenile, litter, planner.InnerJoin, planner.Using("litter_id"))
		if err != nil {
			return nil, err
		}
		return chain(joined,
			rename("squirrel_id.y", "dam_id"),
			rename("id", "juvenile_id"),
			filter(planner.Eq(planner.Col("yr"), args.Int("year"))),
			sortBy(planner.Asc("grid"), planner.Asc("litter_id"), planner.Asc("juvenile_id")),
			selectCols("litter_id", "grid", "dam_id", "juvenile_id", "sex", "weight", "tagwt"),
		)
	},
}

var censusByGrid = Entry{
	Name:        "census-by-grid",
	Description: "Census records and distinct middens per grid during a year",
	Params:      []Param{yearParam},
	Build: func(ctx context.Context, src planner.Source, args Args) (*planner.Plan, error) {
		census, err := planner.Table(ctx, src, "census")
		if err != nil {
			return nil, err
		}
		return chain(census.Plan,
			filter(planner.Eq(planner.Call("year", planner.Col("census_date")), args.Int("year"))),
			groupBy("gr"),
			aggregate(planner.Count("records"), planner.Agg("middens", "count_distinct", "reflo")),
			sortBy(planner.Asc("gr")),
		)
	},
}

var behaviourForSquirrel = Entry{
	Name:        "behaviour-for-squirrel",
	Description: "Behaviour observations of one squirrel in time order",
	Params:      []Param{{Name: "squirrel_id", Kind: IntParam, Description: "squirrel id"}},
	Build: func(ctx context.Context, src planner.Source, args Args) (*planner.Plan, error) {
		behaviour, err := planner.Table(ctx, src, "behaviour")
		if err != nil {
			return nil, err
		}
		return chain(behaviour.Plan,
			filter(planner.Eq(planner.Col("squirrel_id"), args.Int("squirrel_id"))),
			sortBy(planner.Asc("date"), planner.Asc("time")),
			selectCols("date", "time", "grid", "behaviour", "detail", "mode", "observer"),
		)
	},
}

var squirrelsNeverTrapped = Entry{
	Name:        "squirrels-never-trapped",
	Description: "Squirrels with no trapping record during a year",
	Params:      []Param{yearParam},
	Build: func(ctx context.Context, src planner.Source, args Args) (*planner.Plan, error) {
		squirrel, err := planner.Table(ctx, src, "squirrel")
		if err != nil {
			return nil, err
		}
		trapping, err := planner.Table(ctx, src, "trapping")
		if err != nil {
			return nil, err
		}
		trapped, err := chain(trapping.Plan,
			filter(planner.Eq(planner.Call("year", planner.Col("date")), args.Int("year"))),
			selectCols("id", "squirrel_id"),
			rename("id", "trapping_id"),
		)
		if err != nil {
			return nil, err
		}
		joined, err := planner.Join(squirrel, trapped, planner.LeftJoin, planner.On("id", "squirrel_id"))
		if err != nil {
			return nil, err
		}
		return chain(joined,
			filter(planner.IsNull(planner.Col("trapping_id"))),
			sortBy(planner.Asc("id")),
			selectCols("id", "gr", "sex", "trap_date"),
		)
	},
}

// slashed joins two columns as "left/right".
func slashed(left, right string) planner.Expr {
	return planner.Call("concat_ws", "/", planner.Col(left), planner.Col(right))
}

type stage func(*planner.Plan) (*planner.Plan, error)

func chain(p *planner.Plan, stages ...stage) (*planner.Plan, error) {
	for _, s := range stages {
		var err error
		if p, err = s(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func filter(pred planner.Expr) stage {
	return func(p *planner.Plan) (*planner.Plan, error) { return p.Filter(pred) }
}

func mutate(name string, expr planner.Expr) stage {
	return func(p *planner.Plan) (*planner.Plan, error) { return p.Mutate(name, expr) }
}

func rename(from, to string) stage {
	return func(p *planner.Plan) (*planner.Plan, error) { return p.Rename(from, to) }
}

func sortBy(keys ...planner.SortKey) stage {
	return func(p *planner.Plan) (*planner.Plan, error) { return p.Sort(keys...) }
}

func selectCols(names ...string) stage {
	return func(p *planner.Plan) (*planner.Plan, error) { return p.Select(names...) }
}

func groupBy(keys ...string) stage {
	return func(p *planner.Plan) (*planner.Plan, error) { return p.GroupBy(keys...) }
}

func aggregate(aggs ...planner.Aggregation) stage {
	return func(p *planner.Plan) (*planner.Plan, error) { return p.Aggregate(aggs...) }
}
