// Package catalog provides named, parameterized queries over the krsp schema.
//
// Each entry builds a plan from the query builder and materializes it. Entries
// hold no state: the same arguments on the same data give the same rows.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"krsp-query/internal/introspection"
	"krsp-query/internal/materialize"
	"krsp-query/internal/observability"
	"krsp-query/internal/planner"
	"krsp-query/internal/resultset"
)

var (
	// ErrUnknownEntry is returned when no entry has the requested name.
	ErrUnknownEntry = errors.New("unknown catalog entry")
	// ErrInvalidArgument is returned when arguments do not match an entry's parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ParamKind is the type of a parameter value.
type ParamKind int

const (
	IntParam ParamKind = iota
	StringParam
)

func (k ParamKind) String() string {
	if k == StringParam {
		return "string"
	}
	return "int"
}

// Param declares one argument of an entry.
type Param struct {
	Name        string
	Kind        ParamKind
	Description string
}

// Args are validated argument values keyed by parameter name. Int parameters
// hold int, string parameters hold string.
type Args map[string]any

// Int returns the named int argument.
func (a Args) Int(name string) int {
	v, _ := a[name].(int)
	return v
}

// String returns the named string argument.
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// BuildFunc composes an entry's plan from validated arguments.
type BuildFunc func(ctx context.Context, src planner.Source, args Args) (*planner.Plan, error)

// Entry is a named query template.
type Entry struct {
	Name        string
	Description string
	Params      []Param
	Build       BuildFunc
}

// Usage renders the entry name with its parameters, e.g. "trapping-by-grid grid=<string> year=<int>".
func (e Entry) Usage() string {
	parts := []string{e.Name}
	for _, p := range e.Params {
		parts = append(parts, fmt.Sprintf("%s=<%s>", p.Name, p.Kind))
	}
	return strings.Join(parts, " ")
}

// Validate checks args against the entry's parameters and normalizes int
// values to int. Every parameter is required.
func (e Entry) Validate(args Args) (Args, error) {
	out := make(Args, len(e.Params))
	for _, p := range e.Params {
		v, ok := args[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s: missing %s", ErrInvalidArgument, e.Name, p.Name)
		}
		norm, err := normalize(p, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, e.Name, err)
		}
		out[p.Name] = norm
	}
	for name := range args {
		if !slices.ContainsFunc(e.Params, func(p Param) bool { return p.Name == name }) {
			return nil, fmt.Errorf("%w: %s: unknown parameter %q", ErrInvalidArgument, e.Name, name)
		}
	}
	return out, nil
}

func normalize(p Param, v any) (any, error) {
	switch p.Kind {
	case IntParam:
		switch n := v.(type) {
		case int:
			return n, nil
		case int32:
			return int(n), nil
		case int64:
			return int(n), nil
		default:
			return nil, fmt.Errorf("%s must be an int, got %T", p.Name, v)
		}
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string, got %T", p.Name, v)
		}
		return s, nil
	}
}

// ParseArgs parses name=value pairs into arguments typed by the entry's
// parameters.
func (e Entry) ParseArgs(pairs []string) (Args, error) {
	args := make(Args, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q is not name=value", ErrInvalidArgument, pair)
		}
		idx := slices.IndexFunc(e.Params, func(p Param) bool { return p.Name == name })
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s: unknown parameter %q", ErrInvalidArgument, e.Name, name)
		}
		if _, dup := args[name]; dup {
			return nil, fmt.Errorf("%w: %s: %s given twice", ErrInvalidArgument, e.Name, name)
		}
		switch e.Params[idx].Kind {
		case IntParam:
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %s must be an int: %q", ErrInvalidArgument, e.Name, name, value)
			}
			args[name] = n
		default:
			args[name] = value
		}
	}
	return e.Validate(args)
}

// Catalog is an immutable set of entries in declaration order.
type Catalog struct {
	entries []Entry
	byName  map[string]int
}

// New builds a catalog. Names must be unique and every entry needs a Build func.
func New(entries ...Entry) (*Catalog, error) {
	c := &Catalog{entries: slices.Clone(entries), byName: make(map[string]int, len(entries))}
	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
		if e.Build == nil {
			return nil, fmt.Errorf("catalog entry %q has no build function", e.Name)
		}
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog entry %q", e.Name)
		}
		c.byName[e.Name] = i
	}
	return c, nil
}

// Entries returns the entries in declaration order.
func (c *Catalog) Entries() []Entry { return slices.Clone(c.entries) }

// Lookup finds an entry by exact name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return Entry{}, false
	}
	return c.entries[idx], true
}

// Plan validates args and builds the named entry's plan without running it.
func (c *Catalog) Plan(ctx context.Context, src planner.Source, name string, args Args) (*planner.Plan, error) {
	entry, ok := c.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
	}
	validated, err := entry.Validate(args)
	if err != nil {
		return nil, err
	}
	plan, err := entry.Build(ctx, src, validated)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", name, err)
	}
	return plan, nil
}

// Run builds the named entry and collects it under the handle's max rows.
func (c *Catalog) Run(ctx context.Context, src planner.Source, name string, args Args) (*resultset.Table, error) {
	return c.run(ctx, src, name, args, nil)
}

// RunLimit builds the named entry and collects at most limit rows.
func (c *Catalog) RunLimit(ctx context.Context, src planner.Source, name string, args Args, limit materialize.RowLimit) (*resultset.Table, error) {
	return c.run(ctx, src, name, args, &limit)
}

func (c *Catalog) run(ctx context.Context, src planner.Source, name string, args Args, limit *materialize.RowLimit) (table *resultset.Table, err error) {
	ctx, span := otel.Tracer("krsp-query/catalog").Start(ctx, "krsp.catalog.run")
	span.SetAttributes(attribute.String("krsp.catalog.entry", name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	plan, err := c.Plan(ctx, src, name, args)
	if err != nil {
		return nil, err
	}
	opts := []materialize.Option{
		materialize.WithOperation(observability.OpCatalog),
		materialize.WithLogFields("catalog_entry", name),
	}
	if limit != nil {
		return materialize.CollectLimit(ctx, plan, *limit, opts...)
	}
	return materialize.Collect(ctx, plan, opts...)
}

// RequiredTables is the schema contract every entry relies on.
var RequiredTables = []string{"squirrel", "trapping", "behaviour", "litter", "juvenile", "census"}

// TableLister lists the tables visible on a connection.
type TableLister interface {
	Tables(ctx context.Context) ([]introspection.TableInfo, error)
}

// VerifySchema returns the required tables the connection cannot see.
func VerifySchema(ctx context.Context, src TableLister) ([]string, error) {
	tables, err := src.Tables(ctx)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t.Name] = true
	}
	var missing []string
	for _, name := range RequiredTables {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
