package planner

import (
	"fmt"
	"slices"
	"strings"

	"krsp-query/internal/errs"
	"krsp-query/internal/introspection"
)

// JoinKind selects which unmatched rows a join keeps.
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
	RightJoin
	FullJoin
)

func (k JoinKind) String() string {
	switch k {
	case LeftJoin:
		return "left"
	case RightJoin:
		return "right"
	case FullJoin:
		return "full"
	default:
		return "inner"
	}
}

// ParseJoinKind maps "inner", "left", "right" or "full" to a JoinKind.
func ParseJoinKind(s string) (JoinKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inner", "":
		return InnerJoin, nil
	case "left":
		return LeftJoin, nil
	case "right":
		return RightJoin, nil
	case "full":
		return FullJoin, nil
	default:
		return InnerJoin, fmt.Errorf("unknown join kind %q", s)
	}
}

// JoinKey pairs a left column with the right column it must equal.
type JoinKey = errs.KeyPair

// On joins left column l to right column r.
func On(l, r string) JoinKey { return JoinKey{Left: l, Right: r} }

// Using joins on a column that has the same name on both sides.
func Using(name string) JoinKey { return JoinKey{Left: name, Right: name} }

// joinColumn maps one output column of a join to its source side.
type joinColumn struct {
	name   string
	source string
	right  bool
	// key is set on key columns, which take their value from either side.
	key *JoinKey
}

// Join combines left and right, matching rows where every key pair is equal.
//
// Without keys, the columns present on both sides by exact name are the keys;
// when there are none the join fails with an AmbiguousJoinError listing the
// declared foreign keys between the tables as suggestions. Key columns appear
// once under their left names. Other names present on both sides get ".x"
// (left) and ".y" (right) suffixes.
func Join(left, right Relation, kind JoinKind, keys ...JoinKey) (*Plan, error) {
	l, r := left.plan(), right.plan()
	if l.source != r.source {
		return nil, fmt.Errorf("join %s with %s: plans read from different connections", l, r)
	}

	if len(keys) == 0 {
		for _, f := range l.fields {
			if _, ok := r.field(f.Name); ok {
				keys = append(keys, Using(f.Name))
			}
		}
		if len(keys) == 0 {
			return nil, &errs.AmbiguousJoinError{Left: l.label, Right: r.label, Suggestions: joinSuggestions(l.tables, r.tables)}
		}
	}
	for _, key := range keys {
		if err := l.requireColumns("join", key.Left); err != nil {
			return nil, err
		}
		if err := r.requireColumns("join", key.Right); err != nil {
			return nil, err
		}
	}

	columns := joinColumns(l, r, keys)
	fields := make([]Field, len(columns))
	for i, col := range columns {
		side := l
		if col.right {
			side = r
		}
		f, _ := side.field(col.source)
		f.Name = col.name
		fields[i] = f
	}

	tables := slices.Concat(l.tables, r.tables)
	return &Plan{
		source: l.source,
		parent: l,
		step:   joinStep{right: r, kind: kind, keys: slices.Clone(keys), columns: columns},
		label:  l.label + "+" + r.label,
		fields: fields,
		tables: tables,
	}, nil
}

// Join combines p with right. See Join.
func (p *Plan) Join(right Relation, kind JoinKind, keys ...JoinKey) (*Plan, error) {
	return Join(p, right, kind, keys...)
}

func joinColumns(l, r *Plan, keys []JoinKey) []joinColumn {
	leftKeys := make(map[string]*JoinKey, len(keys))
	rightKeys := make(map[string]bool, len(keys))
	for i := range keys {
		leftKeys[keys[i].Left] = &keys[i]
		rightKeys[keys[i].Right] = true
	}

	rightNames := make(map[string]bool)
	for _, f := range r.fields {
		if !rightKeys[f.Name] {
			rightNames[f.Name] = true
		}
	}
	leftNames := make(map[string]bool, len(l.fields))
	for _, f := range l.fields {
		leftNames[f.Name] = true
	}

	columns := make([]joinColumn, 0, len(l.fields)+len(r.fields))
	for _, f := range l.fields {
		col := joinColumn{name: f.Name, source: f.Name}
		if key, ok := leftKeys[f.Name]; ok {
			col.key = key
		} else if rightNames[f.Name] {
			col.name = f.Name + ".x"
		}
		columns = append(columns, col)
	}
	for _, f := range r.fields {
		if rightKeys[f.Name] {
			continue
		}
		col := joinColumn{name: f.Name, source: f.Name, right: true}
		if leftNames[f.Name] {
			col.name = f.Name + ".y"
		}
		columns = append(columns, col)
	}
	return columns
}

func joinSuggestions(left, right []introspection.Table) []errs.KeyPair {
	var out []errs.KeyPair
	for _, lt := range left {
		for _, rt := range right {
			out = append(out, introspection.JoinSuggestions(lt, rt)...)
		}
	}
	return out
}
