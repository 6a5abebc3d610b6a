package introspection

import (
	"cmp"
	"slices"

	"krsp-query/internal/errs"
)

// ForeignKeyConstraint is a foreign key with its columns in constraint order.
type ForeignKeyConstraint struct {
	ConstraintName    string
	ReferencedTable   string
	ColumnNames       []string
	ReferencedColumns []string
}

// ForeignKeyConstraints groups a table's foreign key rows by constraint name,
// ordered by name. Rows without a name are kept as single-column constraints
// after the named ones.
func ForeignKeyConstraints(table Table) []ForeignKeyConstraint {
	var (
		named   = map[string][]ForeignKey{}
		order   []string
		unnamed []ForeignKeyConstraint
	)
	for _, fk := range table.ForeignKeys {
		if fk.ConstraintName == "" {
			unnamed = append(unnamed, ForeignKeyConstraint{
				ReferencedTable:   fk.ReferencedTable,
				ColumnNames:       []string{fk.ColumnName},
				ReferencedColumns: []string{fk.ReferencedColumn},
			})
			continue
		}
		if _, seen := named[fk.ConstraintName]; !seen {
			order = append(order, fk.ConstraintName)
		}
		named[fk.ConstraintName] = append(named[fk.ConstraintName], fk)
	}
	slices.Sort(order)

	out := make([]ForeignKeyConstraint, 0, len(order)+len(unnamed))
	for _, name := range order {
		rows := named[name]
		slices.SortStableFunc(rows, func(a, b ForeignKey) int {
			return cmp.Compare(a.OrdinalPosition, b.OrdinalPosition)
		})
		c := ForeignKeyConstraint{ConstraintName: name, ReferencedTable: rows[0].ReferencedTable}
		for _, fk := range rows {
			c.ColumnNames = append(c.ColumnNames, fk.ColumnName)
			c.ReferencedColumns = append(c.ReferencedColumns, fk.ReferencedColumn)
		}
		out = append(out, c)
	}
	if len(out)+len(unnamed) == 0 {
		return nil
	}
	return append(out, unnamed...)
}

// JoinSuggestions lists declared foreign keys linking left and right, in
// either direction, as left/right column pairs. They only feed error messages;
// a join never picks its keys from them.
func JoinSuggestions(left, right Table) []errs.KeyPair {
	var pairs []errs.KeyPair
	add := func(from Table, to string, flip bool) {
		for _, c := range ForeignKeyConstraints(from) {
			if c.ReferencedTable != to {
				continue
			}
			for i, col := range c.ColumnNames {
				pair := errs.KeyPair{Left: col, Right: c.ReferencedColumns[i]}
				if flip {
					pair.Left, pair.Right = pair.Right, pair.Left
				}
				pairs = append(pairs, pair)
			}
		}
	}
	add(left, right.Name, false)
	add(right, left.Name, true)
	return pairs
}
