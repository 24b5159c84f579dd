package builtin

import (
	"slices"
	"strings"

	"github.com/zjrosen/formulary/internal/formula"
)

// PivotExecutor groups rows by index_column and aggregates value_column into
// one row per group with index, count, sum and avg columns. Rows without the
// index column form their own group with a null index. Missing or non-numeric
// values count as rows but add 0 to the sum. Groups keep first-seen order.
type PivotExecutor struct{}

func (PivotExecutor) ValidateParameters(params formula.Params) error {
	return requireColumns(params, "index_column", "value_column")
}

func (PivotExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	indexCol, _ := params.Column("index_column")
	valueCol, _ := params.Column("value_column")

	type group struct {
		index formula.Value
		count int
		sum   float64
	}
	var order []string
	groups := make(map[string]*group)
	for _, row := range rows {
		idx := row[indexCol]
		key := idx.Key()
		g, ok := groups[key]
		if !ok {
			g = &group{index: idx}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
		g.sum += row[valueCol].Float()
	}

	out := make([]formula.Row, 0, len(order))
	for _, key := range order {
		g := groups[key]
		out = append(out, formula.Row{
			"index": g.index,
			"count": formula.Number(float64(g.count)),
			"sum":   formula.Number(g.sum),
			"avg":   formula.Number(g.sum / float64(g.count)),
		})
	}
	return out, nil
}

func (PivotExecutor) OutputColumns(formula.Params) []string {
	return []string{"index", "count", "sum", "avg"}
}

// DepivotExecutor turns every non-id column of a row into its own
// (id columns..., variable, value) row, in column-name order. Absent id columns
// come out as null. A row that only has id columns yields one row with null
// variable and value so it is not lost.
type DepivotExecutor struct{}

func (DepivotExecutor) ValidateParameters(params formula.Params) error {
	return requireList(params, "id_columns")
}

func (DepivotExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	ids, _ := params.Columns("id_columns")

	var out []formula.Row
	for _, row := range rows {
		base := make(formula.Row, len(ids)+2)
		for _, id := range ids {
			base[id] = row[id]
		}

		emitted := false
		for _, col := range row.Columns() {
			if slices.Contains(ids, col) {
				continue
			}
			next := base.Clone()
			next["variable"] = formula.String(col)
			next["value"] = row[col]
			out = append(out, next)
			emitted = true
		}
		if !emitted {
			next := base.Clone()
			next["variable"] = formula.Null()
			next["value"] = formula.Null()
			out = append(out, next)
		}
	}
	return out, nil
}

func (DepivotExecutor) OutputColumns(formula.Params) []string {
	return []string{"variable", "value"}
}

// absentKey marks a key column a row does not have. It cannot collide with a
// JSON encoded value.
const absentKey = "\x00absent"

// RemoveDuplicatesExecutor keeps the first row for each distinct combination
// of columns. Absence of a key column is itself part of the key, so rows
// missing every key column collapse into one group instead of disappearing.
type RemoveDuplicatesExecutor struct{}

func (RemoveDuplicatesExecutor) ValidateParameters(params formula.Params) error {
	return requireList(params, "columns")
}

func (RemoveDuplicatesExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	cols, _ := params.Columns("columns")
	seen := make(map[string]struct{}, len(rows))
	out := make([]formula.Row, 0, len(rows))

	parts := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			if v, ok := row[col]; ok {
				parts[i] = v.Key()
			} else {
				parts[i] = absentKey
			}
		}
		key := strings.Join(parts, "\x1f")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

func (RemoveDuplicatesExecutor) OutputColumns(formula.Params) []string {
	return nil
}

// FillNAExecutor replaces null, empty and NaN cells of column with value.
// Rows without the column are left alone.
type FillNAExecutor struct{}

func (FillNAExecutor) ValidateParameters(params formula.Params) error {
	if err := requireColumns(params, "column"); err != nil {
		return err
	}
	if !params.Has("value") {
		return formula.MissingParameter("value")
	}
	return nil
}

func (FillNAExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	col, _ := params.Column("column")
	fill := params.Get("value")

	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		v, ok := row[col]
		if !ok || !v.Blank() {
			out[i] = row
			continue
		}
		next := row.Clone()
		next[col] = fill
		out[i] = next
	}
	return out, nil
}

func (FillNAExecutor) OutputColumns(formula.Params) []string {
	return nil
}
