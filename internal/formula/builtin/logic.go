package builtin

import (
	"github.com/zjrosen/formulary/internal/formula"
)

// IfExecutor writes true_value or false_value depending on the truthiness of
// condition_column. Defaults are "TRUE" and "FALSE".
type IfExecutor struct{}

func (IfExecutor) ValidateParameters(params formula.Params) error {
	return requireColumns(params, "condition_column")
}

func (IfExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	col, _ := params.Column("condition_column")
	whenTrue := params.Text("true_value", "TRUE")
	whenFalse := params.Text("false_value", "FALSE")

	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		result := whenFalse
		if row[col].Truthy() {
			result = whenTrue
		}
		next := row.Clone()
		next["if_result"] = formula.String(result)
		out[i] = next
	}
	return out, nil
}

func (IfExecutor) OutputColumns(formula.Params) []string {
	return []string{"if_result"}
}

// CountExecutor marks each row with 1 when column is present and 0 otherwise.
type CountExecutor struct{}

func (CountExecutor) ValidateParameters(params formula.Params) error {
	return requireColumns(params, "column")
}

func (CountExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	col, _ := params.Column("column")
	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		var n float64
		if _, ok := row[col]; ok {
			n = 1
		}
		next := row.Clone()
		next["count_result"] = formula.Number(n)
		out[i] = next
	}
	return out, nil
}

func (CountExecutor) OutputColumns(formula.Params) []string {
	return []string{"count_result"}
}

// UniqueCountExecutor writes the number of distinct values of column across the
// whole batch onto every row. Rows without the column do not contribute.
type UniqueCountExecutor struct{}

func (UniqueCountExecutor) ValidateParameters(params formula.Params) error {
	return requireColumns(params, "column")
}

func (UniqueCountExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	col, _ := params.Column("column")
	seen := make(map[string]struct{})
	for _, row := range rows {
		if v, ok := row[col]; ok {
			seen[v.Key()] = struct{}{}
		}
	}

	count := formula.Number(float64(len(seen)))
	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		next := row.Clone()
		next["unique_count_result"] = count
		out[i] = next
	}
	return out, nil
}

func (UniqueCountExecutor) OutputColumns(formula.Params) []string {
	return []string{"unique_count_result"}
}

func conditionMet(row formula.Row, col, want string) bool {
	v, ok := row[col]
	return ok && v.Text() == want
}

// SumIfExecutor copies sum_column into sumif_result when condition_column equals
// condition_value, and writes 0 otherwise.
type SumIfExecutor struct{}

func (SumIfExecutor) ValidateParameters(params formula.Params) error {
	if err := requireColumns(params, "sum_column", "condition_column"); err != nil {
		return err
	}
	if !params.Has("condition_value") {
		return formula.MissingParameter("condition_value")
	}
	return nil
}

func (SumIfExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	sumCol, _ := params.Column("sum_column")
	condCol, _ := params.Column("condition_column")
	want := params.Text("condition_value", "")

	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		var n float64
		if conditionMet(row, condCol, want) {
			n = numberOr(row, sumCol, 0)
		}
		next := row.Clone()
		next["sumif_result"] = formula.Number(n)
		out[i] = next
	}
	return out, nil
}

func (SumIfExecutor) OutputColumns(formula.Params) []string {
	return []string{"sumif_result"}
}

// CountIfExecutor marks rows whose condition_column equals condition_value.
type CountIfExecutor struct{}

func (CountIfExecutor) ValidateParameters(params formula.Params) error {
	if err := requireColumns(params, "condition_column"); err != nil {
		return err
	}
	if !params.Has("condition_value") {
		return formula.MissingParameter("condition_value")
	}
	return nil
}

func (CountIfExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	condCol, _ := params.Column("condition_column")
	want := params.Text("condition_value", "")

	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		var n float64
		if conditionMet(row, condCol, want) {
			n = 1
		}
		next := row.Clone()
		next["countif_result"] = formula.Number(n)
		out[i] = next
	}
	return out, nil
}

func (CountIfExecutor) OutputColumns(formula.Params) []string {
	return []string{"countif_result"}
}
