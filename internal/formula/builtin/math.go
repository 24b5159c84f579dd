package builtin

import (
	"github.com/zjrosen/formulary/internal/formula"
)

// AddExecutor writes number1 + number2 into add_result.
type AddExecutor struct{ binaryOp }

func NewAdd() AddExecutor {
	return AddExecutor{binaryOp{left: "number1", right: "number2", output: "add_result",
		fn: func(a, b float64) float64 { return a + b }}}
}

type SubtractExecutor struct{ binaryOp }

func NewSubtract() SubtractExecutor {
	return SubtractExecutor{binaryOp{left: "column1", right: "column2", output: "subtract_result",
		fn: func(a, b float64) float64 { return a - b }}}
}

type MultiplyExecutor struct{ binaryOp }

func NewMultiply() MultiplyExecutor {
	return MultiplyExecutor{binaryOp{left: "column1", right: "column2", output: "multiply_result",
		fn: func(a, b float64) float64 { return a * b }}}
}

// DivideExecutor treats a missing divisor as 1 and division by zero as 0.
type DivideExecutor struct{ binaryOp }

func NewDivide() DivideExecutor {
	return DivideExecutor{binaryOp{left: "column1", right: "column2", output: "divide_result", rightDefault: 1,
		fn: func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			return a / b
		}}}
}

// SumExecutor adds the numeric cells of columns per row. Non-numeric cells are skipped.
type SumExecutor struct{}

func (SumExecutor) ValidateParameters(params formula.Params) error {
	return requireList(params, "columns")
}

func (SumExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	cols, _ := params.Columns("columns")
	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		var sum float64
		for _, col := range cols {
			if n, ok := row[col].Numeric(); ok {
				sum += n
			}
		}
		next := row.Clone()
		next["sum_result"] = formula.Number(sum)
		out[i] = next
	}
	return out, nil
}

func (SumExecutor) OutputColumns(formula.Params) []string {
	return []string{"sum_result"}
}
