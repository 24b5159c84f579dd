package builtin

import (
	"fmt"

	"github.com/zjrosen/formulary/internal/formula"
)

// columnMap writes fn(row[param]) to output for every row that has the source
// column. Rows without it pass through unchanged.
type columnMap struct {
	param  string
	output string
	fn     func(formula.Value) formula.Value
}

func (c columnMap) ValidateParameters(params formula.Params) error {
	if _, ok := params.Column(c.param); !ok {
		return formula.MissingParameter(c.param)
	}
	return nil
}

func (c columnMap) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	col, ok := params.Column(c.param)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s parameter", formula.ErrExecution, c.param)
	}
	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		v, present := row[col]
		if !present {
			out[i] = row
			continue
		}
		next := row.Clone()
		next[c.output] = c.fn(v)
		out[i] = next
	}
	return out, nil
}

func (c columnMap) OutputColumns(formula.Params) []string {
	return []string{c.output}
}

// binaryOp combines two numeric columns. A missing or non-numeric left operand
// is 0; the right operand falls back to rightDefault.
type binaryOp struct {
	left, right  string
	output       string
	rightDefault float64
	fn           func(a, b float64) float64
}

func (b binaryOp) ValidateParameters(params formula.Params) error {
	for _, name := range []string{b.left, b.right} {
		if _, ok := params.Column(name); !ok {
			return formula.MissingParameter(name)
		}
	}
	return nil
}

func (b binaryOp) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	left, ok := params.Column(b.left)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s parameter", formula.ErrExecution, b.left)
	}
	right, ok := params.Column(b.right)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s parameter", formula.ErrExecution, b.right)
	}

	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		a := numberOr(row, left, 0)
		c := numberOr(row, right, b.rightDefault)
		next := row.Clone()
		next[b.output] = formula.Number(b.fn(a, c))
		out[i] = next
	}
	return out, nil
}

func (b binaryOp) OutputColumns(formula.Params) []string {
	return []string{b.output}
}

func numberOr(row formula.Row, col string, fallback float64) float64 {
	if n, ok := row[col].Numeric(); ok {
		return n
	}
	return fallback
}

func requireColumns(params formula.Params, names ...string) error {
	for _, name := range names {
		if _, ok := params.Column(name); !ok {
			return formula.MissingParameter(name)
		}
	}
	return nil
}

func requireList(params formula.Params, name string) error {
	if _, ok := params.Columns(name); !ok {
		return formula.MissingParameter(name)
	}
	return nil
}
