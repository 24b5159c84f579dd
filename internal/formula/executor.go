// Package formula defines the data model shared by the registry, the built-in
// executors and the compile-test pipeline: dynamically typed values, rows,
// descriptors, the Executor contract and execution envelopes.
package formula

// Executor is the contract every formula implementation satisfies.
//
// ValidateParameters must not look at data. Execute must be a pure function of
// its inputs and degrade missing columns to documented defaults instead of
// failing the batch. OutputColumns must be order-stable and side-effect free.
type Executor interface {
	ValidateParameters(params Params) error
	Execute(rows []Row, params Params) ([]Row, error)
	OutputColumns(params Params) []string
}

// ExecutorFuncs adapts plain functions into an Executor. Nil fields accept
// everything, pass rows through and declare no columns.
type ExecutorFuncs struct {
	Validate func(Params) error
	Run      func([]Row, Params) ([]Row, error)
	Columns  func(Params) []string
}

func (f ExecutorFuncs) ValidateParameters(params Params) error {
	if f.Validate == nil {
		return nil
	}
	return f.Validate(params)
}

func (f ExecutorFuncs) Execute(rows []Row, params Params) ([]Row, error) {
	if f.Run == nil {
		return rows, nil
	}
	return f.Run(rows, params)
}

func (f ExecutorFuncs) OutputColumns(params Params) []string {
	if f.Columns == nil {
		return nil
	}
	return f.Columns(params)
}

var _ Executor = ExecutorFuncs{}
