package formula

import (
	"errors"
	"fmt"
)

// Error taxonomy. Config, NotFound, Disabled and ExecutorMissing reject a call before
// any row reaches an executor. Parameter and Execution failures are reported inside an
// ExecutionResult. CompileFailure and ToolLaunch describe compile-test outcomes.
// Storage is the only class that aborts candidate operations.
var (
	ErrConfig          = errors.New("invalid formula configuration")
	ErrNotFound        = errors.New("formula not found")
	ErrDisabled        = errors.New("formula is disabled")
	ErrExecutorMissing = errors.New("no executor bound to formula")
	ErrParameter       = errors.New("parameter validation failed")
	ErrExecution       = errors.New("formula execution failed")
	ErrCompileFailure  = errors.New("compilation failed")
	ErrToolLaunch      = errors.New("failed to run compiler")
	ErrStorage         = errors.New("code store failure")
)

// MissingParameter reports a required parameter that was not supplied.
func MissingParameter(name string) error {
	return fmt.Errorf("%w: missing required parameter: %s", ErrParameter, name)
}

// InvalidParameter reports a supplied parameter with an unusable value.
func InvalidParameter(name, reason string) error {
	return fmt.Errorf("%w: parameter %s: %s", ErrParameter, name, reason)
}
