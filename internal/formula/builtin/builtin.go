// Package builtin ships the formulas available without any submitted code.
// Descriptors live in formulas.yaml; executors are constructed per registration.
package builtin

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/formulary/internal/formula"
)

//go:embed formulas.yaml
var formulasYAML []byte

var factories = map[string]func() formula.Executor{
	"UPPER":             func() formula.Executor { return NewUpper() },
	"LOWER":             func() formula.Executor { return NewLower() },
	"PROPER_CASE":       func() formula.Executor { return NewProperCase() },
	"TRIM":              func() formula.Executor { return NewTrim() },
	"TEXT_LENGTH":       func() formula.Executor { return NewTextLength() },
	"TEXT_JOIN":         func() formula.Executor { return TextJoinExecutor{} },
	"ADD":               func() formula.Executor { return NewAdd() },
	"SUBTRACT":          func() formula.Executor { return NewSubtract() },
	"MULTIPLY":          func() formula.Executor { return NewMultiply() },
	"DIVIDE":            func() formula.Executor { return NewDivide() },
	"SUM":               func() formula.Executor { return SumExecutor{} },
	"COUNT":             func() formula.Executor { return CountExecutor{} },
	"IF":                func() formula.Executor { return IfExecutor{} },
	"UNIQUE_COUNT":      func() formula.Executor { return UniqueCountExecutor{} },
	"SUMIF":             func() formula.Executor { return SumIfExecutor{} },
	"COUNTIF":           func() formula.Executor { return CountIfExecutor{} },
	"PIVOT":             func() formula.Executor { return PivotExecutor{} },
	"DEPIVOT":           func() formula.Executor { return DepivotExecutor{} },
	"REMOVE_DUPLICATES": func() formula.Executor { return RemoveDuplicatesExecutor{} },
	"FILLNA":            func() formula.Executor { return FillNAExecutor{} },
}

// New returns a fresh executor for a built-in formula name.
func New(name string) (formula.Executor, bool) {
	f, ok := factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names lists the built-in formula names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type descriptorFile struct {
	Formulas []formula.Descriptor `yaml:"formulas"`
}

// Descriptors parses the embedded built-in descriptors.
func Descriptors() ([]formula.Descriptor, error) {
	var file descriptorFile
	if err := yaml.Unmarshal(formulasYAML, &file); err != nil {
		return nil, fmt.Errorf("parsing built-in formulas: %w", err)
	}
	return file.Formulas, nil
}

// Registrar is the subset of the registry needed to install built-ins.
type Registrar interface {
	Register(desc formula.Descriptor, exec formula.Executor) error
}

// RegisterAll installs every built-in descriptor with its executor.
func RegisterAll(r Registrar) error {
	descs, err := Descriptors()
	if err != nil {
		return err
	}
	for _, d := range descs {
		exec, ok := New(d.Name)
		if !ok {
			return fmt.Errorf("%w: built-in %s has no executor", formula.ErrConfig, d.Name)
		}
		if err := r.Register(d, exec); err != nil {
			return fmt.Errorf("registering built-in %s: %w", d.Name, err)
		}
	}
	return nil
}
