package formula

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
)

// ParameterKind defines the input type of a formula parameter.
type ParameterKind string

const (
	// ParamText is free text, usually a column name.
	ParamText ParameterKind = "text"
	// ParamNumber is a numeric input.
	ParamNumber ParameterKind = "number"
	// ParamBoolean is a true/false toggle.
	ParamBoolean ParameterKind = "boolean"
	// ParamSingleSelect picks one of Options.
	ParamSingleSelect ParameterKind = "single-select"
	// ParamMultiSelect picks any subset of Options.
	ParamMultiSelect ParameterKind = "multi-select"
)

// IsValid is case-sensitive: "Text" is not a valid kind.
func (k ParameterKind) IsValid() bool {
	switch k {
	case ParamText, ParamNumber, ParamBoolean, ParamSingleSelect, ParamMultiSelect:
		return true
	default:
		return false
	}
}

// RequiresOptions returns true for the select kinds.
func (k ParameterKind) RequiresOptions() bool {
	return k == ParamSingleSelect || k == ParamMultiSelect
}

// Descriptor validation errors. Validate wraps each of them in ErrConfig.
var (
	ErrDescriptorEmptyName        = errors.New("formula name cannot be empty")
	ErrDescriptorEmptyCategory    = errors.New("formula category cannot be empty")
	ErrDescriptorEmptyDescription = errors.New("formula description cannot be empty")
	ErrParameterEmptyName         = errors.New("parameter name cannot be empty")
	ErrParameterEmptyLabel        = errors.New("parameter label cannot be empty")
	ErrParameterInvalidKind       = errors.New("parameter type must be text, number, boolean, single-select, or multi-select")
	ErrParameterEmptyOptions      = errors.New("parameter options cannot be empty for single-select/multi-select types")
	ErrParameterDuplicate         = errors.New("parameter name is declared twice")
	ErrParameterBadRange          = errors.New("parameter validation min is greater than max")
	ErrParameterBadPattern        = errors.New("parameter validation pattern does not compile")
)

// Validation holds optional per-parameter constraints.
type Validation struct {
	Min     *float64 `yaml:"min,omitempty" toml:"min,omitempty" json:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty" toml:"max,omitempty" json:"max,omitempty"`
	Pattern string   `yaml:"pattern,omitempty" toml:"pattern,omitempty" json:"pattern,omitempty"`
}

// ParameterSpec declares one input of a formula.
type ParameterSpec struct {
	Name        string        `yaml:"name" toml:"name" json:"name"`
	Kind        ParameterKind `yaml:"type" toml:"type" json:"type"`
	Label       string        `yaml:"label" toml:"label" json:"label"`
	Description string        `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	Required    bool          `yaml:"required,omitempty" toml:"required,omitempty" json:"required"`
	Default     Value         `yaml:"default,omitempty" toml:"default,omitempty" json:"default"`
	Options     []string      `yaml:"options,omitempty" toml:"options,omitempty" json:"options,omitempty"`
	Placeholder string        `yaml:"placeholder,omitempty" toml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Validation  *Validation   `yaml:"validation,omitempty" toml:"validation,omitempty" json:"validation,omitempty"`
}

// Descriptor is the declarative shape of a formula. Name is the case-significant
// registry key; Syntax, Tip and Examples are presentation only.
type Descriptor struct {
	Name        string          `yaml:"name" toml:"name" json:"name"`
	Category    string          `yaml:"category" toml:"category" json:"category"`
	Description string          `yaml:"description" toml:"description" json:"description"`
	Syntax      string          `yaml:"syntax,omitempty" toml:"syntax,omitempty" json:"syntax,omitempty"`
	Tip         string          `yaml:"tip,omitempty" toml:"tip,omitempty" json:"tip,omitempty"`
	Examples    []string        `yaml:"examples,omitempty" toml:"examples,omitempty" json:"examples,omitempty"`
	Parameters  []ParameterSpec `yaml:"parameters,omitempty" toml:"parameters,omitempty" json:"parameters"`
	// Active is nil unless the descriptor says otherwise; nil means active.
	Active      *bool           `yaml:"active,omitempty" toml:"active,omitempty" json:"is_active,omitempty"`
}

// IsActive reports whether the formula accepts executions.
func (d Descriptor) IsActive() bool {
	return d.Active == nil || *d.Active
}

// WithActive returns a copy of d with the active flag set explicitly.
func (d Descriptor) WithActive(active bool) Descriptor {
	d.Active = &active
	return d
}

// Validate checks the static invariants every registered descriptor satisfies.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: %w", ErrConfig, ErrDescriptorEmptyName)
	}
	if strings.TrimSpace(d.Category) == "" {
		return fmt.Errorf("%w: %s: %w", ErrConfig, d.Name, ErrDescriptorEmptyCategory)
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("%w: %s: %w", ErrConfig, d.Name, ErrDescriptorEmptyDescription)
	}

	seen := make(map[string]bool, len(d.Parameters))
	for i, p := range d.Parameters {
		if err := p.validate(); err != nil {
			return fmt.Errorf("%w: %s: parameter %d: %w", ErrConfig, d.Name, i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s: parameter %q: %w", ErrConfig, d.Name, p.Name, ErrParameterDuplicate)
		}
		seen[p.Name] = true
	}
	return nil
}

func (p ParameterSpec) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrParameterEmptyName
	}
	if strings.TrimSpace(p.Label) == "" {
		return ErrParameterEmptyLabel
	}
	if !p.Kind.IsValid() {
		return fmt.Errorf("%w, got %q", ErrParameterInvalidKind, p.Kind)
	}
	if p.Kind.RequiresOptions() && len(p.Options) == 0 {
		return ErrParameterEmptyOptions
	}
	if v := p.Validation; v != nil {
		if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
			return ErrParameterBadRange
		}
		if v.Pattern != "" {
			if _, err := regexp.Compile(v.Pattern); err != nil {
				return fmt.Errorf("%w: %v", ErrParameterBadPattern, err)
			}
		}
	}
	return nil
}

// Parameter finds a declared parameter by name.
func (d Descriptor) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// ParameterNames lists declared parameter names in declaration order.
func (d Descriptor) ParameterNames() []string {
	names := make([]string, len(d.Parameters))
	for i, p := range d.Parameters {
		names[i] = p.Name
	}
	return names
}

// Clone deep-copies the slices so callers cannot mutate registry state.
func (d Descriptor) Clone() Descriptor {
	out := d
	if d.Active != nil {
		active := *d.Active
		out.Active = &active
	}
	out.Examples = slices.Clone(d.Examples)
	if d.Parameters != nil {
		out.Parameters = make([]ParameterSpec, len(d.Parameters))
		for i, p := range d.Parameters {
			p.Options = slices.Clone(p.Options)
			if p.Validation != nil {
				v := *p.Validation
				p.Validation = &v
			}
			out.Parameters[i] = p
		}
	}
	return out
}

// ApplyDefaults returns a copy of params with declared defaults filled in for
// parameters that were not supplied.
func (d Descriptor) ApplyDefaults(params Params) Params {
	out := params.Clone()
	for _, p := range d.Parameters {
		if !out.Has(p.Name) && !p.Default.IsNull() {
			out[p.Name] = p.Default
		}
	}
	return out
}

// CheckParameters enforces the declared schema: required presence, numeric
// kinds and ranges, booleans, select membership and patterns. Undeclared
// parameters pass through untouched for the executor to judge.
func (d Descriptor) CheckParameters(params Params) error {
	for _, p := range d.Parameters {
		if !params.Has(p.Name) {
			if p.Required {
				return MissingParameter(p.Name)
			}
			continue
		}
		if err := p.check(params.Get(p.Name)); err != nil {
			return err
		}
	}
	return nil
}

func (p ParameterSpec) check(v Value) error {
	switch p.Kind {
	case ParamNumber:
		n, ok := v.Numeric()
		if !ok || v.Kind() == KindBool {
			return InvalidParameter(p.Name, "must be a number")
		}
		if p.Validation != nil {
			if p.Validation.Min != nil && n < *p.Validation.Min {
				return InvalidParameter(p.Name, "must be at least "+strconv.FormatFloat(*p.Validation.Min, 'f', -1, 64))
			}
			if p.Validation.Max != nil && n > *p.Validation.Max {
				return InvalidParameter(p.Name, "must be at most "+strconv.FormatFloat(*p.Validation.Max, 'f', -1, 64))
			}
		}
	case ParamBoolean:
		if _, ok := v.AsBool(); !ok {
			if _, err := strconv.ParseBool(v.Text()); err != nil {
				return InvalidParameter(p.Name, "must be true or false")
			}
		}
	case ParamSingleSelect:
		if !slices.Contains(p.Options, v.Text()) {
			return InvalidParameter(p.Name, fmt.Sprintf("%q is not one of %s", v.Text(), strings.Join(p.Options, ", ")))
		}
	case ParamMultiSelect:
		chosen, _ := Params{p.Name: v}.Columns(p.Name)
		for _, c := range chosen {
			if !slices.Contains(p.Options, c) {
				return InvalidParameter(p.Name, fmt.Sprintf("%q is not one of %s", c, strings.Join(p.Options, ", ")))
			}
		}
	}

	if p.Validation != nil && p.Validation.Pattern != "" {
		re, err := regexp.Compile(p.Validation.Pattern)
		if err != nil {
			return InvalidParameter(p.Name, "pattern does not compile")
		}
		if !re.MatchString(v.Text()) {
			return InvalidParameter(p.Name, "does not match "+p.Validation.Pattern)
		}
	}
	return nil
}
