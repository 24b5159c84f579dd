package presentation

import (
	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/registry"
)

// FormulaDTO is the listing form of a registry entry.
type FormulaDTO struct {
	Name        string                  `json:"name"`
	Category    string                  `json:"category"`
	Description string                  `json:"description"`
	Syntax      string                  `json:"syntax,omitempty"`
	Tip         string                  `json:"tip,omitempty"`
	Examples    []string                `json:"examples,omitempty"`
	Parameters  []formula.ParameterSpec `json:"parameters"`
	Active      bool                    `json:"is_active"`
	Executor    string                  `json:"executor,omitempty"`
}

// FromRegistration converts one registry snapshot.
func FromRegistration(reg registry.Registration) FormulaDTO {
	d := reg.Descriptor
	params := d.Parameters
	if params == nil {
		params = []formula.ParameterSpec{}
	}
	return FormulaDTO{
		Name:        d.Name,
		Category:    d.Category,
		Description: d.Description,
		Syntax:      d.Syntax,
		Tip:         d.Tip,
		Examples:    d.Examples,
		Parameters:  params,
		Active:      d.IsActive(),
		Executor:    reg.Executor,
	}
}

// FromRegistrations keeps the input order and never returns nil.
func FromRegistrations(regs []registry.Registration) []FormulaDTO {
	out := make([]FormulaDTO, 0, len(regs))
	for _, r := range regs {
		out = append(out, FromRegistration(r))
	}
	return out
}

// CodeListDTO lists the names held by the code store.
type CodeListDTO struct {
	Formulas []string `json:"formulas"`
	Total    int      `json:"total"`
}

// NewCodeList wraps names, substituting an empty slice for nil.
func NewCodeList(names []string) CodeListDTO {
	if names == nil {
		names = []string{}
	}
	return CodeListDTO{Formulas: names, Total: len(names)}
}

// CodeDTO carries candidate source text.
type CodeDTO struct {
	FormulaName string `json:"formula_name"`
	Code        string `json:"code"`
}
