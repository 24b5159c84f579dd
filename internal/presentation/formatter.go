package presentation

import (
	"encoding/json"
	"io"
)

// Formatter writes indented JSON.
type Formatter struct {
	writer io.Writer
}

func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{writer: writer}
}

// FormatFormulas writes a formula listing.
func (f *Formatter) FormatFormulas(formulas []FormulaDTO) error {
	return f.Format(formulas)
}

// Format writes any result value.
func (f *Formatter) Format(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
