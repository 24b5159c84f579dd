package builtin

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zjrosen/formulary/internal/formula"
)

// Casers carry state, so each call builds its own.

func upper(v formula.Value) formula.Value {
	return formula.String(cases.Upper(language.Und).String(v.Text()))
}

func lower(v formula.Value) formula.Value {
	return formula.String(cases.Lower(language.Und).String(v.Text()))
}

func properCase(v formula.Value) formula.Value {
	words := strings.Join(strings.Fields(v.Text()), " ")
	return formula.String(cases.Title(language.Und).String(words))
}

func trim(v formula.Value) formula.Value {
	return formula.String(strings.TrimSpace(v.Text()))
}

func textLength(v formula.Value) formula.Value {
	return formula.Number(float64(utf8.RuneCountInString(v.Text())))
}

// UpperExecutor upper-cases text_column into upper_result.
type UpperExecutor struct{ columnMap }

func NewUpper() UpperExecutor {
	return UpperExecutor{columnMap{param: "text_column", output: "upper_result", fn: upper}}
}

// LowerExecutor lower-cases text_column into lower_result.
type LowerExecutor struct{ columnMap }

func NewLower() LowerExecutor {
	return LowerExecutor{columnMap{param: "text_column", output: "lower_result", fn: lower}}
}

// ProperCaseExecutor capitalizes each word of column and collapses runs of whitespace.
type ProperCaseExecutor struct{ columnMap }

func NewProperCase() ProperCaseExecutor {
	return ProperCaseExecutor{columnMap{param: "column", output: "proper_case_result", fn: properCase}}
}

type TrimExecutor struct{ columnMap }

func NewTrim() TrimExecutor {
	return TrimExecutor{columnMap{param: "column", output: "trim_result", fn: trim}}
}

// TextLengthExecutor counts characters, not bytes.
type TextLengthExecutor struct{ columnMap }

func NewTextLength() TextLengthExecutor {
	return TextLengthExecutor{columnMap{param: "column", output: "text_length_result", fn: textLength}}
}

// TextJoinExecutor joins the text_values columns of each row with delimiter.
// Absent columns are skipped; empty values are skipped unless ignore_empty is false.
type TextJoinExecutor struct{}

func (TextJoinExecutor) ValidateParameters(params formula.Params) error {
	return requireList(params, "text_values")
}

func (TextJoinExecutor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	cols, _ := params.Columns("text_values")
	delimiter := params.Text("delimiter", ",")
	ignoreEmpty := params.Bool("ignore_empty", true)

	out := make([]formula.Row, len(rows))
	for i, row := range rows {
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			v, ok := row[col]
			if !ok {
				continue
			}
			s := v.Text()
			if ignoreEmpty && s == "" {
				continue
			}
			parts = append(parts, s)
		}
		next := row.Clone()
		next["text_join_result"] = formula.String(strings.Join(parts, delimiter))
		out[i] = next
	}
	return out, nil
}

func (TextJoinExecutor) OutputColumns(formula.Params) []string {
	return []string{"text_join_result"}
}
