// Package generator renders starter executor source for a formula, ready to
// be saved as a candidate and compile-tested.
package generator

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"strings"
	"text/template"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zjrosen/formulary/internal/formula"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// skeleton is the data every template renders from.
type skeleton struct {
	Name    string
	Package string
	Type    string
	Output  string
	Params  []string

	// unary
	Param   string
	Expr    string
	Imports []string
	Helper  string

	// binary
	Left         string
	Right        string
	RightDefault int
	SafeDivide   bool
}

const properCaseHelper = `func properCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
`

type variant struct {
	template string
	fill     func(*skeleton)
}

func unary(expr string, imports ...string) variant {
	return variant{"unary.go.tmpl", func(s *skeleton) {
		s.Param, s.Expr, s.Imports = "text_column", expr, imports
	}}
}

func binary(left, right, expr string, rightDefault int) variant {
	return variant{"binary.go.tmpl", func(s *skeleton) {
		s.Left, s.Right, s.Expr, s.RightDefault = left, right, expr, rightDefault
		s.SafeDivide = strings.HasPrefix(expr, "divide(")
	}}
}

var variants = map[string]variant{
	"UPPER":       unary("strings.ToUpper(s)", "strings"),
	"LOWER":       unary("strings.ToLower(s)", "strings"),
	"TRIM":        unary("strings.TrimSpace(s)", "strings"),
	"TEXT_LENGTH": unary("float64(utf8.RuneCountInString(s))", "unicode/utf8"),
	"PROPER_CASE": {"unary.go.tmpl", func(s *skeleton) {
		s.Param, s.Expr, s.Imports, s.Helper = "text_column", "properCase(s)", []string{"strings", "unicode"}, properCaseHelper
	}},
	"ADD":      binary("number1", "number2", "a + b", 0),
	"SUBTRACT": binary("column1", "column2", "a - b", 0),
	"MULTIPLY": binary("column1", "column2", "a * b", 0),
	"DIVIDE":   binary("column1", "column2", "divide(a, b)", 1),
}

// Generate renders source for name. Names with a dedicated skeleton ignore
// params; the rest get a generic skeleton that requires each of params, or a
// single "input" parameter when params is empty.
func Generate(name string, params []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: formula name is required", formula.ErrConfig)
	}
	if len(params) == 0 {
		params = []string{"input"}
	}

	s := skeleton{
		Name:    name,
		Package: PackageName(name),
		Type:    TypeName(name),
		Output:  strings.ToLower(name) + "_result",
		Params:  params,
	}
	tmpl := "generic.go.tmpl"
	if v, ok := variants[strings.ToUpper(name)]; ok {
		tmpl = v.template
		v.fill(&s)
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, tmpl, s); err != nil {
		return "", fmt.Errorf("rendering %s skeleton: %w", name, err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("formatting %s skeleton: %w", name, err)
	}
	return string(src), nil
}

// HasDedicated reports whether name has a skeleton beyond the generic one.
func HasDedicated(name string) bool {
	_, ok := variants[strings.ToUpper(name)]
	return ok
}

// TypeName turns TEXT_JOIN into TextJoinExecutor.
func TypeName(name string) string {
	title := cases.Title(language.Und)
	var b strings.Builder
	for _, part := range splitWords(name) {
		b.WriteString(title.String(part))
	}
	if b.Len() == 0 || !unicode.IsLetter([]rune(b.String())[0]) {
		return "Formula" + b.String() + "Executor"
	}
	return b.String() + "Executor"
}

// PackageName turns TEXT_JOIN into textjoin.
func PackageName(name string) string {
	pkg := strings.ToLower(strings.Join(splitWords(name), ""))
	if pkg == "" || !unicode.IsLetter([]rune(pkg)[0]) {
		pkg = "formula" + pkg
	}
	return pkg
}

func splitWords(name string) []string {
	return strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
