package presentation

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zjrosen/formulary/internal/candidate"
	"github.com/zjrosen/formulary/internal/compiletest"
	"github.com/zjrosen/formulary/internal/formula"
)

// Renderer writes human-readable text. Colors are dropped automatically when
// the writer is not a terminal.
type Renderer struct {
	w io.Writer

	title   lipgloss.Style
	subtle  lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
}

// NewRenderer binds styles to w.
func NewRenderer(w io.Writer) *Renderer {
	lr := lipgloss.NewRenderer(w)
	return &Renderer{
		w:       w,
		title:   lr.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#5F3DC4", Dark: "#B197FC"}),
		subtle:  lr.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#868E96", Dark: "#696969"}),
		success: lr.NewStyle().Foreground(lipgloss.Color("#2F9E44")),
		failure: lr.NewStyle().Foreground(lipgloss.Color("#E03131")),
		added:   lr.NewStyle().Foreground(lipgloss.Color("#2F9E44")),
		removed: lr.NewStyle().Foreground(lipgloss.Color("#E03131")),
	}
}

// Formulas writes one line per formula with the name column padded to the
// widest name.
func (r *Renderer) Formulas(formulas []FormulaDTO) error {
	if len(formulas) == 0 {
		_, err := fmt.Fprintln(r.w, r.subtle.Render("no formulas registered"))
		return err
	}
	width := 0
	for _, f := range formulas {
		width = max(width, lipgloss.Width(f.Name))
	}
	var sb strings.Builder
	for _, f := range formulas {
		name := r.title.Render(f.Name) + strings.Repeat(" ", width-lipgloss.Width(f.Name))
		category := r.subtle.Render(f.Category) + strings.Repeat(" ", max(0, 12-lipgloss.Width(f.Category)))
		line := fmt.Sprintf("%s  %s  %s", name, category, f.Description)
		if !f.Active {
			line += " " + r.failure.Render("(disabled)")
		}
		sb.WriteString(line + "\n")
	}
	_, err := io.WriteString(r.w, sb.String())
	return err
}

// Outcome writes a compile verdict followed by its diagnostics.
func (r *Renderer) Outcome(o compiletest.Outcome) error {
	var sb strings.Builder
	if o.Success {
		sb.WriteString(r.success.Render("ok") + " " + o.FormulaName)
	} else {
		sb.WriteString(r.failure.Render("FAIL") + " " + o.FormulaName + ": " + o.Message)
	}
	sb.WriteString(r.subtle.Render(fmt.Sprintf(" (%.1fms)", o.ElapsedMS)) + "\n")
	for _, d := range o.Diagnostics {
		sb.WriteString("  " + d + "\n")
	}
	_, err := io.WriteString(r.w, sb.String())
	return err
}

// Diff writes a colored line diff with a summary header.
func (r *Renderer) Diff(d candidate.Diff) error {
	var sb strings.Builder
	sb.WriteString(r.title.Render(d.FormulaName) + r.subtle.Render(" vs "+d.Against) + "\n")
	if d.Identical {
		sb.WriteString(r.subtle.Render("no differences") + "\n")
		_, err := io.WriteString(r.w, sb.String())
		return err
	}
	sb.WriteString(fmt.Sprintf("%s %s\n", r.added.Render(fmt.Sprintf("+%d", d.Insertions)), r.removed.Render(fmt.Sprintf("-%d", d.Deletions))))
	for _, line := range strings.SplitAfter(d.Text, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(body, "+"):
			body = r.added.Render(body)
		case strings.HasPrefix(body, "-"):
			body = r.removed.Render(body)
		}
		sb.WriteString(body + "\n")
	}
	_, err := io.WriteString(r.w, sb.String())
	return err
}

// Result writes an execution envelope: a status line, then the rows as a
// table. Columns are ordered by name; absent cells render empty.
func (r *Renderer) Result(res formula.ExecutionResult) error {
	var sb strings.Builder
	if res.Succeeded() {
		sb.WriteString(r.success.Render("success") + " " + res.Metadata.FormulaName)
	} else {
		sb.WriteString(r.failure.Render("error") + " " + res.Metadata.FormulaName + ": " + res.ErrorMessage)
	}
	sb.WriteString(r.subtle.Render(fmt.Sprintf(" (%.1fms)", res.Metadata.ElapsedMS)) + "\n")

	if len(res.Data) > 0 {
		cols := columnsOf(res.Data)
		t := table.New().Border(lipgloss.NormalBorder()).Headers(cols...)
		for _, row := range res.Data {
			cells := make([]string, len(cols))
			for i, c := range cols {
				if v, ok := row[c]; ok {
					cells[i] = v.Text()
				}
			}
			t.Row(cells...)
		}
		sb.WriteString(t.String() + "\n")
	}
	_, err := io.WriteString(r.w, sb.String())
	return err
}

func columnsOf(rows []formula.Row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for c := range row {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
