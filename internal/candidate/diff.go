package candidate

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff is a line-level comparison of two sources.
type Diff struct {
	FormulaName string `json:"formula_name"`
	Against     string `json:"against"`
	Identical   bool   `json:"identical"`
	Insertions  int    `json:"insertions"`
	Deletions   int    `json:"deletions"`
	// Text prefixes each line with "+", "-" or a space.
	Text string `json:"diff"`
}

// Lines diffs two texts line by line.
func Lines(from, to string) Diff {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	d := Diff{Identical: true}
	var sb strings.Builder
	for _, df := range diffs {
		prefix := " "
		switch df.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range splitLines(df.Text) {
			switch df.Type {
			case diffmatchpatch.DiffInsert:
				d.Insertions++
				d.Identical = false
			case diffmatchpatch.DiffDelete:
				d.Deletions++
				d.Identical = false
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	d.Text = sb.String()
	return d
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
