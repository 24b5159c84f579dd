package compiletest

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed scaffold/*.tmpl
var scaffoldFS embed.FS

var scaffold = template.Must(template.ParseFS(scaffoldFS, "scaffold/*.tmpl"))

const (
	goVersion     = "1.22"
	candidateDir  = "candidate"
	candidateFile = "candidate.go"
)

type scaffoldData struct {
	Module       string
	GoVersion    string
	ExecutorType string
}

// writeWorkspace lays out a buildable module in dir: go.mod, the candidate
// package and a main package that drives the candidate over stdin/stdout.
// When no executor type was found the main package only imports the
// candidate so the build still reports the compiler's own diagnostics.
func writeWorkspace(dir, name, source string, shape Shape) error {
	data := scaffoldData{
		Module:       "formulary.local/" + strings.ToLower(name),
		GoVersion:    goVersion,
		ExecutorType: shape.ExecutorType,
	}

	if err := os.MkdirAll(filepath.Join(dir, candidateDir), 0o750); err != nil {
		return err
	}
	files := map[string]string{}
	for out, tmpl := range map[string]string{"go.mod": "go.mod.tmpl", "main.go": "main.go.tmpl"} {
		var buf bytes.Buffer
		if err := scaffold.ExecuteTemplate(&buf, tmpl, data); err != nil {
			return fmt.Errorf("rendering %s: %w", tmpl, err)
		}
		files[out] = buf.String()
	}
	files[filepath.Join(candidateDir, candidateFile)] = source

	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o600); err != nil {
			return err
		}
	}
	return nil
}
