package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// FakeHarness answers the external executor protocol with canned replies.
const FakeHarness = `#!/bin/sh
req=$(cat)
case "$req" in
  *'"op":"execute"'*) echo '{"rows":[{"shout_result":"HI"}]}' ;;
  *'"op":"columns"'*) echo '{"columns":["shout_result"]}' ;;
  *) echo '{}' ;;
esac
`

// FakeBuildTool stands in for "go build -o OUTPUT .". Candidate source
// containing FAIL fails with a diagnostic naming the marker, SLOW hangs, and
// anything else produces FakeHarness at OUTPUT.
const FakeBuildTool = `#!/bin/sh
src=candidate/candidate.go
if grep -q SLOW "$src"; then
  exec sleep 10
fi
if grep -q FAIL "$src"; then
  sed -n 's/.*\(FAIL[0-9]*\).*/candidate\/candidate.go:1:1: \1/p' "$src" >&2
  exit 1
fi
mkdir -p "$(dirname "$3")"
cat > "$3" <<'HARNESS'
` + FakeHarness + `HARNESS
chmod +x "$3"
`

// WriteScript writes an executable script into a fresh temp dir and returns
// its path.
func WriteScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

// ShoutSource is candidate source that passes the structural check.
const ShoutSource = `package shout

import "strings"

type ShoutExecutor struct{}

func (ShoutExecutor) ValidateParameters(params map[string]any) error { return nil }

func (ShoutExecutor) Execute(rows []map[string]any, params map[string]any) ([]map[string]any, error) {
	for _, row := range rows {
		if s, ok := row["text"].(string); ok {
			row["shout_result"] = strings.ToUpper(s)
		}
	}
	return rows, nil
}

func (ShoutExecutor) OutputColumns(params map[string]any) []string { return []string{"shout_result"} }
`
