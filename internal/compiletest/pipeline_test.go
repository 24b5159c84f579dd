package compiletest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/formulary/internal/formula"
)

// fakeTool mimics "go build -o OUTPUT ." by inspecting the candidate file.
const fakeTool = `#!/bin/sh
src=candidate/candidate.go
if grep -q SLOW "$src"; then
  exec sleep 10
fi
if grep -q FAIL "$src"; then
  sleep 0.05
  echo "# candidate" >&2
  echo "" >&2
  sed -n 's/.*\(FAIL[0-9]*\).*/candidate\/candidate.go:1:1: \1/p' "$src" >&2
  echo "   " >&2
  exit 1
fi
if grep -q QUIET "$src"; then
  exit 3
fi
mkdir -p "$(dirname "$3")"
echo binary > "$3"
`

const goodSource = `package shout

type Row = map[string]any

type ShoutExecutor struct{}

func (ShoutExecutor) ValidateParameters(params map[string]any) error { return nil }

func (ShoutExecutor) Execute(rows []map[string]any, params map[string]any) ([]map[string]any, error) {
	return rows, nil
}

func (ShoutExecutor) OutputColumns(params map[string]any) []string { return []string{"shout_result"} }
`

func writeTool(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakebuild")
	require.NoError(t, os.WriteFile(path, []byte(fakeTool), 0o755))
	return path
}

func newPipeline(t *testing.T, cfg Config, opts ...Option) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	cfg.WorkspaceRoot = root
	if cfg.Tool == "" {
		cfg.Tool = writeTool(t)
	}
	return New(cfg, opts...), root
}

func mustTest(t *testing.T, p *Pipeline, ctx context.Context, name, source string) Outcome {
	t.Helper()
	out, err := p.Test(ctx, name, source)
	require.NoError(t, err)
	return out
}

func mustBuild(t *testing.T, p *Pipeline, name, source, artifact string) Outcome {
	t.Helper()
	out, err := p.Build(context.Background(), name, source, artifact)
	require.NoError(t, err)
	return out
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "workspace residue left in %s", dir)
}

func TestPipeline_TestSuccess(t *testing.T) {
	p, root := newPipeline(t, Config{})

	for i := 0; i < 2; i++ {
		out := mustTest(t, p, context.Background(), "SHOUT", goodSource)
		require.True(t, out.Success, out.Diagnostics)
		require.Equal(t, "SHOUT", out.FormulaName)
		require.Equal(t, ReasonNone, out.Reason)
		require.NotNil(t, out.Diagnostics)
		require.Empty(t, out.Diagnostics)
		require.Greater(t, out.Elapsed, time.Duration(0))
		requireEmptyDir(t, root)
	}
}

func TestPipeline_TestCompileFailure(t *testing.T) {
	p, root := newPipeline(t, Config{})

	out := mustTest(t, p, context.Background(), "SHOUT", goodSource+"\n// FAIL42\n")
	require.False(t, out.Success)
	require.Equal(t, ReasonCompileFailure, out.Reason)
	require.Equal(t, "Compilation failed", out.Message)
	require.Equal(t, []string{"# candidate", "candidate/candidate.go:1:1: FAIL42"}, out.Diagnostics)
	requireEmptyDir(t, root)
}

func TestPipeline_FailureWithoutStderrStillHasDiagnostic(t *testing.T) {
	p, root := newPipeline(t, Config{})

	out := mustTest(t, p, context.Background(), "SHOUT", goodSource+"\n// QUIET\n")
	require.False(t, out.Success)
	require.Equal(t, ReasonCompileFailure, out.Reason)
	require.Len(t, out.Diagnostics, 1)
	require.Contains(t, out.Diagnostics[0], "exit status 3")
	requireEmptyDir(t, root)
}

func TestPipeline_ToolLaunchFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-compiler")
	p, root := newPipeline(t, Config{Tool: missing})

	out := mustTest(t, p, context.Background(), "SHOUT", goodSource)
	require.False(t, out.Success)
	require.Equal(t, ReasonToolLaunch, out.Reason)
	require.Len(t, out.Diagnostics, 1)
	require.Contains(t, out.Message, "failed to run compiler")
	require.Contains(t, out.Diagnostics[0], "no-such-compiler")
	requireEmptyDir(t, root)
}

func TestPipeline_Timeout(t *testing.T) {
	p, root := newPipeline(t, Config{Timeout: 200 * time.Millisecond})

	start := time.Now()
	out := mustTest(t, p, context.Background(), "SHOUT", goodSource+"\n// SLOW\n")
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, out.Success)
	require.Equal(t, ReasonTimeout, out.Reason)
	require.NotEmpty(t, out.Diagnostics)
	requireEmptyDir(t, root)
}

func TestPipeline_ArgsReceiveOutputPath(t *testing.T) {
	var seen []string
	factory := func(ctx context.Context, name string, args ...string) *exec.Cmd {
		seen = args
		return exec.CommandContext(ctx, name, args...)
	}
	p, _ := newPipeline(t, Config{}, WithCommandFactory(factory))

	out := mustTest(t, p, context.Background(), "SHOUT", goodSource)
	require.True(t, out.Success)
	require.Len(t, seen, 4)
	require.Equal(t, "build", seen[0])
	require.True(t, strings.HasSuffix(seen[2], filepath.Join("bin", "candidate")))
	require.NotContains(t, seen, OutputPlaceholder)
}

func TestPipeline_BuildKeepsArtifact(t *testing.T) {
	p, root := newPipeline(t, Config{})
	artifact := filepath.Join(t.TempDir(), "shout-bin")

	out := mustBuild(t, p, "SHOUT", goodSource, artifact)
	require.True(t, out.Success, out.Diagnostics)
	require.FileExists(t, artifact)
	requireEmptyDir(t, root)
}

func TestPipeline_BuildRejectsSourceWithoutExecutor(t *testing.T) {
	p, root := newPipeline(t, Config{})
	artifact := filepath.Join(t.TempDir(), "shout-bin")

	out := mustBuild(t, p, "SHOUT", "package shout\n\nfunc Helper() {}\n", artifact)
	require.False(t, out.Success)
	require.Equal(t, ReasonRejected, out.Reason)
	require.NoFileExists(t, artifact)
	requireEmptyDir(t, root)
}

func TestPipeline_BuildFailureRemovesArtifact(t *testing.T) {
	p, _ := newPipeline(t, Config{})
	artifact := filepath.Join(t.TempDir(), "shout-bin")
	require.NoError(t, os.WriteFile(artifact, []byte("stale"), 0o755))

	out := mustBuild(t, p, "SHOUT", goodSource+"\n// FAIL1\n", artifact)
	require.False(t, out.Success)
	require.NoFileExists(t, artifact)
}

func TestPipeline_ConcurrentTestsKeepOutcomesSeparate(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, root := newPipeline(t, Config{MaxConcurrent: 3}, WithMetrics(NewMetrics(reg)))

	const n = 12
	outcomes := make([]Outcome, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			src := goodSource
			if i%2 == 1 {
				src += fmt.Sprintf("\n// FAIL%d\n", i)
			}
			// Same name for half of the calls, distinct names for the rest.
			name := "SHOUT"
			if i >= n/2 {
				name = fmt.Sprintf("SHOUT_%d", i)
			}
			var err error
			outcomes[i], err = p.Test(context.Background(), name, src)
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, out := range outcomes {
		if i%2 == 0 {
			require.True(t, out.Success, "call %d: %v", i, out.Diagnostics)
			continue
		}
		require.False(t, out.Success, "call %d", i)
		require.Contains(t, out.Diagnostics, fmt.Sprintf("candidate/candidate.go:1:1: FAIL%d", i))
		for _, d := range out.Diagnostics {
			if strings.Contains(d, "FAIL") {
				require.True(t, strings.HasSuffix(d, fmt.Sprintf("FAIL%d", i)), "call %d saw %q", i, d)
			}
		}
	}
	requireEmptyDir(t, root)

	require.Equal(t, float64(n/2), testutil.ToFloat64(p.metrics.outcomes.WithLabelValues("success")))
	require.Equal(t, float64(n/2), testutil.ToFloat64(p.metrics.outcomes.WithLabelValues(string(ReasonCompileFailure))))
	require.Zero(t, testutil.ToFloat64(p.metrics.inFlight))
}

func TestPipeline_SlotWaitHonoursContext(t *testing.T) {
	p, _ := newPipeline(t, Config{MaxConcurrent: 1, Timeout: 3 * time.Second})
	require.True(t, p.sem.TryAcquire(1))
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := mustTest(t, p, ctx, "SHOUT", goodSource)
	require.False(t, out.Success)
	require.Equal(t, ReasonTimeout, out.Reason)
}

func TestPipeline_CallerCancellation(t *testing.T) {
	p, root := newPipeline(t, Config{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	out := mustTest(t, p, ctx, "SHOUT", goodSource+"\n// SLOW\n")
	require.False(t, out.Success)
	require.Equal(t, ReasonCanceled, out.Reason)
	require.Equal(t, "Compilation canceled", out.Message)
	requireEmptyDir(t, root)
}

func TestPipeline_RejectsUnusableNames(t *testing.T) {
	tool := writeTool(t)
	base := t.TempDir()
	root := filepath.Join(base, "root")
	require.NoError(t, os.Mkdir(root, 0o750))
	p := New(Config{WorkspaceRoot: root, Tool: tool})
	artifact := filepath.Join(t.TempDir(), "bin")

	for _, name := range []string{"../x", "../escaped", "My Formula", "ÜBER", "", "1ABC"} {
		t.Run(name, func(t *testing.T) {
			out, err := p.Test(context.Background(), name, goodSource)
			require.ErrorIs(t, err, formula.ErrConfig)
			require.False(t, out.Success)
			require.Equal(t, ReasonRejected, out.Reason)
			require.NotEmpty(t, out.Diagnostics)

			_, err = p.Build(context.Background(), name, goodSource, artifact)
			require.ErrorIs(t, err, formula.ErrConfig)
			require.NoFileExists(t, artifact)
		})
	}
	requireEmptyDir(t, root)
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing may be written beside the workspace root")
}

func TestPipeline_WorkspaceFailureIsStorageError(t *testing.T) {
	notDir := filepath.Join(t.TempDir(), "notadir")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o600))
	p := New(Config{WorkspaceRoot: notDir, Tool: writeTool(t)})

	out, err := p.Test(context.Background(), "SHOUT", goodSource)
	require.ErrorIs(t, err, formula.ErrStorage)
	require.False(t, out.Success)
	require.Equal(t, ReasonStorage, out.Reason)

	_, err = p.Build(context.Background(), "SHOUT", goodSource, filepath.Join(t.TempDir(), "bin"))
	require.ErrorIs(t, err, formula.ErrStorage)
}

func TestPipeline_RealGoToolchain(t *testing.T) {
	if testing.Short() {
		t.Skip("builds with the go toolchain")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not on PATH")
	}
	root := t.TempDir()
	p := New(Config{WorkspaceRoot: root, Env: []string{"GOTOOLCHAIN=local"}})

	out := mustTest(t, p, context.Background(), "SHOUT", goodSource)
	require.True(t, out.Success, out.Diagnostics)
	requireEmptyDir(t, root)

	out = mustTest(t, p, context.Background(), "SHOUT", strings.Replace(goodSource, "return rows, nil", "return rows, undefinedThing", 1))
	require.False(t, out.Success)
	require.Equal(t, ReasonCompileFailure, out.Reason)
	require.NotEmpty(t, out.Diagnostics)
	joined := strings.Join(out.Diagnostics, "\n")
	require.Contains(t, joined, "undefinedThing")
	requireEmptyDir(t, root)
}
