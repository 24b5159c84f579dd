package candidate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/formulary/internal/codestore"
	"github.com/zjrosen/formulary/internal/compiletest"
	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/formula/builtin"
	"github.com/zjrosen/formulary/internal/registry"
	"github.com/zjrosen/formulary/internal/testutil"
)

type fixture struct {
	svc      *Service
	store    *codestore.Store
	registry *registry.Registry
	root     string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := codestore.Open(filepath.Join(t.TempDir(), "code"), codestore.WithCacheTTL(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	pipeline := compiletest.New(compiletest.Config{
		WorkspaceRoot: root,
		Tool:          testutil.WriteScript(t, "fakebuild", testutil.FakeBuildTool),
	})
	reg := registry.New()
	require.NoError(t, builtin.RegisterAll(reg))
	t.Cleanup(func() { _ = reg.Close() })

	svc := New(store, pipeline, reg, Config{ArtifactDir: filepath.Join(t.TempDir(), "bin")})
	return fixture{svc: svc, store: store, registry: reg, root: root}
}

func TestService_SaveAcceptsAndOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Save(ctx, "SHOUT", testutil.ShoutSource)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.NotNil(t, res.SavedAt)
	require.Contains(t, res.Message, "SHOUT")

	changed := testutil.ShoutSource + "\n// v2\n"
	_, err = f.svc.Save(ctx, "shout", changed)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, "SHOUT")
	require.NoError(t, err)
	require.Equal(t, changed, got)

	names, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"SHOUT"}, names)
}

func TestService_SaveRejectsMissingMethods(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Save(ctx, "SHOUT", "package shout\n\ntype ShoutExecutor struct{}\n\nfunc (ShoutExecutor) Execute() {}\n")
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Contains(t, res.Reason, "ValidateParameters")
	require.Nil(t, res.SavedAt)

	_, err = f.svc.Get(ctx, "SHOUT")
	require.ErrorIs(t, err, formula.ErrNotFound)
}

func TestService_SaveBadNameIsError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Save(context.Background(), "../x", testutil.ShoutSource)
	require.ErrorIs(t, err, formula.ErrConfig)
}

func TestService_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Save(ctx, "SHOUT", testutil.ShoutSource)
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, "SHOUT"))
	require.NoError(t, f.svc.Delete(ctx, "SHOUT"))

	names, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestService_TestAndTestSaved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.svc.Test(ctx, "SHOUT", testutil.ShoutSource)
	require.NoError(t, err)
	require.True(t, out.Success, out.Diagnostics)

	out, err = f.svc.Test(ctx, "SHOUT", testutil.ShoutSource+"// FAIL7\n")
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, []string{"candidate/candidate.go:1:1: FAIL7"}, out.Diagnostics)

	_, err = f.svc.Test(ctx, "../SHOUT", testutil.ShoutSource)
	require.ErrorIs(t, err, formula.ErrConfig)

	_, err = f.svc.TestSaved(ctx, "SHOUT")
	require.ErrorIs(t, err, formula.ErrNotFound)

	_, err = f.svc.Save(ctx, "SHOUT", testutil.ShoutSource)
	require.NoError(t, err)
	out, err = f.svc.TestSaved(ctx, "SHOUT")
	require.NoError(t, err)
	require.True(t, out.Success)

	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestService_GenerateUsesDescriptorParameters(t *testing.T) {
	f := newFixture(t)

	src, err := f.svc.Generate("IF")
	require.NoError(t, err)
	require.Contains(t, src, "IfExecutor")
	require.Contains(t, src, `"condition_column"`)

	src, err = f.svc.Generate("BRAND_NEW")
	require.NoError(t, err)
	require.Contains(t, src, `params["input"]`)
}

func TestService_Diff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Diff(ctx, "SHOUT", "x")
	require.ErrorIs(t, err, formula.ErrNotFound)

	_, err = f.svc.Save(ctx, "SHOUT", testutil.ShoutSource)
	require.NoError(t, err)

	d, err := f.svc.Diff(ctx, "SHOUT", testutil.ShoutSource)
	require.NoError(t, err)
	require.True(t, d.Identical)
	require.Equal(t, "proposed", d.Against)

	d, err = f.svc.Diff(ctx, "SHOUT", "")
	require.NoError(t, err)
	require.False(t, d.Identical)
	require.Equal(t, "generated", d.Against)
	require.Positive(t, d.Insertions+d.Deletions)
}

func TestService_ActivateNewFormula(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Activate(ctx, "SHOUT")
	require.ErrorIs(t, err, formula.ErrNotFound)

	_, err = f.svc.Save(ctx, "SHOUT", testutil.ShoutSource)
	require.NoError(t, err)

	res, err := f.svc.Activate(ctx, "SHOUT")
	require.NoError(t, err)
	require.True(t, res.Activated, res.Outcome.Diagnostics)
	require.True(t, res.Created)
	require.FileExists(t, res.Artifact)

	reg, ok := f.registry.Get("SHOUT")
	require.True(t, ok)
	require.Equal(t, "custom", reg.Descriptor.Category)

	result, err := f.registry.Execute(ctx, formula.NewRequest("SHOUT", []formula.Row{{"text": formula.String("hi")}}, nil))
	require.NoError(t, err)
	require.True(t, result.Succeeded(), result.ErrorMessage)
	require.Equal(t, "HI", result.Data[0]["shout_result"].Text())
	require.Equal(t, []string{"shout_result"}, result.Metadata.OutputColumns)
}

func TestService_ActivateReplacesPreviousBinary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Save(ctx, "SHOUT", testutil.ShoutSource)
	require.NoError(t, err)

	first, err := f.svc.Activate(ctx, "SHOUT")
	require.NoError(t, err)
	second, err := f.svc.Activate(ctx, "SHOUT")
	require.NoError(t, err)
	require.False(t, second.Created)

	require.NoFileExists(t, first.Artifact)
	require.FileExists(t, second.Artifact)
}

func TestService_ActivateBuildFailureLeavesRegistryAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Save(ctx, "UPPER", testutil.ShoutSource+"// FAIL1\n")
	require.NoError(t, err)

	res, err := f.svc.Activate(ctx, "UPPER")
	require.NoError(t, err)
	require.False(t, res.Activated)
	require.Equal(t, compiletest.ReasonCompileFailure, res.Outcome.Reason)

	reg, _ := f.registry.Get("UPPER")
	require.Contains(t, reg.Executor, "UpperExecutor")
}

func TestLines(t *testing.T) {
	d := Lines("a\nb\nc\n", "a\nB\nc\nd\n")
	require.False(t, d.Identical)
	require.Equal(t, 2, d.Insertions)
	require.Equal(t, 1, d.Deletions)
	require.Equal(t, " a\n-b\n+B\n c\n+d\n", d.Text)

	require.True(t, Lines("same\n", "same\n").Identical)
}
