package compiletest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/log"
	"github.com/zjrosen/formulary/internal/tracing"
)

// OutputPlaceholder in Config.Args is replaced with the artifact path.
const OutputPlaceholder = "{output}"

const (
	DefaultTool    = "go"
	DefaultTimeout = 2 * time.Minute
)

// DefaultArgs builds the workspace's main package into the artifact path.
var DefaultArgs = []string{"build", "-o", OutputPlaceholder, "."}

// Config controls how candidates are built.
type Config struct {
	// WorkspaceRoot holds per-call workspaces. Empty means os.TempDir().
	WorkspaceRoot string
	Tool          string
	Args          []string
	Timeout       time.Duration
	// MaxConcurrent bounds simultaneous builds. Zero is unbounded.
	MaxConcurrent int
	// Env is appended to the process environment.
	Env []string
}

// CommandFactoryFunc creates the build command; tests swap it out.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

func WithCommandFactory(fn CommandFactoryFunc) Option {
	return func(p *Pipeline) { p.newCmd = fn }
}

// Pipeline runs compile tests. It is safe for concurrent use; every call gets
// its own workspace.
type Pipeline struct {
	cfg     Config
	sem     *semaphore.Weighted
	newCmd  CommandFactoryFunc
	metrics *Metrics
	tracer  trace.Tracer
}

// New creates a pipeline, filling unset Config fields with defaults.
func New(cfg Config, opts ...Option) *Pipeline {
	if cfg.Tool == "" {
		cfg.Tool = DefaultTool
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultArgs
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}

	p := &Pipeline{cfg: cfg, newCmd: exec.CommandContext}
	if cfg.MaxConcurrent > 0 {
		p.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	if p.tracer == nil {
		p.tracer = noop.NewTracerProvider().Tracer("compiletest")
	}
	return p
}

// Test builds source and discards the result. Build failures, launch failures
// and timeouts are reported in the Outcome; the workspace is removed on every
// path. The error is non-nil only for an unusable name (formula.ErrConfig) or
// a workspace that could not be written (formula.ErrStorage).
func (p *Pipeline) Test(ctx context.Context, name, source string) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, tracing.SpanCompileTest,
		trace.WithAttributes(attribute.String(tracing.AttrFormulaName, name)))
	defer span.End()

	if err := formula.CheckSourceName(name); err != nil {
		tracing.Fail(span, err)
		return rejected(name, err), err
	}
	shape, _ := Inspect(source)
	outcome, err := p.run(ctx, name, source, shape, "")
	annotate(span, outcome)
	return outcome, err
}

// Build compiles source into artifact and keeps it. The source must declare an
// executor type; otherwise the Outcome is rejected without invoking the tool.
// A failed build never leaves a partial artifact behind. Errors are as for Test.
func (p *Pipeline) Build(ctx context.Context, name, source, artifact string) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, tracing.SpanCompileBuild,
		trace.WithAttributes(attribute.String(tracing.AttrFormulaName, name)))
	defer span.End()

	if err := formula.CheckSourceName(name); err != nil {
		tracing.Fail(span, err)
		return rejected(name, err), err
	}
	shape, err := Inspect(source)
	if err != nil {
		outcome := rejected(name, err)
		outcome.Message = "Source rejected"
		p.metrics.observe(outcome)
		annotate(span, outcome)
		return outcome, nil
	}

	outcome, err := p.run(ctx, name, source, shape, artifact)
	if !outcome.Success {
		_ = os.Remove(artifact)
	}
	annotate(span, outcome)
	return outcome, err
}

func rejected(name string, err error) Outcome {
	return Outcome{
		FormulaName: name,
		Message:     err.Error(),
		Diagnostics: []string{err.Error()},
		Reason:      ReasonRejected,
	}
}

func (p *Pipeline) run(ctx context.Context, name, source string, shape Shape, artifact string) (outcome Outcome, err error) {
	start := time.Now()
	outcome = Outcome{FormulaName: name, Diagnostics: []string{}}
	defer func() {
		outcome.setElapsed(time.Since(start))
		p.metrics.observe(outcome)
		log.Info(log.CatCompile, "Compile finished", "name", name, "success", outcome.Success,
			"reason", outcome.Reason, "diagnostics", len(outcome.Diagnostics), "elapsed", outcome.Elapsed)
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			outcome.Reason = interrupted(ctx)
			outcome.Message = "Gave up waiting for a compile slot"
			outcome.Diagnostics = []string{err.Error()}
			return outcome, nil
		}
		defer p.sem.Release(1)
	}
	p.metrics.inFlight.Inc()
	defer p.metrics.inFlight.Dec()

	workspace := filepath.Join(p.cfg.WorkspaceRoot, strings.ToLower(name)+"-"+uuid.NewString())
	trace.SpanFromContext(ctx).SetAttributes(attribute.String(tracing.AttrWorkspace, workspace))
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			log.ErrorErr(log.CatCompile, "Removing compile workspace", err, "dir", workspace)
		}
	}()

	if err := writeWorkspace(workspace, name, source, shape); err != nil {
		err = fmt.Errorf("%w: preparing workspace: %w", formula.ErrStorage, err)
		outcome.Message = "Failed to prepare build workspace"
		outcome.Reason = ReasonStorage
		outcome.Diagnostics = []string{err.Error()}
		return outcome, err
	}

	output := artifact
	if output == "" {
		output = filepath.Join(workspace, "bin", "candidate")
	}
	args := make([]string, len(p.cfg.Args))
	for i, a := range p.cfg.Args {
		args[i] = strings.ReplaceAll(a, OutputPlaceholder, output)
	}

	// #nosec G204 -- tool and args come from configuration
	cmd := p.newCmd(ctx, p.cfg.Tool, args...)
	cmd.Dir = workspace
	cmd.Env = append(os.Environ(), "GOWORK=off", "GOFLAGS=-mod=mod")
	cmd.Env = append(cmd.Env, p.cfg.Env...)
	cmd.WaitDelay = 5 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("%w: %s: %w", formula.ErrToolLaunch, p.cfg.Tool, err)
		outcome.Message = err.Error()
		outcome.Reason = ReasonToolLaunch
		outcome.Diagnostics = []string{err.Error()}
		return outcome, nil
	}

	waitErr := cmd.Wait()
	switch {
	case ctx.Err() != nil:
		outcome.Reason = interrupted(ctx)
		if outcome.Reason == ReasonTimeout {
			outcome.Message = fmt.Sprintf("Compilation timed out after %s", p.cfg.Timeout)
		} else {
			outcome.Message = "Compilation canceled"
		}
		outcome.Diagnostics = append(ParseDiagnostics(stderr.String()), outcome.Message)
	case waitErr != nil:
		outcome.Message = "Compilation failed"
		outcome.Reason = ReasonCompileFailure
		outcome.Diagnostics = ParseDiagnostics(stderr.String())
		if len(outcome.Diagnostics) == 0 {
			outcome.Diagnostics = []string{fmt.Sprintf("%v: %v", formula.ErrCompileFailure, waitErr)}
		}
	default:
		outcome.Success = true
		outcome.Message = "Code compiled successfully"
	}
	return outcome, nil
}

// interrupted classifies a done ctx: its own deadline or the caller's is a
// timeout, anything else a cancellation.
func interrupted(ctx context.Context) Reason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonCanceled
}

func annotate(span trace.Span, o Outcome) {
	span.SetAttributes(
		attribute.Bool(tracing.AttrCompileSuccess, o.Success),
		attribute.String(tracing.AttrCompileReason, string(o.Reason)),
		attribute.Int(tracing.AttrCompileDiagnostics, len(o.Diagnostics)),
	)
	if !o.Success {
		tracing.Fail(span, errors.New(o.Message))
	}
}
