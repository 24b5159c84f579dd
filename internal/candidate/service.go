// Package candidate manages user-submitted executor source: saving it behind a
// structural check, compile-testing it, diffing it and activating it as a
// registry executor.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/formulary/internal/codestore"
	"github.com/zjrosen/formulary/internal/compiletest"
	"github.com/zjrosen/formulary/internal/external"
	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/generator"
	"github.com/zjrosen/formulary/internal/log"
	"github.com/zjrosen/formulary/internal/registry"
	"github.com/zjrosen/formulary/internal/tracing"
)

// SaveResult reports whether source passed the structural check and was stored.
type SaveResult struct {
	FormulaName string     `json:"formula_name"`
	Accepted    bool       `json:"success"`
	Message     string     `json:"message"`
	Reason      string     `json:"reason,omitempty"`
	SavedAt     *time.Time `json:"saved_at,omitempty"`
}

// ActivateResult reports a build-and-bind attempt.
type ActivateResult struct {
	FormulaName string              `json:"formula_name"`
	Activated   bool                `json:"success"`
	Created     bool                `json:"created"`
	Artifact    string              `json:"artifact,omitempty"`
	Outcome     compiletest.Outcome `json:"build"`
}

// Config controls where activated binaries live and how they run.
type Config struct {
	ArtifactDir string
	ExecTimeout time.Duration
}

// Service is safe for concurrent use.
type Service struct {
	store    *codestore.Store
	pipeline *compiletest.Pipeline
	registry *registry.Registry
	cfg      Config
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// New wires a candidate service. A nil registry disables Activate.
func New(store *codestore.Store, pipeline *compiletest.Pipeline, reg *registry.Registry, cfg Config, opts ...Option) *Service {
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = filepath.Join(store.Dir(), ".bin")
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = external.DefaultTimeout
	}
	s := &Service{store: store, pipeline: pipeline, registry: reg, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("candidate")
	}
	return s
}

// Save runs the structural check and persists accepted source, overwriting
// any earlier version. Rejection is a result, not an error; only storage
// problems and unusable names return errors.
func (s *Service) Save(ctx context.Context, name, source string) (SaveResult, error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanStoreSave,
		trace.WithAttributes(attribute.String(tracing.AttrFormulaName, name)))
	defer span.End()

	result := SaveResult{FormulaName: name}
	if _, err := compiletest.Inspect(source); err != nil {
		result.Message = "Code rejected"
		result.Reason = err.Error()
		log.Info(log.CatStore, "Rejected candidate source", "name", name, "reason", err.Error())
		return result, nil
	}

	saved, err := s.store.Save(ctx, name, source)
	if err != nil {
		tracing.Fail(span, err)
		return result, err
	}
	result.Accepted = true
	result.Message = fmt.Sprintf("Code saved successfully for formula: %s", name)
	result.SavedAt = &saved.SavedAt
	return result, nil
}

// Test compile-tests source without storing it. Compile failures are in the
// Outcome; the error reports an unusable name or a storage failure.
func (s *Service) Test(ctx context.Context, name, source string) (compiletest.Outcome, error) {
	return s.pipeline.Test(ctx, name, source)
}

// TestSaved compile-tests the stored source for name.
func (s *Service) TestSaved(ctx context.Context, name string) (compiletest.Outcome, error) {
	source, err := s.store.Get(ctx, name)
	if err != nil {
		return compiletest.Outcome{}, err
	}
	return s.pipeline.Test(ctx, name, source)
}

// Get returns saved source or formula.ErrNotFound.
func (s *Service) Get(ctx context.Context, name string) (string, error) {
	return s.store.Get(ctx, name)
}

// Delete removes saved source; deleting nothing succeeds.
func (s *Service) Delete(ctx context.Context, name string) error {
	return s.store.Delete(ctx, name)
}

// List returns the upper-cased names with saved source.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// Generate renders a starter skeleton, taking parameter names from the
// registered descriptor when there is one.
func (s *Service) Generate(name string) (string, error) {
	var params []string
	if s.registry != nil {
		if reg, ok := s.registry.Get(name); ok {
			params = reg.Descriptor.ParameterNames()
		}
	}
	return generator.Generate(name, params)
}

// Diff compares saved source with proposed. An empty proposal is compared
// against the generated skeleton.
func (s *Service) Diff(ctx context.Context, name, proposed string) (Diff, error) {
	saved, err := s.store.Get(ctx, name)
	if err != nil {
		return Diff{}, err
	}
	against := "proposed"
	if strings.TrimSpace(proposed) == "" {
		if proposed, err = s.Generate(name); err != nil {
			return Diff{}, err
		}
		against = "generated"
	}
	d := Lines(saved, proposed)
	d.FormulaName = name
	d.Against = against
	return d, nil
}

// Activate builds the saved source and binds the resulting binary to name in
// the registry, defining a minimal descriptor when the name is new. A failed
// build leaves the registry untouched and is reported in the result.
func (s *Service) Activate(ctx context.Context, name string) (ActivateResult, error) {
	result := ActivateResult{FormulaName: name}
	if s.registry == nil {
		return result, fmt.Errorf("%w: activation needs a registry", formula.ErrConfig)
	}
	source, err := s.store.Get(ctx, name)
	if err != nil {
		return result, err
	}
	if err := os.MkdirAll(s.cfg.ArtifactDir, 0o750); err != nil {
		return result, fmt.Errorf("%w: creating artifact dir: %w", formula.ErrStorage, err)
	}

	artifact := filepath.Join(s.cfg.ArtifactDir, strings.ToLower(name)+"-"+uuid.NewString())
	result.Outcome, err = s.pipeline.Build(ctx, name, source, artifact)
	if err != nil || !result.Outcome.Success {
		return result, err
	}

	exec := external.New(name, artifact, external.WithTimeout(s.cfg.ExecTimeout), external.WithTracer(s.tracer))
	err = s.registry.Bind(name, exec)
	if errors.Is(err, formula.ErrNotFound) {
		err = s.registry.Register(defaultDescriptor(name), exec)
		result.Created = err == nil
	}
	if err != nil {
		_ = exec.Close()
		return result, err
	}

	result.Activated = true
	result.Artifact = artifact
	log.Info(log.CatCompile, "Activated candidate", "name", name, "artifact", artifact, "created", result.Created)
	return result, nil
}

func defaultDescriptor(name string) formula.Descriptor {
	return formula.Descriptor{
		Name:        name,
		Category:    "custom",
		Description: "Custom formula " + name,
	}
}
