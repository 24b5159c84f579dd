package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zjrosen/formulary/internal/candidate"
	"github.com/zjrosen/formulary/internal/codestore"
	"github.com/zjrosen/formulary/internal/compiletest"
	"github.com/zjrosen/formulary/internal/config"
	"github.com/zjrosen/formulary/internal/formula/builtin"
	"github.com/zjrosen/formulary/internal/log"
	"github.com/zjrosen/formulary/internal/pubsub"
	"github.com/zjrosen/formulary/internal/registry"
	"github.com/zjrosen/formulary/internal/tracing"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg        config.Config
	metrics    *prometheus.Registry
	tracing    *tracing.Provider
	events     *pubsub.Broker[registry.Event]
	registry   *registry.Registry
	store      *codestore.Store
	pipeline   *compiletest.Pipeline
	candidates *candidate.Service
}

// newApp builds the registry with built-ins and user descriptors, the code
// store and the compile pipeline. Close releases everything.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{
		cfg:     cfg,
		metrics: promReg,
		tracing: tp,
		events:  pubsub.NewBroker[registry.Event](),
	}
	a.registry = registry.New(
		registry.WithMetrics(registry.NewMetrics(promReg)),
		registry.WithTracer(tp.Tracer()),
		registry.WithEvents(a.events),
	)
	if err := builtin.RegisterAll(a.registry); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("registering built-in formulas: %w", err)
	}

	descs, err := registry.LoadDescriptorDir(cfg.Registry.DescriptorDir)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("loading descriptors: %w", err)
	}
	if n, err := a.registry.Install(descs); err != nil {
		log.Warn(log.CatRegistry, "Some descriptors were not installed", "installed", n, "error", err)
	}

	a.store, err = codestore.Open(cfg.CodeStore.Dir,
		codestore.WithCacheTTL(cfg.CodeStore.CacheTTL),
		codestore.WithWatch(cfg.CodeStore.Watch),
	)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.store.Start(ctx); err != nil {
		log.Warn(log.CatStore, "Code store watch disabled", "error", err)
	}

	a.pipeline = compiletest.New(compiletest.Config{
		WorkspaceRoot: cfg.Compile.WorkspaceRoot,
		Tool:          cfg.Compile.Tool,
		Args:          cfg.Compile.Args,
		Timeout:       cfg.Compile.Timeout,
		MaxConcurrent: cfg.Compile.MaxConcurrent,
	},
		compiletest.WithMetrics(compiletest.NewMetrics(promReg)),
		compiletest.WithTracer(tp.Tracer()),
	)

	a.candidates = candidate.New(a.store, a.pipeline, a.registry, candidate.Config{
		ArtifactDir: cfg.ArtifactDir(),
		ExecTimeout: cfg.Compile.ExecTimeout,
	}, candidate.WithTracer(tp.Tracer()))

	log.Info(log.CatRegistry, "Application ready", "formulas", len(a.registry.List()), "code_store", cfg.CodeStore.Dir)
	return a, nil
}

// Close stops the watcher, removes activated binaries, closes the event
// broker and flushes spans.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	a.events.Close()
	errs = append(errs, a.tracing.Shutdown(ctx))
	return errors.Join(errs...)
}
