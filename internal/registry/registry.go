// Package registry binds formula names to a descriptor and an executor and
// enforces the validate-then-execute contract.
//
// Lifecycle per name:
//
//	unregistered -> registered(active) <-> registered(disabled) -> removed
//
// A removed name can be registered again as if it were new.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/log"
	"github.com/zjrosen/formulary/internal/pubsub"
	"github.com/zjrosen/formulary/internal/tracing"
)

// Event is the payload published for lifecycle changes.
type Event struct {
	Name   string
	Active bool
}

// Registration is a snapshot of one registry entry.
type Registration struct {
	Descriptor formula.Descriptor
	// Executor is the executor's type name, empty when none is bound.
	Executor string
}

// Bound reports whether an executor is attached.
func (r Registration) Bound() bool {
	return r.Executor != ""
}

type entry struct {
	desc formula.Descriptor
	exec formula.Executor
}

// Registry is safe for concurrent use. Entries are replaced whole, never
// patched, so readers always see a consistent descriptor/executor pair.
// Execute runs the executor outside the lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry

	metrics *Metrics
	tracer  trace.Tracer
	events  *pubsub.Broker[Event]
}

// Option configures a Registry.
type Option func(*Registry)

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// WithEvents publishes lifecycle events on b.
func WithEvents(b *pubsub.Broker[Event]) Option {
	return func(r *Registry) { r.events = b }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]entry)}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("registry")
	}
	return r
}

// Register binds desc to exec. Registering an existing name with the same
// executor type replaces the entry; a different executor type is rejected,
// use Bind for deliberate swaps.
func (r *Registry) Register(desc formula.Descriptor, exec formula.Executor) error {
	if exec == nil {
		return fmt.Errorf("%w: %s: executor cannot be nil", formula.ErrConfig, desc.Name)
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	desc = desc.Clone()

	r.mu.Lock()
	prev, exists := r.entries[desc.Name]
	if exists && prev.exec != nil && reflect.TypeOf(prev.exec) != reflect.TypeOf(exec) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is already registered with executor %s, not %s",
			formula.ErrConfig, desc.Name, typeName(prev.exec), typeName(exec))
	}
	r.entries[desc.Name] = entry{desc: desc, exec: exec}
	count := len(r.entries)
	r.mu.Unlock()

	if exists {
		discard(desc.Name, prev.exec, exec)
	}
	r.metrics.formulas.Set(float64(count))
	log.Info(log.CatRegistry, "Registered formula", "name", desc.Name, "executor", typeName(exec), "replaced", exists)
	r.publish(pubsub.RegisteredEvent, desc)
	return nil
}

// Define adds a descriptor with no executor, for formulas whose code has not
// been activated yet. Executing it yields ErrExecutorMissing.
func (r *Registry) Define(desc formula.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	desc = desc.Clone()

	r.mu.Lock()
	if _, exists := r.entries[desc.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s is already registered", formula.ErrConfig, desc.Name)
	}
	r.entries[desc.Name] = entry{desc: desc}
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.formulas.Set(float64(count))
	log.Info(log.CatRegistry, "Defined formula without executor", "name", desc.Name)
	r.publish(pubsub.RegisteredEvent, desc)
	return nil
}

// Update replaces the descriptor of an existing formula and keeps its executor.
func (r *Registry) Update(desc formula.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	desc = desc.Clone()

	r.mu.Lock()
	prev, ok := r.entries[desc.Name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", formula.ErrNotFound, desc.Name)
	}
	r.entries[desc.Name] = entry{desc: desc, exec: prev.exec}
	r.mu.Unlock()

	log.Info(log.CatRegistry, "Updated formula", "name", desc.Name)
	r.publish(pubsub.UpdatedEvent, desc)
	return nil
}

// Bind swaps the executor of an existing formula, whatever its type. The
// previous executor is closed if it holds resources.
func (r *Registry) Bind(name string, exec formula.Executor) error {
	if exec == nil {
		return fmt.Errorf("%w: %s: executor cannot be nil", formula.ErrConfig, name)
	}

	r.mu.Lock()
	prev, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", formula.ErrNotFound, name)
	}
	r.entries[name] = entry{desc: prev.desc, exec: exec}
	r.mu.Unlock()

	discard(name, prev.exec, exec)
	log.Info(log.CatRegistry, "Bound executor", "name", name, "executor", typeName(exec), "previous", typeName(prev.exec))
	r.publish(pubsub.BoundEvent, prev.desc)
	return nil
}

// Remove deletes a formula. Removing a descriptor that never had an executor
// is allowed and only logged.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	prev, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", formula.ErrNotFound, name)
	}
	delete(r.entries, name)
	count := len(r.entries)
	r.mu.Unlock()

	if prev.exec == nil {
		log.Warn(log.CatRegistry, "Removed formula had no executor bound", "name", name)
	} else {
		discard(name, prev.exec, nil)
	}
	r.metrics.formulas.Set(float64(count))
	log.Info(log.CatRegistry, "Removed formula", "name", name)
	r.publish(pubsub.RemovedEvent, prev.desc)
	return nil
}

// SetActive enables or disables a formula without touching its executor.
func (r *Registry) SetActive(name string, active bool) error {
	r.mu.Lock()
	prev, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", formula.ErrNotFound, name)
	}
	desc := prev.desc.WithActive(active)
	r.entries[name] = entry{desc: desc, exec: prev.exec}
	r.mu.Unlock()

	log.Info(log.CatRegistry, "Changed formula status", "name", name, "active", active)
	r.publish(pubsub.StatusEvent, desc)
	return nil
}

// Get returns a snapshot of one entry.
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Registration{}, false
	}
	return snapshot(e), true
}

// List returns every entry sorted by name.
func (r *Registry) List() []Registration {
	return r.list(func(entry) bool { return true })
}

// ListActive returns enabled entries sorted by name.
func (r *Registry) ListActive() []Registration {
	return r.list(func(e entry) bool { return e.desc.IsActive() })
}

func (r *Registry) list(keep func(entry) bool) []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, snapshot(e))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.Name < out[j].Descriptor.Name })
	return out
}

// OutputColumns previews the columns an execution with params would add.
func (r *Registry) OutputColumns(name string, params formula.Params) ([]string, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.exec.OutputColumns(e.desc.ApplyDefaults(params)), nil
}

// lookup resolves an executable entry: present, active and bound.
func (r *Registry) lookup(name string) (entry, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	switch {
	case !ok:
		return entry{}, fmt.Errorf("%w: %s", formula.ErrNotFound, name)
	case !e.desc.IsActive():
		return entry{}, fmt.Errorf("%w: %s", formula.ErrDisabled, name)
	case e.exec == nil:
		return entry{}, fmt.Errorf("%w: %s", formula.ErrExecutorMissing, name)
	}
	return e, nil
}

// Execute runs a request. Unknown, disabled and unbound formulas are returned
// as errors alongside an error result. Parameter and executor failures are
// reported only inside the result, with a nil error. Elapsed time is recorded
// on every path.
func (r *Registry) Execute(ctx context.Context, req formula.ExecutionRequest) (formula.ExecutionResult, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, tracing.SpanExecute, trace.WithAttributes(
		attribute.String(tracing.AttrFormulaName, req.FormulaName),
		attribute.Int(tracing.AttrInputRows, len(req.Data)),
	))
	defer span.End()

	result := formula.ExecutionResult{
		Status:   formula.StatusError,
		Data:     []formula.Row{},
		Metadata: formula.Metadata{FormulaName: req.FormulaName},
	}

	e, err := r.lookup(req.FormulaName)
	if err != nil {
		result.ErrorMessage = err.Error()
		r.finish(span, &result, start, outcomeOf(err))
		tracing.Fail(span, err)
		return result, err
	}

	params := e.desc.ApplyDefaults(req.Parameters)
	_, vspan := r.tracer.Start(ctx, tracing.SpanValidate)
	err = validate(e, params)
	vspan.End()
	if err != nil {
		result.ErrorMessage = err.Error()
		r.finish(span, &result, start, "invalid_parameters")
		tracing.Fail(span, err)
		log.Debug(log.CatExec, "Parameter validation failed", "name", req.FormulaName, "error", err)
		return result, nil
	}

	rows, err := run(e.exec, req.Data, params)
	if err != nil {
		result.ErrorMessage = err.Error()
		r.finish(span, &result, start, "execution_failed")
		tracing.Fail(span, err)
		log.Warn(log.CatExec, "Formula execution failed", "name", req.FormulaName, "error", err)
		return result, nil
	}

	total := len(rows)
	rows, cols := req.OutputConfig.Shape(rows, e.exec.OutputColumns(params))
	result.Status = formula.StatusSuccess
	result.Data = rows
	if req.OutputConfig.IncludeMetadata {
		result.Metadata.InputRows = len(req.Data)
		result.Metadata.OutputRows = total
		result.Metadata.OutputColumns = cols
	}
	span.SetAttributes(attribute.Int(tracing.AttrOutputRows, total))
	r.finish(span, &result, start, "success")
	log.Debug(log.CatExec, "Executed formula", "name", req.FormulaName, "rows", total, "elapsed", result.Metadata.Elapsed)
	return result, nil
}

func (r *Registry) finish(span trace.Span, result *formula.ExecutionResult, start time.Time, outcome string) {
	elapsed := time.Since(start)
	result.Metadata.SetElapsed(elapsed)

	label := result.Metadata.FormulaName
	if outcome == "not_found" {
		label = "unknown"
	}
	r.metrics.executions.WithLabelValues(label, outcome).Inc()
	r.metrics.duration.WithLabelValues(label).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.String(tracing.AttrFormulaStatus, outcome))
}

// Close releases executors that hold resources, such as compiled binaries.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]entry)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if c, ok := e.exec.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) publish(kind pubsub.EventType, desc formula.Descriptor) {
	if r.events == nil {
		return
	}
	r.events.Publish(kind, Event{Name: desc.Name, Active: desc.IsActive()})
}

func validate(e entry, params formula.Params) error {
	err := e.desc.CheckParameters(params)
	if err == nil {
		err = e.exec.ValidateParameters(params)
	}
	if err != nil && !errors.Is(err, formula.ErrParameter) {
		err = fmt.Errorf("%w: %v", formula.ErrParameter, err)
	}
	return err
}

// run turns executor errors and panics into ErrExecution.
func run(exec formula.Executor, rows []formula.Row, params formula.Params) (out []formula.Row, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: executor panicked: %v", formula.ErrExecution, p)
		}
	}()
	out, err = exec.Execute(rows, params)
	if err != nil && !errors.Is(err, formula.ErrExecution) {
		err = fmt.Errorf("%w: %v", formula.ErrExecution, err)
	}
	return out, err
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, formula.ErrNotFound):
		return "not_found"
	case errors.Is(err, formula.ErrDisabled):
		return "disabled"
	case errors.Is(err, formula.ErrExecutorMissing):
		return "executor_missing"
	default:
		return "error"
	}
}

func snapshot(e entry) Registration {
	return Registration{Descriptor: e.desc.Clone(), Executor: typeName(e.exec)}
}

func typeName(exec formula.Executor) string {
	if exec == nil {
		return ""
	}
	return reflect.TypeOf(exec).String()
}

// discard closes old when it is a distinct executor holding resources.
func discard(name string, old, replacement formula.Executor) {
	c, ok := old.(io.Closer)
	if !ok || sameExecutor(old, replacement) {
		return
	}
	if err := c.Close(); err != nil {
		log.ErrorErr(log.CatRegistry, "Closing replaced executor", err, "name", name)
	}
}

func sameExecutor(a, b formula.Executor) bool {
	if a == nil || b == nil {
		return false
	}
	t := reflect.TypeOf(a)
	return t == reflect.TypeOf(b) && t.Comparable() && a == b
}
