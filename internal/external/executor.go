// Package external runs a compiled candidate binary as a formula executor.
//
// Each call starts the binary once, writes one JSON request to stdin and reads
// one JSON response from stdout:
//
//	request:  {"op": "validate"|"execute"|"columns", "rows": [...], "params": {...}}
//	response: {"rows": [...], "columns": [...], "error": "..."}
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/log"
	"github.com/zjrosen/formulary/internal/tracing"
)

const DefaultTimeout = 30 * time.Second

const (
	opValidate = "validate"
	opExecute  = "execute"
	opColumns  = "columns"
)

type request struct {
	Op     string           `json:"op"`
	Rows   []map[string]any `json:"rows,omitempty"`
	Params map[string]any   `json:"params"`
}

type response struct {
	Rows    []map[string]any `json:"rows"`
	Columns []string         `json:"columns"`
	Error   string           `json:"error"`
}

// Executor delegates to a binary built by the compile-test pipeline. It owns
// the binary and deletes it on Close.
type Executor struct {
	name    string
	path    string
	timeout time.Duration
	tracer  trace.Tracer

	mu     sync.RWMutex
	closed bool
}

var _ formula.Executor = (*Executor)(nil)

// Option configures an Executor.
type Option func(*Executor)

func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// New wraps the binary at path for formula name.
func New(name, path string, opts ...Option) *Executor {
	e := &Executor{name: name, path: path, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("external")
	}
	return e
}

// Path returns the binary location.
func (e *Executor) Path() string {
	return e.path
}

func (e *Executor) ValidateParameters(params formula.Params) error {
	resp, err := e.call(request{Op: opValidate, Params: paramsToAny(params)})
	if err != nil {
		return fmt.Errorf("%w: %v", formula.ErrParameter, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", formula.ErrParameter, resp.Error)
	}
	return nil
}

func (e *Executor) Execute(rows []formula.Row, params formula.Params) ([]formula.Row, error) {
	in := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v.Any()
		}
		in[i] = m
	}

	resp, err := e.call(request{Op: opExecute, Rows: in, Params: paramsToAny(params)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", formula.ErrExecution, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", formula.ErrExecution, resp.Error)
	}
	return formula.RowsFromAny(resp.Rows), nil
}

// OutputColumns returns nil when the binary cannot answer.
func (e *Executor) OutputColumns(params formula.Params) []string {
	resp, err := e.call(request{Op: opColumns, Params: paramsToAny(params)})
	if err != nil || resp.Error != "" {
		log.Warn(log.CatExec, "External executor could not list columns", "name", e.name, "error", err, "reply", resp.Error)
		return nil
	}
	return resp.Columns
}

// Close waits for in-flight calls and removes the binary.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing executor binary: %w", err)
	}
	log.Debug(log.CatExec, "Removed external executor binary", "name", e.name, "path", e.path)
	return nil
}

func (e *Executor) call(req request) (response, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return response{}, errors.New("executor is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, tracing.SpanExternalRun, trace.WithAttributes(
		attribute.String(tracing.AttrFormulaName, e.name),
		attribute.String("external.op", req.Op),
	))
	defer span.End()

	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("encoding request: %w", err)
	}

	// #nosec G204 -- path is an artifact produced by the compile pipeline
	cmd := exec.CommandContext(ctx, e.path)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", e.timeout)
		} else if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		tracing.Fail(span, err)
		return response{}, err
	}

	var resp response
	dec := json.NewDecoder(&stdout)
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		err = fmt.Errorf("decoding response: %w", err)
		tracing.Fail(span, err)
		return response{}, err
	}
	return resp, nil
}

func paramsToAny(params formula.Params) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v.Any()
	}
	return out
}
