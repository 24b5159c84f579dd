// Package api exposes the registry and candidate workflow over HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zjrosen/formulary/internal/candidate"
	"github.com/zjrosen/formulary/internal/formula"
	"github.com/zjrosen/formulary/internal/log"
	"github.com/zjrosen/formulary/internal/presentation"
	"github.com/zjrosen/formulary/internal/registry"
)

// Handler serves the formula endpoints.
type Handler struct {
	registry   *registry.Registry
	candidates *candidate.Service
	gatherer   prometheus.Gatherer
	now        func() time.Time
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	// Registry is required.
	Registry *registry.Registry
	// Candidates serves the code endpoints. Without it they answer 503.
	Candidates *candidate.Service
	// Gatherer backs /metrics. Without it the route is not registered.
	Gatherer prometheus.Gatherer
}

// NewHandler creates a handler from cfg.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		registry:   cfg.Registry,
		candidates: cfg.Candidates,
		gatherer:   cfg.Gatherer,
		now:        time.Now,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Registry
	mux.HandleFunc("POST /formulas/execute", h.Execute)
	mux.HandleFunc("GET /formulas/registered", h.ListRegistered)
	mux.HandleFunc("GET /formulas/active", h.ListActive)
	mux.HandleFunc("GET /formulas/{name}", h.Get)
	mux.HandleFunc("POST /formulas/{name}/status", h.SetStatus)
	mux.HandleFunc("GET /formulas/{name}/columns", h.Columns)

	// Candidate code
	mux.HandleFunc("GET /formulas/code", h.candidate(h.ListCode))
	mux.HandleFunc("POST /formulas/{name}/code", h.candidate(h.SaveCode))
	mux.HandleFunc("GET /formulas/{name}/code", h.candidate(h.GetCode))
	mux.HandleFunc("DELETE /formulas/{name}/code", h.candidate(h.DeleteCode))
	mux.HandleFunc("POST /formulas/{name}/test", h.candidate(h.TestCode))
	mux.HandleFunc("POST /formulas/{name}/diff", h.candidate(h.DiffCode))
	mux.HandleFunc("POST /formulas/{name}/activate", h.candidate(h.Activate))
	mux.HandleFunc("GET /formulas/{name}/generate", h.candidate(h.Generate))

	mux.HandleFunc("GET /health", h.Health)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	return withRequestID(mux)
}

// === Request/Response Types ===

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// FormulaListResponse is the response body for listing formulas.
type FormulaListResponse struct {
	Status    string                    `json:"status"`
	Formulas  []presentation.FormulaDTO `json:"formulas"`
	Count     int                       `json:"count"`
	Timestamp time.Time                 `json:"timestamp"`
}

// StatusRequest toggles a formula. A missing is_active disables.
type StatusRequest struct {
	IsActive bool `json:"is_active"`
}

// StatusResponse confirms a status change.
type StatusResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	FormulaName string `json:"formula_name"`
	IsActive    bool   `json:"is_active"`
}

// ColumnsResponse lists the columns an execution would add.
type ColumnsResponse struct {
	FormulaName string   `json:"formula_name"`
	Columns     []string `json:"columns"`
}

// CodeRequest carries candidate source for save, test and diff.
type CodeRequest struct {
	Code string `json:"code"`
}

// HealthResponse is the response body for the health check.
type HealthResponse struct {
	Status   string    `json:"status"`
	Formulas int       `json:"formulas"`
	Active   int       `json:"active"`
	Time     time.Time `json:"time"`
}

// === Registry handlers ===

// Execute runs a formula. Rejections before execution map to an HTTP status;
// parameter and data failures answer 200 with status "error" in the envelope.
// POST /formulas/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	req := formula.ExecutionRequest{OutputConfig: formula.OutputConfig{IncludeMetadata: true}}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if req.FormulaName == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "formula_name is required", "")
		return
	}

	log.Info(log.CatAPI, "Executing formula", "name", req.FormulaName, "rows", len(req.Data))
	result, err := h.registry.Execute(r.Context(), req)
	if err != nil {
		h.writeJSON(w, statusOf(err), result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ListRegistered lists every formula.
// GET /formulas/registered
func (h *Handler) ListRegistered(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, h.registry.List())
}

// ListActive lists formulas that accept executions.
// GET /formulas/active
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, h.registry.ListActive())
}

// Get returns one formula.
// GET /formulas/{name}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reg, ok := h.registry.Get(name)
	if !ok {
		h.writeErr(w, fmt.Errorf("%w: %s", formula.ErrNotFound, name))
		return
	}
	h.writeJSON(w, http.StatusOK, presentation.FromRegistration(reg))
}

// SetStatus enables or disables a formula.
// POST /formulas/{name}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if err := h.registry.SetActive(name, req.IsActive); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "success",
		Message:     fmt.Sprintf("Formula '%s' status set to %t", name, req.IsActive),
		FormulaName: name,
		IsActive:    req.IsActive,
	})
}

// Columns reports output columns for the parameters given as query values.
// GET /formulas/{name}/columns?param=value
func (h *Handler) Columns(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	params := formula.Params{}
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			params[k] = formula.String(vs[0])
		} else {
			params[k] = formula.Strings(vs...)
		}
	}
	cols, err := h.registry.OutputColumns(name, params)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if cols == nil {
		cols = []string{}
	}
	h.writeJSON(w, http.StatusOK, ColumnsResponse{FormulaName: name, Columns: cols})
}

// Health reports liveness with registry counts.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Formulas: len(h.registry.List()),
		Active:   len(h.registry.ListActive()),
		Time:     h.now().UTC(),
	})
}

// === Helpers ===

func (h *Handler) writeList(w http.ResponseWriter, regs []registry.Registration) {
	dtos := presentation.FromRegistrations(regs)
	h.writeJSON(w, http.StatusOK, FormulaListResponse{
		Status:    "success",
		Formulas:  dtos,
		Count:     len(dtos),
		Timestamp: h.now().UTC(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Status:  "error",
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.ErrorErr(log.CatAPI, "Request failed", err)
	}
	h.writeError(w, status, codeOf(err), err.Error(), "")
}

// statusOf maps the error taxonomy onto HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, formula.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, formula.ErrDisabled), errors.Is(err, formula.ErrExecutorMissing):
		return http.StatusConflict
	case errors.Is(err, formula.ErrConfig), errors.Is(err, formula.ErrParameter):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func codeOf(err error) string {
	switch {
	case errors.Is(err, formula.ErrNotFound):
		return "not_found"
	case errors.Is(err, formula.ErrDisabled):
		return "disabled"
	case errors.Is(err, formula.ErrExecutorMissing):
		return "executor_missing"
	case errors.Is(err, formula.ErrConfig):
		return "invalid_config"
	case errors.Is(err, formula.ErrParameter):
		return "invalid_parameters"
	case errors.Is(err, formula.ErrStorage):
		return "storage_error"
	default:
		return "internal_error"
	}
}

// withRequestID tags every request with an X-Request-ID, generating one when
// the caller sent none.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug(log.CatAPI, "Request", "id", id, "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	server   *http.Server
	listener net.Listener
	port     int
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Addr is the address to listen on, e.g. "127.0.0.1:5002". Port 0 picks a free port.
	Addr         string
	Handler      HandlerConfig
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer binds the listener immediately so Port is valid before Start.
func NewServer(cfg ServerConfig) (*Server, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		// compile tests and activations can run for minutes
		writeTimeout = 5 * time.Minute
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	return &Server{
		listener: listener,
		port:     port,
		server: &http.Server{
			Handler:           NewHandler(cfg.Handler).Routes(),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      writeTimeout,
		},
	}, nil
}

// Start serves until Stop. It returns http.ErrServerClosed after a clean stop.
func (s *Server) Start() error {
	log.Info(log.CatAPI, "Starting API server", "addr", s.listener.Addr().String())
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatAPI, "Stopping API server")
	return s.server.Shutdown(ctx)
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.port
}
