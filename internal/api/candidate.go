package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/zjrosen/formulary/internal/compiletest"
	"github.com/zjrosen/formulary/internal/presentation"
)

// GenerateResponse carries a generated skeleton.
type GenerateResponse struct {
	Success     bool   `json:"success"`
	FormulaName string `json:"formula_name"`
	Code        string `json:"code"`
	Message     string `json:"message"`
}

// DeleteResponse confirms a code deletion.
type DeleteResponse struct {
	Success     bool   `json:"success"`
	FormulaName string `json:"formula_name"`
}

// candidate guards the code endpoints when no candidate service is wired.
func (h *Handler) candidate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.candidates == nil {
			h.writeError(w, http.StatusServiceUnavailable, "unavailable", "code store is not configured", "")
			return
		}
		next(w, r)
	}
}

// ListCode lists stored candidate names.
// GET /formulas/code
func (h *Handler) ListCode(w http.ResponseWriter, r *http.Request) {
	names, err := h.candidates.List(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, presentation.NewCodeList(names))
}

// SaveCode stores candidate source after the structural check. A rejected
// candidate answers 400 with the reason in the body.
// POST /formulas/{name}/code
func (h *Handler) SaveCode(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r, true)
	if !ok {
		return
	}
	res, err := h.candidates.Save(r.Context(), r.PathValue("name"), req.Code)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	status := http.StatusOK
	if !res.Accepted {
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, res)
}

// GetCode returns stored source.
// GET /formulas/{name}/code
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	src, err := h.candidates.Get(r.Context(), name)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, presentation.CodeDTO{FormulaName: name, Code: src})
}

// DeleteCode removes stored source. Deleting a missing name succeeds.
// DELETE /formulas/{name}/code
func (h *Handler) DeleteCode(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.candidates.Delete(r.Context(), name); err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, DeleteResponse{Success: true, FormulaName: name})
}

// TestCode compile-tests the posted source, or the stored source when the
// body has no code. The verdict is always a 200; an invalid name, a missing
// stored source and storage failures are HTTP errors.
// POST /formulas/{name}/test
func (h *Handler) TestCode(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r, false)
	if !ok {
		return
	}
	name := r.PathValue("name")
	var outcome compiletest.Outcome
	var err error
	if req.Code != "" {
		outcome, err = h.candidates.Test(r.Context(), name, req.Code)
	} else {
		outcome, err = h.candidates.TestSaved(r.Context(), name)
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

// DiffCode compares stored source with the posted code, or with the
// generated skeleton when the body has no code.
// POST /formulas/{name}/diff
func (h *Handler) DiffCode(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r, false)
	if !ok {
		return
	}
	d, err := h.candidates.Diff(r.Context(), r.PathValue("name"), req.Code)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// Activate builds stored source and binds it into the registry. A failed
// build answers 422 with the build outcome.
// POST /formulas/{name}/activate
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	res, err := h.candidates.Activate(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	status := http.StatusOK
	if !res.Activated {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, res)
}

// Generate returns a skeleton for name.
// GET /formulas/{name}/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	src, err := h.candidates.Generate(name)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, GenerateResponse{
		Success:     true,
		FormulaName: name,
		Code:        src,
		Message:     "Code template generated successfully",
	})
}

// decodeCode reads a CodeRequest. An empty body is allowed unless code is
// required.
func (h *Handler) decodeCode(w http.ResponseWriter, r *http.Request, required bool) (CodeRequest, bool) {
	var req CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return req, false
	}
	if required && req.Code == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "code is required", "")
		return req, false
	}
	return req, true
}
