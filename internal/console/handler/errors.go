package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/opsguard/internal/domain"
)

type ErrorHandler struct {
	core Core
}

func NewErrorHandler(c Core) *ErrorHandler {
	return &ErrorHandler{core: c}
}

// GET /v1/errors
func (h *ErrorHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Errors())
}

type reportErrorResponse struct {
	Event    domain.ErrorEvent `json:"event"`
	Launched []string          `json:"launched_actions"`
}

// Report регистрирует ошибку; critical сразу запускает восстановление.
// POST /v1/errors
func (h *ErrorHandler) Report(w http.ResponseWriter, r *http.Request) {
	var ev domain.ErrorEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	ev.ID = ""

	saved, launched, err := h.core.ReportError(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	if launched == nil {
		launched = []string{}
	}
	writeJSON(w, http.StatusCreated, reportErrorResponse{Event: saved, Launched: launched})
}

// POST /v1/errors/{id}/resolve
func (h *ErrorHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ev, err := h.core.ResolveError(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
