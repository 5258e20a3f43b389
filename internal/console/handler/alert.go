package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/opsguard/internal/domain"
)

type AlertHandler struct {
	core Core
}

func NewAlertHandler(c Core) *AlertHandler {
	return &AlertHandler{core: c}
}

// List возвращает алерты.
// GET /v1/alerts?state=active|critical|all
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	var alerts []domain.Alert
	switch r.URL.Query().Get("state") {
	case "", "active":
		alerts = h.core.ActiveAlerts()
	case "critical":
		alerts = h.core.CriticalAlerts()
	case "all":
		alerts = h.core.Alerts()
	default:
		badRequest(w, "state must be one of active, critical, all")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// GET /v1/alerts/{id}
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := alertID(w, r)
	if !ok {
		return
	}
	a, found := h.core.Alert(id)
	if !found {
		writeError(w, domain.ErrAlertNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// POST /v1/alerts/{id}/ack
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := alertID(w, r)
	if !ok {
		return
	}
	a, err := h.core.Acknowledge(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// POST /v1/alerts/{id}/resolve
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := alertID(w, r)
	if !ok {
		return
	}
	a, err := h.core.Resolve(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func alertID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "alert id must be a positive integer")
		return 0, false
	}
	return id, true
}
