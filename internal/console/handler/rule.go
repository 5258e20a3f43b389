package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

// RuleToggler рассылает переключения правил остальным инстансам (Redis).
type RuleToggler interface {
	Publish(ctx context.Context, id string, enabled bool) error
}

type RuleHandler struct {
	core    Core
	toggler RuleToggler
	logger  *zap.Logger
}

func NewRuleHandler(c Core, toggler RuleToggler, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{core: c, toggler: toggler, logger: logger}
}

// GET /v1/rules
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Rules())
}

// Upsert создает или заменяет правило. ID берется из пути.
// PUT /v1/rules/{id}
func (h *RuleHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var rule domain.AlertRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	rule.ID = chi.URLParam(r, "id")
	rule.LastTriggeredAt = nil

	if err := h.core.UpsertRule(rule); err != nil {
		writeError(w, err)
		return
	}
	for _, s := range h.core.Rules() {
		if s.ID == rule.ID {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/rules/{id}/enable
func (h *RuleHandler) Enable(w http.ResponseWriter, r *http.Request) { h.setEnabled(w, r, true) }

// POST /v1/rules/{id}/disable
func (h *RuleHandler) Disable(w http.ResponseWriter, r *http.Request) { h.setEnabled(w, r, false) }

func (h *RuleHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if err := h.core.SetRuleEnabled(id, enabled); err != nil {
		writeError(w, err)
		return
	}
	if h.toggler != nil {
		// Локально уже применено, кластер догонит при переподключении
		if err := h.toggler.Publish(r.Context(), id, enabled); err != nil {
			h.logger.Warn("rule toggle not propagated", zap.String("rule_id", id), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
