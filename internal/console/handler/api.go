package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/xela07ax/opsguard/internal/domain"
	"github.com/xela07ax/opsguard/internal/engine"
)

// Core: то, что API использует от ядра мониторинга.
type Core interface {
	ActiveAlerts() []domain.Alert
	CriticalAlerts() []domain.Alert
	Alerts() []domain.Alert
	Alert(id uint64) (domain.Alert, bool)
	Acknowledge(id uint64) (domain.Alert, error)
	Resolve(id uint64) (domain.Alert, error)

	ComponentHealth() []domain.ComponentHealth

	Rules() []domain.RuleStatus
	UpsertRule(r domain.AlertRule) error
	SetRuleEnabled(id string, enabled bool) error

	Actions() []domain.ActionSpec
	ApplicableActions(t domain.ErrorType) []domain.ActionSpec
	ActiveRecoveries() []string
	ExecuteAction(ctx context.Context, actionID string) error
	ExecuteForError(ctx context.Context, actionID, errorID string) error
	RecoveryHistory() []domain.ExecutionRecord

	Errors() []domain.ErrorEvent
	ReportError(ctx context.Context, ev domain.ErrorEvent) (domain.ErrorEvent, []string, error)
	ResolveError(id string) (domain.ErrorEvent, error)

	ExportReport() domain.Report
	MetricWindow() []domain.SystemMetricSample

	InstanceID() string
	IsMonitoring() bool
	Pause() error
	Resume() error
	Subscribe(buffer int) (<-chan engine.StreamEvent, func())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError переводит доменные ошибки в HTTP-коды.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var vErr validator.ValidationErrors
	switch {
	case errors.Is(err, domain.ErrAlertNotFound),
		errors.Is(err, domain.ErrRuleNotFound),
		errors.Is(err, domain.ErrActionNotFound),
		errors.Is(err, domain.ErrErrorNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrActionBusy),
		errors.Is(err, domain.ErrEngineNotRunning):
		status = http.StatusConflict
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
