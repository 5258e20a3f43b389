package handler

import (
	"net/http"

	"github.com/xela07ax/opsguard/internal/domain"
)

type MonitoringHandler struct {
	core Core
}

func NewMonitoringHandler(c Core) *MonitoringHandler {
	return &MonitoringHandler{core: c}
}

type monitoringState struct {
	Instance   string `json:"instance"`
	Monitoring bool   `json:"monitoring"`
}

// Samples отдает скользящее окно метрик для графиков тренда.
// GET /v1/samples
func (h *MonitoringHandler) Samples(w http.ResponseWriter, r *http.Request) {
	samples := h.core.MetricWindow()
	if samples == nil {
		samples = []domain.SystemMetricSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// POST /v1/monitoring/pause
func (h *MonitoringHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Pause(); err != nil {
		writeError(w, err)
		return
	}
	h.state(w)
}

// POST /v1/monitoring/resume
func (h *MonitoringHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Resume(); err != nil {
		writeError(w, err)
		return
	}
	h.state(w)
}

func (h *MonitoringHandler) state(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, monitoringState{Instance: h.core.InstanceID(), Monitoring: h.core.IsMonitoring()})
}
