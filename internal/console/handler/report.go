package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/opsguard/internal/audit"
	"github.com/xela07ax/opsguard/internal/repository/sqlstore"
)

// JournalReader: чтение журнала для офлайн-аудита.
type JournalReader interface {
	FetchEvents(ctx context.Context, f sqlstore.Filter) ([]audit.Event, error)
}

type ReportHandler struct {
	core    Core
	journal JournalReader
}

func NewReportHandler(c Core, journal JournalReader) *ReportHandler {
	return &ReportHandler{core: c, journal: journal}
}

// GET /v1/components
func (h *ReportHandler) Components(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.ComponentHealth())
}

// GET /v1/report
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", "attachment; filename=opsguard-report.json")
	}
	writeJSON(w, http.StatusOK, h.core.ExportReport())
}

// Journal: события журнала, новые первыми.
// GET /v1/journal?kind=alert_raised&since=2024-01-01T00:00:00Z&limit=50
func (h *ReportHandler) Journal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "journal storage is not configured"})
		return
	}

	q := r.URL.Query()
	f := sqlstore.Filter{Kind: audit.EventKind(q.Get("kind"))}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			badRequest(w, "since must be RFC3339")
			return
		}
		f.Since = t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	events, err := h.journal.FetchEvents(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to fetch journal"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}
