package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/opsguard/internal/domain"
)

type RecoveryHandler struct {
	core Core
}

func NewRecoveryHandler(c Core) *RecoveryHandler {
	return &RecoveryHandler{core: c}
}

type actionView struct {
	domain.ActionSpec
	Running bool `json:"running"`
}

// Actions: каталог действий. С ?type=, только применимые к типу ошибки, в порядке каталога.
// GET /v1/recovery/actions?type=server
func (h *RecoveryHandler) Actions(w http.ResponseWriter, r *http.Request) {
	specs := h.core.Actions()
	if t := r.URL.Query().Get("type"); t != "" {
		et := domain.ErrorType(t)
		if !et.Valid() {
			badRequest(w, "unknown error type: "+t)
			return
		}
		specs = h.core.ApplicableActions(et)
	}

	running := make(map[string]bool)
	for _, id := range h.core.ActiveRecoveries() {
		running[id] = true
	}
	out := make([]actionView, 0, len(specs))
	for _, s := range specs {
		out = append(out, actionView{ActionSpec: s, Running: running[s.ID]})
	}
	writeJSON(w, http.StatusOK, out)
}

// Execute: ручной запуск. С ?error_id= успешный запуск закрывает ErrorEvent.
// POST /v1/recovery/actions/{id}/execute
func (h *RecoveryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	var err error
	if errorID := r.URL.Query().Get("error_id"); errorID != "" {
		err = h.core.ExecuteForError(r.Context(), actionID, errorID)
	} else {
		err = h.core.ExecuteAction(r.Context(), actionID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"action_id": actionID, "status": "started"})
}

// GET /v1/recovery/history
func (h *RecoveryHandler) History(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.RecoveryHistory())
}
