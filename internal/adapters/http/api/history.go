package api

import (
	"context"
	"net/http"

	"github.com/okian/popscore/internal/domain/model"
)

// HistoryDependencies reads daily records.
type HistoryDependencies interface {
	History(ctx context.Context, entityID string, start, end model.Date) ([]model.DailyMetricRecord, error)
}

// HistoryHandler serves the daily records of one entity.
type HistoryHandler struct {
	deps  HistoryDependencies
	dates dateDefaults
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps HistoryDependencies, dates dateDefaults) *HistoryHandler {
	return &HistoryHandler{deps: deps, dates: dates}
}

// HandleGetHistory handles GET /entities/{entityId}/history?start=&end=.
// The range defaults to the thirty days ending yesterday.
func (h *HistoryHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	q := r.URL.Query()
	end, err := h.dates.param(q.Get("end"), h.dates.yesterday())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	start, err := h.dates.param(q.Get("start"), end.AddDays(1-defaultHistoryLen))
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	records, err := h.deps.History(r.Context(), r.PathValue("entityId"), start, end)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if records == nil {
		records = []model.DailyMetricRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
