package api

import (
	"context"
	"net/http"

	"github.com/okian/popscore/internal/domain/model"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	Lookup(ctx context.Context, date model.Date) (model.RankSnapshot, error)
	Snapshots(ctx context.Context, start, end model.Date) ([]model.RankSnapshot, error)
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps  RankDependencies
	dates dateDefaults
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies, dates dateDefaults) *RankHandler {
	return &RankHandler{deps: deps, dates: dates}
}

type rankResponse struct {
	model.RankEntry
	Date        model.Date `json:"date"`
	SourceDate  model.Date `json:"sourceDate"`
	Synthesized bool       `json:"synthesized"`
}

// HandleGetRank handles GET /rank/{entityId}?date=YYYY-MM-DD.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	id := r.PathValue("entityId")
	if id == "" {
		writeFailure(w, NewKind(op, ErrBadRequest))
		return
	}
	date, err := h.dates.param(r.URL.Query().Get("date"), h.dates.yesterday())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	snap, err := h.deps.Lookup(r.Context(), date)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	entry, ok := snap.Entry(id)
	if !ok {
		writeFailure(w, NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{
		RankEntry:   entry,
		Date:        snap.Date,
		SourceDate:  snap.SourceDate,
		Synthesized: snap.Synthesized,
	})
}

type rankPoint struct {
	Date   model.Date `json:"date"`
	Rank   int        `json:"rank"`
	Score  float64    `json:"score"`
	Scored bool       `json:"scored"`
}

// HandleGetRankHistory handles GET /rank/{entityId}/history?start=&end=,
// listing the entity's position in every stored snapshot of the range.
// Days without a snapshot are omitted.
func (h *RankHandler) HandleGetRankHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank_history"
	id := r.PathValue("entityId")
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
	snaps, err := h.deps.Snapshots(r.Context(), start, end)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	points := make([]rankPoint, 0, len(snaps))
	for i := range snaps {
		if e, ok := snaps[i].Entry(id); ok {
			points = append(points, rankPoint{Date: snaps[i].Date, Rank: e.Rank, Score: e.Score, Scored: e.Scored})
		}
	}
	writeJSON(w, http.StatusOK, points)
}
