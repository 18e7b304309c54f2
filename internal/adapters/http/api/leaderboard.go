package api

import (
	"context"
	"net/http"
	"strconv"

	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/domain/model"
)

// LeaderboardDependencies defines the interface for leaderboard operations.
type LeaderboardDependencies interface {
	Lookup(ctx context.Context, date model.Date) (model.RankSnapshot, error)
	RankPeriod(ctx context.Context, periodKey string, kind model.EntityKind) (service.PeriodRanking, error)
}

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
	dates    dateDefaults
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int, dates dateDefaults) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
		dates:    dates,
	}
}

type leaderboardResponse struct {
	Date        model.Date        `json:"date"`
	SourceDate  model.Date        `json:"sourceDate"`
	Complete    bool              `json:"complete"`
	Synthesized bool              `json:"synthesized"`
	Total       int               `json:"total"`
	Entries     []model.RankEntry `json:"entries"`
}

// limit parses the limit parameter.
func (h *LeaderboardHandler) limit(r *http.Request, op string) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return min(defaultLimit, h.maxLimit), nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, NewKind(op, ErrBadRequest)
	}
	if n > h.maxLimit {
		return 0, NewKind(op, ErrLimitExceeded)
	}
	return n, nil
}

// HandleGetLeaderboard handles GET /leaderboard?date=YYYY-MM-DD&limit=N.
// The date defaults to yesterday and falls back to the day before when
// no snapshot exists.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n, err := h.limit(r, op)
	if err != nil {
		writeFailure(w, err)
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
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Date:        snap.Date,
		SourceDate:  snap.SourceDate,
		Complete:    snap.Complete,
		Synthesized: snap.Synthesized,
		Total:       len(snap.Entries),
		Entries:     snap.Top(n),
	})
}

// HandleGetPeriod handles GET /periods/{resolution}/{period}?kind=K&limit=N,
// ranking aggregate buckets such as weekly/2024-W05.
func (h *LeaderboardHandler) HandleGetPeriod(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_period"
	n, err := h.limit(r, op)
	if err != nil {
		writeFailure(w, err)
		return
	}
	var kind model.EntityKind
	if v := r.URL.Query().Get("kind"); v != "" {
		if kind, err = model.ParseEntityKind(v); err != nil {
			writeFailure(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	key := r.PathValue("resolution") + "#" + r.PathValue("period")
	ranked, err := h.deps.RankPeriod(r.Context(), key, kind)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	if len(ranked.Entries) > n {
		ranked.Entries = ranked.Entries[:n]
	}
	writeJSON(w, http.StatusOK, ranked)
}
