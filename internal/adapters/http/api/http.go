// Package api exposes the pipeline stages and their read models over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/adapters/repository"
	"github.com/okian/popscore/internal/domain/model"
)

// Default API configuration constants.
const (
	defaultMaxLimit   = 100
	defaultLimit      = 10
	defaultHistoryLen = 30
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	StatsProvider

	Collect(ctx context.Context, id model.ProviderID, date model.Date) (service.CollectResult, error)
	Aggregate(ctx context.Context, req service.AggregateRequest) (service.AggregateResult, error)
	Rank(ctx context.Context, date model.Date) (service.RankResult, error)
	Lookup(ctx context.Context, date model.Date) (model.RankSnapshot, error)
	RankPeriod(ctx context.Context, periodKey string, kind model.EntityKind) (service.PeriodRanking, error)
	History(ctx context.Context, entityID string, start, end model.Date) ([]model.DailyMetricRecord, error)
	Snapshots(ctx context.Context, start, end model.Date) ([]model.RankSnapshot, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	invokeHandler      *InvokeHandler
	historyHandler     *HistoryHandler
}

// Option applies a configuration option to the Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxLimit int
	loc      *time.Location
	now      func() time.Time
}

// WithMaxLimit caps the leaderboard limit parameter.
func WithMaxLimit(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxLimit = n
		}
	}
}

// WithLocation sets the zone that decides which day is yesterday.
func WithLocation(loc *time.Location) Option {
	return func(c *serverConfig) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock sets the time source for default dates.
func WithClock(now func() time.Time) Option {
	return func(c *serverConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{maxLimit: defaultMaxLimit, loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	dates := dateDefaults{loc: cfg.loc, now: cfg.now}
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, cfg.maxLimit, dates),
		rankHandler:        NewRankHandler(deps, dates),
		invokeHandler:      NewInvokeHandler(deps, dates),
		historyHandler:     NewHistoryHandler(deps, dates),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.healthHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /periods/{resolution}/{period}", MetricsMiddleware(s.leaderboardHandler.HandleGetPeriod, "periods"))
	mux.HandleFunc("GET /rank/{entityId}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("GET /rank/{entityId}/history", MetricsMiddleware(s.rankHandler.HandleGetRankHistory, "rank_history"))
	mux.HandleFunc("POST /rank", MetricsMiddleware(s.invokeHandler.HandleRank, "invoke_rank"))
	mux.HandleFunc("POST /collect/{provider}", MetricsMiddleware(s.invokeHandler.HandleCollect, "invoke_collect"))
	mux.HandleFunc("POST /aggregate", MetricsMiddleware(s.invokeHandler.HandleAggregate, "invoke_aggregate"))
	mux.HandleFunc("GET /entities/{entityId}/history", MetricsMiddleware(s.historyHandler.HandleGetHistory, "history"))
}

// dateDefaults resolves optional date parameters.
type dateDefaults struct {
	loc *time.Location
	now func() time.Time
}

// yesterday is the default logical date.
func (d dateDefaults) yesterday() model.Date {
	return model.Yesterday(d.now(), d.loc)
}

// param parses a YYYY-MM-DD value, falling back to def when empty.
func (d dateDefaults) param(v string, def model.Date) (model.Date, error) {
	if v == "" {
		return def, nil
	}
	return model.ParseDate(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps a stage error onto its status and code.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidDate),
		errors.Is(err, repository.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, ErrLimitExceeded):
		writeError(w, http.StatusBadRequest, "limit_exceeded", err)
	case errors.Is(err, service.ErrInvalidRange), errors.Is(err, repository.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err)
	case errors.Is(err, service.ErrNoData):
		writeError(w, http.StatusNotFound, "no_data", err)
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, repository.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
