package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"

	service "github.com/okian/popscore/internal/app"
	"github.com/okian/popscore/internal/domain/model"
)

// maxBodyBytes bounds invocation request bodies.
const maxBodyBytes = 1 << 16

// InvokeDependencies triggers pipeline stages.
type InvokeDependencies interface {
	Collect(ctx context.Context, id model.ProviderID, date model.Date) (service.CollectResult, error)
	Aggregate(ctx context.Context, req service.AggregateRequest) (service.AggregateResult, error)
	Rank(ctx context.Context, date model.Date) (service.RankResult, error)
}

// InvokeHandler runs stages on request, as a scheduler would.
type InvokeHandler struct {
	deps  InvokeDependencies
	dates dateDefaults
}

// NewInvokeHandler creates a new invocation handler.
func NewInvokeHandler(deps InvokeDependencies, dates dateDefaults) *InvokeHandler {
	return &InvokeHandler{deps: deps, dates: dates}
}

type collectResponse struct {
	service.CollectResult
	Errors []string `json:"errors,omitempty"`
}

type aggregateResponse struct {
	service.AggregateResult
	Errors []string `json:"errors,omitempty"`
}

// failureMessages flattens an aggregated failure summary.
func failureMessages(err error) []string {
	if err == nil {
		return nil
	}
	var me *multierror.Error
	if !errors.As(err, &me) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(me.Errors))
	for _, e := range me.Errors {
		out = append(out, e.Error())
	}
	return out
}

// HandleCollect handles POST /collect/{provider}?date=YYYY-MM-DD. The date
// defaults to yesterday.
func (h *InvokeHandler) HandleCollect(w http.ResponseWriter, r *http.Request) {
	const op = "api.collect"
	id, err := model.ParseProviderID(r.PathValue("provider"))
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	date, err := h.dates.param(r.URL.Query().Get("date"), h.dates.yesterday())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Collect(r.Context(), id, date)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, collectResponse{CollectResult: res, Errors: failureMessages(res.Failures)})
}

// HandleAggregate handles POST /aggregate with a JSON body
// {"startDate":"YYYY-MM-DD","endDate":"YYYY-MM-DD","entityKind":"database"}.
func (h *InvokeHandler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	const op = "api.aggregate"
	var req service.AggregateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Aggregate(r.Context(), req)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, aggregateResponse{AggregateResult: res, Errors: failureMessages(res.Failures)})
}

type rankRequest struct {
	Date string `json:"date"`
}

// HandleRank handles POST /rank with an optional JSON body {"date":"YYYY-MM-DD"}.
// It answers 201 when a snapshot was created and 200 when one existed.
func (h *InvokeHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.rank"
	var req rankRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeFailure(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	date, err := h.dates.param(req.Date, h.dates.yesterday())
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Rank(r.Context(), date)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}
