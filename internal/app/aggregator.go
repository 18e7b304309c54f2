package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/okian/popscore/internal/domain/aggregate"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/pkg/logger"
	"github.com/okian/popscore/pkg/metrics"
)

// AggregateRequest is the aggregator invocation payload.
type AggregateRequest struct {
	EntityKind string `json:"entityKind" validate:"omitempty,oneof=database tool"`
	StartDate  string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"endDate" validate:"required,datetime=2006-01-02"`
}

// AggregateResult summarises one aggregator invocation.
type AggregateResult struct {
	RunID          string           `json:"runId"`
	Kind           model.EntityKind `json:"kind"`
	StartDate      model.Date       `json:"startDate"`
	EndDate        model.Date       `json:"endDate"`
	RecordsRead    int              `json:"recordsRead"`
	BucketsWritten int              `json:"bucketsWritten"`
	// Skipped counts contributions already folded into their bucket.
	Skipped  int   `json:"skipped"`
	Failures error `json:"-"`
}

// Aggregator folds included daily records into period buckets.
type Aggregator struct {
	stores   Stores
	validate *validator.Validate
	logger   logger.Logger
}

// NewAggregator wires an aggregator.
func NewAggregator(stores Stores) *Aggregator {
	return &Aggregator{
		stores:   stores,
		validate: validator.New(),
		logger:   logger.Get().Named("aggregator"),
	}
}

// parse validates req and returns its typed form.
func (a *Aggregator) parse(req AggregateRequest) (model.EntityKind, model.Date, model.Date, error) {
	if err := a.validate.Struct(req); err != nil {
		return "", model.Date{}, model.Date{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	kind := model.KindDatabase
	if req.EntityKind != "" {
		kind = model.EntityKind(req.EntityKind)
	}
	start, err := model.ParseDate(req.StartDate)
	if err != nil {
		return "", model.Date{}, model.Date{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	end, err := model.ParseDate(req.EndDate)
	if err != nil {
		return "", model.Date{}, model.Date{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if end.Before(start) {
		return "", model.Date{}, model.Date{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}
	return kind, start, end, nil
}

// Aggregate folds the includeMe records of the request's kind and range
// into weekly, monthly and yearly buckets. Records already folded into a
// bucket are skipped, so overlapping ranges can be re-run safely.
func (a *Aggregator) Aggregate(ctx context.Context, req AggregateRequest) (AggregateResult, error) {
	res := AggregateResult{RunID: uuid.NewString()}
	kind, start, end, err := a.parse(req)
	if err != nil {
		return res, err
	}
	res.Kind, res.StartDate, res.EndDate = kind, start, end
	log := a.logger.With(
		logger.String("run", res.RunID),
		logger.String("kind", string(kind)),
		logger.String("start", start.String()),
		logger.String("end", end.String()),
	)

	records, err := a.stores.Metrics.QueryIncluded(ctx, kind, start, end)
	if err != nil {
		return res, fmt.Errorf("query included records: %w", err)
	}
	res.RecordsRead = len(records)
	metrics.RecordAggregateRecordsRead(len(records))
	if len(records) == 0 {
		log.Info(ctx, "no records in range")
		return res, nil
	}

	var failures *multierror.Error
	for _, p := range aggregate.Fold(records) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		merged, err := a.stores.Aggregates.Merge(ctx, p)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s %s: %w", p.EntityID, p.PeriodKey, err))
			continue
		}
		res.Skipped += merged.Skipped
		if merged.Applied > 0 {
			res.BucketsWritten++
			metrics.RecordAggregateBucketWritten(string(p.Resolution))
		}
	}
	metrics.RecordAggregateSkipped(res.Skipped)
	res.Failures = failures.ErrorOrNil()

	log.Info(ctx, "aggregation finished",
		logger.Int("records", res.RecordsRead),
		logger.Int("buckets", res.BucketsWritten),
		logger.Int("skipped", res.Skipped),
	)
	if res.Failures != nil {
		log.Warn(ctx, "some buckets failed", logger.Error(res.Failures))
	}
	return res, nil
}
