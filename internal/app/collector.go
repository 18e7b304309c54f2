package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/okian/popscore/internal/adapters/mq/queue"
	"github.com/okian/popscore/internal/adapters/mq/worker"
	"github.com/okian/popscore/internal/adapters/provider"
	"github.com/okian/popscore/internal/adapters/repository"
	"github.com/okian/popscore/internal/domain/checkpoint"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/internal/domain/scoring"
	"github.com/okian/popscore/pkg/logger"
	"github.com/okian/popscore/pkg/metrics"
)

// Per-entity outcomes of a collection, also used as metric labels.
const (
	OutcomeFetched     = "fetched"
	OutcomeKept        = "kept"
	OutcomeCopied      = "copied"
	OutcomePlaceholder = "placeholder"
	OutcomeFailed      = "failed"
)

// errKeep aborts a metric update that would not change the record.
var errKeep = errors.New("record already holds a fresh payload")

// CollectResult summarises one collector invocation.
type CollectResult struct {
	RunID    string           `json:"runId"`
	Provider model.ProviderID `json:"provider"`
	Date     model.Date       `json:"date"`
	// Skipped is set when the checkpoint was already COMPLETED.
	Skipped bool                   `json:"skipped"`
	Status  model.CheckpointStatus `json:"status"`
	// Processed holds the ids fetched and merged by this invocation.
	Processed []string `json:"processed"`
	Merged    int      `json:"merged"`
	Remaining int      `json:"remaining"`

	Fetched      int `json:"fetched"`
	Kept         int `json:"kept"`
	Copied       int `json:"copied"`
	Placeholders int `json:"placeholders"`
	Failed       int `json:"failed"`

	// Failures aggregates per-entity errors; nil when there were none.
	Failures error `json:"-"`
}

func (r *CollectResult) count(outcome string) {
	switch outcome {
	case OutcomeFetched:
		r.Fetched++
	case OutcomeKept:
		r.Kept++
	case OutcomeCopied:
		r.Copied++
	case OutcomePlaceholder:
		r.Placeholders++
	}
}

// BatchSizer returns how many not-yet-merged entities one invocation may
// fetch from a provider.
type BatchSizer func(model.ProviderID) int

// Collector fetches one provider's signal for every entity of a logical
// day, a bounded batch per invocation, resuming from the checkpoint.
type Collector struct {
	stores      Stores
	providers   *provider.Registry
	composer    *scoring.Composer
	batchSize   BatchSizer
	workerCount int
	now         func() time.Time
	logger      logger.Logger
}

// NewCollector wires a collector.
func NewCollector(stores Stores, providers *provider.Registry, composer *scoring.Composer, batchSize BatchSizer, workerCount int) *Collector {
	return &Collector{
		stores:      stores,
		providers:   providers,
		composer:    composer,
		batchSize:   batchSize,
		workerCount: workerCount,
		now:         time.Now,
		logger:      logger.Get().Named("collector"),
	}
}

// Collect runs one invocation for (provider, date).
//
// Entities already merged for the day are not fetched again; their value is
// kept when today's payload is fresh and otherwise carried forward from the
// prior day. The first batch of the remaining entities is fetched through
// the worker pool. Entities outside the batch and failed fetches get the
// prior day's value or a placeholder and stay unmerged. The returned error
// is only set for invalid input and store failures; per-entity errors are
// reported in CollectResult.Failures.
func (c *Collector) Collect(ctx context.Context, id model.ProviderID, date model.Date) (CollectResult, error) {
	res := CollectResult{RunID: uuid.NewString(), Provider: id, Date: date}
	if date.IsZero() {
		return res, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	client, err := c.providers.Get(id)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	log := c.logger.With(
		logger.String("run", res.RunID),
		logger.String("provider", string(id)),
		logger.String("date", date.String()),
	)

	entities, err := c.stores.Entities.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list entities: %w", err)
	}
	cp, created, err := c.stores.Checkpoints.Begin(ctx, date, id)
	if err != nil {
		return res, fmt.Errorf("begin checkpoint: %w", err)
	}
	res.Status = cp.Status
	res.Merged = cp.Merged.Len()
	if cp.Completed() {
		res.Skipped = true
		metrics.RecordCollectorRun(string(id), "skipped")
		log.Info(ctx, "checkpoint already completed, nothing to do")
		return res, nil
	}

	merged, pending := checkpoint.Partition(entities, cp)
	size := max(0, min(c.batchSize(id), len(pending)))
	batch, rest := pending[:size], pending[size:]
	log.Info(ctx, "collecting",
		logger.Bool("newCheckpoint", created),
		logger.Int("entities", len(entities)),
		logger.Int("merged", len(merged)),
		logger.Int("batch", len(batch)),
		logger.Int("deferred", len(rest)),
	)

	var failures *multierror.Error
	// settle carries an entity that is not fetched this invocation. Entities
	// the checkpoint has not merged stay unpublished.
	settle := func(e model.Entity, fallback *model.Payload, deferred bool) {
		outcome, err := c.carry(ctx, id, e, date, fallback, deferred)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", e.ID, err))
			outcome = OutcomeFailed
			res.Failed++
		}
		res.count(outcome)
		metrics.RecordCollectorEntity(string(id), outcome)
	}

	for _, e := range merged {
		settle(e, nil, false)
	}

	jobs := make([]queue.Job, len(batch))
	for i, e := range batch {
		jobs[i] = queue.Job{EntityID: e.ID, Terms: e.Terms()}
	}
	results, poolErr := worker.NewPool(c.workerCount, client).Run(ctx, jobs)
	for i, r := range results {
		e := batch[i]
		switch {
		case !r.Done:
			settle(e, nil, true)
		case r.Err != nil:
			failures = multierror.Append(failures, fmt.Errorf("%s: %w", e.ID, r.Err))
			res.Failed++
			metrics.RecordCollectorEntity(string(id), OutcomeFailed)
			fallback := r.Payload
			// Counted once, as failed.
			if _, err := c.carry(ctx, id, e, date, &fallback, true); err != nil {
				failures = multierror.Append(failures, fmt.Errorf("%s: %w", e.ID, err))
			}
		default:
			if err := c.store(ctx, id, e, date, r.Payload); err != nil {
				failures = multierror.Append(failures, fmt.Errorf("%s: %w", e.ID, err))
				res.Failed++
				metrics.RecordCollectorEntity(string(id), OutcomeFailed)
				continue
			}
			res.Processed = append(res.Processed, e.ID)
			res.count(OutcomeFetched)
			metrics.RecordCollectorEntity(string(id), OutcomeFetched)
		}
	}

	for _, e := range rest {
		settle(e, nil, true)
	}
	res.Failures = failures.ErrorOrNil()

	all := make([]string, len(entities))
	for i, e := range entities {
		all[i] = e.ID
	}
	next, err := c.stores.Checkpoints.Advance(ctx, date, id, res.Processed, all)
	if err != nil {
		metrics.RecordCollectorRun(string(id), "error")
		return res, fmt.Errorf("advance checkpoint: %w", err)
	}
	res.Status = next.Status
	res.Merged = next.Merged.Len()
	res.Remaining = checkpoint.Remaining(next, all)
	metrics.UpdateCheckpoint(string(id), next.Status.Code(), res.Merged)

	if poolErr != nil {
		metrics.RecordCollectorRun(string(id), "interrupted")
		log.Warn(ctx, "collection interrupted", logger.Error(poolErr), logger.Int("processed", len(res.Processed)))
		return res, fmt.Errorf("fetch batch: %w", poolErr)
	}
	metrics.RecordCollectorRun(string(id), "ok")
	log.Info(ctx, "collection finished",
		logger.String("status", string(res.Status)),
		logger.Int("processed", len(res.Processed)),
		logger.Int("remaining", res.Remaining),
		logger.Int("failed", res.Failed),
	)
	if res.Failures != nil {
		log.Warn(ctx, "some entities failed", logger.Error(res.Failures))
	}
	return res, nil
}

// store writes a freshly fetched payload.
func (c *Collector) store(ctx context.Context, id model.ProviderID, e model.Entity, date model.Date, p model.Payload) error {
	_, err := c.stores.Metrics.Update(ctx, e, date, func(r *model.DailyMetricRecord) error {
		c.apply(r, e, id, p.Clone(), false, false)
		return nil
	})
	return err
}

// carry settles an entity that is not fetched this invocation. A fresh
// payload already stored for today is kept. Otherwise the prior day's
// payload is copied forward, and failing that fallback (or a placeholder
// built from the default terms) is stored. A deferred record is never
// published.
func (c *Collector) carry(ctx context.Context, id model.ProviderID, e model.Entity, date model.Date, fallback *model.Payload, deferred bool) (string, error) {
	var prior *model.Payload
	prev, err := c.stores.Metrics.Get(ctx, e.ID, date.AddDays(-1))
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return "", fmt.Errorf("read prior day: %w", err)
	default:
		if p := prev.Payloads.Slot(id); p != nil {
			prior = p.Clone()
		}
	}

	outcome := OutcomeKept
	_, err = c.stores.Metrics.Update(ctx, e, date, func(r *model.DailyMetricRecord) error {
		if cur := r.Payloads.Slot(id); cur.Fresh() && !r.Copied.Get(id) {
			return errKeep
		}
		switch {
		case prior != nil:
			outcome = OutcomeCopied
			c.apply(r, e, id, prior.Clone(), true, deferred)
		case fallback != nil:
			outcome = OutcomePlaceholder
			c.apply(r, e, id, fallback.Clone(), false, deferred)
		default:
			outcome = OutcomePlaceholder
			p := model.PlaceholderPayload(id, e, c.now())
			c.apply(r, e, id, &p, false, deferred)
		}
		return nil
	})
	if errors.Is(err, errKeep) {
		return OutcomeKept, nil
	}
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// apply stores p in the provider slot and recomposes the popularity.
func (c *Collector) apply(r *model.DailyMetricRecord, e model.Entity, id model.ProviderID, p *model.Payload, copied, deferred bool) {
	r.Name = e.Name
	r.Kind = e.Kind
	r.Payloads.SetSlot(id, p)
	r.Copied.Set(id, copied)
	r.Deferred.Set(id, deferred)

	pop := r.Popularity.Clone()
	pop.SetSub(id, c.composer.SubScore(*p))
	r.Popularity, r.UIPopularity = c.composer.Compose(pop)

	r.IncludeMe = true
	r.RefreshPublished()
	r.UpdatedAt = c.now()
}
