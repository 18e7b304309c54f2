package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/popscore/internal/adapters/repository"
	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/internal/domain/ranking"
	"github.com/okian/popscore/pkg/logger"
	"github.com/okian/popscore/pkg/metrics"
)

// RankResult is the outcome of a rank invocation.
type RankResult struct {
	Snapshot model.RankSnapshot `json:"snapshot"`
	// Created is false when a stored snapshot was returned unchanged.
	Created bool `json:"created"`
}

// PeriodRanking orders the buckets of one period key by their average.
type PeriodRanking struct {
	PeriodKey  string            `json:"periodKey"`
	Resolution model.Resolution  `json:"resolution"`
	Period     string            `json:"period"`
	Entries    []model.RankEntry `json:"entries"`
}

// Ranker builds and serves rank snapshots.
type Ranker struct {
	stores Stores
	now    func() time.Time
	logger logger.Logger
}

// NewRanker wires a ranker.
func NewRanker(stores Stores) *Ranker {
	return &Ranker{
		stores: stores,
		now:    time.Now,
		logger: logger.Get().Named("ranker"),
	}
}

// Rank returns the snapshot of date, building and storing it when none
// exists. Records of date are ranked, or those of the day before when date
// has none. ErrNoData is returned when neither day has records.
func (r *Ranker) Rank(ctx context.Context, date model.Date) (RankResult, error) {
	if date.IsZero() {
		return RankResult{}, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	snap, err := r.stores.Ranks.Get(ctx, date)
	if err == nil {
		metrics.RecordRankSnapshot("existing", len(snap.Entries))
		return RankResult{Snapshot: snap}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return RankResult{}, fmt.Errorf("read snapshot: %w", err)
	}

	source := date
	records, err := r.stores.Metrics.QueryIncluded(ctx, "", source, source)
	if err != nil {
		return RankResult{}, fmt.Errorf("query records: %w", err)
	}
	if len(records) == 0 {
		source = date.AddDays(-1)
		if records, err = r.stores.Metrics.QueryIncluded(ctx, "", source, source); err != nil {
			return RankResult{}, fmt.Errorf("query records: %w", err)
		}
	}
	if len(records) == 0 {
		metrics.RecordRankSnapshot("no_data", 0)
		return RankResult{}, fmt.Errorf("%s: %w", date, ErrNoData)
	}

	entities, err := r.stores.Entities.List(ctx)
	if err != nil {
		return RankResult{}, fmt.Errorf("list entities: %w", err)
	}
	board := ranking.NewBoard()
	for _, e := range entities {
		board.Add(e.ID, e.Name, 0, false)
	}
	for i := range records {
		rec := &records[i]
		score, ok := rec.UIPopularity.Score()
		if !ok {
			score, ok = rec.Popularity.Score()
		}
		board.Add(rec.EntityID, rec.Name, score, ok)
	}

	complete, err := r.stores.Checkpoints.AllCompleted(ctx, source)
	if err != nil {
		return RankResult{}, fmt.Errorf("read checkpoints: %w", err)
	}
	snap = model.RankSnapshot{
		Date:       date,
		SourceDate: source,
		Entries:    board.Entries(),
		Complete:   complete,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.stores.Ranks.Create(ctx, snap); err != nil {
		if !errors.Is(err, repository.ErrSnapshotExists) {
			return RankResult{}, fmt.Errorf("store snapshot: %w", err)
		}
		// lost the race to a concurrent invocation; theirs is the snapshot
		stored, err := r.stores.Ranks.Get(ctx, date)
		if err != nil {
			return RankResult{}, fmt.Errorf("read snapshot: %w", err)
		}
		return RankResult{Snapshot: stored}, nil
	}

	metrics.RecordRankSnapshot("created", len(snap.Entries))
	r.logger.Info(ctx, "rank snapshot created",
		logger.String("date", date.String()),
		logger.String("source", source.String()),
		logger.Int("entries", len(snap.Entries)),
		logger.Int("scored", board.Scored()),
		logger.Bool("complete", complete),
	)
	return RankResult{Snapshot: snap, Created: true}, nil
}

// Lookup returns the stored snapshot of date, else that of the day
// before. With neither it synthesises a snapshot placing every entity at
// the terminal rank; it never reports missing data as an error.
func (r *Ranker) Lookup(ctx context.Context, date model.Date) (model.RankSnapshot, error) {
	for _, d := range []model.Date{date, date.AddDays(-1)} {
		snap, err := r.stores.Ranks.Get(ctx, d)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return model.RankSnapshot{}, fmt.Errorf("read snapshot %s: %w", d, err)
		}
	}

	entities, err := r.stores.Entities.List(ctx)
	if err != nil {
		return model.RankSnapshot{}, fmt.Errorf("list entities: %w", err)
	}
	return model.RankSnapshot{
		Date:        date,
		Entries:     ranking.Terminal(entities),
		Synthesized: true,
		CreatedAt:   r.now().UTC(),
	}, nil
}

// RankPeriod orders the buckets of a period key by their average score.
// An empty kind ranks every kind. Period rankings are not stored.
func (r *Ranker) RankPeriod(ctx context.Context, periodKey string, kind model.EntityKind) (PeriodRanking, error) {
	res, period, err := model.ParsePeriodKey(periodKey)
	if err != nil {
		return PeriodRanking{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	buckets, err := r.stores.Aggregates.ListByPeriod(ctx, periodKey)
	if err != nil {
		return PeriodRanking{}, fmt.Errorf("list buckets: %w", err)
	}
	board := ranking.NewBoard()
	for i := range buckets {
		b := &buckets[i]
		if kind != "" && b.Kind != kind {
			continue
		}
		score, ok := b.Score()
		board.Add(b.EntityID, b.Name, score, ok)
	}
	return PeriodRanking{
		PeriodKey:  periodKey,
		Resolution: res,
		Period:     period,
		Entries:    board.Entries(),
	}, nil
}
