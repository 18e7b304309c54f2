package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/popscore/internal/domain/checkpoint"
	"github.com/okian/popscore/internal/domain/model"
)

// CheckpointStore persists collection checkpoints under
// checkpoint/<date>/<provider>, so a prefix scan lists every checkpoint
// of a date.
type CheckpointStore struct {
	t   *Table[model.CheckpointRecord]
	now func() time.Time
}

// NewCheckpointStore returns the checkpoint store on db.
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{t: NewTable[model.CheckpointRecord](db, "checkpoint"), now: time.Now}
}

func checkpointKey(d model.Date, p model.ProviderID) string {
	return d.String() + "/" + string(p)
}

// Get returns the checkpoint of (date, provider), or ErrNotFound.
func (s *CheckpointStore) Get(ctx context.Context, d model.Date, p model.ProviderID) (model.CheckpointRecord, error) {
	return s.t.Get(ctx, checkpointKey(d, p))
}

// Begin loads the checkpoint of (date, provider), creating an IN_PROGRESS
// record with an empty merged set when none exists. It reports whether the
// record was created by this call.
func (s *CheckpointStore) Begin(ctx context.Context, d model.Date, p model.ProviderID) (model.CheckpointRecord, bool, error) {
	created := false
	rec, err := s.t.Update(ctx, checkpointKey(d, p), func(cur model.CheckpointRecord, found bool) (model.CheckpointRecord, error) {
		var existing *model.CheckpointRecord
		if found {
			existing = &cur
		}
		next, fresh := checkpoint.Begin(existing, d, p, s.now())
		created = fresh
		return next, nil
	})
	return rec, created, err
}

// Advance merges processed ids into the stored checkpoint and recomputes
// its status against all. The update re-reads the stored record, so ids
// merged by a concurrent invocation are kept and the merged set only grows.
func (s *CheckpointStore) Advance(ctx context.Context, d model.Date, p model.ProviderID, processed, all []string) (model.CheckpointRecord, error) {
	return s.t.Update(ctx, checkpointKey(d, p), func(cur model.CheckpointRecord, found bool) (model.CheckpointRecord, error) {
		var existing *model.CheckpointRecord
		if found {
			existing = &cur
		}
		base, _ := checkpoint.Begin(existing, d, p, s.now())
		return checkpoint.Advance(base, processed, all, s.now()), nil
	})
}

// ListByDate returns every checkpoint of a date, ordered by provider id.
func (s *CheckpointStore) ListByDate(ctx context.Context, d model.Date) ([]model.CheckpointRecord, error) {
	return s.t.Scan(ctx, d.String()+"/")
}

// AllCompleted reports whether every provider has a COMPLETED checkpoint
// for the date.
func (s *CheckpointStore) AllCompleted(ctx context.Context, d model.Date) (bool, error) {
	for _, p := range model.AllProviders() {
		rec, err := s.Get(ctx, d, p)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !rec.Completed() {
			return false, nil
		}
	}
	return true, nil
}
