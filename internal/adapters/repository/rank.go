package repository

import (
	"context"
	"fmt"

	"github.com/okian/popscore/internal/domain/model"
)

// RankStore persists immutable daily snapshots under rank/<date>.
type RankStore struct {
	t *Table[model.RankSnapshot]
}

// NewRankStore returns the rank store on db.
func NewRankStore(db *DB) *RankStore {
	return &RankStore{t: NewTable[model.RankSnapshot](db, "rank")}
}

// Get returns the snapshot of a date, or ErrNotFound.
func (s *RankStore) Get(ctx context.Context, d model.Date) (model.RankSnapshot, error) {
	return s.t.Get(ctx, d.String())
}

// Create stores a snapshot if none exists for its date. An existing
// snapshot is never overwritten; ErrSnapshotExists is returned instead.
func (s *RankStore) Create(ctx context.Context, snap model.RankSnapshot) error {
	stored, err := s.t.PutIfAbsent(ctx, snap.Date.String(), snap)
	if err != nil {
		return err
	}
	if !stored {
		return fmt.Errorf("%s: %w", snap.Date, ErrSnapshotExists)
	}
	return nil
}

// List returns the snapshots of [from, to], oldest first.
func (s *RankStore) List(ctx context.Context, from, to model.Date) ([]model.RankSnapshot, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	return s.t.ScanRange(ctx, "", from.String(), to.String())
}
