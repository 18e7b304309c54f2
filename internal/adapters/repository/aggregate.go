package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/popscore/internal/domain/aggregate"
	"github.com/okian/popscore/internal/domain/model"
)

const periodIndexPrefix = "ix/period/"

// periodKeyIndex is ix/period/<periodKey>/<entityId>; it lets a period be
// listed without scanning every bucket.
func periodKeyIndex(periodKey, entityID string) []byte {
	return []byte(periodIndexPrefix + periodKey + "/" + entityID)
}

func maintainPeriodIndex(txn *badger.Txn, old, next *model.AggregateBucket) error {
	if old != nil {
		return nil
	}
	if err := txn.Set(periodKeyIndex(next.PeriodKey, next.EntityID), nil); err != nil {
		return fmt.Errorf("set period index: %w", err)
	}
	return nil
}

// MergeResult reports one bucket read-merge-write.
type MergeResult struct {
	Bucket  model.AggregateBucket
	Applied int
	Skipped int
}

// AggregateStore persists buckets under aggregate/<entityId>/<periodKey>.
type AggregateStore struct {
	db  *DB
	t   *Table[model.AggregateBucket]
	now func() time.Time
}

// NewAggregateStore returns the aggregate store on db.
func NewAggregateStore(db *DB) *AggregateStore {
	return &AggregateStore{db: db, t: NewTable[model.AggregateBucket](db, "aggregate", maintainPeriodIndex), now: time.Now}
}

func bucketKey(entityID, periodKey string) string {
	return entityID + "/" + periodKey
}

// Get returns one bucket, or ErrNotFound.
func (s *AggregateStore) Get(ctx context.Context, entityID, periodKey string) (model.AggregateBucket, error) {
	return s.t.Get(ctx, bucketKey(entityID, periodKey))
}

// Merge folds a partial into its stored bucket: read any existing bucket,
// add the contributions it has not folded yet, recompute the averages and
// write it back, all in one transaction. A conflicting writer causes the
// whole cycle to run again on fresh data.
func (s *AggregateStore) Merge(ctx context.Context, p *aggregate.Partial) (MergeResult, error) {
	var res MergeResult
	b, err := s.t.Update(ctx, bucketKey(p.EntityID, p.PeriodKey), func(cur model.AggregateBucket, found bool) (model.AggregateBucket, error) {
		if !found {
			cur = aggregate.NewBucket(p)
		}
		res.Applied, res.Skipped = aggregate.Absorb(&cur, p, s.now())
		return cur, nil
	})
	if err != nil {
		return MergeResult{}, err
	}
	res.Bucket = b
	return res, nil
}

// ListByPeriod returns every bucket of a period key, ordered by entity id.
func (s *AggregateStore) ListByPeriod(ctx context.Context, periodKey string) ([]model.AggregateBucket, error) {
	var out []model.AggregateBucket
	prefix := periodIndexPrefix + periodKey + "/"
	err := s.db.view(ctx, "aggregate", "list_period", func(txn *badger.Txn) error {
		return scanKeys(txn, prefix, "", "", func(key string) error {
			entityID := strings.TrimPrefix(key, prefix)
			var b model.AggregateBucket
			if err := getJSON(txn, []byte("aggregate/"+bucketKey(entityID, periodKey)), &b); err != nil {
				return err
			}
			out = append(out, b)
			return nil
		})
	})
	return out, err
}
