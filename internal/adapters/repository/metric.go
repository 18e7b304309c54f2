package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/popscore/internal/domain/model"
)

const includeIndexPrefix = "ix/include/"

// includeKey is the index key of an includeMe record:
// ix/include/<kind>/<date>/<entityId>.
func includeKey(kind model.EntityKind, d model.Date, entityID string) []byte {
	return []byte(includeIndexPrefix + string(kind) + "/" + d.String() + "/" + entityID)
}

// maintainIncludeIndex keeps the includeMe index in the record's
// transaction: the key exists exactly when the record has IncludeMe set.
func maintainIncludeIndex(txn *badger.Txn, old, next *model.DailyMetricRecord) error {
	if old != nil && old.IncludeMe && (old.Kind != next.Kind || !next.IncludeMe) {
		if err := txn.Delete(includeKey(old.Kind, old.Date, old.EntityID)); err != nil {
			return fmt.Errorf("drop include index: %w", err)
		}
	}
	if next.IncludeMe {
		if err := txn.Set(includeKey(next.Kind, next.Date, next.EntityID), nil); err != nil {
			return fmt.Errorf("set include index: %w", err)
		}
	}
	return nil
}

// MetricStore holds the per-entity-per-day records.
type MetricStore struct {
	db *DB
	t  *Table[model.DailyMetricRecord]
}

// NewMetricStore returns the metric store on db.
func NewMetricStore(db *DB) *MetricStore {
	return &MetricStore{db: db, t: NewTable[model.DailyMetricRecord](db, "metric", maintainIncludeIndex)}
}

func metricKey(entityID string, d model.Date) string {
	return entityID + "/" + d.String()
}

// Get returns the record of an entity for a day, or ErrNotFound.
func (s *MetricStore) Get(ctx context.Context, entityID string, d model.Date) (model.DailyMetricRecord, error) {
	return s.t.Get(ctx, metricKey(entityID, d))
}

// Update applies fn to the record of (entity, day) in one transaction,
// starting from an empty record for e when none exists yet.
func (s *MetricStore) Update(ctx context.Context, e model.Entity, d model.Date, fn func(r *model.DailyMetricRecord) error) (model.DailyMetricRecord, error) {
	return s.t.Update(ctx, metricKey(e.ID, d), func(cur model.DailyMetricRecord, found bool) (model.DailyMetricRecord, error) {
		if !found {
			cur = model.NewDailyMetricRecord(e, d)
		}
		if err := fn(&cur); err != nil {
			return cur, err
		}
		return cur, nil
	})
}

// History returns the records of one entity in [start, end], oldest first.
func (s *MetricStore) History(ctx context.Context, entityID string, start, end model.Date) ([]model.DailyMetricRecord, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	return s.t.ScanRange(ctx, entityID+"/", start.String(), end.String())
}

// QueryIncluded returns the includeMe records of kind in [start, end]
// through the include index, ordered by date then entity id. An empty
// kind queries every kind.
func (s *MetricStore) QueryIncluded(ctx context.Context, kind model.EntityKind, start, end model.Date) ([]model.DailyMetricRecord, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	kinds := []model.EntityKind{kind}
	if kind == "" {
		kinds = []model.EntityKind{model.KindDatabase, model.KindTool}
	}

	var out []model.DailyMetricRecord
	err := s.db.view(ctx, "metric", "query_included", func(txn *badger.Txn) error {
		for _, k := range kinds {
			prefix := includeIndexPrefix + string(k) + "/"
			err := scanKeys(txn, prefix, start.String(), end.String(), func(key string) error {
				// <date>/<entityId>
				date, entityID, ok := strings.Cut(key[len(prefix):], "/")
				if !ok {
					return nil
				}
				d, err := model.ParseDate(date)
				if err != nil {
					return nil
				}
				var r model.DailyMetricRecord
				if err := getJSON(txn, []byte("metric/"+metricKey(entityID, d)), &r); err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(kinds) > 1 {
		sortRecords(out)
	}
	return out, nil
}

func sortRecords(rs []model.DailyMetricRecord) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].Date.Equal(rs[j].Date) {
			return rs[i].Date.Before(rs[j].Date)
		}
		return rs[i].EntityID < rs[j].EntityID
	})
}
