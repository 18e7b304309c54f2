package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/popscore/internal/domain/model"
)

const entitySeqKey = "meta/entity-seq"

// storedEntity adds the catalog insertion sequence to an entity.
type storedEntity struct {
	model.Entity
	Seq uint64 `json:"seq"`
}

// EntityStore holds the catalog as seen by the pipeline.
type EntityStore struct {
	t *Table[storedEntity]
}

// NewEntityStore returns the entity store on db.
func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{t: NewTable[storedEntity](db, "entity", assignSeq)}
}

// assignSeq gives new entities the next insertion sequence number and
// keeps the number of existing ones.
func assignSeq(txn *badger.Txn, old, next *storedEntity) error {
	if old != nil {
		next.Seq = old.Seq
		return nil
	}
	var seq uint64
	item, err := txn.Get([]byte(entitySeqKey))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("read entity sequence: %w", err)
	default:
		if err := item.Value(func(val []byte) error {
			seq = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return fmt.Errorf("read entity sequence: %w", err)
		}
	}
	seq++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	if err := txn.Set([]byte(entitySeqKey), buf); err != nil {
		return fmt.Errorf("write entity sequence: %w", err)
	}
	next.Seq = seq
	return nil
}

// Put inserts or replaces an entity. Replacing keeps its catalog position.
func (s *EntityStore) Put(ctx context.Context, e model.Entity) error {
	if e.ID == "" || strings.ContainsAny(e.ID, "/#") {
		return fmt.Errorf("%w: entity id %q", ErrInvalidKey, e.ID)
	}
	if e.Kind == "" {
		e.Kind = model.KindDatabase
	}
	if e.Status == "" {
		e.Status = model.StatusActive
	}
	_, err := s.t.Update(ctx, e.ID, func(storedEntity, bool) (storedEntity, error) {
		return storedEntity{Entity: e}, nil
	})
	return err
}

// Get returns one entity.
func (s *EntityStore) Get(ctx context.Context, id string) (model.Entity, error) {
	se, err := s.t.Get(ctx, id)
	if err != nil {
		return model.Entity{}, err
	}
	return se.Entity, nil
}

// List returns every entity, ACTIVE and INACTIVE, in insertion order.
func (s *EntityStore) List(ctx context.Context) ([]model.Entity, error) {
	all, err := s.t.Scan(ctx, "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	out := make([]model.Entity, 0, len(all))
	for _, se := range all {
		out = append(out, se.Entity)
	}
	return out, nil
}
