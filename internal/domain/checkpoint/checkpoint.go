// Package checkpoint implements the collection progress state machine
// NOT_STARTED -> IN_PROGRESS -> COMPLETED, scoped per (date, provider).
//
// Functions here are pure: they take the record by value and return the
// next one. Persistence and concurrent-writer handling live in the store.
package checkpoint

import (
	"time"

	"github.com/okian/popscore/internal/domain/model"
	"github.com/okian/popscore/internal/domain/sortedset"
)

// Begin returns the record an invocation should work from. With no existing
// record a fresh IN_PROGRESS record with an empty merged set is created;
// an existing record is returned unchanged, COMPLETED included.
func Begin(existing *model.CheckpointRecord, date model.Date, provider model.ProviderID, now time.Time) (model.CheckpointRecord, bool) {
	if existing != nil {
		return *existing, false
	}
	return model.CheckpointRecord{
		Date:      date,
		Provider:  provider,
		Merged:    sortedset.New(),
		Status:    model.CheckpointInProgress,
		Version:   1,
		UpdatedAt: now,
	}, true
}

// Partition splits entities into those already merged for the checkpoint
// and those still to do. Both slices keep the input order.
func Partition(entities []model.Entity, rec model.CheckpointRecord) (merged, pending []model.Entity) {
	for _, e := range entities {
		if rec.Merged.Contains(e.ID) {
			merged = append(merged, e)
			continue
		}
		pending = append(pending, e)
	}
	return merged, pending
}

// Advance folds processed ids into the merged set and recomputes the
// status against the full entity id list. The merged set only grows and a
// COMPLETED record stays COMPLETED.
func Advance(rec model.CheckpointRecord, processed, all []string, now time.Time) model.CheckpointRecord {
	next := rec
	next.Merged = rec.Merged.Clone()
	next.Merged.Add(processed...)
	next.Version = rec.Version + 1
	next.UpdatedAt = now

	if rec.Status == model.CheckpointCompleted {
		return next
	}
	next.Status = model.CheckpointCompleted
	for _, id := range all {
		if !next.Merged.Contains(id) {
			next.Status = model.CheckpointInProgress
			break
		}
	}
	return next
}

// Remaining counts the entities not yet merged.
func Remaining(rec model.CheckpointRecord, all []string) int {
	n := 0
	for _, id := range all {
		if !rec.Merged.Contains(id) {
			n++
		}
	}
	return n
}
