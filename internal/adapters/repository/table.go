package repository

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// WriteHook runs inside the write transaction of Table.Update, after the
// new value is computed and before commit. old is nil when the key was
// absent. Hooks keep secondary index keys in step with the record.
type WriteHook[T any] func(txn *badger.Txn, old *T, next *T) error

// Table is a typed view over the keys under one name prefix.
type Table[T any] struct {
	db    *DB
	name  string
	hooks []WriteHook[T]
}

// NewTable returns the table stored under name/.
func NewTable[T any](db *DB, name string, hooks ...WriteHook[T]) *Table[T] {
	return &Table[T]{db: db, name: name, hooks: hooks}
}

func (t *Table[T]) key(k string) []byte {
	return []byte(t.name + "/" + k)
}

// Get returns the value stored under k, or ErrNotFound.
func (t *Table[T]) Get(ctx context.Context, k string) (T, error) {
	var v T
	err := t.db.view(ctx, t.name, "get", func(txn *badger.Txn) error {
		return getJSON(txn, t.key(k), &v)
	})
	return v, err
}

// Put stores v under k unconditionally.
func (t *Table[T]) Put(ctx context.Context, k string, v T) error {
	_, err := t.Update(ctx, k, func(T, bool) (T, error) { return v, nil })
	return err
}

// PutIfAbsent stores v only when k is absent and reports whether it did.
func (t *Table[T]) PutIfAbsent(ctx context.Context, k string, v T) (bool, error) {
	stored := false
	err := t.db.update(ctx, t.name, "put_if_absent", func(txn *badger.Txn) error {
		stored = false
		found, err := exists(txn, t.key(k))
		if err != nil || found {
			return err
		}
		if err := t.runHooks(txn, nil, &v); err != nil {
			return err
		}
		stored = true
		return setJSON(txn, t.key(k), v)
	})
	return stored, err
}

// Update is a read-modify-write of k in one transaction. fn receives the
// current value (zero value and false when absent) and returns the value
// to store. Conflicting commits are retried with a fresh read.
func (t *Table[T]) Update(ctx context.Context, k string, fn func(cur T, found bool) (T, error)) (T, error) {
	var out T
	err := t.db.update(ctx, t.name, "update", func(txn *badger.Txn) error {
		var cur T
		found := true
		if err := getJSON(txn, t.key(k), &cur); err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			found = false
		}
		var old *T
		if found && len(t.hooks) > 0 {
			// fn may mutate cur in place; hooks get their own decode
			var snapshot T
			if err := getJSON(txn, t.key(k), &snapshot); err != nil {
				return err
			}
			old = &snapshot
		}
		next, err := fn(cur, found)
		if err != nil {
			return err
		}
		if err := t.runHooks(txn, old, &next); err != nil {
			return err
		}
		out = next
		return setJSON(txn, t.key(k), next)
	})
	return out, err
}

// Scan returns every value whose key starts with name/prefix, in key order.
func (t *Table[T]) Scan(ctx context.Context, prefix string) ([]T, error) {
	var out []T
	err := t.db.view(ctx, t.name, "scan", func(txn *badger.Txn) error {
		return scanJSON(txn, t.name+"/"+prefix, func(_ string, v T) error {
			out = append(out, v)
			return nil
		})
	})
	return out, err
}

// ScanRange returns the values under name/prefix whose remaining key lies
// in [from, to], in key order.
func (t *Table[T]) ScanRange(ctx context.Context, prefix, from, to string) ([]T, error) {
	var out []T
	full := t.name + "/" + prefix
	err := t.db.view(ctx, t.name, "scan_range", func(txn *badger.Txn) error {
		return scanKeys(txn, full, from, to, func(key string) error {
			var v T
			if err := getJSON(txn, []byte(key), &v); err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	return out, err
}

func (t *Table[T]) runHooks(txn *badger.Txn, old, next *T) error {
	for _, h := range t.hooks {
		if err := h(txn, old, next); err != nil {
			return err
		}
	}
	return nil
}
