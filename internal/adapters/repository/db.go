// Package repository persists pipeline records in an embedded badger
// key-value store. Records are JSON documents; secondary indexes are
// empty-valued keys maintained in the same transaction as the record.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/okian/popscore/pkg/logger"
	"github.com/okian/popscore/pkg/metrics"
)

// Default store configuration constants.
const (
	defaultMaxConflictRetries = 8
	defaultConflictBackoff    = 5 * time.Millisecond
)

// DB is the shared badger handle every typed store works on.
type DB struct {
	db *badger.DB

	path               string
	inMemory           bool
	syncWrites         bool
	maxConflictRetries int
	conflictBackoff    time.Duration
	log                logger.Logger

	closed atomic.Bool
}

// Open opens (or creates) the store at path. An in-memory store ignores path.
func Open(path string, opts ...Option) (*DB, error) {
	d := &DB{
		path:               path,
		maxConflictRetries: defaultMaxConflictRetries,
		conflictBackoff:    defaultConflictBackoff,
	}

	// Apply all options
	for _, opt := range opts {
		opt(d)
	}

	bopts := badger.DefaultOptions(path)
	if d.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = d.syncWrites
	bopts.Logger = nil // Suppress BadgerDB internal logs
	if d.log != nil {
		bopts.Logger = badgerLogger{l: d.log}
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	d.db = db
	return d, nil
}

// Close releases the store.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close badger db: %w", err)
	}
	return nil
}

func (d *DB) check(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store operation: %w", err)
	}
	return nil
}

// view runs fn in a read-only transaction.
func (d *DB) view(ctx context.Context, table, op string, fn func(txn *badger.Txn) error) error {
	if err := d.check(ctx); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(table, op, float64(time.Since(start).Microseconds())/1000)
	}()
	return d.db.View(fn)
}

// update runs fn in a read-write transaction. A commit that fails with
// badger.ErrConflict is retried from scratch, so fn must re-read what it
// depends on; it sees the state left by the competing writer.
func (d *DB) update(ctx context.Context, table, op string, fn func(txn *badger.Txn) error) error {
	if err := d.check(ctx); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency(table, op, float64(time.Since(start).Microseconds())/1000)
	}()

	backoff := d.conflictBackoff
	for attempt := 0; ; attempt++ {
		err := d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		metrics.RecordStoreConflict(table)
		if attempt+1 >= d.maxConflictRetries {
			return fmt.Errorf("%s %s after %d attempts: %w", table, op, attempt+1, ErrConflictExhausted)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("store operation: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// getJSON loads key into v. It returns ErrNotFound when key is absent.
func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	})
}

// setJSON stores v under key.
func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// exists reports whether key is present.
func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, nil
}

// scanKeys calls fn for every key with prefix whose suffix lies in
// [from, to]. Empty bounds are open. Values are not fetched.
func scanKeys(txn *badger.Txn, prefix, from, to string, fn func(key string) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek([]byte(prefix + from)); it.ValidForPrefix(p); it.Next() {
		key := string(it.Item().Key())
		suffix := key[len(prefix):]
		if to != "" && suffix > to && !hasPrefix(suffix, to) {
			break
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

// scanJSON decodes every value stored under prefix, in key order.
func scanJSON[T any](txn *badger.Txn, prefix string, fn func(key string, v T) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var v T
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return fmt.Errorf("unmarshal %s: %w", item.Key(), err)
		}
		if err := fn(string(item.Key()), v); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(s, p string) bool {
	return len(s) >= len(p) && s[:len(p)] == p
}

// badgerLogger routes badger's internal logging through our logger.
type badgerLogger struct {
	l logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(context.Background(), fmt.Sprintf(format, args...))
}
