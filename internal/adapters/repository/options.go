package repository

import (
	"time"

	"github.com/okian/popscore/pkg/logger"
)

// Option applies a configuration option to the DB.
type Option func(*DB)

// WithInMemory keeps all data in memory. Used by tests and dry runs.
func WithInMemory(inMemory bool) Option {
	return func(d *DB) {
		d.inMemory = inMemory
	}
}

// WithSyncWrites fsyncs every commit.
func WithSyncWrites(sync bool) Option {
	return func(d *DB) {
		d.syncWrites = sync
	}
}

// WithMaxConflictRetries bounds how often a conflicting read-merge-write is retried.
func WithMaxConflictRetries(n int) Option {
	return func(d *DB) {
		if n > 0 {
			d.maxConflictRetries = n
		}
	}
}

// WithConflictBackoff sets the initial wait between conflict retries.
func WithConflictBackoff(backoff time.Duration) Option {
	return func(d *DB) {
		if backoff > 0 {
			d.conflictBackoff = backoff
		}
	}
}

// WithLogger routes badger's own log output through l.
func WithLogger(l logger.Logger) Option {
	return func(d *DB) {
		d.log = l
	}
}
