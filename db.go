package docdb

import (
	"fmt"
	"sync/atomic"
	"time"
)

// DB is a document database instance backed by a pluggable storage engine
// (storage.go's interface; storage_bolt.go and storage_mem.go provide the
// two concrete backends — the teacher's production bbolt backend and its
// in-memory test backend, both promoted to first-class Options choices
// since this module has no compile-time schema to open against a single
// fixed bbolt file). Adapted from the teacher's db.go.
type DB struct {
	store   storage
	logf    func(format string, args ...any)
	verbose bool
	clock   func() time.Time

	cat *catalog

	lastSize   atomic.Int64
	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64

	closed atomic.Bool
}

// Options configures Open. Clock defaults to time.Now and exists so tests
// can control TTL expiry deterministically (spec.md §5's FlushExpired),
// matching the teacher's general preference for injectable collaborators
// over global state.
type Options struct {
	Backend Backend
	Path    string

	Logf    func(format string, args ...any)
	Verbose bool
	Clock   func() time.Time
}

type Backend int

const (
	BackendBolt Backend = iota
	BackendMemory
)

func Open(opt Options) (*DB, error) {
	var store storage
	var err error
	switch opt.Backend {
	case BackendMemory:
		store = newMemStorage()
	default:
		store, err = openBoltStorage(opt.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("docdb: %w", err)
	}

	clock := opt.Clock
	if clock == nil {
		clock = time.Now
	}

	db := &DB{
		store:   store,
		logf:    opt.Logf,
		verbose: opt.Verbose,
		clock:   clock,
	}

	stx, err := store.BeginTx(true)
	if err != nil {
		return nil, err
	}
	buck, err := stx.CreateCF(catalogCF)
	if err != nil {
		stx.Rollback()
		return nil, err
	}
	cat, err := loadCatalog(buck)
	if err != nil {
		stx.Rollback()
		return nil, err
	}
	db.cat = cat
	if err := stx.Commit(); err != nil {
		return nil, err
	}

	return db, nil
}

func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

func (db *DB) IsClosed() bool {
	return db.closed.Load()
}

func (db *DB) Close() error {
	if db.closed.CompareAndSwap(false, true) {
		return db.store.Close()
	}
	return nil
}

func (db *DB) now() time.Time {
	return db.clock()
}

func (db *DB) log(format string, args ...any) {
	if db.logf != nil {
		db.logf(format, args...)
	}
}
