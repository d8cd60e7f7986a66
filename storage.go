package docdb

import "errors"

// ErrColumnFamilyNotFound is returned by storageTx.DropCF when the column
// family doesn't exist.
var ErrColumnFamilyNotFound = errors.New("column family not found")

// storage represents a pluggable, ordered key-value storage backend. The
// engine depends only on this interface (spec.md §1/§9): column families,
// ordered prefix iteration (forward and reverse), point get/put/delete,
// range-delete (via cursor iteration), and a transaction primitive with
// read-committed snapshot semantics plus a write lock. Backend choice and
// internals are out of this module's scope; two are shipped for
// completeness (storage_bolt.go, storage_mem.go).
type storage interface {
	// BeginTx starts a new transaction. A writable transaction blocks until
	// any other writable transaction completes; see spec.md §5.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction: a consistent snapshot for
// read-only transactions, or an exclusive read-write view for writable
// ones. Read-write transactions observe their own uncommitted writes.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// CF returns a column family by name, or nil if it doesn't exist.
	CF(name string) storageBucket

	// CreateCF creates a column family if it doesn't exist.
	CreateCF(name string) (storageBucket, error)

	// DropCF deletes a column family and everything in it.
	DropCF(name string) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. Safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket represents one column family: a sorted key-value collection.
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for ordered iteration.
	Cursor() storageCursor

	// Stats returns storage-specific bucket statistics. Backends that don't
	// track allocation sizes may return zero values except KeyN.
	Stats() bucketStats

	// KeyCount returns the number of keys in the bucket (best effort).
	KeyCount() int
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted column family.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Last moves to the last key-value pair.
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key strictly before the successor of the
	// given prefix/boundary. Commonly implemented as Seek(inc(prefix)) then
	// Prev().
	SeekLast(prefix []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)

	// Prev moves to the previous key-value pair.
	Prev() (key, value []byte)

	// Delete deletes the current key-value pair.
	Delete() error
}

// deletePrefix range-deletes every key under prefix in buck, the common
// "iterate and delete" implementation of range-delete atop storageCursor.
func deletePrefix(buck storageBucket, prefix []byte) (n int) {
	c := buck.Cursor()
	k, _ := c.Seek(prefix)
	for k != nil && hasPrefix(k, prefix) {
		ensure(c.Delete())
		n++
		k, _ = c.Next()
	}
	return n
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
