package docdb

import (
	"unsafe"

	"go.etcd.io/bbolt"
)

// boltStorage implements storage atop go.etcd.io/bbolt: one column family is
// one top-level bbolt bucket. Adapted from the teacher's storage_bolt.go,
// simplified from its nested bucket-per-index layout — not needed here
// since records and index entries are interleaved by key prefix within a
// single column family (see keycodec.go).
type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) storage {
	return &boltStorage{bdb: bdb}
}

// openBoltStorage opens (creating if absent) a bbolt database file at path
// and wraps it as a storage backend, matching the teacher's own
// Options.Path-to-bbolt.Open wiring in its db.go.
func openBoltStorage(path string) (storage, error) {
	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, storeErrf(StoreIO, err)
	}
	return newBoltStorage(bdb), nil
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, storeErrf(StoreIO, err)
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	if err := s.bdb.Close(); err != nil {
		return storeErrf(StoreIO, err)
	}
	return nil
}

type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) BoltTx() *bbolt.Tx { return tx.btx }

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) CF(name string) storageBucket {
	b := tx.btx.Bucket(unsafeBytesFromString(name))
	if b == nil {
		return nil
	}
	return boltBucket{b: b}
}

func (tx *boltStorageTx) CreateCF(name string) (storageBucket, error) {
	b, err := tx.btx.CreateBucketIfNotExists(unsafeBytesFromString(name))
	if err != nil {
		return nil, storeErrf(StoreIO, err)
	}
	return boltBucket{b: b}, nil
}

func (tx *boltStorageTx) DropCF(name string) error {
	err := tx.btx.DeleteBucket(unsafeBytesFromString(name))
	if err == bbolt.ErrBucketNotFound {
		return ErrColumnFamilyNotFound
	}
	if err != nil {
		return storeErrf(StoreIO, err)
	}
	return nil
}

func (tx *boltStorageTx) Commit() error {
	if err := tx.btx.Commit(); err != nil {
		return storeErrf(StoreIO, err)
	}
	return nil
}

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	if err != nil {
		return storeErrf(StoreIO, err)
	}
	return nil
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b boltBucket) Put(key, value []byte) error {
	if err := b.b.Put(key, value); err != nil {
		return storeErrf(StoreIO, err)
	}
	return nil
}

func (b boltBucket) Delete(key []byte) error {
	if err := b.b.Delete(key); err != nil {
		return storeErrf(StoreIO, err)
	}
	return nil
}

func (b boltBucket) Cursor() storageCursor { return boltCursor{c: b.b.Cursor()} }

func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		LeafInuse:   int64(s.LeafInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

func (b boltBucket) KeyCount() int { return b.b.Stats().KeyN }

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.c.Last()
	}
	return boltSeekLast(c.c, prefix)
}

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func (c boltCursor) Delete() error {
	if err := c.c.Delete(); err != nil {
		return storeErrf(StoreIO, err)
	}
	return nil
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
