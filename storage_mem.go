package docdb

import (
	"bytes"
	"errors"
	"slices"
	"sort"
	"sync"
)

var (
	errStorageClosed = errors.New("storage closed")
	errTxNotWritable = errors.New("transaction not writable")
)

// memStorage is a transient in-memory storage backend intended for tests
// and for BackendMemory. Adapted from the teacher's storage_mem.go: the
// nested name+sub bucket addressing is dropped (this module has exactly
// one flat column family, docsCF, plus catalogCF — see tx.go), and the
// interface is storage/storageTx/storageBucket/storageCursor rather than
// the teacher's Storage/StorageTx/Bucket trio, but the concurrency model
// (a single writer gated by a condition variable, a full snapshot-by-copy
// taken at BeginTx for isolation) is unchanged.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

// newMemStorage returns a transient in-memory storage implementation
// intended for tests and for Options{Backend: BackendMemory}.
func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storeErrf(StoreIO, errStorageClosed)
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, storeErrf(StoreIO, errStorageClosed)
		}
		s.writer = true
	}

	// Snapshot every column family by copy for transactional isolation
	// (simplicity over efficiency — matches the teacher's own tradeoff).
	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b.clone()
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) CF(name string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.buckets[name]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, b: b}
}

func (tx *memTx) CreateCF(name string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, storeErrf(StoreReadOnly, errTxNotWritable)
	}
	b := tx.buckets[name]
	if b == nil {
		b = &memBucket{}
		tx.buckets[name] = b
	}
	return memBucketHandle{tx: tx, b: b}, nil
}

func (tx *memTx) DropCF(name string) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return storeErrf(StoreReadOnly, errTxNotWritable)
	}
	if tx.buckets[name] == nil {
		return ErrColumnFamilyNotFound
	}
	delete(tx.buckets, name)
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return storeErrf(StoreReadOnly, errTxNotWritable)
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return storeErrf(StoreIO, errStorageClosed)
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	if b == nil {
		return nil
	}
	out := &memBucket{items: make([]memKV, len(b.items))}
	for i, kv := range b.items {
		out.items[i] = memKV{
			key:   slices.Clone(kv.key),
			value: slices.Clone(kv.value),
		}
	}
	return out
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (b memBucketHandle) Get(key []byte) []byte {
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	return b.b.items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return storeErrf(StoreReadOnly, errTxNotWritable)
	}
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := b.find(key)
	if ok {
		b.b.items[i].value = value
		return nil
	}
	b.b.items = slices.Insert(b.b.items, i, memKV{key: key, value: value})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return storeErrf(StoreReadOnly, errTxNotWritable)
	}
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	b.b.items = slices.Delete(b.b.items, i, i+1)
	return nil
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{tx: b.tx, b: b.b, pos: -1}
}

func (b memBucketHandle) Stats() bucketStats {
	var inuse int64
	for _, kv := range b.b.items {
		inuse += int64(len(kv.key) + len(kv.value))
	}
	return bucketStats{
		KeyN:      len(b.b.items),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

func (b memBucketHandle) KeyCount() int { return len(b.b.items) }

func (b memBucketHandle) find(key []byte) (idx int, ok bool) {
	items := b.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

// memCursor implements storageCursor over a memBucket's sorted slice.
// SeekLast walks forward from prefix past every prefixed key and steps
// back one, the same linear approach storage_bolt.go's boltSeekLast uses
// (util.go) rather than the teacher's increment-the-prefix trick, so both
// backends share one mental model for the operation's edge cases.
type memCursor struct {
	tx  *memTx
	b   *memBucket
	pos int
}

func (c *memCursor) First() ([]byte, []byte) {
	if len(c.b.items) == 0 {
		c.pos = 0
		return nil, nil
	}
	c.pos = 0
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) Last() ([]byte, []byte) {
	if len(c.b.items) == 0 {
		c.pos = 0
		return nil, nil
	}
	c.pos = len(c.b.items) - 1
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	})
	c.pos = i
	if i >= len(items) {
		return nil, nil
	}
	kv := items[i]
	return kv.key, kv.value
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}
	items := c.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, prefix) >= 0
	})
	for i < len(items) && hasPrefix(items[i].key, prefix) {
		i++
	}
	if i == 0 {
		c.pos = -1
		return nil, nil
	}
	c.pos = i - 1
	kv := items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	c.pos++
	if c.pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	c.pos--
	if c.pos < 0 || c.pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) Delete() error {
	if !c.tx.writable {
		return storeErrf(StoreReadOnly, errTxNotWritable)
	}
	if c.pos < 0 || c.pos >= len(c.b.items) {
		return nil
	}
	c.b.items = slices.Delete(c.b.items, c.pos, c.pos+1)
	c.pos--
	return nil
}
