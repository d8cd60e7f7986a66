package docdb

import (
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// catalogCF is the reserved column family holding collection metadata,
// analogous to the teacher's per-table "_state" key but factored out into
// its own column family (there is no longer one bucket per table to hang a
// state key off of — see storage.go).
const catalogCF = "_sys_"

// CollectionMeta describes one collection's schema-light configuration:
// its primary-key field path, an optional TTL field path, and the set of
// additional indexed field paths. Stored msgpack-encoded (matching the
// teacher's tableState persistence format) under catalogCF.
type CollectionMeta struct {
	Name    string    `msgpack:"name"`
	PKPath  string    `msgpack:"pk"`
	TTLPath string    `msgpack:"ttl,omitempty"`
	Indexes []string  `msgpack:"idx,omitempty"`
	Created time.Time `msgpack:"created"`
}

func (m *CollectionMeta) hasIndex(field string) bool {
	return containsString(m.Indexes, field)
}

// catalog is the in-memory, mutex-protected cache of every collection's
// metadata, refreshed from storage at Open and kept current by
// CreateCollection/DropCollection/AddIndex/DropIndex — adapted from the
// teacher's db.tableStates array, generalized from a fixed compile-time
// table list to a dynamically created/dropped collection set.
type catalog struct {
	mu   sync.RWMutex
	byName map[string]*CollectionMeta
}

func newCatalog() *catalog {
	return &catalog{byName: make(map[string]*CollectionMeta)}
}

func (c *catalog) get(name string) (*CollectionMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byName[name]
	return m, ok
}

func (c *catalog) list() []*CollectionMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*CollectionMeta, 0, len(c.byName))
	for _, m := range c.byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *catalog) put(m *CollectionMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[m.Name] = m
}

func (c *catalog) remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byName, name)
}

// loadCatalog populates an empty catalog from storage, to be called once
// right after Open while holding the db's write lock.
func loadCatalog(buck storageBucket) (*catalog, error) {
	c := newCatalog()
	cur := buck.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		var m CollectionMeta
		if err := msgpack.Unmarshal(v, &m); err != nil {
			return nil, engineErrf(EngineEncoding, string(k), k, err, "failed to decode collection metadata")
		}
		c.byName[m.Name] = &m
	}
	return c, nil
}

func putCollectionMeta(buck storageBucket, m *CollectionMeta) error {
	raw, err := msgpack.Marshal(m)
	if err != nil {
		return engineErrf(EngineEncoding, m.Name, nil, err, "failed to encode collection metadata")
	}
	return buck.Put([]byte(m.Name), raw)
}

func deleteCollectionMeta(buck storageBucket, name string) error {
	return buck.Delete([]byte(name))
}
