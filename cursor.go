package docdb

import "go.mongodb.org/mongo-driver/v2/bson"

// Cursor is the user-facing query object of spec.md §4.8: it owns a
// Statement and borrows a Tx. Planning is deferred until Next/Values is
// first called, against a snapshot of the collection's indexed-field list
// taken from the transaction's catalog cache (tx.go's metaSnapshot) — so a
// Cursor built early in a long transaction and iterated later still plans
// against the schema as of its first step, not whatever the catalog looks
// like at that later moment. The Cursor is bound to the transaction's
// lifetime; it must not outlive a Commit/Rollback.
type Cursor struct {
	tx   *Tx
	stmt Statement

	planned bool
	plan    plan
	iter    rowIter
	err     error
}

// NewCursor builds a Cursor for stmt against tx. Planning does not happen
// here — only on the first call to Next or Values.
func NewCursor(tx *Tx, stmt Statement) *Cursor {
	return &Cursor{tx: tx, stmt: stmt}
}

func (c *Cursor) ensurePlanned() error {
	if c.planned {
		return c.err
	}
	c.planned = true
	meta, err := c.tx.collection(c.stmt.Collection)
	if err != nil {
		c.err = err
		return err
	}
	p, err := compilePlan(&c.stmt, meta)
	if err != nil {
		c.err = err
		return err
	}
	it, err := p.open(c.tx)
	if err != nil {
		c.err = err
		return err
	}
	c.plan = p
	c.iter = it
	return nil
}

// Next advances the cursor, returning ok=false (nil error) at end of
// stream, or the error that aborted the pipeline (spec.md §7's
// propagation rule: an error mid-stream leaves the transaction for the
// caller to roll back).
func (c *Cursor) Next() (bson.Raw, bool, error) {
	if err := c.ensurePlanned(); err != nil {
		return nil, false, err
	}
	r, ok, err := c.iter.Next()
	if err != nil {
		c.err = err
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return r.Doc, true, nil
}

// All drains the cursor into a slice, for callers that don't need
// streaming (tests, small result sets).
func (c *Cursor) All() ([]bson.Raw, error) {
	var out []bson.Raw
	for {
		doc, ok, err := c.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, doc)
	}
}

// One returns the first result, or ok=false if the cursor yields nothing
// (spec.md §7: "find_one on an empty result yields None, not an error").
func (c *Cursor) One() (bson.Raw, bool, error) {
	return c.Next()
}

// Values drains a Distinct cursor and returns its deduplicated array
// directly, instead of discarding it the way Next/All would (Distinct's
// single output row carries its result in Array, not Doc; the wire
// protocol's Response variant for a distinct query is Values(raw), not
// Record/Records, for the same reason).
func (c *Cursor) Values() (bson.A, error) {
	if err := c.ensurePlanned(); err != nil {
		return nil, err
	}
	r, ok, err := c.iter.Next()
	if err != nil {
		c.err = err
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return r.Array, nil
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error { return c.err }

// --- Convenience constructors, one per Statement kind (spec.md §2) --------

// Find returns a Cursor over documents in coll matching filter (nil for
// all documents).
func (tx *Tx) Find(coll string, filter Expr) *Cursor {
	return NewCursor(tx, Statement{Kind: StmtFind, Collection: coll, Filter: filter})
}

// FindByID is the spec's get_by_id convenience: a direct point lookup,
// bypassing the planner entirely (there is no statement to compile for a
// single known id).
func (tx *Tx) FindByID(coll string, id bson.RawValue) (bson.Raw, bool, error) {
	return tx.Get(coll, id)
}

// Distinct returns a Cursor whose single result row carries the
// deduplicated leaf values of field as a BSON array (spec.md §4.5's
// Distinct operator contract).
func (tx *Tx) Distinct(coll, field string, filter Expr) *Cursor {
	return NewCursor(tx, Statement{Kind: StmtDistinct, Collection: coll, DistinctField: field, Filter: filter})
}

// Count executes filter as a Find and reports how many documents matched.
// spec.md's wire protocol exposes Count as a first-class request; the core
// has no dedicated Count operator, so this drains a Find cursor the way
// the teacher's own table iteration helpers compute counts (no separate
// count-only index structure is maintained).
func (tx *Tx) Count(coll string, filter Expr) (int, error) {
	docs, err := tx.Find(coll, filter).All()
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// InsertOne inserts a single document, synthesizing its id if the
// collection's primary-key path is absent from doc.
func (tx *Tx) InsertOne(coll string, doc bson.D) (bson.RawValue, error) {
	p := &planInsert{Collection: coll, Docs: []bson.D{doc}}
	it, err := p.open(tx)
	if err != nil {
		return bson.RawValue{}, err
	}
	r, ok, err := it.Next()
	if err != nil {
		return bson.RawValue{}, err
	}
	if !ok {
		return bson.RawValue{}, engineErrf(EngineInvalidDocument, coll, nil, nil, "insert produced no result")
	}
	return r.ID, nil
}

// InsertMany inserts every document in docs, aborting the whole batch (no
// partial insert) on the first DuplicateKey or validation failure — spec.md
// §7's "DuplicateKey in insert-many aborts the whole batch" rule, achieved
// here simply by propagating the first error from the underlying planInsert
// iterator, which the caller's surrounding Tx.Update will then roll back.
func (tx *Tx) InsertMany(coll string, docs []bson.D) ([]bson.RawValue, error) {
	p := &planInsert{Collection: coll, Docs: docs}
	it, err := p.open(tx)
	if err != nil {
		return nil, err
	}
	ids := make([]bson.RawValue, 0, len(docs))
	for {
		r, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return ids, nil
		}
		ids = append(ids, r.ID)
	}
}

// UpdateMany applies mutation to every document matching filter, returning
// the number of documents modified.
func (tx *Tx) UpdateMany(coll string, filter Expr, mutation *Mutation) (int, error) {
	meta, err := tx.collection(coll)
	if err != nil {
		return 0, err
	}
	stmt := Statement{Kind: StmtUpdate, Collection: coll, Filter: filter, Mutation: mutation}
	p, err := compilePlan(&stmt, meta)
	if err != nil {
		return 0, err
	}
	it, err := p.open(tx)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// ReplaceOne replaces the single document matching filter, reporting
// matched/modified counts per spec.md §7's convention (0/0 on no match).
func (tx *Tx) ReplaceOne(coll string, filter Expr, replacement bson.D) (matched, modified int, err error) {
	meta, merr := tx.collection(coll)
	if merr != nil {
		return 0, 0, merr
	}
	stmt := Statement{Kind: StmtReplace, Collection: coll, Filter: filter, Replacement: replacement,
		Skip: 0, Take: 1, HasTake: true}
	p, perr := compilePlan(&stmt, meta)
	if perr != nil {
		return 0, 0, perr
	}
	it, oerr := p.open(tx)
	if oerr != nil {
		return 0, 0, oerr
	}
	_, ok, nerr := it.Next()
	if nerr != nil {
		return 0, 0, nerr
	}
	if !ok {
		return 0, 0, nil
	}
	return 1, 1, nil
}

// DeleteMany deletes every document matching filter, returning the count
// removed (0 if none matched — spec.md §7's no-op convention).
func (tx *Tx) DeleteMany(coll string, filter Expr) (int, error) {
	meta, err := tx.collection(coll)
	if err != nil {
		return 0, err
	}
	stmt := Statement{Kind: StmtDelete, Collection: coll, Filter: filter}
	p, err := compilePlan(&stmt, meta)
	if err != nil {
		return 0, err
	}
	it, err := p.open(tx)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// UpsertMany replaces or inserts each document in docs, matched by its _id
// field (spec.md §2's UpsertMany statement).
func (tx *Tx) UpsertMany(coll string, docs []bson.D) error {
	meta, err := tx.collection(coll)
	if err != nil {
		return err
	}
	stmt := Statement{Kind: StmtUpsertMany, Collection: coll, Docs: docs}
	p, err := compilePlan(&stmt, meta)
	if err != nil {
		return err
	}
	it, err := p.open(tx)
	if err != nil {
		return err
	}
	for {
		_, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// MergeMany shallow-merges each document in docs onto the existing record
// matched by its _id field, or inserts it if no match exists (spec.md §2's
// MergeMany statement).
func (tx *Tx) MergeMany(coll string, docs []bson.D) error {
	meta, err := tx.collection(coll)
	if err != nil {
		return err
	}
	stmt := Statement{Kind: StmtMergeMany, Collection: coll, Docs: docs}
	p, err := compilePlan(&stmt, meta)
	if err != nil {
		return err
	}
	it, err := p.open(tx)
	if err != nil {
		return err
	}
	for {
		_, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// FlushExpired sweeps coll's TTL index for records expired at or before
// now, deleting at most batchLimit of them (spec.md §9's open-question
// resolution), returning the count removed.
func (tx *Tx) FlushExpired(coll string, now bson.RawValue, batchLimit int) (int, error) {
	meta, err := tx.collection(coll)
	if err != nil {
		return 0, err
	}
	stmt := Statement{Kind: StmtFlushExpired, Collection: coll, Now: func() bson.RawValue { return now }, BatchLimit: batchLimit}
	p, err := compilePlan(&stmt, meta)
	if err != nil {
		return 0, err
	}
	it, err := p.open(tx)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, ok, err := it.Next()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}
