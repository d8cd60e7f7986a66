package docdb

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// This file implements the engine-transaction primitives of spec.md §4.7:
// put_nx, put, get, delete, scan_prefix, put_index, delete_index. PutNX and
// Put maintain index entries themselves through writeRecord, which diffs
// the record's stored index rows against the newly computed set. Delete
// removes only the record key; DeleteCascade removes the record together
// with its index entries. There are no separate DeleteIndex/InsertIndex
// plan stages around these calls. Grounded on the
// teacher's opput.go/opget.go/opdelete.go (header+payload framing,
// verbose-logging hook) generalized from typed rows to BSON documents.

// Get reads the document stored at id in coll. Returns ok=false (not an
// error) if no such record exists, matching spec.md §7's get_by_id
// contract.
func (tx *Tx) Get(coll string, id bson.RawValue) (bson.Raw, bool, error) {
	meta, err := tx.collection(coll)
	if err != nil {
		return nil, false, err
	}
	docs, err := tx.docsBucket()
	if err != nil {
		return nil, false, err
	}
	idEnc, err := idEncoding(id)
	if err != nil {
		return nil, false, err
	}
	key := recordKey(nil, coll, idEnc)
	raw := docs.Get(key)
	if raw == nil {
		return nil, false, nil
	}
	var rv recordValue
	if err := rv.decode(raw); err != nil {
		return nil, false, err
	}
	_ = meta
	return bson.Raw(rv.Data), true, nil
}

// PutNX inserts doc under a synthesized or supplied primary-key value,
// failing with EngineDuplicateKey if the id already exists (spec.md §3's
// primary-key-uniqueness invariant). Returns the id actually used (the
// caller-supplied one, or a synthesized ObjectID if the pk path was
// absent).
func (tx *Tx) PutNX(coll string, doc bson.D, now time.Time) (bson.RawValue, bson.D, error) {
	meta, err := tx.collection(coll)
	if err != nil {
		return bson.RawValue{}, nil, err
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return bson.RawValue{}, nil, engineErrf(EngineInvalidDocument, coll, nil, err, "failed to marshal document")
	}
	if err := validateDocument(bson.Raw(raw)); err != nil {
		return bson.RawValue{}, nil, err
	}

	id, ok := documentID(bson.Raw(raw), meta.PKPath)
	if !ok {
		id = synthesizeID()
		doc = withID(doc, meta.PKPath, id)
		raw, err = bson.Marshal(doc)
		if err != nil {
			return bson.RawValue{}, nil, engineErrf(EngineInvalidDocument, coll, nil, err, "failed to marshal document")
		}
	}

	idEnc, err := idEncoding(id)
	if err != nil {
		return bson.RawValue{}, nil, err
	}
	docs, err := tx.docsBucket()
	if err != nil {
		return bson.RawValue{}, nil, err
	}
	key := recordKey(nil, coll, idEnc)
	if docs.Get(key) != nil {
		return bson.RawValue{}, nil, engineErrf(EngineDuplicateKey, coll, key, nil, "record already exists")
	}

	if err := tx.writeRecord(docs, meta, coll, idEnc, key, bson.Raw(raw), now); err != nil {
		return bson.RawValue{}, nil, err
	}
	return id, doc, nil
}

// Put unconditionally writes doc's record bytes at id and brings the
// index entries it contributes up to date (see writeRecord). Used by the
// Update/Replace/Upsert mutation operators.
func (tx *Tx) Put(coll string, id bson.RawValue, doc bson.Raw, now time.Time) error {
	meta, err := tx.collection(coll)
	if err != nil {
		return err
	}
	idEnc, err := idEncoding(id)
	if err != nil {
		return err
	}
	docs, err := tx.docsBucket()
	if err != nil {
		return err
	}
	key := recordKey(nil, coll, idEnc)
	return tx.writeRecord(docs, meta, coll, idEnc, key, doc, now)
}

// writeRecord stores doc's record bytes at key and atomically maintains
// every index entry it contributes: it diffs the previous record's stored
// index rows (if any) against the freshly computed set, deletes whatever
// fell out, and (re-)inserts the current set (spec.md §3's invariant that
// index and record writes commit together). This folds spec.md §4.5 rule
// 6's three pipeline stages (DeleteIndex, mutate, InsertIndex) into one
// per-document step rather than three separate plan nodes — a baseline
// full delete-then-insert cycle, exactly what spec.md §4.7 requires when
// no smarter unchanged-entry elision is attempted.
func (tx *Tx) writeRecord(docs storageBucket, meta *CollectionMeta, coll string, idEnc, key []byte, doc bson.Raw, now time.Time) error {
	_ = now
	var oldRows indexRows
	if oldRaw := docs.Get(key); oldRaw != nil {
		var old recordValue
		if err := old.decode(oldRaw); err != nil {
			return err
		}
		rows, err := decodeIndexRows(old.Index)
		if err != nil {
			return err
		}
		oldRows = rows
	}

	rows, _ := buildIndexRows(nil, coll, meta, doc, idEnc)
	indexRaw := encodeIndexRows(nil, rows)

	for _, removed := range diffRemovedIndexRows(oldRows, rows) {
		if err := docs.Delete(removed.KeyRaw); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := docs.Put(r.KeyRaw, emptyIndexValue); err != nil {
			return err
		}
	}
	indexRowsPool.Put(rows[:0])

	rv := recordValue{Data: doc, Index: indexRaw}
	if meta.TTLPath != "" {
		if millis, ok := ttlExpiry(doc, meta.TTLPath); ok {
			rv.Flags |= flagHasExpiry
			rv.ExpireAt = millis
		}
	}

	valueBuf := valueBytesPool.Get().([]byte)
	valueBuf = rv.encode(valueBuf[:0])
	err := docs.Put(key, valueBuf)
	valueBytesPool.Put(valueBuf[:0]) //nolint:staticcheck // pool reuse
	return err
}

// Delete removes the record at id, reporting whether it existed. It does
// not remove index entries itself (see this file's header note).
func (tx *Tx) Delete(coll string, id bson.RawValue) (bool, error) {
	_, err := tx.collection(coll)
	if err != nil {
		return false, err
	}
	docs, err := tx.docsBucket()
	if err != nil {
		return false, err
	}
	idEnc, err := idEncoding(id)
	if err != nil {
		return false, err
	}
	key := recordKey(nil, coll, idEnc)
	if docs.Get(key) == nil {
		return false, nil
	}
	if err := docs.Delete(key); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCascade removes the record at id together with every index entry it
// currently contributes (spec.md §3: "removed with the document"). Reports
// whether a record existed.
func (tx *Tx) DeleteCascade(coll string, id bson.RawValue) (bool, error) {
	_, err := tx.collection(coll)
	if err != nil {
		return false, err
	}
	docs, err := tx.docsBucket()
	if err != nil {
		return false, err
	}
	idEnc, err := idEncoding(id)
	if err != nil {
		return false, err
	}
	key := recordKey(nil, coll, idEnc)
	raw := docs.Get(key)
	if raw == nil {
		return false, nil
	}
	var rv recordValue
	if err := rv.decode(raw); err != nil {
		return false, err
	}
	rows, err := decodeIndexRows(rv.Index)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if err := docs.Delete(r.KeyRaw); err != nil {
			return false, err
		}
	}
	if err := docs.Delete(key); err != nil {
		return false, err
	}
	return true, nil
}

// PutIndex writes a single index entry.
func (tx *Tx) PutIndex(coll, field string, valueEnc, idEnc []byte) error {
	docs, err := tx.docsBucket()
	if err != nil {
		return err
	}
	key := indexKey(nil, coll, field, valueEnc, idEnc)
	return docs.Put(key, emptyIndexValue)
}

// DeleteIndex removes a single index entry. A miss is not an error: stale
// entries may already have been cleared by a previous partial write that
// rolled back, or the caller may be deleting speculatively.
func (tx *Tx) DeleteIndex(coll, field string, valueEnc, idEnc []byte) error {
	docs, err := tx.docsBucket()
	if err != nil {
		return err
	}
	key := indexKey(nil, coll, field, valueEnc, idEnc)
	return docs.Delete(key)
}

// recordIterator is the scan_prefix(cf, prefix, dir) primitive of
// spec.md §4.7, restricted to the shared docsCF (collection and field
// names are embedded in the key itself; see docsCF's doc comment in
// tx.go).
type recordIterator struct {
	cur     storageCursor
	prefix  []byte
	reverse bool
	started bool
	key     []byte
	value   []byte
}

func (tx *Tx) ScanPrefix(prefix []byte, reverse bool) (*recordIterator, error) {
	docs, err := tx.docsBucket()
	if err != nil {
		return nil, err
	}
	return &recordIterator{cur: docs.Cursor(), prefix: prefix, reverse: reverse}, nil
}

func (it *recordIterator) Next() bool {
	var k, v []byte
	if !it.started {
		it.started = true
		if it.reverse {
			k, v = it.cur.SeekLast(it.prefix)
		} else {
			k, v = it.cur.Seek(it.prefix)
		}
	} else if it.key == nil {
		return false
	} else {
		// Re-seek from the last key returned instead of stepping the cursor,
		// so keys deleted or inserted by a mutation operator between two
		// calls do not make the scan skip or repeat a key.
		k, v = it.cur.Seek(it.key)
		if it.reverse {
			if k == nil {
				k, v = it.cur.Last()
			} else {
				k, v = it.cur.Prev()
			}
		} else if k != nil && bytesEqual(k, it.key) {
			k, v = it.cur.Next()
		}
	}
	if k == nil || !hasPrefix(k, it.prefix) {
		it.key, it.value = nil, nil
		return false
	}
	it.key, it.value = append([]byte(nil), k...), v
	return true
}

func (it *recordIterator) Key() []byte   { return it.key }
func (it *recordIterator) Value() []byte { return it.value }
