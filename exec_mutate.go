package docdb

import (
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// This file implements the mutation-leaf plan operators of spec.md §4.5:
// Insert, Update, Replace, Delete, Upsert{Replace,Merge}, FlushExpired. Each
// is a side-effecting sink that reads from a source pipeline (where one
// exists) and writes through the engine-transaction primitives of
// record.go. Index maintenance rides along inside writeRecord/DeleteCascade
// rather than through separate DeleteIndex/InsertIndex plan nodes (see
// DESIGN.md for why the three-stage pipeline of spec.md §4.5 rule 6 is
// folded into one diff-on-write step).

// --- Insert -----------------------------------------------------------------

func (p *planInsert) open(tx *Tx) (rowIter, error) {
	now := tx.db.now()
	i := 0
	return rowIterFunc(func() (row, bool, error) {
		if i >= len(p.Docs) {
			return row{}, false, nil
		}
		doc := p.Docs[i]
		i++
		id, stored, err := tx.PutNX(p.Collection, doc, now)
		if err != nil {
			return row{}, false, err
		}
		raw, err := bson.Marshal(stored)
		if err != nil {
			return row{}, false, engineErrf(EngineInvalidDocument, p.Collection, nil, err, "failed to marshal inserted document")
		}
		return row{ID: id, Doc: bson.Raw(raw)}, true, nil
	}), nil
}

// --- Update -----------------------------------------------------------------

func (p *planUpdate) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	now := tx.db.now()
	coll := p.Collection
	mut := p.Mutation
	return rowIterFunc(func() (row, bool, error) {
		r, ok, err := src.Next()
		if err != nil || !ok {
			return row{}, ok, err
		}
		updated, err := applyMutation(r.Doc, mut)
		if err != nil {
			return row{}, false, err
		}
		raw, err := bson.Marshal(updated)
		if err != nil {
			return row{}, false, engineErrf(EngineInvalidDocument, coll, nil, err, "failed to marshal updated document")
		}
		if err := tx.Put(coll, r.ID, bson.Raw(raw), now); err != nil {
			return row{}, false, err
		}
		return row{ID: r.ID, Doc: bson.Raw(raw)}, true, nil
	}), nil
}

// --- Replace ------------------------------------------------------------

func (p *planReplace) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	now := tx.db.now()
	coll := p.Collection
	meta, err := tx.collection(coll)
	if err != nil {
		return nil, err
	}
	replacement := p.Replacement
	return rowIterFunc(func() (row, bool, error) {
		r, ok, err := src.Next()
		if err != nil || !ok {
			return row{}, ok, err
		}
		// spec.md §8 scenario 5: the stored document becomes the existing
		// _id plus every field of the replacement body, discarding the
		// rest of the old document.
		doc := withID(replacement, meta.PKPath, r.ID)
		raw, err := bson.Marshal(doc)
		if err != nil {
			return row{}, false, engineErrf(EngineInvalidDocument, coll, nil, err, "failed to marshal replacement document")
		}
		if err := validateDocument(bson.Raw(raw)); err != nil {
			return row{}, false, err
		}
		if err := tx.Put(coll, r.ID, bson.Raw(raw), now); err != nil {
			return row{}, false, err
		}
		return row{ID: r.ID, Doc: bson.Raw(raw)}, true, nil
	}), nil
}

// --- Delete -------------------------------------------------------------

func (p *planDelete) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	coll := p.Collection
	return rowIterFunc(func() (row, bool, error) {
		r, ok, err := src.Next()
		if err != nil || !ok {
			return row{}, ok, err
		}
		if _, err := tx.DeleteCascade(coll, r.ID); err != nil {
			return row{}, false, err
		}
		return row{ID: r.ID, Doc: r.Doc}, true, nil
	}), nil
}

// --- UpsertReplace / UpsertMerge -----------------------------------------

// findOneByFilter does a full collection scan matching Filter, returning the
// first hit. UpsertReplace/UpsertMerge are expected to be used with a
// filter the caller already knows identifies at most one document (spec.md
// doesn't specify an index-backed path for upserts), so a straightforward
// scan is the correct, if unoptimized, implementation.
func findOneByFilter(tx *Tx, coll string, filter Expr) (bson.RawValue, bson.Raw, bool, error) {
	prefix := recordPrefix(nil, coll)
	it, err := tx.ScanPrefix(prefix, false)
	if err != nil {
		return bson.RawValue{}, nil, false, err
	}
	for it.Next() {
		var rv recordValue
		if err := rv.decode(it.Value()); err != nil {
			return bson.RawValue{}, nil, false, err
		}
		doc := bson.Raw(rv.Data)
		if filter == nil || filter.match(doc) {
			id, ok := lookupPath(doc, "_id")
			if !ok {
				return bson.RawValue{}, nil, false, engineErrf(EngineInvalidDocument, coll, it.Key(), nil, "record missing primary key field")
			}
			return id, doc, true, nil
		}
	}
	return bson.RawValue{}, nil, false, nil
}

func (p *planUpsertReplace) open(tx *Tx) (rowIter, error) {
	now := tx.db.now()
	coll := p.Collection
	meta, err := tx.collection(coll)
	if err != nil {
		return nil, err
	}
	id, _, found, err := findOneByFilter(tx, coll, p.Filter)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if found {
		doc := withID(p.Replacement, meta.PKPath, id)
		raw, err = bson.Marshal(doc)
		if err != nil {
			return nil, engineErrf(EngineInvalidDocument, coll, nil, err, "failed to marshal replacement document")
		}
		if err := tx.Put(coll, id, bson.Raw(raw), now); err != nil {
			return nil, err
		}
	} else {
		newID, stored, err := tx.PutNX(coll, p.Replacement, now)
		if err != nil {
			return nil, err
		}
		id = newID
		raw, err = bson.Marshal(stored)
		if err != nil {
			return nil, engineErrf(EngineInvalidDocument, coll, nil, err, "failed to marshal inserted document")
		}
	}
	emitted := false
	return rowIterFunc(func() (row, bool, error) {
		if emitted {
			return row{}, false, nil
		}
		emitted = true
		return row{ID: id, Doc: bson.Raw(raw)}, true, nil
	}), nil
}

func (p *planUpsertMerge) open(tx *Tx) (rowIter, error) {
	now := tx.db.now()
	coll := p.Collection
	id, existing, found, err := findOneByFilter(tx, coll, p.Filter)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if found {
		merged := mergeDocuments(existing, p.Merge)
		raw, err = bson.Marshal(merged)
		if err != nil {
			return nil, engineErrf(EngineInvalidDocument, coll, nil, err, "failed to marshal merged document")
		}
		if err := tx.Put(coll, id, bson.Raw(raw), now); err != nil {
			return nil, err
		}
	} else {
		newID, stored, err := tx.PutNX(coll, p.Merge, now)
		if err != nil {
			return nil, err
		}
		id = newID
		raw, err = bson.Marshal(stored)
		if err != nil {
			return nil, engineErrf(EngineInvalidDocument, coll, nil, err, "failed to marshal inserted document")
		}
	}
	emitted := false
	return rowIterFunc(func() (row, bool, error) {
		if emitted {
			return row{}, false, nil
		}
		emitted = true
		return row{ID: id, Doc: bson.Raw(raw)}, true, nil
	}), nil
}

// --- FlushExpired ---------------------------------------------------------

// FlushExpired is the open-question resolution of spec.md §9: it sweeps the
// TTL index from -inf up to NowMillis inside the transaction it is opened
// in (it does not begin a transaction of its own), deleting each matching
// record and its indexes, bounded by BatchLimit.
func (p *planFlushExpired) open(tx *Tx) (rowIter, error) {
	meta, err := tx.collection(p.Collection)
	if err != nil {
		return nil, err
	}
	if meta.TTLPath == "" {
		return emptyIter{}, nil
	}
	scan := &planIndexScan{
		Collection: p.Collection,
		Field:      meta.TTLPath,
		Range: indexRange{
			Kind:     rangeBounded,
			HasUpper: true,
			Upper:    newDateTimeRawValue(p.NowMillis),
			UpperInc: true,
		},
	}
	it, err := scan.open(tx)
	if err != nil {
		return nil, err
	}
	coll := p.Collection
	limit := p.BatchLimit
	n := 0
	return rowIterFunc(func() (row, bool, error) {
		if limit > 0 && n >= limit {
			return row{}, false, nil
		}
		r, ok, err := it.Next()
		if err != nil || !ok {
			return row{}, ok, err
		}
		n++
		existed, err := tx.DeleteCascade(coll, r.ID)
		if err != nil {
			return row{}, false, err
		}
		if !existed {
			return row{ID: r.ID}, true, nil
		}
		return row{ID: r.ID}, true, nil
	}), nil
}

func newDateTimeRawValue(millis int64) bson.RawValue {
	buf := make([]byte, 8)
	putLE64(buf, uint64(millis))
	return bson.RawValue{Type: bson.TypeDateTime, Value: buf}
}

// --- Mutation application --------------------------------------------------

// applyMutation decodes doc and applies every FieldMutation in order,
// returning the updated document as a bson.D ready for re-marshaling.
// Grounded on original_source/slate-query's Mutation/FieldMutation/
// MutationOp shapes (SPEC_FULL.md §12), reimplemented against this
// package's bson.D document model rather than translated line-for-line.
func applyMutation(doc bson.Raw, mut *Mutation) (bson.D, error) {
	var d bson.D
	if err := bson.Unmarshal(doc, &d); err != nil {
		return nil, engineErrf(EngineInvalidDocument, "", nil, err, "failed to decode document for mutation")
	}
	if mut == nil {
		return d, nil
	}
	for _, fm := range mut.Fields {
		var err error
		d, err = applyFieldMutation(d, splitPath(fm.Field), fm)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

func applyFieldMutation(d bson.D, segs []string, fm FieldMutation) (bson.D, error) {
	if len(segs) == 0 {
		return d, nil
	}
	key := segs[0]
	leaf := len(segs) == 1

	idx := -1
	for i, e := range d {
		if e.Key == key {
			idx = i
			break
		}
	}

	if !leaf {
		var nested bson.D
		if idx >= 0 {
			if sub, ok := d[idx].Value.(bson.D); ok {
				nested = sub
			}
		}
		updated, err := applyFieldMutation(nested, segs[1:], fm)
		if err != nil {
			return nil, err
		}
		if idx >= 0 {
			d[idx].Value = updated
		} else {
			d = append(d, bson.E{Key: key, Value: updated})
		}
		return d, nil
	}

	switch fm.Op {
	case MutationSet:
		if idx >= 0 {
			d[idx].Value = fm.Value
		} else {
			d = append(d, bson.E{Key: key, Value: fm.Value})
		}
	case MutationUnset:
		if idx >= 0 {
			d = append(d[:idx], d[idx+1:]...)
		}
	case MutationInc:
		if idx >= 0 {
			d[idx].Value = incValue(rawValueOf(d[idx].Value), fm.Value)
		} else {
			d = append(d, bson.E{Key: key, Value: fm.Value})
		}
	case MutationPush:
		var arr bson.A
		if idx >= 0 {
			if a, ok := d[idx].Value.(bson.A); ok {
				arr = a
			}
		}
		arr = append(arr, fm.Value)
		if idx >= 0 {
			d[idx].Value = arr
		} else {
			d = append(d, bson.E{Key: key, Value: arr})
		}
	case MutationPull:
		if idx >= 0 {
			if a, ok := d[idx].Value.(bson.A); ok {
				out := a[:0]
				for _, elem := range a {
					if !bsonEqualToRawValue(elem, fm.Value) {
						out = append(out, elem)
					}
				}
				d[idx].Value = out
			}
		}
	}
	return d, nil
}

func rawValueOf(v any) bson.RawValue {
	switch t := v.(type) {
	case bson.RawValue:
		return t
	case int32:
		return bson.RawValue{Type: bson.TypeInt32, Value: int32Bytes(t)}
	case int64:
		return bson.RawValue{Type: bson.TypeInt64, Value: int64Bytes(t)}
	case float64:
		buf := make([]byte, 8)
		putLE64(buf, math.Float64bits(t))
		return bson.RawValue{Type: bson.TypeDouble, Value: buf}
	default:
		return bson.RawValue{}
	}
}

func int32Bytes(v int32) []byte {
	buf := make([]byte, 4)
	putLE32(buf, uint32(v))
	return buf
}

func int64Bytes(v int64) []byte {
	buf := make([]byte, 8)
	putLE64(buf, uint64(v))
	return buf
}

// incValue adds delta to cur, promoting to int64 or float64 as BSON numeric
// widening requires; a non-numeric current value is treated as if absent
// (delta becomes the new value).
func incValue(cur, delta bson.RawValue) bson.RawValue {
	curF, curIsNum := numericValue(cur)
	deltaF, deltaIsNum := numericValue(delta)
	if !deltaIsNum {
		return delta
	}
	if !curIsNum {
		return delta
	}
	if cur.Type == bson.TypeDouble || delta.Type == bson.TypeDouble {
		buf := make([]byte, 8)
		putLE64(buf, math.Float64bits(curF+deltaF))
		return bson.RawValue{Type: bson.TypeDouble, Value: buf}
	}
	if cur.Type == bson.TypeInt64 || delta.Type == bson.TypeInt64 {
		ci := int64OrZero(cur)
		di := int64OrZero(delta)
		buf := make([]byte, 8)
		putLE64(buf, uint64(ci+di))
		return bson.RawValue{Type: bson.TypeInt64, Value: buf}
	}
	ci, _ := cur.Int32OK()
	di, _ := delta.Int32OK()
	buf := make([]byte, 4)
	putLE32(buf, uint32(ci+di))
	return bson.RawValue{Type: bson.TypeInt32, Value: buf}
}

func int64OrZero(v bson.RawValue) int64 {
	switch v.Type {
	case bson.TypeInt64:
		n, _ := v.Int64OK()
		return n
	case bson.TypeInt32:
		n, _ := v.Int32OK()
		return int64(n)
	default:
		return 0
	}
}

func bsonEqualToRawValue(v any, target bson.RawValue) bool {
	rv := rawValueOf(v)
	if rv.Type != target.Type {
		return false
	}
	return string(rv.Value) == string(target.Value)
}

// mergeDocuments applies patch's top-level fields onto base (spec.md §9's
// MergeMany semantics: shallow field replacement, not a recursive merge).
func mergeDocuments(base bson.Raw, patch bson.D) bson.D {
	var d bson.D
	_ = bson.Unmarshal(base, &d)
	for _, pe := range patch {
		found := false
		for i, e := range d {
			if e.Key == pe.Key {
				d[i].Value = pe.Value
				found = true
				break
			}
		}
		if !found {
			d = append(d, pe)
		}
	}
	return d
}
