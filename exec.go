package docdb

import (
	"bytes"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// row is what flows through the executor's pull pipeline (spec.md §4.6):
// an id-only row (from an index stream, before KeyLookup) or a full
// (id, document) row. Doc is nil for id-only rows. Array is set only by
// Distinct's single pseudo-row output (spec.md §4.5's Limit special case),
// carrying the deduplicated leaf values as a BSON array instead of a
// document.
type row struct {
	ID    bson.RawValue
	Doc   bson.Raw
	Array bson.A
}

// rowIter is the pull-iterator contract every operator implements. Next
// returns ok=false, nil error at end of stream; an error aborts the whole
// pipeline (spec.md §7's propagation rule).
type rowIter interface {
	Next() (row, bool, error)
}

type rowIterFunc func() (row, bool, error)

func (f rowIterFunc) Next() (row, bool, error) { return f() }

// --- Scan ---------------------------------------------------------------

func (p *planScan) open(tx *Tx) (rowIter, error) {
	prefix := recordPrefix(nil, p.Collection)
	it, err := tx.ScanPrefix(prefix, false)
	if err != nil {
		return nil, err
	}
	n := 0
	return rowIterFunc(func() (row, bool, error) {
		if p.HasLimit && n >= p.Limit {
			return row{}, false, nil
		}
		if !it.Next() {
			return row{}, false, nil
		}
		var rv recordValue
		if err := rv.decode(it.Value()); err != nil {
			return row{}, false, err
		}
		id, ok := lookupPath(bson.Raw(rv.Data), "_id")
		if !ok {
			return row{}, false, engineErrf(EngineInvalidDocument, p.Collection, it.Key(), nil, "record missing primary key field")
		}
		n++
		return row{ID: id, Doc: bson.Raw(rv.Data)}, true, nil
	}), nil
}

// --- IndexScan ------------------------------------------------------------

func (p *planIndexScan) open(tx *Tx) (rowIter, error) {
	var lower, upper []byte
	var lowerInc, upperInc bool
	fieldPrefix := indexFieldPrefix(nil, p.Collection, p.Field)

	switch p.Range.Kind {
	case rangeFull:
		lower, lowerInc = fieldPrefix, true
	case rangeEq:
		sc, ok := scalarFromRawValue(p.Range.Eq)
		if !ok {
			return emptyIter{}, nil
		}
		enc := encodeScalar(nil, sc)
		lower = indexValuePrefix(nil, p.Collection, p.Field, enc)
		upper = lower
		lowerInc, upperInc = true, true
	case rangeBounded:
		if p.Range.HasLower {
			sc, ok := scalarFromRawValue(p.Range.Lower)
			if !ok {
				return emptyIter{}, nil
			}
			lower = indexValuePrefix(nil, p.Collection, p.Field, encodeScalar(nil, sc))
			lowerInc = p.Range.LowerInc
		} else {
			lower, lowerInc = fieldPrefix, true
		}
		if p.Range.HasUpper {
			sc, ok := scalarFromRawValue(p.Range.Upper)
			if !ok {
				return emptyIter{}, nil
			}
			upper = indexValuePrefix(nil, p.Collection, p.Field, encodeScalar(nil, sc))
			upperInc = p.Range.UpperInc
		}
	}

	it, err := tx.ScanPrefix(fieldPrefix, p.Reverse)
	if err != nil {
		return nil, err
	}

	n := 0
	var lastValueBytes []byte
	return rowIterFunc(func() (row, bool, error) {
		for {
			if p.HasLimit && !p.CompleteGroups && n >= p.Limit {
				return row{}, false, nil
			}
			if !it.Next() {
				return row{}, false, nil
			}
			key := it.Key()
			valueBytes, idBytes, err := parseIndexKey(key, len(fieldPrefix))
			if err != nil {
				return row{}, false, err
			}
			if lower != nil {
				c := bytes.Compare(valueBytes, lower[len(fieldPrefix):])
				if c < 0 || (c == 0 && !lowerInc && p.Range.Kind != rangeFull) {
					if p.Reverse {
						return row{}, false, nil
					}
					continue
				}
			}
			if upper != nil {
				c := bytes.Compare(valueBytes, upper[len(fieldPrefix):])
				if c > 0 || (c == 0 && !upperInc) {
					if !p.Reverse {
						return row{}, false, nil
					}
					continue
				}
			}
			if p.HasLimit && p.CompleteGroups && n >= p.Limit && !bytes.Equal(valueBytes, lastValueBytes) {
				return row{}, false, nil
			}
			lastValueBytes = append(lastValueBytes[:0], valueBytes...)
			n++
			id, err := decodeIDBytes(idBytes)
			if err != nil {
				return row{}, false, err
			}
			return row{ID: id}, true, nil
		}
	}), nil
}

// decodeIDBytes turns an index key's trailing encoded-id segment back into
// a bson.RawValue usable as a record lookup key. Since keycodec.go's
// encoding is self-delimiting by rank, this mirrors scalarEncodedLen's
// switch to know how to reconstruct the original BSON type.
func decodeIDBytes(b []byte) (bson.RawValue, error) {
	if len(b) == 0 {
		return bson.RawValue{}, engineErrf(EngineInvalidKey, "", b, nil, "empty id encoding")
	}
	switch typeRank(b[0]) {
	case rankString:
		s := decodeEscapedString(b[1:])
		return bson.RawValue{Type: bson.TypeString, Value: bsonStringBytes(s)}, nil
	case rankInt64:
		v := int64(decodeFixedUint64(b[1:]) ^ 0x8000000000000000)
		buf := make([]byte, 8)
		putLE64(buf, uint64(v))
		return bson.RawValue{Type: bson.TypeInt64, Value: buf}, nil
	case rankInt32:
		v := int32(decodeFixedUint32(b[1:]) ^ 0x80000000)
		buf := make([]byte, 4)
		putLE32(buf, uint32(v))
		return bson.RawValue{Type: bson.TypeInt32, Value: buf}, nil
	case rankObjectID:
		var oid [12]byte
		copy(oid[:], b[1:13])
		return bson.RawValue{Type: bson.TypeObjectID, Value: append([]byte(nil), oid[:]...)}, nil
	default:
		return bson.RawValue{}, engineErrf(EngineInvalidKey, "", b, nil, "unsupported id type rank %#x", b[0])
	}
}

func decodeEscapedString(b []byte) string {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == 0x00 {
			if i+1 < len(b) && b[i+1] == 0xFF {
				out = append(out, 0x00)
				i++
				continue
			}
			break // terminator
		}
		out = append(out, b[i])
	}
	return string(out)
}

func bsonStringBytes(s string) []byte {
	buf := make([]byte, 4+len(s)+1)
	putLE32(buf, uint32(len(s)+1))
	copy(buf[4:], s)
	return buf
}

func decodeFixedUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
func decodeFixedUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v = v<<8 | uint32(b[i])
	}
	return v
}
func putLE64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
func putLE32(buf []byte, v uint32) {
	for i := 0; i < 4; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

// --- IndexMerge -----------------------------------------------------------

func (p *planIndexMerge) open(tx *Tx) (rowIter, error) {
	lhs, err := p.LHS.open(tx)
	if err != nil {
		return nil, err
	}
	rhs, err := p.RHS.open(tx)
	if err != nil {
		return nil, err
	}
	if p.Logical == logicalAnd {
		return openIntersect(lhs, rhs)
	}
	return openUnion(lhs, rhs)
}

// openIntersect hashes the smaller side into a set, then streams the other
// side filtering by membership (spec.md §4.5's IndexMerge contract).
func openIntersect(lhs, rhs rowIter) (rowIter, error) {
	lhsIDs, err := collectIDs(lhs)
	if err != nil {
		return nil, err
	}
	rhsIDs, err := collectIDs(rhs)
	if err != nil {
		return nil, err
	}
	small, big := lhsIDs, rhsIDs
	if len(rhsIDs) < len(lhsIDs) {
		small, big = rhsIDs, lhsIDs
	}
	set := make(map[string]bson.RawValue, len(small))
	for _, id := range small {
		set[idSetKey(id)] = id
	}
	i := 0
	return rowIterFunc(func() (row, bool, error) {
		for i < len(big) {
			id := big[i]
			i++
			if v, ok := set[idSetKey(id)]; ok {
				return row{ID: v}, true, nil
			}
		}
		return row{}, false, nil
	}), nil
}

func openUnion(lhs, rhs rowIter) (rowIter, error) {
	lhsIDs, err := collectIDs(lhs)
	if err != nil {
		return nil, err
	}
	rhsIDs, err := collectIDs(rhs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(lhsIDs)+len(rhsIDs))
	all := append(lhsIDs, rhsIDs...)
	i := 0
	return rowIterFunc(func() (row, bool, error) {
		for i < len(all) {
			id := all[i]
			i++
			key := idSetKey(id)
			if seen[key] {
				continue
			}
			seen[key] = true
			return row{ID: id}, true, nil
		}
		return row{}, false, nil
	}), nil
}

func collectIDs(it rowIter) ([]bson.RawValue, error) {
	var ids []bson.RawValue
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

func idSetKey(id bson.RawValue) string {
	enc, err := idEncoding(id)
	if err != nil {
		return string(id.Value)
	}
	return string(enc)
}

// --- KeyLookup --------------------------------------------------------------

func (p *planKeyLookup) open(tx *Tx) (rowIter, error) {
	src, err := p.Source.open(tx)
	if err != nil {
		return nil, err
	}
	coll := p.Collection
	return rowIterFunc(func() (row, bool, error) {
		for {
			r, ok, err := src.Next()
			if err != nil || !ok {
				return row{}, ok, err
			}
			doc, found, err := tx.Get(coll, r.ID)
			if err != nil {
				return row{}, false, err
			}
			if !found {
				continue // tombstone: id existed in index, record since deleted
			}
			return row{ID: r.ID, Doc: doc}, true, nil
		}
	}), nil
}

// --- Values -----------------------------------------------------------------

func (p *planValues) open(tx *Tx) (rowIter, error) {
	docs := p.Docs
	i := 0
	return rowIterFunc(func() (row, bool, error) {
		if i >= len(docs) {
			return row{}, false, nil
		}
		raw, err := bson.Marshal(docs[i])
		i++
		if err != nil {
			return row{}, false, engineErrf(EngineInvalidDocument, "", nil, err, "failed to marshal value document")
		}
		return row{Doc: bson.Raw(raw)}, true, nil
	}), nil
}

type emptyIter struct{}

func (emptyIter) Next() (row, bool, error) { return row{}, false, nil }
