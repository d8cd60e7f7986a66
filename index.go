package docdb

import (
	"bytes"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// indexRow is one index-key entry a document contributes: the full encoded
// index key (spec.md §3's "i · coll · field · value · id" layout). Unlike
// the teacher's schema-typed Index (one Go field, one bucket, one ordinal),
// a collection's indexed fields are plain dotted-path strings declared in
// the catalog (catalog.go); there is no per-index bucket to assign an
// ordinal to, since record and index keys share one column family
// interleaved by key prefix (see keycodec.go) — a deliberate simplification
// of the teacher's bucket-per-index model (see DESIGN.md).
type indexRow struct {
	Field  string
	KeyRaw []byte
}

type indexRows []indexRow

func (a indexRows) Len() int      { return len(a) }
func (a indexRows) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a indexRows) Less(i, j int) bool {
	return bytes.Compare(a[i].KeyRaw, a[j].KeyRaw) < 0
}

// buildIndexRows computes every index-key entry doc contributes, across
// every indexed field path in meta (plus the implicit TTL-path index, if
// configured and the TTL value is present and a BSON datetime — spec.md
// §3). Arrays fan out to one entry per element; nested documents traverse
// dotted components (path.go's walkPath); null and missing leaves
// contribute nothing (spec.md §3's indexing invariant).
func buildIndexRows(buf []byte, coll string, meta *CollectionMeta, doc bson.Raw, idEnc []byte) (indexRows, []byte) {
	rowsBuf := indexRowsPool.Get().(indexRows)
	rows := rowsBuf[:0]

	fields := meta.Indexes
	if meta.TTLPath != "" && !containsString(fields, meta.TTLPath) {
		fields = append(append([]string(nil), fields...), meta.TTLPath)
	}

	for _, field := range fields {
		ttlOnly := field == meta.TTLPath && !containsString(meta.Indexes, field)
		for _, rv := range walkPath(doc, field) {
			if ttlOnly && rv.Type != bson.TypeDateTime {
				continue // the implicit TTL index holds datetime values only
			}
			sc, ok := scalarFromRawValue(rv)
			if !ok {
				continue // null, missing, or a non-indexable compound type
			}
			off := len(buf)
			buf = indexKey(buf, coll, field, encodeScalar(nil, sc), idEnc)
			rows = append(rows, indexRow{Field: field, KeyRaw: buf[off:]})
		}
	}
	sort.Sort(rows)
	return rows, buf
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// scalarFromRawValue converts a bson.RawValue leaf into the key codec's
// scalar type, reporting ok=false for Null, missing (handled by the
// caller never invoking this for absent paths), and compound types that
// cannot be indexed as a leaf (nested documents/arrays are walked further
// by walkPath, never reach here as themselves).
func scalarFromRawValue(rv bson.RawValue) (scalar, bool) {
	switch rv.Type {
	case bson.TypeNull:
		return scalar{}, false
	case bson.TypeBoolean:
		v, ok := rv.BooleanOK()
		return scalar{rank: rankBool, b: v}, ok
	case bson.TypeInt32:
		v, ok := rv.Int32OK()
		return scalar{rank: rankInt32, i32: v}, ok
	case bson.TypeInt64:
		v, ok := rv.Int64OK()
		return scalar{rank: rankInt64, i64: v}, ok
	case bson.TypeDouble:
		v, ok := rv.DoubleOK()
		return scalar{rank: rankDouble, f64: v}, ok
	case bson.TypeDateTime:
		v, ok := rv.DateTimeOK()
		return scalar{rank: rankDateTime, i64: v}, ok
	case bson.TypeString:
		v, ok := rv.StringValueOK()
		return scalar{rank: rankString, s: v}, ok
	case bson.TypeBinary:
		_, data, ok := rv.BinaryOK()
		return scalar{rank: rankBinary, bin: data}, ok
	case bson.TypeObjectID:
		v, ok := rv.ObjectIDOK()
		var s scalar
		s.rank = rankObjectID
		s.oid = v
		return s, ok
	default:
		return scalar{}, false
	}
}

// diffRemovedIndexRows returns the KeyRaw entries present in old but absent
// from cur, via an ordered merge (both are sorted by KeyRaw) — the teacher's
// encindexkeys.go indexDiffer algorithm, adapted to the flat (field,key)
// row shape above.
func diffRemovedIndexRows(old, cur indexRows) indexRows {
	var removed indexRows
	i, j := 0, 0
	for i < len(old) {
		if j >= len(cur) {
			removed = append(removed, old[i])
			i++
			continue
		}
		c := bytes.Compare(old[i].KeyRaw, cur[j].KeyRaw)
		switch {
		case c < 0:
			removed = append(removed, old[i])
			i++
		case c > 0:
			j++
		default:
			i++
			j++
		}
	}
	return removed
}

// encodeIndexRows serializes rows into the record value's index-key-record
// suffix: a uvarint count, then for each row a uvarint field-name length +
// field bytes + uvarint key length + key bytes (adapted from the teacher's
// encindexkeys.go; field name replaces index ordinal since there is no
// per-index bucket to resolve by ordinal here).
func encodeIndexRows(buf []byte, rows indexRows) []byte {
	buf = appendUvarint(buf, uint64(len(rows)))
	for _, r := range rows {
		buf = appendVarbytes(buf, []byte(r.Field))
		buf = appendVarbytes(buf, r.KeyRaw)
	}
	return buf
}

func decodeIndexRows(raw []byte) (indexRows, error) {
	d := makeByteDecoder(raw)
	n, err := d.Uvarinti()
	if err != nil {
		return nil, err
	}
	rows := make(indexRows, 0, n)
	for i := 0; i < n; i++ {
		field, err := d.VarBytes()
		if err != nil {
			return nil, err
		}
		key, err := d.VarBytes()
		if err != nil {
			return nil, err
		}
		rows = append(rows, indexRow{Field: string(field), KeyRaw: key})
	}
	return rows, nil
}
