package docdb

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// recordValue is the on-disk representation of a document record: a small
// varint header (flags, an optional TTL-derived expiry in epoch
// milliseconds, a modification counter) followed by the document's raw
// BSON wire bytes, followed by the set of index-key rows the record
// currently contributes (see index.go). Storing the old index rows
// alongside the document lets an update's diff find exactly the entries to
// remove without a second read — adapted from the teacher's encvalue.go.
type recordValue struct {
	Flags    recordFlags
	ModCount uint64
	ExpireAt int64 // epoch millis; 0 if no TTL configured/present
	Data     []byte
	Index    []byte
}

type recordFlags uint64

const (
	flagHasExpiry recordFlags = 1 << iota
)

func (v *recordValue) decode(raw []byte) error {
	d := makeByteDecoder(raw)
	flags, err := d.Uvarint()
	if err != nil {
		return err
	}
	v.Flags = recordFlags(flags)
	modCount, err := d.Uvarint()
	if err != nil {
		return err
	}
	v.ModCount = modCount
	if v.Flags&flagHasExpiry != 0 {
		expire, err := d.Uvarint()
		if err != nil {
			return err
		}
		v.ExpireAt = int64(expire)
	}
	dataLen, err := d.Uvarinti()
	if err != nil {
		return err
	}
	v.Data, err = d.Raw(dataLen)
	if err != nil {
		return err
	}
	indexLen, err := d.Uvarinti()
	if err != nil {
		return err
	}
	v.Index, err = d.Raw(indexLen)
	if err != nil {
		return err
	}
	return nil
}

func (v *recordValue) encode(buf []byte) []byte {
	buf = appendUvarint(buf, uint64(v.Flags))
	buf = appendUvarint(buf, v.ModCount)
	if v.Flags&flagHasExpiry != 0 {
		buf = appendUvarint(buf, uint64(v.ExpireAt))
	}
	buf = appendUvarint(buf, uint64(len(v.Data)))
	buf = appendRaw(buf, v.Data)
	buf = appendUvarint(buf, uint64(len(v.Index)))
	buf = appendRaw(buf, v.Index)
	return buf
}

// validateDocument runs the mongo-driver's structural BSON validator (outer
// length, element framing, recursive documents/arrays, UTF-8) and maps any
// failure to InvalidDocument. spec.md §4.2 asks for a hand-rolled recursive
// walk; go.mongodb.org/mongo-driver/v2/bson's Raw.Validate already performs
// exactly this walk, so it is used directly rather than reimplemented (see
// DESIGN.md).
func validateDocument(doc bson.Raw) error {
	if err := doc.Validate(); err != nil {
		return engineErrf(EngineInvalidDocument, "", nil, err, "structural BSON validation failed")
	}
	return nil
}

// documentID extracts the primary-key field's raw value from doc, or
// reports ok=false if the path is missing.
func documentID(doc bson.Raw, pkPath string) (bson.RawValue, bool) {
	return lookupPath(doc, pkPath)
}

// synthesizeID returns a freshly generated 12-byte ObjectID, encoded as a
// BSON value, for documents that omit their primary key at insert time
// (spec.md §3).
func synthesizeID() bson.RawValue {
	oid := bson.NewObjectID()
	var buf []byte
	buf = append(buf, oid[:]...)
	return bson.RawValue{Type: bson.TypeObjectID, Value: buf}
}

// withID returns a copy of doc with field pkPath set to id, inserting it as
// the first field if absent. Used by insert (to stamp a synthesized id) and
// by replace (spec.md §8 scenario 5: the new stored document is the
// existing _id plus every field of the replacement body).
func withID(doc bson.D, pkPath string, id bson.RawValue) bson.D {
	out := make(bson.D, 0, len(doc)+1)
	out = append(out, bson.E{Key: pkPath, Value: id})
	for _, e := range doc {
		if e.Key == pkPath {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ttlExpiry extracts an epoch-millis expiry from doc at ttlPath, if present
// and of BSON datetime type, for the recordValue header.
func ttlExpiry(doc bson.Raw, ttlPath string) (millis int64, ok bool) {
	rv, found := lookupPath(doc, ttlPath)
	if !found || rv.Type != bson.TypeDateTime {
		return 0, false
	}
	dt, ok := rv.DateTimeOK()
	if !ok {
		return 0, false
	}
	return dt, true
}

func nowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
