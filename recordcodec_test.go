package docdb

import (
	"bytes"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestRecordValueRoundTrip(t *testing.T) {
	doc := docFromD(t, bson.D{{Key: "_id", Value: int32(1)}, {Key: "x", Value: "y"}})
	rows := indexRows{{Field: "x", KeyRaw: []byte{1, 2, 3}}}
	idxRaw := encodeIndexRows(nil, rows)

	rv := recordValue{Flags: flagHasExpiry, ModCount: 7, ExpireAt: 123456789, Data: doc, Index: idxRaw}
	encoded := rv.encode(nil)

	var got recordValue
	if err := got.decode(encoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Flags != rv.Flags || got.ModCount != rv.ModCount || got.ExpireAt != rv.ExpireAt {
		t.Errorf("decoded header = %+v, wanted %+v", got, rv)
	}
	if !bytes.Equal(got.Data, rv.Data) {
		t.Errorf("decoded Data = %x, wanted %x", got.Data, rv.Data)
	}
	if !bytes.Equal(got.Index, rv.Index) {
		t.Errorf("decoded Index = %x, wanted %x", got.Index, rv.Index)
	}
}

func TestRecordValueNoExpiry(t *testing.T) {
	rv := recordValue{ModCount: 1, Data: []byte("doc"), Index: []byte{}}
	encoded := rv.encode(nil)
	var got recordValue
	if err := got.decode(encoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ExpireAt != 0 {
		t.Errorf("ExpireAt = %d, wanted 0 when flagHasExpiry unset", got.ExpireAt)
	}
}

func TestValidateDocumentRejectsGarbage(t *testing.T) {
	if err := validateDocument(bson.Raw{0x01, 0x02}); err == nil {
		t.Errorf("validateDocument accepted malformed bytes")
	}
	doc := docFromD(t, bson.D{{Key: "a", Value: int32(1)}})
	if err := validateDocument(doc); err != nil {
		t.Errorf("validateDocument rejected a well-formed document: %v", err)
	}
}

func TestDocumentID(t *testing.T) {
	doc := docFromD(t, bson.D{{Key: "_id", Value: int32(9)}})
	id, ok := documentID(doc, "_id")
	if !ok {
		t.Fatalf("documentID: not found")
	}
	n, _ := id.Int32OK()
	if n != 9 {
		t.Errorf("documentID = %d, wanted 9", n)
	}
	if _, ok := documentID(doc, "missing"); ok {
		t.Errorf("documentID(missing) unexpectedly found")
	}
}

func TestWithID(t *testing.T) {
	id := bson.RawValue{Type: bson.TypeInt32, Value: int32Bytes(42)}
	out := withID(bson.D{{Key: "a", Value: int32(1)}}, "_id", id)
	if out[0].Key != "_id" {
		t.Fatalf("withID did not place _id first: %v", out)
	}
	// Replacing an existing _id must not duplicate the field.
	out2 := withID(bson.D{{Key: "_id", Value: int32(1)}, {Key: "a", Value: int32(2)}}, "_id", id)
	count := 0
	for _, e := range out2 {
		if e.Key == "_id" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("withID produced %d _id fields, wanted 1", count)
	}
}

func TestTTLExpiry(t *testing.T) {
	dt := bson.RawValue{Type: bson.TypeDateTime, Value: int64Bytes(1700000000000)}
	doc := docFromD(t, bson.D{{Key: "expiresAt", Value: dt}})
	millis, ok := ttlExpiry(doc, "expiresAt")
	if !ok || millis != 1700000000000 {
		t.Errorf("ttlExpiry = (%d, %v), wanted (1700000000000, true)", millis, ok)
	}
	if _, ok := ttlExpiry(doc, "missing"); ok {
		t.Errorf("ttlExpiry(missing field) unexpectedly ok")
	}
	wrongType := docFromD(t, bson.D{{Key: "expiresAt", Value: "not-a-date"}})
	if _, ok := ttlExpiry(wrongType, "expiresAt"); ok {
		t.Errorf("ttlExpiry(non-datetime field) unexpectedly ok")
	}
}

func TestSynthesizeIDIsObjectID(t *testing.T) {
	id := synthesizeID()
	if id.Type != bson.TypeObjectID {
		t.Errorf("synthesizeID type = %v, wanted ObjectID", id.Type)
	}
	id2 := synthesizeID()
	if bytes.Equal(id.Value, id2.Value) {
		t.Errorf("two calls to synthesizeID produced the same id")
	}
}
