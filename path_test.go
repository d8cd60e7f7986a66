package docdb

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestWalkPathScalar(t *testing.T) {
	doc := docFromD(t, bson.D{{Key: "name", Value: "alice"}, {Key: "age", Value: int32(30)}})
	vs := walkPath(doc, "name")
	if len(vs) != 1 {
		t.Fatalf("walkPath(name) = %d values, wanted 1", len(vs))
	}
	s, ok := vs[0].StringValueOK()
	if !ok || s != "alice" {
		t.Errorf("walkPath(name) = %v, wanted \"alice\"", vs[0])
	}
}

func TestWalkPathNested(t *testing.T) {
	doc := docFromD(t, bson.D{
		{Key: "address", Value: bson.D{{Key: "city", Value: "nyc"}}},
	})
	vs := walkPath(doc, "address.city")
	if len(vs) != 1 {
		t.Fatalf("walkPath(address.city) = %d values, wanted 1", len(vs))
	}
	s, _ := vs[0].StringValueOK()
	if s != "nyc" {
		t.Errorf("walkPath(address.city) = %q, wanted \"nyc\"", s)
	}
}

func TestWalkPathMissing(t *testing.T) {
	doc := docFromD(t, bson.D{{Key: "a", Value: int32(1)}})
	if vs := walkPath(doc, "b"); len(vs) != 0 {
		t.Errorf("walkPath(missing) = %v, wanted no values", vs)
	}
	if vs := walkPath(doc, "a.b"); len(vs) != 0 {
		t.Errorf("walkPath(scalar.b) = %v, wanted no values (can't descend into a scalar)", vs)
	}
}

// TestWalkPathArrayFanOut covers spec.md §3/§4.4's existential-quantifier
// semantics: an array encountered mid-path fans out to every element.
func TestWalkPathArrayFanOut(t *testing.T) {
	doc := docFromD(t, bson.D{
		{Key: "tags", Value: bson.A{
			bson.D{{Key: "name", Value: "red"}},
			bson.D{{Key: "name", Value: "blue"}},
		}},
	})
	vs := walkPath(doc, "tags.name")
	if len(vs) != 2 {
		t.Fatalf("walkPath(tags.name) = %d values, wanted 2", len(vs))
	}
	got := map[string]bool{}
	for _, v := range vs {
		s, _ := v.StringValueOK()
		got[s] = true
	}
	if !got["red"] || !got["blue"] {
		t.Errorf("walkPath(tags.name) = %v, wanted {red, blue}", got)
	}
}

func TestLookupPath(t *testing.T) {
	doc := docFromD(t, bson.D{{Key: "_id", Value: int32(5)}})
	rv, ok := lookupPath(doc, "_id")
	if !ok {
		t.Fatalf("lookupPath(_id) not found")
	}
	n, _ := rv.Int32OK()
	if n != 5 {
		t.Errorf("lookupPath(_id) = %d, wanted 5", n)
	}
	if _, ok := lookupPath(doc, "missing"); ok {
		t.Errorf("lookupPath(missing) found a value")
	}
}
