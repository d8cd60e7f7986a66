package docdb

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// TestInsertAndFindByID is spec.md §8's first end-to-end scenario.
func TestInsertAndFindByID(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "widgets", "_id", "")

	var id bson.RawValue
	err := db.Update(func(tx *Tx) error {
		var err error
		id, err = tx.InsertOne("widgets", bson.D{{Key: "name", Value: "gizmo"}})
		return err
	})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		doc, ok, err := tx.FindByID("widgets", id)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("FindByID did not find the inserted document")
		}
		name, _ := lookupPath(doc, "name")
		s, _ := name.StringValueOK()
		if s != "gizmo" {
			t.Errorf("FindByID name = %q, wanted \"gizmo\"", s)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestDuplicateIDAbortsBatch is spec.md §8's duplicate-id-atomicity
// scenario: InsertMany must abort entirely (no partial insert) when a later
// document collides with an existing primary key.
func TestDuplicateIDAbortsBatch(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "widgets", "_id", "")

	err := db.Update(func(tx *Tx) error {
		_, err := tx.InsertOne("widgets", bson.D{{Key: "_id", Value: int32(1)}})
		return err
	})
	if err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	err = db.Update(func(tx *Tx) error {
		_, err := tx.InsertMany("widgets", []bson.D{
			{{Key: "_id", Value: int32(2)}},
			{{Key: "_id", Value: int32(1)}}, // collides
			{{Key: "_id", Value: int32(3)}},
		})
		return err
	})
	if !IsDuplicateKey(err) {
		t.Fatalf("InsertMany error = %v, wanted IsDuplicateKey", err)
	}

	err = db.View(func(tx *Tx) error {
		docs, err := tx.Find("widgets", nil).All()
		if err != nil {
			return err
		}
		if len(docs) != 1 {
			t.Errorf("Find after aborted batch = %d docs, wanted 1 (the rolled-back transaction discards doc 2 too)", len(docs))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestIndexedSortQueryElidesSort checks sort elision: a sort on an indexed
// field with no filter compiles to a directional IndexScan + KeyLookup with
// no Sort node, and still returns correctly ordered results. Sort is elided
// only with no filter or an equality filter on the sort field; a range
// filter on that field keeps the Sort node.
func TestIndexedSortQueryElidesSort(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "events", "_id", "", "seq")

	err := db.Update(func(tx *Tx) error {
		for i := int32(0); i < 10; i++ {
			if _, err := tx.InsertOne("events", bson.D{{Key: "_id", Value: i}, {Key: "seq", Value: i}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		meta, merr := tx.collection("events")
		if merr != nil {
			return merr
		}
		stmt := Statement{Kind: StmtFind, Collection: "events", Sort: []SortKey{{Field: "seq", Desc: true}}}
		p, perr := compilePlan(&stmt, meta)
		if perr != nil {
			return perr
		}
		if _, ok := p.(*planProjection).Source.(*planKeyLookup); !ok {
			t.Errorf("plan = %T, wanted a KeyLookup directly under Projection (no Sort node)", p.(*planProjection).Source)
		}

		cur := tx.Find("events", nil)
		cur.stmt.Sort = []SortKey{{Field: "seq", Desc: true}}
		docs, err := cur.All()
		if err != nil {
			return err
		}
		if len(docs) != 10 {
			t.Fatalf("got %d docs, wanted 10", len(docs))
		}
		prev := int32(1 << 30)
		for _, d := range docs {
			rv, _ := lookupPath(d, "seq")
			n, _ := rv.Int32OK()
			if n > prev {
				t.Fatalf("results not in descending order: %d after %d", n, prev)
			}
			prev = n
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestDeleteCascadesIndexes is spec.md §8's delete-cascades-indexes
// scenario: deleting a document must remove every index entry it
// contributed, leaving no orphaned index keys behind.
func TestDeleteCascadesIndexes(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "widgets", "_id", "", "sku")

	var id bson.RawValue
	err := db.Update(func(tx *Tx) error {
		var err error
		id, err = tx.InsertOne("widgets", bson.D{{Key: "sku", Value: "ABC"}})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = db.Update(func(tx *Tx) error {
		n, err := tx.DeleteMany("widgets", &exprCompare{Field: "_id", Cmp: cmpEq, Value: id})
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("DeleteMany removed %d documents, wanted 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		docs, err := tx.docsBucket()
		if err != nil {
			return err
		}
		prefix := indexFieldPrefix(nil, "widgets", "sku")
		cur := docs.Cursor()
		k, _ := cur.Seek(prefix)
		if k != nil && hasPrefix(k, prefix) {
			t.Errorf("an index entry for sku survived the cascading delete: %x", k)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestReplaceOneDiscardsOldFields is spec.md §8's total-replace scenario:
// the stored document becomes exactly _id plus the replacement body's
// fields, discarding whatever else the old document had.
func TestReplaceOneDiscardsOldFields(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "widgets", "_id", "")

	var id bson.RawValue
	err := db.Update(func(tx *Tx) error {
		var err error
		id, err = tx.InsertOne("widgets", bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(2)}})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = db.Update(func(tx *Tx) error {
		matched, modified, err := tx.ReplaceOne("widgets", &exprCompare{Field: "_id", Cmp: cmpEq, Value: id}, bson.D{{Key: "c", Value: int32(3)}})
		if err != nil {
			return err
		}
		if matched != 1 || modified != 1 {
			t.Errorf("ReplaceOne = (%d, %d), wanted (1, 1)", matched, modified)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		doc, ok, err := tx.FindByID("widgets", id)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("document vanished after replace")
		}
		if _, found := lookupPath(doc, "a"); found {
			t.Errorf("replaced document still has field \"a\"")
		}
		if _, found := lookupPath(doc, "c"); !found {
			t.Errorf("replaced document is missing field \"c\"")
		}
		if _, found := lookupPath(doc, "_id"); !found {
			t.Errorf("replaced document lost its _id")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestDistinctWithTakeReturnsCompleteGroups is spec.md §8's distinct-
// with-limit-and-complete-groups scenario: Take bounds the number of
// distinct values, and the scan stops as soon as Take values have been
// collected, so the third distinct value is never probed.
func TestDistinctWithTakeReturnsCompleteGroups(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "events", "_id", "", "kind")

	err := db.Update(func(tx *Tx) error {
		kinds := []string{"a", "a", "b", "b", "b", "c"}
		for i, k := range kinds {
			if _, err := tx.InsertOne("events", bson.D{{Key: "_id", Value: int32(i)}, {Key: "kind", Value: k}}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		cur := tx.Distinct("events", "kind", nil)
		cur.stmt.Take = 2
		cur.stmt.HasTake = true
		values, err := cur.Values()
		if err != nil {
			return err
		}
		if len(values) != 2 {
			t.Fatalf("Distinct returned %d values, wanted 2", len(values))
		}
		got := make([]string, len(values))
		for i, v := range values {
			rv, ok := v.(bson.RawValue)
			if !ok {
				t.Fatalf("value %d has type %T, wanted bson.RawValue", i, v)
			}
			s, ok := rv.StringValueOK()
			if !ok {
				t.Fatalf("value %d is not a string: %+v", i, rv)
			}
			got[i] = s
		}
		if got[0] != "a" || got[1] != "b" {
			t.Errorf("Distinct(take=2) over [a,a,b,b,b,c] = %v, wanted [a b] (the third distinct value, \"c\", must not be probed)", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestUpsertManyInsertsThenUpdates exercises UpsertMany's match-by-_id
// contract: a document with no existing match inserts, and a subsequent
// call with the same _id replaces it in place.
func TestUpsertManyInsertsThenUpdates(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "widgets", "_id", "")

	err := db.Update(func(tx *Tx) error {
		return tx.UpsertMany("widgets", []bson.D{{{Key: "_id", Value: int32(1)}, {Key: "v", Value: int32(1)}}})
	})
	if err != nil {
		t.Fatalf("UpsertMany(insert): %v", err)
	}
	err = db.Update(func(tx *Tx) error {
		return tx.UpsertMany("widgets", []bson.D{{{Key: "_id", Value: int32(1)}, {Key: "v", Value: int32(2)}}})
	})
	if err != nil {
		t.Fatalf("UpsertMany(replace): %v", err)
	}

	err = db.View(func(tx *Tx) error {
		docs, err := tx.Find("widgets", nil).All()
		if err != nil {
			return err
		}
		if len(docs) != 1 {
			t.Fatalf("Find = %d docs, wanted 1 (second upsert replaced, didn't duplicate)", len(docs))
		}
		rv, _ := lookupPath(docs[0], "v")
		n, _ := rv.Int32OK()
		if n != 2 {
			t.Errorf("v = %d, wanted 2", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestMergeManyShallowMerges checks MergeMany preserves fields the patch
// doesn't mention (unlike ReplaceOne's total-replace semantics).
func TestMergeManyShallowMerges(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "widgets", "_id", "")

	err := db.Update(func(tx *Tx) error {
		return tx.UpsertMany("widgets", []bson.D{{{Key: "_id", Value: int32(1)}, {Key: "a", Value: int32(1)}, {Key: "b", Value: int32(2)}}})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	err = db.Update(func(tx *Tx) error {
		return tx.MergeMany("widgets", []bson.D{{{Key: "_id", Value: int32(1)}, {Key: "b", Value: int32(20)}}})
	})
	if err != nil {
		t.Fatalf("MergeMany: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		id := int32RV(1)
		doc, ok, err := tx.FindByID("widgets", id)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("document missing after merge")
		}
		a, _ := lookupPath(doc, "a")
		an, _ := a.Int32OK()
		if an != 1 {
			t.Errorf("field \"a\" = %d, wanted 1 to survive the merge untouched", an)
		}
		b, _ := lookupPath(doc, "b")
		bn, _ := b.Int32OK()
		if bn != 20 {
			t.Errorf("field \"b\" = %d, wanted 20 after the merge", bn)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestUpdateManyIncrementsField exercises the structured Mutation path
// (MutationInc) end to end through UpdateMany.
func TestUpdateManyIncrementsField(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "counters", "_id", "")

	err := db.Update(func(tx *Tx) error {
		_, err := tx.InsertOne("counters", bson.D{{Key: "_id", Value: int32(1)}, {Key: "count", Value: int32(5)}})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	mut := &Mutation{Fields: []FieldMutation{{Field: "count", Op: MutationInc, Value: int32RV(3)}}}
	err = db.Update(func(tx *Tx) error {
		n, err := tx.UpdateMany("counters", nil, mut)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("UpdateMany modified %d documents, wanted 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		doc, _, err := tx.FindByID("counters", int32RV(1))
		if err != nil {
			return err
		}
		rv, _ := lookupPath(doc, "count")
		n, _ := rv.Int32OK()
		if n != 8 {
			t.Errorf("count = %d, wanted 8", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestFlushExpiredRemovesOnlyDueRecords checks spec.md §9's TTL sweep: only
// records whose TTL path is at or before the cutoff are removed.
func TestFlushExpiredRemovesOnlyDueRecords(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "sessions", "_id", "expiresAt")

	early := bson.RawValue{Type: bson.TypeDateTime, Value: int64Bytes(1000)}
	late := bson.RawValue{Type: bson.TypeDateTime, Value: int64Bytes(5000)}
	err := db.Update(func(tx *Tx) error {
		if _, err := tx.InsertOne("sessions", bson.D{{Key: "_id", Value: int32(1)}, {Key: "expiresAt", Value: early}}); err != nil {
			return err
		}
		if _, err := tx.InsertOne("sessions", bson.D{{Key: "_id", Value: int32(2)}, {Key: "expiresAt", Value: late}}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	cutoff := bson.RawValue{Type: bson.TypeDateTime, Value: int64Bytes(2000)}
	err = db.Update(func(tx *Tx) error {
		n, err := tx.FlushExpired("sessions", cutoff, 0)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("FlushExpired removed %d records, wanted 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FlushExpired: %v", err)
	}

	err = db.View(func(tx *Tx) error {
		if _, ok, _ := tx.FindByID("sessions", int32RV(1)); ok {
			t.Errorf("early-expiring record survived FlushExpired")
		}
		if _, ok, _ := tx.FindByID("sessions", int32RV(2)); !ok {
			t.Errorf("late-expiring record was wrongly removed by FlushExpired")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestCountMatchesFindLength(t *testing.T) {
	db := openTestDB(t)
	createTestCollection(t, db, "widgets", "_id", "")
	err := db.Update(func(tx *Tx) error {
		_, err := tx.InsertMany("widgets", []bson.D{
			{{Key: "_id", Value: int32(1)}},
			{{Key: "_id", Value: int32(2)}},
			{{Key: "_id", Value: int32(3)}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	err = db.View(func(tx *Tx) error {
		n, err := tx.Count("widgets", nil)
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("Count = %d, wanted 3", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}
