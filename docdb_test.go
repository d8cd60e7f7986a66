package docdb

import (
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// openTestDB returns a fresh in-memory database, matching the teacher's
// preference for an ephemeral backend in unit tests (db_test.go's
// setup helper used a temp bbolt file since it had no alternative backend;
// this module's BackendMemory lets tests skip the filesystem entirely).
func openTestDB(t testing.TB) *DB {
	t.Helper()
	db, err := Open(Options{Backend: BackendMemory, Clock: time.Now})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestCollection(t testing.TB, db *DB, name, pkPath, ttlPath string, indexes ...string) {
	t.Helper()
	if err := db.Update(func(tx *Tx) error {
		if _, err := tx.CreateCollection(name, pkPath, ttlPath); err != nil {
			return err
		}
		for _, f := range indexes {
			if err := tx.AddIndex(name, f); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("createTestCollection(%q): %v", name, err)
	}
}

func deepEqual[T any](t testing.TB, got, want T) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("** got %#v, wanted %#v", got, want)
	}
}

func docFromD(t testing.TB, d bson.D) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(d)
	if err != nil {
		t.Fatalf("bson.Marshal: %v", err)
	}
	return bson.Raw(raw)
}
