package docdb

import (
	"bytes"
	"testing"
)

func TestMemStorageBasicPutGetDelete(t *testing.T) {
	store := newMemStorage()
	defer store.Close()

	stx, err := store.BeginTx(true)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	buck, err := stx.CreateCF("cf")
	if err != nil {
		t.Fatalf("CreateCF: %v", err)
	}
	if err := buck.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := buck.Get([]byte("a")); !bytes.Equal(got, []byte("1")) {
		t.Errorf("Get(a) = %q, wanted \"1\"", got)
	}
	if err := buck.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := buck.Get([]byte("a")); got != nil {
		t.Errorf("Get(a) after delete = %q, wanted nil", got)
	}
	if err := stx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// TestMemStorageIsolation verifies a read transaction begun before a write
// commits does not observe the write (spec.md §5's snapshot isolation).
func TestMemStorageIsolation(t *testing.T) {
	store := newMemStorage()
	defer store.Close()

	wtx, err := store.BeginTx(true)
	if err != nil {
		t.Fatalf("BeginTx(write): %v", err)
	}
	wbuck, err := wtx.CreateCF("cf")
	if err != nil {
		t.Fatalf("CreateCF: %v", err)
	}
	if err := wbuck.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rtx, err := store.BeginTx(false)
	if err != nil {
		t.Fatalf("BeginTx(read): %v", err)
	}
	// The read transaction started before the write committed: the cf
	// doesn't exist in its snapshot at all yet.
	if rbuck := rtx.CF("cf"); rbuck != nil {
		t.Errorf("read snapshot observed an uncommitted column family")
	}
	rtx.Rollback()

	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx2, err := store.BeginTx(false)
	if err != nil {
		t.Fatalf("BeginTx(read after commit): %v", err)
	}
	defer rtx2.Rollback()
	rbuck2 := rtx2.CF("cf")
	if rbuck2 == nil {
		t.Fatalf("read snapshot after commit did not see the column family")
	}
	if got := rbuck2.Get([]byte("k")); !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get(k) after commit = %q, wanted \"v\"", got)
	}
}

func TestMemStorageRollbackDiscardsWrites(t *testing.T) {
	store := newMemStorage()
	defer store.Close()

	wtx, err := store.BeginTx(true)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	buck, err := wtx.CreateCF("cf")
	if err != nil {
		t.Fatalf("CreateCF: %v", err)
	}
	if err := buck.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	wtx.Rollback()

	rtx, err := store.BeginTx(false)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	defer rtx.Rollback()
	if rbuck := rtx.CF("cf"); rbuck != nil {
		t.Errorf("rolled-back write was visible to a later transaction")
	}
}

func TestMemCursorSeekAndOrdering(t *testing.T) {
	store := newMemStorage()
	defer store.Close()
	wtx, _ := store.BeginTx(true)
	buck, _ := wtx.CreateCF("cf")
	for _, k := range []string{"a", "b", "c", "d"} {
		buck.Put([]byte(k), []byte(k))
	}

	cur := buck.Cursor()
	k, _ := cur.First()
	if string(k) != "a" {
		t.Fatalf("First() = %q, wanted \"a\"", k)
	}
	k, _ = cur.Last()
	if string(k) != "d" {
		t.Fatalf("Last() = %q, wanted \"d\"", k)
	}
	k, _ = cur.Seek([]byte("bb"))
	if string(k) != "c" {
		t.Fatalf("Seek(bb) = %q, wanted \"c\" (first key >= bb)", k)
	}

	// SeekLast(prefix) over a prefix of "b" alone. The first writer is
	// rolled back first: a second BeginTx(true) waits for it to finish.
	wtx.Rollback()
	wtx2, _ := store.BeginTx(true)
	buck2, _ := wtx2.CreateCF("cf2")
	buck2.Put([]byte("b1"), []byte{})
	buck2.Put([]byte("b2"), []byte{})
	buck2.Put([]byte("c1"), []byte{})
	cur2 := buck2.Cursor()
	k2, _ := cur2.SeekLast([]byte("b"))
	if string(k2) != "b2" {
		t.Fatalf("SeekLast(b) = %q, wanted \"b2\"", k2)
	}
}

func TestMemStorageDropCF(t *testing.T) {
	store := newMemStorage()
	defer store.Close()
	wtx, _ := store.BeginTx(true)
	wtx.CreateCF("cf")
	if err := wtx.DropCF("missing"); err != ErrColumnFamilyNotFound {
		t.Errorf("DropCF(missing) = %v, wanted ErrColumnFamilyNotFound", err)
	}
	if err := wtx.DropCF("cf"); err != nil {
		t.Errorf("DropCF(cf): %v", err)
	}
	if wtx.CF("cf") != nil {
		t.Errorf("CF(cf) after DropCF still returns a bucket")
	}
	wtx.Rollback()
}
