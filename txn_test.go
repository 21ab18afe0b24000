package jsonlt

import (
	"errors"
	"strings"
	"testing"
)

func TestTxSeesSnapshot(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tbl.Put(Record{"id": "a", "v": 1})

	tx, err := tbl.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Abort()

	rec, err := tx.Get("a")
	if err != nil {
		t.Fatalf("tx.Get: %v", err)
	}
	if rec["v"] != 1 {
		t.Errorf("v = %v, want 1", rec["v"])
	}
}

func TestTxSnapshotIsolation(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tx, _ := tbl.Begin()
	defer tx.Abort()

	// Committed after the snapshot: invisible inside the transaction.
	tbl.Put(Record{"id": "late", "v": 1})

	if ok, _ := tx.Has("late"); ok {
		t.Errorf("tx sees append made after its snapshot")
	}
	n, _ := tx.Count()
	if n != 0 {
		t.Errorf("tx.Count = %d, want 0", n)
	}
}

func TestTxSeesOwnWrites(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tx, _ := tbl.Begin()
	defer tx.Abort()

	tx.Put(Record{"id": "a", "v": 1})
	rec, err := tx.Get("a")
	if err != nil {
		t.Fatalf("tx.Get own write: %v", err)
	}
	if rec["v"] != 1 {
		t.Errorf("v = %v", rec["v"])
	}

	tx.Delete("a")
	if _, err := tx.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tx.Get after own delete: got %v, want ErrNotFound", err)
	}
}

func TestTxWritesInvisibleUntilCommit(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tx, _ := tbl.Begin()
	tx.Put(Record{"id": "a", "v": 1})

	if ok, _ := tbl.Has("a"); ok {
		t.Errorf("staged write visible before commit")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if ok, _ := tbl.Has("a"); !ok {
		t.Errorf("committed write not visible")
	}
}

func TestTxCommitGroupsSortedLines(t *testing.T) {
	path := testPath(t)
	tbl, err := Open(path, KeySpec{"id"}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tbl.Close()

	tx, _ := tbl.Begin()
	tx.Put(Record{"id": "c"})
	tx.Put(Record{"id": "a"})
	tx.Put(Record{"id": "b"})
	// Coalescing: the second write to "a" wins, one line only.
	tx.Put(Record{"id": "a", "v": 2})
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	want := `{"$jsonlt":{"key":"id","version":1}}` + "\n" +
		`{"id":"a","v":2}` + "\n" +
		`{"id":"b"}` + "\n" +
		`{"id":"c"}` + "\n"
	if got := readFile(t, path); got != want {
		t.Errorf("file = %q, want %q", got, want)
	}
}

func TestTxConflictFirstCommitterWins(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})

	t1, _ := tbl.Begin()
	t2, _ := tbl.Begin()

	t1.Put(Record{"id": "k", "v": 1})
	if err := t1.Commit(); err != nil {
		t.Fatalf("t1.Commit: %v", err)
	}

	t2.Put(Record{"id": "k", "v": 2})
	err := t2.Commit()
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("t2.Commit: got %v, want ErrConflict", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Key.String() != `"k"` {
		t.Errorf("conflict key = %v", err)
	}

	rec, _ := tbl.Get("k")
	if rec["v"] != 1 {
		t.Errorf("v = %v, want first committer's 1", rec["v"])
	}
}

func TestTxDisjointWritesBothCommit(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})

	t1, _ := tbl.Begin()
	t2, _ := tbl.Begin()

	t1.Put(Record{"id": "a", "v": 1})
	t2.Put(Record{"id": "b", "v": 2})

	if err := t1.Commit(); err != nil {
		t.Fatalf("t1.Commit: %v", err)
	}
	if err := t2.Commit(); err != nil {
		t.Fatalf("t2.Commit: %v", err)
	}
	n, _ := tbl.Count()
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

func TestTxPureReadsNeverConflict(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tbl.Put(Record{"id": "watched", "v": 1})

	t1, _ := tbl.Begin()
	t2, _ := tbl.Begin()

	// t2 reads "watched" but writes only "other".
	t2.Get("watched")
	t2.Put(Record{"id": "other"})

	t1.Put(Record{"id": "watched", "v": 2})
	if err := t1.Commit(); err != nil {
		t.Fatalf("t1.Commit: %v", err)
	}
	if err := t2.Commit(); err != nil {
		t.Errorf("t2.Commit after pure read of mutated key: %v", err)
	}
}

func TestTxDeleteAbsentKeyIsLegal(t *testing.T) {
	path := testPath(t)
	tbl, err := Open(path, KeySpec{"id"}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tbl.Close()

	tx, _ := tbl.Begin()
	if err := tx.Delete("ghost"); err != nil {
		t.Fatalf("tx.Delete absent: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// The tombstone intent is on disk even though nothing was removed.
	if !strings.Contains(readFile(t, path), `"$deleted":true`) {
		t.Errorf("tombstone not written")
	}
	n, _ := tbl.Count()
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestTxAbortDiscards(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tx, _ := tbl.Begin()
	tx.Put(Record{"id": "a"})

	if err := tx.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if ok, _ := tbl.Has("a"); ok {
		t.Errorf("aborted write reached the table")
	}
}

func TestTxDoneAfterCommitOrAbort(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})

	tx, _ := tbl.Begin()
	tx.Commit()
	if _, err := tx.Get("a"); !errors.Is(err, ErrTxDone) {
		t.Errorf("Get after commit: got %v, want ErrTxDone", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxDone) {
		t.Errorf("double commit: got %v, want ErrTxDone", err)
	}

	tx2, _ := tbl.Begin()
	tx2.Abort()
	if err := tx2.Put(Record{"id": "a"}); !errors.Is(err, ErrTxDone) {
		t.Errorf("Put after abort: got %v, want ErrTxDone", err)
	}
	if err := tx2.Abort(); !errors.Is(err, ErrTxDone) {
		t.Errorf("double abort: got %v, want ErrTxDone", err)
	}
}

func TestTxEmptyCommit(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tx, _ := tbl.Begin()
	if err := tx.Commit(); err != nil {
		t.Errorf("empty commit: %v", err)
	}
}

func TestTxCommitSurvivesCompaction(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tbl.Put(Record{"id": "a", "v": 1})
	tbl.Put(Record{"id": "a", "v": 2})

	tx, _ := tbl.Begin()
	tx.Put(Record{"id": "b"})

	// The rewrite invalidates the snapshot's byte offsets but preserves
	// the view, so the commit must still succeed.
	if err := tbl.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit after compaction: %v", err)
	}
	if ok, _ := tbl.Has("b"); !ok {
		t.Errorf("commit lost")
	}
}

func TestTxConflictAfterClear(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tbl.Put(Record{"id": "a", "v": 1})

	tx, _ := tbl.Begin()
	tx.Put(Record{"id": "a", "v": 2})

	// Clear removes "a": the written key's state changed since the
	// snapshot, so the commit must abort.
	if err := tbl.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrConflict) {
		t.Errorf("commit after clear: got %v, want ErrConflict", err)
	}
}

func TestTxIterationViews(t *testing.T) {
	tbl := openTestTable(t, KeySpec{"id"})
	tbl.Put(Record{"id": "b", "v": 1})
	tbl.Put(Record{"id": "d", "v": 1})

	tx, _ := tbl.Begin()
	defer tx.Abort()
	tx.Put(Record{"id": "a", "v": 1})
	tx.Put(Record{"id": "c", "v": 1})
	tx.Delete("d")

	keys, err := tx.Keys()
	if err != nil {
		t.Fatalf("tx.Keys: %v", err)
	}
	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = k.String()
	}
	if strings.Join(got, ",") != `"a","b","c"` {
		t.Errorf("tx.Keys = %v", got)
	}

	n, _ := tx.Count()
	if n != 3 {
		t.Errorf("tx.Count = %d, want 3", n)
	}

	recs, _ := tx.Find(func(r Record) bool { return true }, 2)
	if len(recs) != 2 {
		t.Errorf("tx.Find limit: %d records", len(recs))
	}
}
