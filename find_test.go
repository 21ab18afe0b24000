package jsonlt

import (
	"errors"
	"testing"
)

func seedFindTable(t *testing.T) *Table {
	t.Helper()
	tbl := openTestTable(t, KeySpec{"id"})
	for i, city := range []string{"perth", "sydney", "perth", "hobart"} {
		if err := tbl.Put(Record{"id": i, "city": city}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	return tbl
}

func TestFind(t *testing.T) {
	tbl := seedFindTable(t)

	got, err := tbl.Find(func(r Record) bool { return r["city"] == "perth" }, 0)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Find returned %d records, want 2", len(got))
	}
	// Key order: id 0 before id 2.
	if got[0]["id"] != 0 || got[1]["id"] != 2 {
		t.Errorf("Find order: %v", got)
	}
}

func TestFindLimit(t *testing.T) {
	tbl := seedFindTable(t)

	got, err := tbl.Find(func(r Record) bool { return true }, 2)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Find limit ignored: %d records", len(got))
	}
}

func TestFindNoMatch(t *testing.T) {
	tbl := seedFindTable(t)

	got, err := tbl.Find(func(r Record) bool { return false }, 0)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Find = %v, want empty", got)
	}
}

func TestFindOne(t *testing.T) {
	tbl := seedFindTable(t)

	rec, err := tbl.FindOne(func(r Record) bool { return r["city"] == "perth" })
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if rec["id"] != 0 {
		t.Errorf("FindOne returned id %v, want first match 0", rec["id"])
	}

	if _, err := tbl.FindOne(func(r Record) bool { return false }); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindOne no match: got %v, want ErrNotFound", err)
	}
}
