// Predicate queries over the materialized view.
//
// find is a linear scan in canonical key order — there are no secondary
// indexes. Predicates are plain functions over records.
package jsonlt

import "fmt"

// Find returns records for which pred is true, in canonical key order,
// stopping after limit matches when limit is positive.
func (t *Table) Find(pred func(Record) bool, limit int) ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return nil, err
	}
	return findIn(t.idx, pred, limit), nil
}

// FindOne returns the first record in canonical key order for which pred
// is true, or ErrNotFound.
func (t *Table) FindOne(pred func(Record) bool) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return nil, err
	}
	return findOneIn(t.idx, pred)
}

func findIn(x *index, pred func(Record) bool, limit int) []Record {
	var out []Record
	for _, rec := range x.records() {
		if pred(rec) {
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

func findOneIn(x *index, pred func(Record) bool) (Record, error) {
	for _, rec := range x.records() {
		if pred(rec) {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: no record matches predicate", ErrNotFound)
}
