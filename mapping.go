// Mapping-style conveniences over get/put/delete. Pure sugar — no new
// semantics, no extra invariants.
package jsonlt

import "errors"

// Pop removes key and returns its record, or ErrNotFound.
func (t *Table) Pop(key any) (Record, error) {
	rec, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	if err := t.Delete(key); err != nil {
		return nil, err
	}
	return rec, nil
}

// SetDefault returns the record for key, storing and returning def when
// the key is absent. def's key fields must match key.
func (t *Table) SetDefault(key any, def Record) (Record, error) {
	rec, err := t.Get(key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	k, err := normalizeKey(key, t.spec)
	if err != nil {
		return nil, err
	}
	dk, err := extractKey(def, t.spec, 0)
	if err != nil {
		return nil, err
	}
	if k.canon() != dk.canon() {
		return nil, errors.Join(ErrInvalidKey,
			errors.New("default record's key fields do not match the requested key"))
	}
	if err := t.Put(def); err != nil {
		return nil, err
	}
	return def, nil
}

// Update puts every record in order. Stops at the first failure.
func (t *Table) Update(records []Record) error {
	for _, rec := range records {
		if err := t.Put(rec); err != nil {
			return err
		}
	}
	return nil
}
