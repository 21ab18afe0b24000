// Snapshot-isolated transactions.
//
// A Tx captures the table's index and cursor at Begin and buffers writes
// in memory. Reads see the snapshot overlaid with the buffer; the file is
// untouched until Commit. No lock is held between Begin and Commit, so
// long-lived transactions block nobody.
//
// Commit is first-committer-wins optimistic concurrency: under the
// exclusive lock it re-reads lines appended since the snapshot and aborts
// with ConflictError if any of them touched a key this transaction wrote.
// The read-set is recorded but only its intersection with the write-set
// can conflict — pure reads never abort anybody. Write-skew avoidance is
// therefore limited to observed-then-written keys.
package jsonlt

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
)

type txWrite struct {
	key Key
	rec Record // nil records a tombstone intent
}

// Tx is a buffered overlay on a Table. It is safe for use by one
// goroutine at a time.
type Tx struct {
	t    *Table
	snap *index
	cur  cursor

	mu     sync.Mutex
	reads  map[string]bool
	writes map[string]*txWrite
	done   bool
}

// Begin opens a transaction on the table's current state.
func (t *Table) Begin() (*Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return nil, err
	}
	return &Tx{
		t:      t,
		snap:   t.idx.clone(),
		cur:    t.cur,
		reads:  make(map[string]bool),
		writes: make(map[string]*txWrite),
	}, nil
}

// Get returns the record for key as seen by this transaction: staged
// writes mask the snapshot. Absent keys fail with ErrNotFound.
func (tx *Tx) Get(key any) (Record, error) {
	k, err := normalizeKey(key, tx.t.spec)
	if err != nil {
		return nil, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxDone
	}
	tx.reads[k.canon()] = true
	if w, ok := tx.writes[k.canon()]; ok {
		if w.rec == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
		}
		return w.rec, nil
	}
	e, ok := tx.snap.get(k)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return e.rec, nil
}

// Has reports whether key is present in the transaction's view.
func (tx *Tx) Has(key any) (bool, error) {
	k, err := normalizeKey(key, tx.t.spec)
	if err != nil {
		return false, err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return false, ErrTxDone
	}
	tx.reads[k.canon()] = true
	if w, ok := tx.writes[k.canon()]; ok {
		return w.rec != nil, nil
	}
	_, ok := tx.snap.get(k)
	return ok, nil
}

// Put stages an insert or update. Repeated writes to one key coalesce,
// last wins.
func (tx *Tx) Put(rec Record) error {
	if err := checkWriteRecord(rec); err != nil {
		return err
	}
	key, err := extractKey(rec, tx.t.spec, 0)
	if err != nil {
		return err
	}
	stored := cloneRecord(rec)
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.writes[key.canon()] = &txWrite{key: key, rec: stored}
	return nil
}

// Delete stages a tombstone for key. Deleting a key absent from both the
// snapshot and the buffer is legal; the tombstone intent is still
// recorded and written at commit.
func (tx *Tx) Delete(key any) error {
	k, err := normalizeKey(key, tx.t.spec)
	if err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.writes[k.canon()] = &txWrite{key: k}
	return nil
}

// viewLocked materializes the transaction's state as an index. Iteration
// observes the whole snapshot, so every snapshot key joins the read-set.
func (tx *Tx) viewLocked() *index {
	view := tx.snap.clone()
	for c := range tx.snap.byKey {
		tx.reads[c] = true
	}
	for c, w := range tx.writes {
		tx.reads[c] = true
		if w.rec == nil {
			view.remove(w.key)
		} else {
			view.put(&entry{key: w.key, rec: w.rec})
		}
	}
	return view
}

// Keys returns the keys of the transaction's view in canonical order.
func (tx *Tx) Keys() ([]Key, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.viewLocked().keys(), nil
}

// All returns the records of the transaction's view in canonical key order.
func (tx *Tx) All() ([]Record, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.viewLocked().records(), nil
}

// Items returns key-record pairs of the transaction's view in canonical
// key order.
func (tx *Tx) Items() ([]Item, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxDone
	}
	return itemsOf(tx.viewLocked()), nil
}

// Count returns the number of records in the transaction's view.
func (tx *Tx) Count() (int, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return 0, ErrTxDone
	}
	return tx.viewLocked().count(), nil
}

// Find returns view records matching pred in canonical key order, up to
// limit when positive.
func (tx *Tx) Find(pred func(Record) bool, limit int) ([]Record, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxDone
	}
	return findIn(tx.viewLocked(), pred, limit), nil
}

// FindOne returns the first view record matching pred, or ErrNotFound.
func (tx *Tx) FindOne(pred func(Record) bool) (Record, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, ErrTxDone
	}
	return findOneIn(tx.viewLocked(), pred)
}

// Abort discards the buffers without touching the file.
func (tx *Tx) Abort() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.reads = nil
	tx.writes = nil
	return nil
}

// Commit appends all buffered operations as one contiguous line group in
// sorted-key order, after verifying under the exclusive lock that no
// written key was mutated on disk since the snapshot. On conflict the
// transaction is aborted and ConflictError names the offending key. The
// transaction is finished either way.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	t := tx.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if len(tx.writes) == 0 {
		return nil
	}

	if err := t.lock.Lock(LockExclusive, t.cfg.LockTimeout); err != nil {
		return err
	}
	defer t.lock.Unlock()

	mutated, err := tx.mutatedSince(t)
	if err != nil {
		return err
	}
	for c, w := range tx.writes {
		if mutated[c] {
			return &ConflictError{Key: w.key}
		}
	}

	if err := t.refreshLocked(true); err != nil {
		return err
	}

	ops := make([]*txWrite, 0, len(tx.writes))
	for _, w := range tx.writes {
		ops = append(ops, w)
	}
	slices.SortFunc(ops, func(a, b *txWrite) int { return compareKeys(a.key, b.key) })

	group := make([][]byte, len(ops))
	for i, w := range ops {
		obj := w.rec
		if obj == nil {
			obj = makeTombstone(w.key, t.spec)
		}
		data, err := encodeLine(obj)
		if err != nil {
			return err
		}
		group[i] = data
	}

	off, err := t.appendLocked(group)
	if err != nil {
		return err
	}
	for i, w := range ops {
		t.idx.lines++
		if w.rec == nil {
			t.idx.remove(w.key)
		} else {
			t.idx.put(&entry{key: w.key, rec: w.rec, off: off, line: t.idx.lines})
		}
		off += int64(len(group[i]))
		t.idx.end = off
	}
	return t.bumpLocked()
}

// mutatedSince returns the canonical keys touched on disk after the
// snapshot cursor. The fast path re-reads only the lines appended past the
// snapshot's size, after confirming via the tail fingerprint that the
// prefix is intact. When the file was rewritten underneath (compaction,
// clear, truncation), it falls back to rebuilding the current state and
// comparing each written key's value against the snapshot.
func (tx *Tx) mutatedSince(t *Table) (map[string]bool, error) {
	sz, err := size(t.reader)
	if err != nil {
		return nil, err
	}

	prefixIntact := false
	if sz >= tx.cur.size {
		tail, err := tailHash(t.reader, tx.cur.size)
		if err != nil {
			return nil, err
		}
		prefixIntact = tail == tx.cur.tail
	}

	mutated := make(map[string]bool)
	if prefixIntact {
		if sz == tx.cur.size {
			return mutated, nil
		}
		n := tx.snap.lines
		err = walkLines(t.reader, tx.cur.size, sz, t.cfg.ReadBuffer,
			func(off int64, data []byte, terminated bool) error {
				n++
				if !terminated {
					return parseErr(n, "unterminated final line")
				}
				if len(data) == 0 {
					return parseErr(n, "blank line")
				}
				rec, err := decodeLine(data, n, !t.cfg.Lenient)
				if err != nil {
					return err
				}
				key, err := extractKey(rec, t.spec, n)
				if err != nil {
					return err
				}
				mutated[key.canon()] = true
				return nil
			})
		if err != nil {
			return nil, err
		}
		return mutated, nil
	}

	// File rewritten: positions are meaningless, so compare values. A
	// compaction that preserved the materialized view mutates nothing.
	_, current, err := buildIndex(t.reader, t.spec, t.cfg)
	if err != nil {
		return nil, err
	}
	for c := range tx.writes {
		was, hadBefore := tx.snap.byKey[c]
		now, hasNow := current.byKey[c]
		if hadBefore != hasNow {
			mutated[c] = true
			continue
		}
		if hadBefore && !recordsEqual(was.rec, now.rec) {
			mutated[c] = true
		}
	}
	return mutated, nil
}

// recordsEqual compares two records by their canonical encoding.
func recordsEqual(a, b Record) bool {
	ab, err1 := encodeLine(a)
	bb, err2 := encodeLine(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
