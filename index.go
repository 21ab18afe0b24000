// Materialized index: the current state of a table, built by replaying the
// file in order. Later lines win per key; tombstoned keys are absent. Byte
// offsets and line numbers of producing lines are retained so compaction
// and transactions can reason about positions.
package jsonlt

import (
	"os"
	"slices"
)

type entry struct {
	key  Key
	rec  Record
	off  int64 // byte offset of the producing line
	line int   // 1-based line number of the producing line
}

type index struct {
	byKey map[string]*entry
	lines int   // total lines in file, header included
	end   int64 // byte offset one past the last line

	order []Key // sorted key cache, nil when dirty
}

func newIndex() *index {
	return &index{byKey: make(map[string]*entry)}
}

// buildIndex replays f into a fresh index. The caller holds at least a
// shared lock. Returns the declared key specifier (validated against want
// when want is non-nil) together with the index. A failed build leaves no
// partial state behind — callers keep their previous index on error.
func buildIndex(f *os.File, want KeySpec, cfg Config) (KeySpec, *index, error) {
	end, err := size(f)
	if err != nil {
		return nil, nil, err
	}

	headerLine, err := line(f, 0)
	if err != nil {
		return nil, nil, parseErr(1, "missing header: %v", err)
	}
	spec, err := parseHeader(headerLine, !cfg.Lenient)
	if err != nil {
		return nil, nil, err
	}
	if want != nil && !spec.equal(want) {
		return nil, nil, ErrKeyMismatch
	}

	start := int64(len(headerLine) + 1)
	if start > end {
		return nil, nil, parseErr(1, "unterminated header line")
	}

	idx := newIndex()
	idx.lines = 1
	idx.end = start

	err = walkLines(f, start, end, cfg.ReadBuffer, func(off int64, data []byte, terminated bool) error {
		n := idx.lines + 1
		if !terminated {
			// Remnant of a failed append. An empty unterminated tail is
			// ignored; anything else rejects the file.
			return parseErr(n, "unterminated final line")
		}
		if len(data) == 0 {
			return parseErr(n, "blank line")
		}
		rec, err := decodeLine(data, n, !cfg.Lenient)
		if err != nil {
			return err
		}
		if err := checkReadRecord(rec, n, !cfg.Lenient); err != nil {
			return err
		}
		key, err := extractKey(rec, spec, n)
		if err != nil {
			return err
		}
		if isTombstone(rec) {
			idx.remove(key)
		} else {
			idx.put(&entry{key: key, rec: rec, off: off, line: n})
		}
		idx.lines = n
		idx.end = off + int64(len(data)) + 1
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return spec, idx, nil
}

func (x *index) get(k Key) (*entry, bool) {
	e, ok := x.byKey[k.canon()]
	return e, ok
}

func (x *index) put(e *entry) {
	c := e.key.canon()
	if _, existed := x.byKey[c]; !existed {
		x.order = nil
	}
	x.byKey[c] = e
}

func (x *index) remove(k Key) {
	c := k.canon()
	if _, ok := x.byKey[c]; ok {
		delete(x.byKey, c)
		x.order = nil
	}
}

func (x *index) count() int { return len(x.byKey) }

// keys returns all keys in canonical order. The sorted slice is cached
// until the next mutation; callers receive a copy.
func (x *index) keys() []Key {
	if x.order == nil {
		order := make([]Key, 0, len(x.byKey))
		for _, e := range x.byKey {
			order = append(order, e.key)
		}
		slices.SortFunc(order, compareKeys)
		x.order = order
	}
	return slices.Clone(x.order)
}

// records returns all records in canonical key order.
func (x *index) records() []Record {
	keys := x.keys()
	out := make([]Record, len(keys))
	for i, k := range keys {
		out[i] = x.byKey[k.canon()].rec
	}
	return out
}

// clone shallow-copies the index for a transaction snapshot. Entries are
// shared: the snapshot never mutates them.
func (x *index) clone() *index {
	cp := &index{
		byKey: make(map[string]*entry, len(x.byKey)),
		lines: x.lines,
		end:   x.end,
	}
	for c, e := range x.byKey {
		cp.byKey[c] = e
	}
	if x.order != nil {
		cp.order = slices.Clone(x.order)
	}
	return cp
}
