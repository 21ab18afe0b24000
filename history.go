// Per-key version history.
//
// The file itself is the history: every update appends a full record, so
// replaying the lines for one key yields all of its versions in write
// order. Compaction discards this history — History reflects whatever the
// file currently holds.
package jsonlt

// History returns every version of key present in the file, oldest first.
// A tombstone appears as a nil element. An empty slice means the key never
// occurs in the current file.
func (t *Table) History(key any) ([]Record, error) {
	k, err := normalizeKey(key, t.spec)
	if err != nil {
		return nil, err
	}
	canon := k.canon()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if err := t.lock.Lock(LockShared, t.cfg.LockTimeout); err != nil {
		return nil, err
	}
	defer t.lock.Unlock()

	end, err := size(t.reader)
	if err != nil {
		return nil, err
	}
	headerLine, err := line(t.reader, 0)
	if err != nil {
		return nil, parseErr(1, "missing header: %v", err)
	}
	if _, err := parseHeader(headerLine, !t.cfg.Lenient); err != nil {
		return nil, err
	}

	var versions []Record
	n := 1
	err = walkLines(t.reader, int64(len(headerLine)+1), end, t.cfg.ReadBuffer,
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
			if err := checkReadRecord(rec, n, !t.cfg.Lenient); err != nil {
				return err
			}
			rk, err := extractKey(rec, t.spec, n)
			if err != nil {
				return err
			}
			if rk.canon() != canon {
				return nil
			}
			if isTombstone(rec) {
				versions = append(versions, nil)
			} else {
				versions = append(versions, rec)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return versions, nil
}
