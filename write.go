// Write primitives for the append-only file.
//
// Every mutation is an append of one or more encoded lines at the current
// end of file, performed as a single WriteAt so a crash can truncate at
// most the final line — which the next open detects while parsing. Size
// guards run before any bytes hit disk.
package jsonlt

import (
	"fmt"
)

// appendLocked writes group as one contiguous byte range at the end of the
// file and returns its start offset. Each element is a complete encoded
// line including its newline. Caller holds the table mutex, the exclusive
// file lock, and a fresh index.
func (t *Table) appendLocked(group [][]byte) (int64, error) {
	var total int
	for _, l := range group {
		if t.cfg.MaxLineSize > 0 && len(l)-1 > t.cfg.MaxLineSize {
			return 0, fmt.Errorf("%w: encoded line is %d bytes, maximum is %d",
				ErrLimit, len(l)-1, t.cfg.MaxLineSize)
		}
		total += len(l)
	}
	if t.cfg.MaxFileSize > 0 && t.idx.end+int64(total) > t.cfg.MaxFileSize {
		return 0, fmt.Errorf("%w: file would grow to %d bytes, maximum is %d",
			ErrLimit, t.idx.end+int64(total), t.cfg.MaxFileSize)
	}

	buf := make([]byte, 0, total)
	for _, l := range group {
		buf = append(buf, l...)
	}

	off := t.idx.end
	if _, err := t.writer.WriteAt(buf, off); err != nil {
		return 0, err
	}
	if !t.cfg.NoSync {
		if err := t.writer.Sync(); err != nil {
			return 0, err
		}
	}
	return off, nil
}

// bumpLocked advances the generation counter and recaptures the cursor
// after a successful self-write.
func (t *Table) bumpLocked() error {
	t.gen++
	cur, err := fileCursor(t.reader, t.gen)
	if err != nil {
		return err
	}
	t.cur = cur
	return nil
}
