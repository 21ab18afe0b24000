// Compaction: rewrite the file as header + live records in canonical key
// order, dropping tombstones and superseded lines.
//
// A temporary sibling file is used instead of rewriting in place because
// in-place rewrite risks total data loss on crash. The temp file is
// written, synced, then atomically renamed over the original — a crash at
// worst orphans the .tmp file, which Open removes. Readers holding the old
// descriptor keep seeing a consistent pre-compaction snapshot until they
// release.
package jsonlt

import (
	"fmt"
	"os"
)

// Compact rewrites the file so it holds exactly one line per live key,
// after the header, in canonical key order. The materialized view is
// unchanged.
func (t *Table) Compact() error {
	return t.rewrite(false)
}

// Clear rewrites the file to just its header, removing every record.
func (t *Table) Clear() error {
	return t.rewrite(true)
}

func (t *Table) rewrite(empty bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err := t.lock.Lock(LockExclusive, t.cfg.LockTimeout); err != nil {
		return err
	}
	defer t.lock.Unlock()
	if err := t.refreshLocked(true); err != nil {
		return err
	}

	tmp, err := t.root.Create(t.name + ".tmp")
	if err != nil {
		return fmt.Errorf("compact: create temp: %w", err)
	}

	hdr, err := encodeHeader(t.spec)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(hdr); err != nil {
		tmp.Close()
		return fmt.Errorf("compact: write header: %w", err)
	}

	next := newIndex()
	next.lines = 1
	next.end = int64(len(hdr))
	if !empty {
		for _, k := range t.idx.keys() {
			e, _ := t.idx.get(k)
			data, err := encodeLine(e.rec)
			if err != nil {
				tmp.Close()
				return err
			}
			if _, err := tmp.Write(data); err != nil {
				tmp.Close()
				return fmt.Errorf("compact: write record: %w", err)
			}
			next.lines++
			next.put(&entry{key: e.key, rec: e.rec, off: next.end, line: next.lines})
			next.end += int64(len(data))
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("compact: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("compact: close temp: %w", err)
	}

	// Swap file handles. Drain in-flight lock syscalls before closing the
	// fd (see lock.go); closing the old writer releases the OS lock.
	t.lock.setFile(nil)
	t.reader.Close()
	t.writer.Close()

	if err := t.root.Rename(t.name+".tmp", t.name); err != nil {
		return fmt.Errorf("compact: rename: %w", err)
	}

	reader, err := t.root.OpenFile(t.name, os.O_RDONLY, 0644)
	if err != nil {
		return fmt.Errorf("compact: reopen reader: %w", err)
	}
	writer, err := t.root.OpenFile(t.name, os.O_RDWR, 0644)
	if err != nil {
		reader.Close()
		return fmt.Errorf("compact: reopen writer: %w", err)
	}

	t.reader = reader
	t.writer = writer
	t.lock.setFile(writer)
	t.idx = next
	return t.bumpLocked()
}
