// Compressed backup streams.
//
// Backup copies the raw table file through a zstd stream to a caller-
// provided writer under a shared lock, so the copy is a consistent
// snapshot of committed appends. Restore creates a new table file from
// such a stream, writing a temp sibling and renaming so a partial restore
// never leaves a half-written table. No sidecar files are created next to
// the table itself.
package jsonlt

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Backup writes a zstd-compressed snapshot of the table file to w.
func (t *Table) Backup(w io.Writer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err := t.lock.Lock(LockShared, t.cfg.LockTimeout); err != nil {
		return err
	}
	defer t.lock.Unlock()

	sz, err := size(t.reader)
	if err != nil {
		return err
	}

	// SpeedFastest matches the write-side bias of the engine: backups run
	// while holding the shared lock, so encode latency is what matters.
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, io.NewSectionReader(t.reader, 0, sz)); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Restore creates a new table file at path from a backup stream and opens
// it. Fails with ErrExists when path already holds content, and with a
// parse error when the decompressed stream is not a valid table.
func Restore(path string, r io.Reader, cfg Config) (*Table, error) {
	cfg = cfg.withDefaults()

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	if info, err := root.Stat(name); err == nil && info.Size() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	tmp, err := root.Create(name + ".tmp")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tmp, dec); err != nil {
		tmp.Close()
		root.Remove(name + ".tmp")
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := root.Rename(name+".tmp", name); err != nil {
		return nil, err
	}

	// Opening replays the whole file, which doubles as validation.
	return Open(path, nil, cfg)
}
