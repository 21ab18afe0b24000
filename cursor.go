// File-state cursor for staleness detection.
//
// A cursor fingerprints the on-disk file as (size, mtime, tail hash) plus
// an in-memory generation counter for writes made through this Table
// instance. size+mtime catch almost every external mutation cheaply; the
// xxh3 hash of the final cursorTailBytes additionally catches a same-size
// rewrite within mtime granularity when that rewrite changes those bytes.
// A same-size change confined to earlier bytes within one mtime tick is not
// detected. When any component disagrees, the cached index is rebuilt.
package jsonlt

import (
	"io"
	"os"
	"time"

	"github.com/zeebo/xxh3"
)

// cursorTailBytes is how much of the file tail the fingerprint covers.
const cursorTailBytes = 256

type cursor struct {
	size  int64
	mtime time.Time
	tail  uint64
	gen   uint64
}

// fileCursor captures the current cursor for f.
func fileCursor(f *os.File, gen uint64) (cursor, error) {
	info, err := f.Stat()
	if err != nil {
		return cursor{}, err
	}
	tail, err := tailHash(f, info.Size())
	if err != nil {
		return cursor{}, err
	}
	return cursor{size: info.Size(), mtime: info.ModTime(), tail: tail, gen: gen}, nil
}

// tailHash hashes the final cursorTailBytes of the file.
func tailHash(f *os.File, size int64) (uint64, error) {
	n := min(size, cursorTailBytes)
	if n == 0 {
		return 0, nil
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, size-n); err != nil && err != io.EOF {
		return 0, err
	}
	return xxh3.Hash(buf), nil
}

// stale reports whether the on-disk file no longer matches the cursor.
func (c cursor) stale(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() != c.size || !info.ModTime().Equal(c.mtime) {
		return true, nil
	}
	tail, err := tailHash(f, info.Size())
	if err != nil {
		return false, err
	}
	return tail != c.tail, nil
}
