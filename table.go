// Core table type and lifecycle operations.
//
// Table owns a path, a key specifier, a cached materialized index and a
// file cursor. Operations on one Table are serialized by an internal
// mutex; coordination across processes is purely the advisory file lock.
// Before any read served from the cached index, the cursor is compared to
// the file; if another process appended, the index is rebuilt under a
// shared lock.
package jsonlt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// Config holds table construction options. The zero value is ready to use.
type Config struct {
	LockTimeout time.Duration // 0 blocks indefinitely on lock acquisition
	MaxLineSize int           // max encoded line length (default 16MB)
	MaxFileSize int64         // max file size, 0 = unlimited
	ReadBuffer  int           // replay buffer size (default 64KB)
	NoSync      bool          // skip fsync after appends
	Lenient     bool          // lenient parser profile; output is always strict
}

func (c Config) withDefaults() Config {
	if c.MaxLineSize == 0 {
		c.MaxLineSize = 16 * 1024 * 1024
	}
	if c.ReadBuffer == 0 {
		c.ReadBuffer = 64 * 1024
	}
	return c
}

// Table is an open JSONLT file.
type Table struct {
	root   *os.Root
	name   string
	reader *os.File
	writer *os.File
	lock   *fileLock
	spec   KeySpec
	cfg    Config

	mu     sync.Mutex
	idx    *index
	cur    cursor
	gen    uint64
	closed bool
}

// Item is one key-record pair of the materialized view.
type Item struct {
	Key    Key
	Record Record
}

// Open opens the table at path, creating it when absent. When the file
// exists, a non-nil spec must match the header's declared specifier; a nil
// spec adopts the file's. Creating a new file requires a spec.
func Open(path string, spec KeySpec, cfg Config) (*Table, error) {
	cfg = cfg.withDefaults()
	if spec != nil {
		if err := spec.validate(); err != nil {
			return nil, err
		}
	}

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}

	writer, err := root.OpenFile(name, os.O_RDWR, 0644)
	if errors.Is(err, fs.ErrNotExist) {
		if spec == nil {
			root.Close()
			return nil, fmt.Errorf("%w: key specifier required to create %s", ErrInvalidKey, path)
		}
		writer, err = root.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	}
	if err != nil {
		root.Close()
		return nil, err
	}

	flock := &fileLock{f: writer}
	if err := flock.Lock(LockExclusive, cfg.LockTimeout); err != nil {
		writer.Close()
		root.Close()
		return nil, err
	}
	defer flock.Unlock()

	// Crash cleanup: an orphaned temp file means a compaction died before
	// its rename. The original file is still authoritative.
	if _, tmpErr := root.Stat(name + ".tmp"); tmpErr == nil {
		root.Remove(name + ".tmp")
	}

	info, err := writer.Stat()
	if err != nil {
		writer.Close()
		root.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if spec == nil {
			writer.Close()
			root.Close()
			return nil, fmt.Errorf("%w: key specifier required to create %s", ErrInvalidKey, path)
		}
		hdr, err := encodeHeader(spec)
		if err != nil {
			writer.Close()
			root.Close()
			return nil, err
		}
		if _, err := writer.WriteAt(hdr, 0); err != nil {
			writer.Close()
			root.Close()
			return nil, err
		}
		if err := writer.Sync(); err != nil {
			writer.Close()
			root.Close()
			return nil, err
		}
	}

	reader, err := root.OpenFile(name, os.O_RDONLY, 0644)
	if err != nil {
		writer.Close()
		root.Close()
		return nil, err
	}

	fileSpec, idx, err := buildIndex(reader, spec, cfg)
	if err != nil {
		reader.Close()
		writer.Close()
		root.Close()
		return nil, err
	}
	cur, err := fileCursor(reader, 0)
	if err != nil {
		reader.Close()
		writer.Close()
		root.Close()
		return nil, err
	}

	return &Table{
		root:   root,
		name:   name,
		reader: reader,
		writer: writer,
		lock:   flock,
		spec:   fileSpec,
		cfg:    cfg,
		idx:    idx,
		cur:    cur,
	}, nil
}

// FromRecords atomically creates a new table at path holding records in
// canonical key order. Fails with ErrExists when path already holds
// content, and with ErrInvalidKey when the batch repeats a key.
func FromRecords(path string, records []Record, spec KeySpec, cfg Config) (*Table, error) {
	cfg = cfg.withDefaults()
	if err := spec.validate(); err != nil {
		return nil, err
	}

	type keyed struct {
		key  Key
		data []byte
	}
	seen := make(map[string]bool, len(records))
	batch := make([]keyed, 0, len(records))
	for _, rec := range records {
		if err := checkWriteRecord(rec); err != nil {
			return nil, err
		}
		key, err := extractKey(rec, spec, 0)
		if err != nil {
			return nil, err
		}
		if seen[key.canon()] {
			return nil, fmt.Errorf("%w: duplicate key %s in batch", ErrInvalidKey, key)
		}
		seen[key.canon()] = true
		data, err := encodeLine(rec)
		if err != nil {
			return nil, err
		}
		if cfg.MaxLineSize > 0 && len(data)-1 > cfg.MaxLineSize {
			return nil, fmt.Errorf("%w: encoded line is %d bytes, maximum is %d",
				ErrLimit, len(data)-1, cfg.MaxLineSize)
		}
		batch = append(batch, keyed{key: key, data: data})
	}
	slices.SortFunc(batch, func(a, b keyed) int { return compareKeys(a.key, b.key) })

	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	target, err := root.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	flock := &fileLock{f: target}
	if err := flock.Lock(LockExclusive, cfg.LockTimeout); err != nil {
		target.Close()
		return nil, err
	}
	defer func() {
		flock.Unlock()
		target.Close()
	}()

	info, err := target.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrExists, path)
	}

	tmp, err := root.Create(name + ".tmp")
	if err != nil {
		return nil, err
	}
	hdr, err := encodeHeader(spec)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	total := int64(len(hdr))
	if _, err := tmp.Write(hdr); err != nil {
		tmp.Close()
		return nil, err
	}
	for _, kr := range batch {
		total += int64(len(kr.data))
		if cfg.MaxFileSize > 0 && total > cfg.MaxFileSize {
			tmp.Close()
			root.Remove(name + ".tmp")
			return nil, fmt.Errorf("%w: file would grow to %d bytes, maximum is %d",
				ErrLimit, total, cfg.MaxFileSize)
		}
		if _, err := tmp.Write(kr.data); err != nil {
			tmp.Close()
			return nil, err
		}
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

	return Open(path, spec, cfg)
}

// Close releases the lock handle and file descriptors. Further operations
// fail with ErrClosed.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	t.lock.Unlock()
	t.lock.setFile(nil)

	var errs []error
	if err := t.reader.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.root.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Spec returns the table's key specifier.
func (t *Table) Spec() KeySpec {
	return slices.Clone(t.spec)
}

// refreshLocked rebuilds the index when the cursor no longer matches the
// file, or when it was dropped by Reload. haveLock is true when the caller
// already holds the exclusive file lock. A failed rebuild leaves the
// previous index untouched.
func (t *Table) refreshLocked(haveLock bool) error {
	if t.closed {
		return ErrClosed
	}
	if t.idx != nil && t.cur.gen == t.gen {
		stale, err := t.cur.stale(t.reader)
		if err != nil {
			return err
		}
		if !stale {
			return nil
		}
	}

	if !haveLock {
		if err := t.lock.Lock(LockShared, t.cfg.LockTimeout); err != nil {
			return err
		}
		defer t.lock.Unlock()
	}
	_, idx, err := buildIndex(t.reader, t.spec, t.cfg)
	if err != nil {
		return err
	}
	cur, err := fileCursor(t.reader, t.gen)
	if err != nil {
		return err
	}
	t.idx = idx
	t.cur = cur
	return nil
}

// Get returns the current record for key, or ErrNotFound.
func (t *Table) Get(key any) (Record, error) {
	k, err := normalizeKey(key, t.spec)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return nil, err
	}
	e, ok := t.idx.get(k)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return e.rec, nil
}

// Has reports whether key is present.
func (t *Table) Has(key any) (bool, error) {
	k, err := normalizeKey(key, t.spec)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return false, err
	}
	_, ok := t.idx.get(k)
	return ok, nil
}

// Put inserts or updates rec. Insert and update are the same operation on
// the wire: one appended line.
func (t *Table) Put(rec Record) error {
	if err := checkWriteRecord(rec); err != nil {
		return err
	}
	key, err := extractKey(rec, t.spec, 0)
	if err != nil {
		return err
	}
	stored := cloneRecord(rec)
	data, err := encodeLine(stored)
	if err != nil {
		return err
	}

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

	off, err := t.appendLocked([][]byte{data})
	if err != nil {
		return err
	}
	t.idx.lines++
	t.idx.put(&entry{key: key, rec: stored, off: off, line: t.idx.lines})
	t.idx.end = off + int64(len(data))
	return t.bumpLocked()
}

// Delete appends a tombstone for key. Fails with ErrNotFound when the key
// is absent.
func (t *Table) Delete(key any) error {
	k, err := normalizeKey(key, t.spec)
	if err != nil {
		return err
	}
	data, err := encodeLine(makeTombstone(k, t.spec))
	if err != nil {
		return err
	}

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

	if _, ok := t.idx.get(k); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	off, err := t.appendLocked([][]byte{data})
	if err != nil {
		return err
	}
	t.idx.lines++
	t.idx.remove(k)
	t.idx.end = off + int64(len(data))
	return t.bumpLocked()
}

// All returns every record in canonical key order. The slice is a
// snapshot: later table mutations do not change it.
func (t *Table) All() ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return nil, err
	}
	return t.idx.records(), nil
}

// Keys returns every key in canonical order.
func (t *Table) Keys() ([]Key, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return nil, err
	}
	return t.idx.keys(), nil
}

// Items returns every key-record pair in canonical key order.
func (t *Table) Items() ([]Item, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return nil, err
	}
	return itemsOf(t.idx), nil
}

// Count returns the number of live records.
func (t *Table) Count() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(false); err != nil {
		return 0, err
	}
	return t.idx.count(), nil
}

// Reload drops the cached index; the next access rebuilds it from disk.
func (t *Table) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.idx = nil
	return nil
}

func itemsOf(x *index) []Item {
	keys := x.keys()
	out := make([]Item, len(keys))
	for i, k := range keys {
		e, _ := x.get(k)
		out[i] = Item{Key: k, Record: e.rec}
	}
	return out
}
