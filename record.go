// Record validation, key extraction and tombstones.
package jsonlt

import (
	"fmt"
	"strings"
)

// Record is one stored object. Shapes are dynamic: any JSON-serializable
// members are allowed beyond the key fields. Numbers read from disk are
// json.Number.
type Record = map[string]any

// extractKey reads the key fields named by spec out of rec. line is the
// 1-based file position for parse errors; pass 0 when validating an
// application-supplied record, which reports ErrInvalidKey instead.
func extractKey(rec Record, spec KeySpec, line int) (Key, error) {
	key := make(Key, len(spec))
	for i, field := range spec {
		v, ok := rec[field]
		if !ok {
			if line > 0 {
				return nil, parseErr(line, "record missing key field %q", field)
			}
			return nil, fmt.Errorf("%w: record missing key field %q", ErrInvalidKey, field)
		}
		part, err := normalizePart(v)
		if err != nil {
			if line > 0 {
				return nil, parseErr(line, "key field %q: %v", field, err)
			}
			return nil, fmt.Errorf("%w: key field %q: %v", ErrInvalidKey, field, err)
		}
		key[i] = part
	}
	if err := checkKeySize(key); err != nil {
		return nil, err
	}
	return key, nil
}

// isTombstone reports whether a decoded line deletes its key.
func isTombstone(rec Record) bool {
	v, ok := rec[deletedField]
	b, isBool := v.(bool)
	return ok && isBool && b
}

// makeTombstone builds the tombstone object for key under spec: the key
// fields plus the deletion marker.
func makeTombstone(key Key, spec KeySpec) Record {
	obj := make(Record, len(spec)+1)
	for i, field := range spec {
		obj[field] = key[i]
	}
	obj[deletedField] = true
	return obj
}

// checkReadRecord validates a record decoded from disk: the header member
// never appears past line 1, and in the Strict profile no reserved
// $-prefixed member other than $deleted is allowed.
func checkReadRecord(rec Record, line int, strict bool) error {
	if _, ok := rec[headerField]; ok {
		return parseErr(line, "%s is only valid on line 1", headerField)
	}
	if !strict {
		return nil
	}
	for name := range rec {
		if strings.HasPrefix(name, "$") && name != deletedField {
			return parseErr(line, "unknown reserved member %q", name)
		}
	}
	return nil
}

// checkWriteRecord validates an application-supplied record before it is
// stored. Reserved members are never accepted on the write path — the
// engine emits tombstones itself.
func checkWriteRecord(rec Record) error {
	for name := range rec {
		if strings.HasPrefix(name, "$") {
			return fmt.Errorf("%w: record contains reserved member %q", ErrInvalidKey, name)
		}
	}
	return nil
}

// cloneRecord deep-copies a record so later caller mutations cannot leak
// into the table's materialized view.
func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
