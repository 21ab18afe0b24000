// Key model: extraction, validation, canonical encoding and ordering.
//
// A key is a string, an integer, or a tuple of those, fixed in shape by the
// table's key specifier. Keys are compared by value — strings by code-point
// sequence, integers numerically, tuples componentwise — with integers
// ranking before strings when types mix. The canonical byte encoding below
// is used as the map key for lookups; ordering is computed from the parts.
package jsonlt

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Key limits. Integer parts must fit in the range every conforming JSON
// reader can represent exactly.
const (
	MaxIntegerKey = 1<<53 - 1
	MinIntegerKey = -(1<<53 - 1)
	MaxKeyParts   = 16
	MaxKeyBytes   = 1024
)

// Key is a normalized record key: one part for a single-field specifier,
// one part per field for a compound specifier. Parts are string or int64.
type Key []any

// K builds a Key from string and integer parts. Unsupported part types
// surface later as ErrInvalidKey when the key is used.
func K(parts ...any) Key {
	k := make(Key, len(parts))
	for i, p := range parts {
		if n, ok := normalizeInt(p); ok {
			k[i] = n
		} else {
			k[i] = p
		}
	}
	return k
}

// normalizeInt converts any Go integer type to int64.
func normalizeInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// normalizeKey validates an application-supplied key against the specifier
// arity and returns its normalized form. Accepts a bare string or integer
// for single-field specifiers, and a Key or []any for compound ones.
func normalizeKey(v any, spec KeySpec) (Key, error) {
	var parts []any
	switch k := v.(type) {
	case Key:
		parts = k
	case []any:
		parts = k
	default:
		parts = []any{v}
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(parts) != len(spec) {
		return nil, fmt.Errorf("%w: key has %d parts, specifier %v wants %d",
			ErrInvalidKey, len(parts), []string(spec), len(spec))
	}

	out := make(Key, len(parts))
	for i, p := range parts {
		part, err := normalizePart(p)
		if err != nil {
			return nil, err
		}
		out[i] = part
	}
	if err := checkKeySize(out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizePart validates a single key part. Strings pass through
// (including the empty string); integers are range-checked; json.Number is
// accepted only when it is an exact integer. Everything else — null,
// booleans, floats, arrays, objects — is invalid.
func normalizePart(v any) (any, error) {
	switch p := v.(type) {
	case string:
		return p, nil
	case json.Number:
		n, err := strconv.ParseInt(p.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidKey, p.String())
		}
		return checkIntRange(n)
	case float64:
		n := int64(p)
		if float64(n) != p {
			return nil, fmt.Errorf("%w: %v has a fractional part", ErrInvalidKey, p)
		}
		return checkIntRange(n)
	case bool, nil:
		return nil, fmt.Errorf("%w: %v is not a string or integer", ErrInvalidKey, p)
	}
	if n, ok := normalizeInt(v); ok {
		return checkIntRange(n)
	}
	return nil, fmt.Errorf("%w: %T is not a string or integer", ErrInvalidKey, v)
}

func checkIntRange(n int64) (any, error) {
	if n > MaxIntegerKey || n < MinIntegerKey {
		return nil, fmt.Errorf("%w: integer %d outside ±(2^53-1)", ErrInvalidKey, n)
	}
	return n, nil
}

// checkKeySize enforces the part-count and serialized-size limits.
func checkKeySize(k Key) error {
	if len(k) > MaxKeyParts {
		return fmt.Errorf("%w: key has %d parts, maximum is %d", ErrLimit, len(k), MaxKeyParts)
	}
	if n := len(k.canon()); n > MaxKeyBytes {
		return fmt.Errorf("%w: serialized key is %d bytes, maximum is %d", ErrLimit, n, MaxKeyBytes)
	}
	return nil
}

// canon returns the canonical byte encoding used as the lookup map key.
// Length-prefixed so distinct keys can never collide: integer keys and
// numeric-string keys stay distinct.
func (k Key) canon() string {
	var b strings.Builder
	for _, p := range k {
		switch v := p.(type) {
		case int64:
			b.WriteByte('i')
			b.WriteString(strconv.FormatInt(v, 10))
			b.WriteByte(';')
		case string:
			b.WriteByte('s')
			b.WriteString(strconv.Itoa(len(v)))
			b.WriteByte(':')
			b.WriteString(v)
			b.WriteByte(';')
		}
	}
	return b.String()
}

// String renders the key for error messages: a bare scalar for single
// keys, a parenthesized tuple otherwise.
func (k Key) String() string {
	render := func(p any) string {
		switch v := p.(type) {
		case int64:
			return strconv.FormatInt(v, 10)
		case string:
			return strconv.Quote(v)
		}
		return fmt.Sprintf("%v", p)
	}
	if len(k) == 1 {
		return render(k[0])
	}
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = render(p)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// compareKeys orders keys canonically: componentwise, integers numeric,
// strings by code-point sequence, integer before string when types differ.
func compareKeys(a, b Key) int {
	n := min(len(a), len(b))
	for i := range n {
		if c := comparePart(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func comparePart(a, b any) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	switch {
	case aInt && bInt:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aInt:
		return -1 // integer ranks before string
	case bInt:
		return 1
	}
	as, bs := a.(string), b.(string)
	return strings.Compare(as, bs)
}

// KeySpec names the record field(s) holding the key: one name for a single
// key, two or more distinct names for a compound key. Fixed at table
// creation and immutable thereafter.
type KeySpec []string

// validate rejects empty specifiers, empty field names, reserved names and
// duplicates.
func (s KeySpec) validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: key specifier is empty", ErrInvalidKey)
	}
	seen := make(map[string]bool, len(s))
	for _, name := range s {
		if name == "" {
			return fmt.Errorf("%w: key specifier contains an empty field name", ErrInvalidKey)
		}
		if strings.HasPrefix(name, "$") {
			return fmt.Errorf("%w: key field %q uses a reserved name", ErrInvalidKey, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: key specifier repeats field %q", ErrInvalidKey, name)
		}
		seen[name] = true
	}
	return nil
}

// equal reports whether two specifiers name the same fields in order.
func (s KeySpec) equal(o KeySpec) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}
