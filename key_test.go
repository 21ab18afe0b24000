package jsonlt

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizePartValid(t *testing.T) {
	for name, v := range map[string]any{
		"string":       "alice",
		"empty string": "",
		"int":          42,
		"zero":         0,
		"negative":     -100,
		"max":          int64(MaxIntegerKey),
		"min":          int64(MinIntegerKey),
	} {
		if _, err := normalizePart(v); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestNormalizePartInvalid(t *testing.T) {
	for name, v := range map[string]any{
		"above max": int64(MaxIntegerKey) + 1,
		"below min": int64(MinIntegerKey) - 1,
		"float":     3.14,
		"nil":       nil,
		"true":      true,
		"false":     false,
		"array":     []any{1},
		"object":    map[string]any{"a": 1},
	} {
		if _, err := normalizePart(v); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("%s: got %v, want ErrInvalidKey", name, err)
		}
	}
}

func TestNormalizePartFloatWithoutFraction(t *testing.T) {
	// JSON "2" can decode as float64 in some paths; whole floats are
	// accepted as integers.
	p, err := normalizePart(float64(2))
	if err != nil {
		t.Fatalf("whole float: %v", err)
	}
	if p != int64(2) {
		t.Errorf("p = %v (%T), want int64 2", p, p)
	}
}

func TestNormalizeKeyArity(t *testing.T) {
	spec := KeySpec{"c", "o"}

	if _, err := normalizeKey("alice", spec); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("scalar for compound spec: got %v", err)
	}
	if _, err := normalizeKey(K("alice", 1), spec); err != nil {
		t.Errorf("matching arity: %v", err)
	}
	if _, err := normalizeKey(K("a", "b", "c"), spec); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("excess arity: got %v", err)
	}
	if _, err := normalizeKey(Key{}, spec); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("empty key: got %v", err)
	}
}

func TestKeyLimits(t *testing.T) {
	parts := make([]any, MaxKeyParts+1)
	for i := range parts {
		parts[i] = "f"
	}
	spec := make(KeySpec, MaxKeyParts+1)
	for i := range spec {
		spec[i] = string(rune('a' + i))
	}
	if _, err := normalizeKey(K(parts...), spec); !errors.Is(err, ErrLimit) {
		t.Errorf("too many parts: got %v, want ErrLimit", err)
	}

	long := strings.Repeat("x", MaxKeyBytes+1)
	if _, err := normalizeKey(long, KeySpec{"id"}); !errors.Is(err, ErrLimit) {
		t.Errorf("oversized key: got %v, want ErrLimit", err)
	}
}

func TestCanonDistinguishesTypes(t *testing.T) {
	cases := [][2]Key{
		{K(1), K("1")},
		{K("a", "b"), K("ab")},
		{K("a;s1:b"), K("a", "b")},
	}
	for _, c := range cases {
		if c[0].canon() == c[1].canon() {
			t.Errorf("canon collision: %v vs %v", c[0], c[1])
		}
	}
	if K(5).canon() != K(int64(5)).canon() {
		t.Errorf("int widths canonize differently")
	}
}

func TestCompareKeys(t *testing.T) {
	ordered := []Key{
		K(-3),
		K(0),
		K(10),
		K(""),
		K("a"),
		K("ab"),
		K("b"),
	}
	for i := 0; i < len(ordered)-1; i++ {
		if compareKeys(ordered[i], ordered[i+1]) >= 0 {
			t.Errorf("%v should sort before %v", ordered[i], ordered[i+1])
		}
	}
	if compareKeys(K("a"), K("a")) != 0 {
		t.Errorf("equal keys compare nonzero")
	}
}

func TestCompareCompoundKeys(t *testing.T) {
	if compareKeys(K("alice", 1), K("alice", 2)) >= 0 {
		t.Errorf("(alice,1) should sort before (alice,2)")
	}
	if compareKeys(K("alice", 2), K("bob", 1)) >= 0 {
		t.Errorf("(alice,2) should sort before (bob,1)")
	}
	// Integer ranks before string within a component.
	if compareKeys(K("x", 9), K("x", "9")) >= 0 {
		t.Errorf("(x,9) should sort before (x,\"9\")")
	}
}

func TestKeySpecValidate(t *testing.T) {
	for name, spec := range map[string]KeySpec{
		"empty":      {},
		"blank name": {""},
		"reserved":   {"$deleted"},
		"duplicate":  {"a", "a"},
	} {
		if err := spec.validate(); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("%s: got %v, want ErrInvalidKey", name, err)
		}
	}
	if err := (KeySpec{"id"}).validate(); err != nil {
		t.Errorf("single: %v", err)
	}
	if err := (KeySpec{"c", "o"}).validate(); err != nil {
		t.Errorf("compound: %v", err)
	}
}

func TestKeyString(t *testing.T) {
	if got := K("alice").String(); got != `"alice"` {
		t.Errorf("String = %s", got)
	}
	if got := K(42).String(); got != "42" {
		t.Errorf("String = %s", got)
	}
	if got := K("alice", 1).String(); got != `("alice", 1)` {
		t.Errorf("String = %s", got)
	}
}
