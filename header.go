// Header line management.
//
// Line 1 of every table file is {"$jsonlt":{"key":K,"version":1}} where K
// is a string for a single-field key or an array of 2+ strings for a
// compound key. The header is the only line allowed to carry the $jsonlt
// member.
package jsonlt

import (
	json "github.com/goccy/go-json"
)

// headerField is the reserved member that marks the header line.
// deletedField marks a tombstone line.
const (
	headerField  = "$jsonlt"
	deletedField = "$deleted"
)

// formatVersion is the only version this engine reads or writes.
const formatVersion = 1

// parseHeader validates the first line and returns the declared key
// specifier. In the Strict profile unknown header members are rejected; in
// the Lenient profile they are ignored.
func parseHeader(data []byte, strict bool) (KeySpec, error) {
	obj, err := decodeLine(data, 1, strict)
	if err != nil {
		return nil, err
	}

	raw, ok := obj[headerField]
	if !ok {
		return nil, parseErr(1, "missing %s header", headerField)
	}
	if strict && len(obj) != 1 {
		return nil, parseErr(1, "unexpected members beside %s", headerField)
	}

	body, ok := raw.(map[string]any)
	if !ok {
		return nil, parseErr(1, "%s is not an object", headerField)
	}
	if strict {
		for name := range body {
			if name != "key" && name != "version" {
				return nil, parseErr(1, "unknown header field %q", name)
			}
		}
	}

	ver, ok := body["version"].(json.Number)
	if !ok {
		return nil, parseErr(1, "missing or non-numeric version")
	}
	if v, err := ver.Int64(); err != nil || v != formatVersion {
		return nil, parseErr(1, "unsupported version %s", ver.String())
	}

	spec, err := specFromJSON(body["key"])
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// specFromJSON converts the header's key member — a string or an array of
// 2+ strings — into a KeySpec.
func specFromJSON(v any) (KeySpec, error) {
	switch k := v.(type) {
	case string:
		spec := KeySpec{k}
		if err := spec.validate(); err != nil {
			return nil, parseErr(1, "invalid key specifier: %v", err)
		}
		return spec, nil
	case []any:
		if len(k) < 2 {
			return nil, parseErr(1, "compound key specifier needs 2+ fields")
		}
		spec := make(KeySpec, len(k))
		for i, f := range k {
			name, ok := f.(string)
			if !ok {
				return nil, parseErr(1, "key specifier field %d is not a string", i)
			}
			spec[i] = name
		}
		if err := spec.validate(); err != nil {
			return nil, parseErr(1, "invalid key specifier: %v", err)
		}
		return spec, nil
	}
	return nil, parseErr(1, "key specifier is not a string or array")
}

// encodeHeader emits the canonical header line, trailing newline included.
func encodeHeader(spec KeySpec) ([]byte, error) {
	var key any
	if len(spec) == 1 {
		key = spec[0]
	} else {
		key = []string(spec)
	}
	return encodeLine(map[string]any{
		headerField: map[string]any{
			"key":     key,
			"version": formatVersion,
		},
	})
}
