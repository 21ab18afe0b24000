// Line codec for the newline-delimited format.
//
// Every line is one JSON object: UTF-8, object keys in sorted order, no
// insignificant whitespace, terminated by '\n'. Decoding is strict about
// shape — a line must hold exactly one object — and, in the Strict parser
// profile, about duplicate member names anywhere in the object.
package jsonlt

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// encodeLine emits one canonical line for obj, including the trailing
// newline. Map keys are emitted in sorted order at every nesting level.
func encodeLine(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeLine parses one line (without its newline) into an object. Numbers
// decode as json.Number so integer keys survive exactly. line is the
// 1-based position used in errors; strict enables duplicate-member
// rejection.
func decodeLine(data []byte, line int, strict bool) (map[string]any, error) {
	if !utf8.Valid(data) {
		return nil, parseErr(line, "invalid UTF-8")
	}
	if bytes.IndexByte(data, '\n') >= 0 {
		return nil, parseErr(line, "embedded newline")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, parseErr(line, "invalid JSON object: %v", err)
	}
	if obj == nil {
		return nil, parseErr(line, "not a JSON object")
	}
	// Exactly one value per line.
	if _, err := dec.Token(); err != io.EOF {
		return nil, parseErr(line, "trailing data after object")
	}

	if strict {
		if err := checkDuplicateMembers(data, line); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// checkDuplicateMembers walks the token stream and rejects repeated member
// names at any object depth. goccy's Decoder, like encoding/json's, keeps
// the last duplicate silently, so this is a separate pass.
func checkDuplicateMembers(data []byte, line int) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	type frame struct {
		object     bool
		seen       map[string]bool
		expectName bool
	}
	var stack []*frame

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return parseErr(line, "invalid JSON object: %v", err)
		}

		if len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.object && top.expectName {
				if name, ok := tok.(string); ok {
					if top.seen[name] {
						return parseErr(line, "duplicate member %q", name)
					}
					top.seen[name] = true
					top.expectName = false
					continue
				}
				// '}' closing the object falls through below.
			}
		}

		switch d := tok.(type) {
		case json.Delim:
			switch d {
			case '{':
				stack = append(stack, &frame{object: true, seen: map[string]bool{}, expectName: true})
				continue
			case '[':
				stack = append(stack, &frame{})
				continue
			case '}', ']':
				stack = stack[:len(stack)-1]
			}
		}
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.object {
				top.expectName = true
			}
		}
	}
}
