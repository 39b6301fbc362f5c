// Package canon implements the canonical JSON encoding that every
// content-addressed identity hash in docindex is derived from: object
// keys sorted lexicographically, no insignificant whitespace, and
// numeric values preserved losslessly.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns the canonical JSON encoding of v. v is first passed
// through a regular json.Marshal/Unmarshal round trip so that structs,
// maps, and slices of any shape normalize to the same generic form;
// canonicalization then re-encodes that form with sorted object keys
// and no whitespace, never relying on encoding/json's own map
// iteration order.
func Marshal(v any) ([]byte, error) {
	generic, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashOf returns sha256_hex(canonical(v)).
func HashOf(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	return generic, nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		// t.String() is the exact text encoding/json produced for this
		// value; re-emitting it verbatim is what gives numbers lossless,
		// shortest-round-trip representation.
		buf.WriteString(t.String())
		return nil
	case string:
		encodeString(buf, t)
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
}

func encodeString(buf *bytes.Buffer, s string) {
	// encoding/json's string escaping is already minimal and stable;
	// reuse it for the leaf values so canonicalization only has to own
	// key ordering and whitespace.
	b, _ := json.Marshal(s)
	buf.Write(b)
}
