// Package canon produces a deterministic byte encoding of structured values
// and a content hash over it, used to detect when an aggregated context has
// meaningfully changed. Map keys are emitted in sorted order so two
// semantically equal values hash identically regardless of insertion order.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"sort"

	gojson "github.com/goccy/go-json"
)

// circularToken replaces any composite value encountered twice during the
// walk. It keeps the encoding terminating on cyclic or shared structures;
// it does not attempt cyclic equality.
const circularToken = `"[Circular]"`

// Canonicalize returns the deterministic encoding of v. It never fails:
// values that cannot be encoded collapse to the circular token.
func Canonicalize(v any) []byte {
	var buf bytes.Buffer
	seen := make(map[uintptr]bool)
	writeValue(&buf, v, seen)
	return buf.Bytes()
}

// Hash returns the hex-encoded SHA-256 digest of the canonical encoding.
func Hash(v any) string {
	sum := sha256.Sum256(Canonicalize(v))
	return hex.EncodeToString(sum[:])
}

// Changed reports whether a context hash differs from the previous one.
// An empty previous hash means no prior snapshot and always counts as a
// change.
func Changed(prevHash, nextHash string) bool {
	if prevHash == "" {
		return true
	}
	return prevHash != nextHash
}

func writeValue(buf *bytes.Buffer, v any, seen map[uintptr]bool) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			buf.WriteString(circularToken)
			return
		}
		seen[p] = true
		writeMap(buf, t, seen)
	case []any:
		if t != nil {
			p := reflect.ValueOf(t).Pointer()
			if seen[p] {
				buf.WriteString(circularToken)
				return
			}
			seen[p] = true
		}
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, elem, seen)
		}
		buf.WriteByte(']')
	case bool, string, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		writeScalar(buf, t)
	default:
		writeComposite(buf, t, seen)
	}
}

func writeMap(buf *bytes.Buffer, m map[string]any, seen map[uintptr]bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeScalar(buf, k)
		buf.WriteByte(':')
		writeValue(buf, m[k], seen)
	}
	buf.WriteByte('}')
}

func writeScalar(buf *bytes.Buffer, v any) {
	b, err := gojson.Marshal(v)
	if err != nil {
		buf.WriteString(circularToken)
		return
	}
	buf.Write(b)
}

// writeComposite handles structs, typed maps and slices, and pointers by
// round-tripping them through JSON into the generic shape and walking that.
// Pointer identity is tracked before the round-trip so self-referential
// structures terminate: the JSON encoder rejects cycles and the value
// collapses to the circular token.
func writeComposite(buf *bytes.Buffer, v any, seen map[uintptr]bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			buf.WriteString("null")
			return
		}
		p := rv.Pointer()
		if seen[p] {
			buf.WriteString(circularToken)
			return
		}
		seen[p] = true
	}

	b, err := gojson.Marshal(v)
	if err != nil {
		buf.WriteString(circularToken)
		return
	}
	var generic any
	if err := gojson.Unmarshal(b, &generic); err != nil {
		buf.WriteString(circularToken)
		return
	}
	writeValue(buf, generic, seen)
}
