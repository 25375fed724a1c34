// Package baseline builds canonical, hashable snapshots of a server's
// discovered capabilities and observed behavior.
package baseline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// cycleMarker replaces values reached through a reference cycle so
// canonicalization never recurses forever.
const cycleMarker = "__cycle__"

// setKeys are schema arrays with set semantics: element order is noise and
// is sorted away. Arrays under any other key keep their declared order.
var setKeys = map[string]bool{
	"required": true,
	"enum":     true,
}

// CanonicalJSON encodes v deterministically: object keys in code-point
// order, required/enum arrays sorted as sets, integral floats collapsed to
// integers, floats in shortest round-trip form, strings NFC-normalized.
// Unknown keys pass through untouched.
func CanonicalJSON(v any) ([]byte, error) {
	tree := normalize(v, "", make(map[uintptr]bool))

	var buf bytes.Buffer
	if err := encode(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeRaw re-encodes a raw JSON document canonically. Invalid JSON
// is returned unchanged so opaque schemas never break a baseline build.
func CanonicalizeRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}

	out, err := CanonicalJSON(v)
	if err != nil {
		return raw
	}
	return out
}

// normalize walks an arbitrary value into a tree of
// nil/bool/string/canonNumber/[]any/map[string]any. key is the object key
// the value sits under, which decides set semantics for arrays.
func normalize(v any, key string, seen map[uintptr]bool) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return t
	case string:
		return norm.NFC.String(t)
	case json.Number:
		return canonNumberFromString(string(t))
	case float64:
		return canonNumberFromFloat(t)
	case int:
		return canonNumber{text: strconv.Itoa(t)}
	case int64:
		return canonNumber{text: strconv.FormatInt(t, 10)}
	case map[string]any:
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			return cycleMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, len(t))
		for k, elem := range t {
			nk := norm.NFC.String(k)
			out[nk] = normalize(elem, nk, seen)
		}
		return out
	case []any:
		ptr := reflect.ValueOf(t).Pointer()
		if seen[ptr] {
			return cycleMarker
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = normalize(elem, "", seen)
		}
		if setKeys[key] {
			sortAsSet(out)
		}
		return out
	default:
		return normalizeReflect(v, key, seen)
	}
}

// normalizeReflect routes typed Go values through their JSON encoding.
func normalizeReflect(v any, key string, seen map[uintptr]bool) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return string(raw)
	}
	return normalize(decoded, key, seen)
}

// canonNumber carries a number's canonical textual form: integral values
// without fraction or exponent, others in shortest round-trip notation.
type canonNumber struct {
	text string
}

func canonNumberFromString(s string) canonNumber {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return canonNumber{text: strconv.FormatInt(i, 10)}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return canonNumber{text: "0"}
	}
	return canonNumberFromFloat(f)
}

func canonNumberFromFloat(f float64) canonNumber {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return canonNumber{text: strconv.FormatInt(int64(f), 10)}
	}
	return canonNumber{text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// sortAsSet orders array elements by their canonical encoding.
func sortAsSet(elems []any) {
	keys := make([]string, len(elems))
	for i, e := range elems {
		var buf bytes.Buffer
		encode(&buf, e)
		keys[i] = buf.String()
	}
	sort.Sort(&setSorter{elems: elems, keys: keys})
}

type setSorter struct {
	elems []any
	keys  []string
}

func (s *setSorter) Len() int           { return len(s.elems) }
func (s *setSorter) Less(i, j int) bool { return s.keys[i] < s.keys[j] }
func (s *setSorter) Swap(i, j int) {
	s.elems[i], s.elems[j] = s.elems[j], s.elems[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(raw)
	case canonNumber:
		buf.WriteString(t.text)
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
			raw, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(raw)
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unexpected canonical node type %T", v)
	}
	return nil
}
