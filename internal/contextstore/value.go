package contextstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Tree is a namespace tree. Leaves are JSON-shaped values: nil, bool,
// float64, string, []any and map[string]any.
type Tree = map[string]any

// normalize converts v into the JSON-shaped form the store keeps. Numbers
// become float64 and times become RFC3339 strings so that values compare
// equal before and after a snapshot round trip.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}

	// Structs, typed slices and typed maps go through encoding/json.
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// deepCopy copies a normalized value.
func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return x
	}
}

func equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// lookup walks a dotted path. The second result is false when any segment
// is missing or traverses a non-map value.
func lookup(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, part := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// merge deep-merges src into dst and returns the dotted paths whose final
// value changed.
func merge(dst, src map[string]any, prefix string) []string {
	var changed []string
	for k, v := range src {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		existing, ok := dst[k]
		if ok {
			em, eIsMap := existing.(map[string]any)
			vm, vIsMap := v.(map[string]any)
			if eIsMap && vIsMap {
				changed = append(changed, merge(em, vm, path)...)
				continue
			}
			if equal(existing, v) {
				continue
			}
		}
		dst[k] = v
		changed = append(changed, leafPaths(v, path)...)
	}
	return changed
}

// leafPaths lists the dotted paths of every leaf under a freshly inserted
// value, so prefix subscribers see new sub-trees at the depth they watch.
func leafPaths(v any, path string) []string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return []string{path}
	}
	var out []string
	for k, e := range m {
		out = append(out, leafPaths(e, path+"."+k)...)
	}
	return out
}

// seed copies src keys that are absent from dst, recursing into maps
// present on both sides.
func seed(dst, src map[string]any, prefix string) []string {
	var added []string
	for k, v := range src {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			added = append(added, leafPaths(v, path)...)
			continue
		}
		em, eIsMap := existing.(map[string]any)
		vm, vIsMap := v.(map[string]any)
		if eIsMap && vIsMap {
			added = append(added, seed(em, vm, path)...)
		}
	}
	return added
}

// AsFloat reads a numeric leaf.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// AsInt reads a numeric leaf truncated to int.
func AsInt(v any) (int, bool) {
	f, ok := AsFloat(v)
	return int(f), ok
}

// AsString reads a string leaf.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsBool reads a boolean leaf.
func AsBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// AsTime parses an RFC3339 string leaf.
func AsTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AsMap reads a sub-tree.
func AsMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Decode converts a sub-tree into a typed struct via its JSON form.
func Decode(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode context value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode context value: %w", err)
	}
	return nil
}
