// Package docstore holds the document mechanics shared by every store backend:
// field-path updates, optimistic transaction buffers, retry and change fan-out.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"offbeat/internal/ports"
)

// ErrInvalidPath is returned for empty path segments or paths that cross a non-map value.
var ErrInvalidPath = errors.New("invalid field path")

// Normalize converts v into its JSON tree form so values from any source compare equal.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode serializes a document body.
func Encode(doc map[string]any) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// Decode parses a document body.
func Decode(raw []byte) (map[string]any, error) {
	doc := map[string]any{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Clone deep-copies a document body.
func Clone(doc map[string]any) (map[string]any, error) {
	raw, err := Encode(doc)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

func splitPath(path string) ([]string, error) {
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// walk returns the map holding the last segment. With create unset a missing
// branch yields a nil map and no error.
func walk(doc map[string]any, segs []string, create bool) (map[string]any, error) {
	cur := doc
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s]
		if !ok || next == nil {
			if !create {
				return nil, nil
			}
			m := map[string]any{}
			cur[s] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			if !create {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s is not a map", ErrInvalidPath, s)
		}
		cur = m
	}
	return cur, nil
}

// Lookup returns the value at path.
func Lookup(doc map[string]any, path string) (any, bool) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	parent, _ := walk(doc, segs, false)
	if parent == nil {
		return nil, false
	}
	v, ok := parent[segs[len(segs)-1]]
	return v, ok
}

// ApplyUpdates mutates doc in place. On error doc may be partially updated.
func ApplyUpdates(doc map[string]any, updates []ports.FieldUpdate) error {
	for _, u := range updates {
		if err := apply(doc, u); err != nil {
			return fmt.Errorf("%s %s: %w", u.Op, u.Path, err)
		}
	}
	return nil
}

func apply(doc map[string]any, u ports.FieldUpdate) error {
	segs, err := splitPath(u.Path)
	if err != nil {
		return err
	}
	last := segs[len(segs)-1]

	if u.Op == ports.OpDelete {
		parent, _ := walk(doc, segs, false)
		if parent != nil {
			delete(parent, last)
		}
		return nil
	}

	parent, err := walk(doc, segs, true)
	if err != nil {
		return err
	}

	switch u.Op {
	case ports.OpSet:
		v, err := Normalize(u.Value)
		if err != nil {
			return err
		}
		parent[last] = v
	case ports.OpArrayUnion:
		arr, _ := parent[last].([]any)
		if arr == nil {
			arr = []any{}
		}
		for _, raw := range u.Values {
			v, err := Normalize(raw)
			if err != nil {
				return err
			}
			if !containsValue(arr, v) {
				arr = append(arr, v)
			}
		}
		parent[last] = arr
	case ports.OpArrayRemove:
		arr, _ := parent[last].([]any)
		remove := make([]any, 0, len(u.Values))
		for _, raw := range u.Values {
			v, err := Normalize(raw)
			if err != nil {
				return err
			}
			remove = append(remove, v)
		}
		out := []any{}
		for _, el := range arr {
			if !containsValue(remove, el) {
				out = append(out, el)
			}
		}
		parent[last] = out
	case ports.OpIncrement:
		delta, err := toFloat(u.Value)
		if err != nil {
			return err
		}
		cur, _ := parent[last].(float64)
		parent[last] = cur + delta
	default:
		return fmt.Errorf("unsupported op %d", u.Op)
	}
	return nil
}

func containsValue(arr []any, v any) bool {
	for _, el := range arr {
		if reflect.DeepEqual(el, v) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("increment by non-number %T", v)
	}
}

// Matches reports whether doc satisfies every condition.
func Matches(doc map[string]any, conds []ports.Condition) bool {
	for _, c := range conds {
		got, ok := Lookup(doc, c.Path)
		if !ok {
			return false
		}
		want, err := Normalize(c.Value)
		if err != nil || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
