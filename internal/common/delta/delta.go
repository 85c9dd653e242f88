// Package delta computes and applies path-addressed changes between two
// JSON-compatible documents. Sessions use it to ship form-state changes
// instead of the whole form.
package delta

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Delta captures changes between two JSON-compatible values. Every added or
// removed path also appears in Modified with a nil Before or After.
type Delta struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []Mod    `json:"modified"`
}

// Mod records a single path change.
type Mod struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// Options controls diff behavior.
type Options struct {
	// MaxChanges caps recorded modifications; 0 means 200.
	MaxChanges int
	// MaxDepth stops descending into objects below this depth and records
	// the whole subtree as one modification; 0 means unlimited.
	MaxDepth int
}

// Empty reports whether d carries no change.
func (d Delta) Empty() bool {
	return len(d.Modified) == 0
}

// Diff computes a delta between before and after. Object keys are visited in
// sorted order so equal inputs always produce equal deltas.
func Diff(before, after any, opts Options) Delta {
	w := walker{remaining: opts.MaxChanges, maxDepth: opts.MaxDepth}
	if w.remaining <= 0 {
		w.remaining = 200
	}
	w.diff("", 0, normalizeJSON(before), normalizeJSON(after))
	Normalize(&w.d)
	return w.d
}

type walker struct {
	d         Delta
	remaining int
	maxDepth  int
}

func (w *walker) diff(path string, depth int, before, after any) {
	if w.remaining <= 0 || reflect.DeepEqual(before, after) {
		return
	}
	bm, bok := before.(map[string]any)
	am, aok := after.(map[string]any)
	if !bok || !aok || (w.maxDepth > 0 && depth >= w.maxDepth) {
		w.record(path, before, after)
		return
	}
	keys := make([]string, 0, len(bm)+len(am))
	for k := range bm {
		keys = append(keys, k)
	}
	for k := range am {
		if _, ok := bm[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if w.remaining <= 0 {
			return
		}
		field := joinPath(path, k)
		bv, inBefore := bm[k]
		av, inAfter := am[k]
		switch {
		case !inAfter:
			if w.record(field, bv, nil) {
				w.d.Removed = append(w.d.Removed, field)
			}
		case !inBefore:
			if w.record(field, nil, av) {
				w.d.Added = append(w.d.Added, field)
			}
		default:
			w.diff(field, depth+1, bv, av)
		}
	}
}

func (w *walker) record(field string, before, after any) bool {
	if w.remaining <= 0 {
		return false
	}
	if field == "" {
		field = "$"
	}
	w.remaining--
	w.d.Modified = append(w.d.Modified, Mod{Field: field, Before: before, After: after})
	return true
}

// Apply applies d to a JSON-compatible value and returns the result. A nil
// After deletes the path.
func Apply(root any, d Delta) (any, error) {
	cur := normalizeJSON(root)
	for _, mod := range d.Modified {
		field := strings.TrimSpace(mod.Field)
		if field == "" || field == "$" {
			cur = normalizeJSON(mod.After)
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			if cur != nil {
				return nil, fmt.Errorf("delta: cannot set %s on non-object root", field)
			}
			obj = map[string]any{}
			cur = obj
		}
		if err := setPath(obj, strings.Split(field, "."), normalizeJSON(mod.After)); err != nil {
			return nil, fmt.Errorf("delta: %s: %w", field, err)
		}
	}
	return cur, nil
}

func setPath(node map[string]any, keys []string, value any) error {
	key := strings.TrimSpace(keys[0])
	if key == "" {
		return fmt.Errorf("empty path segment")
	}
	if len(keys) == 1 {
		if value == nil {
			delete(node, key)
		} else {
			node[key] = value
		}
		return nil
	}
	child, ok := node[key].(map[string]any)
	if !ok {
		if value == nil {
			return nil
		}
		child = map[string]any{}
		node[key] = child
	}
	return setPath(child, keys[1:], value)
}

// Normalize ensures delta slices are non-nil for downstream stability.
func Normalize(d *Delta) {
	if d == nil {
		return
	}
	if d.Added == nil {
		d.Added = []string{}
	}
	if d.Removed == nil {
		d.Removed = []string{}
	}
	if d.Modified == nil {
		d.Modified = []Mod{}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func normalizeJSON(v any) any {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(t, &out); err == nil {
			return out
		}
	case map[string]any, []any, string, float64, bool:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
