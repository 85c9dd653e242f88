package specgraph

import (
	"sort"
	"strings"

	"respec/internal/types/catalog"
)

func (x *Index) ValidOptions(field string, selected []string) []catalog.Specification {
	if x == nil {
		return nil
	}
	field = strings.TrimSpace(field)
	ids := x.validOptionIDs(field, selected)
	out := make([]catalog.Specification, 0, len(ids))
	for _, id := range ids {
		out = append(out, x.specs[id])
	}
	return out
}

func (x *Index) validOptionIDs(field string, selected []string) []string {
	sel := normalizeSelection(selected)
	key := field + "\x00" + strings.Join(sel, "\x00")
	if x.options != nil {
		if ids, ok := x.options.Get(key); ok {
			return ids
		}
	}

	ids := make([]string, 0, len(x.byField[field]))
	for _, opt := range x.byField[field] {
		if !x.hardExcluded(opt, field, sel) {
			ids = append(ids, opt)
		}
	}
	if x.options != nil {
		x.options.Add(key, ids)
	}
	return ids
}

func (x *Index) hardExcluded(opt, field string, selected []string) bool {
	for _, id := range selected {
		if id == opt {
			continue
		}
		if s, ok := x.specs[id]; ok && s.FieldName == field {
			continue
		}
		if e, ok := x.pairs[newPairKey(opt, id)]; ok && e.Severity.Hard() {
			return true
		}
	}
	return false
}

func normalizeSelection(selected []string) []string {
	out := make([]string, 0, len(selected))
	seen := make(map[string]bool, len(selected))
	for _, id := range selected {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
