package specgraph

import (
	"fmt"
	"log"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"respec/internal/types/catalog"
)

const defaultOptionCacheSize = 4096

type pairKey struct {
	a, b string
}

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// Index is the immutable in-memory implementation of Graph.
type Index struct {
	version    string
	specs      map[string]catalog.Specification
	byField    map[string][]string
	required   map[string][]string
	exclusions map[string][]catalog.Exclusion
	pairs      map[pairKey]catalog.Exclusion
	fields     map[string]catalog.UIField
	fieldList  []catalog.UIField

	options *lru.Cache[string, []string]
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	optionCacheSize int
}

// WithOptionCacheSize bounds the ValidOptions memo. Zero disables it.
func WithOptionCacheSize(n int) Option {
	return func(o *buildOptions) { o.optionCacheSize = n }
}

// Build indexes ds. The dataset is validated first; dangling references in
// requires or exclusions are logged and kept.
func Build(ds *catalog.Dataset, opts ...Option) (*Index, error) {
	if ds == nil {
		return nil, fmt.Errorf("specgraph: dataset is nil")
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("specgraph: %w", err)
	}
	bo := buildOptions{optionCacheSize: defaultOptionCacheSize}
	for _, opt := range opts {
		opt(&bo)
	}

	idx := &Index{
		version:    ds.Version,
		specs:      make(map[string]catalog.Specification, len(ds.Specifications)),
		byField:    make(map[string][]string),
		required:   make(map[string][]string, len(ds.Specifications)),
		exclusions: make(map[string][]catalog.Exclusion),
		pairs:      make(map[pairKey]catalog.Exclusion, len(ds.Exclusions)),
		fields:     make(map[string]catalog.UIField, len(ds.Fields)),
	}
	for _, f := range ds.Fields {
		idx.fields[f.FieldName] = f
		idx.fieldList = append(idx.fieldList, f)
	}
	sort.SliceStable(idx.fieldList, func(i, j int) bool {
		if idx.fieldList[i].Section != idx.fieldList[j].Section {
			return idx.fieldList[i].Section < idx.fieldList[j].Section
		}
		return idx.fieldList[i].FieldName < idx.fieldList[j].FieldName
	})

	for _, s := range ds.Specifications {
		idx.specs[s.ID] = s
		if s.FieldName != "" {
			idx.byField[s.FieldName] = append(idx.byField[s.FieldName], s.ID)
		}
	}
	for _, s := range ds.Specifications {
		idx.required[s.ID] = flattenRequires(s)
		for _, dep := range idx.required[s.ID] {
			if _, ok := idx.specs[dep]; !ok {
				log.Printf("specgraph: %s requires unknown specification %s", s.ID, dep)
			}
		}
	}
	for _, e := range ds.Exclusions {
		for _, id := range []string{e.A, e.B} {
			if _, ok := idx.specs[id]; !ok {
				log.Printf("specgraph: exclusion %s/%s references unknown specification %s", e.A, e.B, id)
			}
		}
		key := newPairKey(e.A, e.B)
		if _, dup := idx.pairs[key]; dup {
			continue
		}
		idx.pairs[key] = e
		idx.exclusions[e.A] = append(idx.exclusions[e.A], e)
		idx.exclusions[e.B] = append(idx.exclusions[e.B], e)
	}

	if bo.optionCacheSize > 0 {
		cache, err := lru.New[string, []string](bo.optionCacheSize)
		if err != nil {
			return nil, fmt.Errorf("specgraph: option cache: %w", err)
		}
		idx.options = cache
	}
	return idx, nil
}

func flattenRequires(s catalog.Specification) []string {
	if len(s.Requires) == 0 {
		return nil
	}
	cats := make([]string, 0, len(s.Requires))
	for c := range s.Requires {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	seen := make(map[string]bool)
	var out []string
	for _, c := range cats {
		for _, id := range s.Requires[c] {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (x *Index) Loaded() bool {
	return x != nil && x.specs != nil
}

// Version is the dataset version string, if any.
func (x *Index) Version() string {
	if x == nil {
		return ""
	}
	return x.version
}

// Len is the number of indexed specifications.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.specs)
}

func (x *Index) Specification(id string) (catalog.Specification, bool) {
	if x == nil {
		return catalog.Specification{}, false
	}
	s, ok := x.specs[strings.TrimSpace(id)]
	return s, ok
}

func (x *Index) SpecificationsForField(field string) []catalog.Specification {
	if x == nil {
		return nil
	}
	ids := x.byField[strings.TrimSpace(field)]
	out := make([]catalog.Specification, 0, len(ids))
	for _, id := range ids {
		out = append(out, x.specs[id])
	}
	return out
}

func (x *Index) RequiredIDs(id string) []string {
	if x == nil {
		return nil
	}
	return append([]string(nil), x.required[strings.TrimSpace(id)]...)
}

func (x *Index) ExclusionsFor(id string) []catalog.Exclusion {
	if x == nil {
		return nil
	}
	return append([]catalog.Exclusion(nil), x.exclusions[strings.TrimSpace(id)]...)
}

func (x *Index) Exclusion(a, b string) (catalog.Exclusion, bool) {
	if x == nil {
		return catalog.Exclusion{}, false
	}
	e, ok := x.pairs[newPairKey(strings.TrimSpace(a), strings.TrimSpace(b))]
	return e, ok
}

func (x *Index) Field(name string) (catalog.UIField, bool) {
	if x == nil {
		return catalog.UIField{}, false
	}
	f, ok := x.fields[strings.TrimSpace(name)]
	return f, ok
}

func (x *Index) Fields() []catalog.UIField {
	if x == nil {
		return nil
	}
	return append([]catalog.UIField(nil), x.fieldList...)
}
