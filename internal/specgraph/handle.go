package specgraph

import (
	"sync/atomic"

	"respec/internal/types/catalog"
)

// Handle is a shared Graph whose index is published once the dataset
// collaborator finishes loading. Until then Loaded reports false and every
// query returns the zero answer.
type Handle struct {
	idx atomic.Pointer[Index]
}

func NewHandle() *Handle {
	return &Handle{}
}

// Publish makes idx visible to all readers of the handle.
func (h *Handle) Publish(idx *Index) {
	h.idx.Store(idx)
}

// Index returns the published index or nil.
func (h *Handle) Index() *Index {
	if h == nil {
		return nil
	}
	return h.idx.Load()
}

func (h *Handle) Loaded() bool {
	return h.Index().Loaded()
}

func (h *Handle) Specification(id string) (catalog.Specification, bool) {
	return h.Index().Specification(id)
}

func (h *Handle) SpecificationsForField(field string) []catalog.Specification {
	return h.Index().SpecificationsForField(field)
}

func (h *Handle) RequiredIDs(id string) []string {
	return h.Index().RequiredIDs(id)
}

func (h *Handle) ExclusionsFor(id string) []catalog.Exclusion {
	return h.Index().ExclusionsFor(id)
}

func (h *Handle) Exclusion(a, b string) (catalog.Exclusion, bool) {
	return h.Index().Exclusion(a, b)
}

func (h *Handle) ValidOptions(field string, selected []string) []catalog.Specification {
	return h.Index().ValidOptions(field, selected)
}

func (h *Handle) Field(name string) (catalog.UIField, bool) {
	return h.Index().Field(name)
}

func (h *Handle) Fields() []catalog.UIField {
	return h.Index().Fields()
}

var (
	_ Graph = (*Index)(nil)
	_ Graph = (*Handle)(nil)
)
