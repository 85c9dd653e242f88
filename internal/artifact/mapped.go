package artifact

import (
	"fmt"
	"strings"

	"respec/internal/types/catalog"
)

// trail collects side effects of one outer mutation.
type trail struct {
	filled     []string
	displaced  []string
	reparented []string
}

// AddSpecificationToMapped inserts or updates a selection in the mapped
// partition. A non-dependency call on a single-choice field first displaces
// every other selection of that field together with its assumption-only
// dependents, then fills missing requirements and re-scans conflicts scoped
// to the touched ids.
func (s *Store) AddSpecificationToMapped(req AddRequest) (AddResult, error) {
	if s == nil {
		return AddResult{}, ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInitLocked(); err != nil {
		return AddResult{}, err
	}

	id := strings.TrimSpace(req.SpecID)
	spec, ok := s.graph.Specification(id)
	if !ok {
		return AddResult{}, fmt.Errorf("%w: %s", ErrUnknownSpecification, id)
	}

	tr := &trail{}
	s.addLocked(spec, req, tr)
	s.metrics.added.Add(1)

	if strings.TrimSpace(req.DependencyOf) == "" {
		visited := map[string]bool{spec.ID: true}
		s.fillDependenciesLocked(spec, visited, 0, tr, fillForced)

		scope := appendUnique(nil, req.Scope...)
		scope = appendUnique(scope, spec.ID)
		scope = appendUnique(scope, tr.filled...)
		scope = appendUnique(scope, tr.displaced...)
		scope = appendUnique(scope, tr.reparented...)
		s.refreshConflictsLocked(scope)
	}

	s.metrics.filled.Add(uint64(len(tr.filled)))
	s.metrics.displaced.Add(uint64(len(tr.displaced)))
	return AddResult{
		ID:        spec.ID,
		Filled:    tr.filled,
		Displaced: tr.displaced,
		Blocked:   s.conflictMeta.SystemBlocked,
	}, nil
}

func (s *Store) addLocked(spec catalog.Specification, req AddRequest, tr *trail) Entry {
	parent := strings.TrimSpace(req.DependencyOf)
	attribution := req.Attribution
	if attribution == "" {
		attribution = AttributionRequirement
	}
	if parent != "" {
		attribution = AttributionAssumption
	}

	if parent == "" && s.singleChoiceLocked(spec.FieldName) {
		var rivals []string
		for _, id := range s.fieldEntriesLocked(spec.FieldName) {
			if id != spec.ID {
				rivals = append(rivals, id)
			}
		}
		if len(rivals) > 0 {
			plan := planRemoval(s.selectionLocked(), s.graph, rivals, setOf([]string{spec.ID}))
			removed := s.applyRemovalLocked(plan)
			tr.displaced = appendUnique(tr.displaced, removed...)
			tr.reparented = appendUnique(tr.reparented, sortedKeys(plan.reparent)...)
			s.logf("%s displaced %v on single-choice field %s", spec.ID, removed, spec.FieldName)
		}
	}

	value := strings.TrimSpace(req.Value)
	if value == "" {
		value = spec.DefaultValue()
	}
	source := req.Source
	if source == "" {
		source = SourceUser
		if parent != "" {
			source = SourceDependency
		}
	}
	confidence := req.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 1
	}

	e := Entry{
		ID:               spec.ID,
		Name:             spec.Name,
		FieldName:        spec.FieldName,
		Value:            value,
		Attribution:      attribution,
		Source:           source,
		Confidence:       confidence,
		OriginalRequest:  strings.TrimSpace(req.OriginalRequest),
		SubstitutionNote: strings.TrimSpace(req.SubstitutionNote),
		Timestamp:        s.now(),
		DependencyOf:     parent,
	}
	s.putMappedLocked(e)
	return e
}

// ClearFieldSelections removes every mapped and respec selection of field
// and re-scans conflicts. It returns the removed ids.
func (s *Store) ClearFieldSelections(field string) ([]string, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInitLocked(); err != nil {
		return nil, err
	}
	field = strings.TrimSpace(field)
	ids := s.fieldEntriesLocked(field)
	if len(ids) == 0 {
		return nil, nil
	}
	for _, id := range ids {
		s.removeLocked(id)
	}
	s.metrics.cleared.Add(uint64(len(ids)))
	s.refreshConflictsLocked(nil)
	return ids, nil
}
