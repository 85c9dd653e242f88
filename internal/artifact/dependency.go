package artifact

import (
	"fmt"
	"strings"

	"respec/internal/types/catalog"
)

type fillMode int

const (
	// fillForced adds an excluded candidate when nothing better exists so the
	// incompatibility surfaces as a cascade conflict.
	fillForced fillMode = iota
	// fillViableOnly never adds a candidate that conflicts with the selection.
	fillViableOnly
)

// fillSpecificationDependencies, in locked form. Categories are AND-ed and
// candidates inside a category are alternatives: a category already holding a
// present candidate is satisfied and only recursed into.
func (s *Store) fillDependenciesLocked(spec catalog.Specification, visited map[string]bool, depth int, tr *trail, mode fillMode) {
	if len(spec.Requires) == 0 {
		return
	}
	if depth > MaxDependencyDepth {
		s.logf("dependency depth limit %d exceeded at %s, abandoning branch", MaxDependencyDepth, spec.ID)
		s.metrics.depthLimited.Add(1)
		return
	}

	confidence := 1.0
	if parent, where := s.lookupLocked(spec.ID); where != PartitionNone {
		confidence = parent.Confidence
	}
	source := SourceDependency
	if mode == fillViableOnly {
		source = SourceConflictResolution
	}

	for _, category := range sortedKeys(spec.Requires) {
		candidates := trimIDs(spec.Requires[category])
		var present []string
		for _, c := range candidates {
			if s.presentLocked(c) {
				present = append(present, c)
			}
		}
		if len(present) > 0 {
			for _, c := range present {
				if visited[c] {
					continue
				}
				visited[c] = true
				if dep, ok := s.specLocked(c); ok {
					s.fillDependenciesLocked(dep, visited, depth+1, tr, mode)
				}
			}
			continue
		}

		dep, ok := s.pickCandidateLocked(candidates, visited, mode)
		if !ok {
			s.logf("requirement %q of %s has no addable candidate among %v", category, spec.ID, candidates)
			continue
		}
		visited[dep.ID] = true
		s.addLocked(dep, AddRequest{
			Source:           source,
			Confidence:       confidence,
			DependencyOf:     spec.ID,
			SubstitutionNote: fmt.Sprintf("required by %s", spec.Name),
		}, tr)
		tr.filled = appendUnique(tr.filled, dep.ID)
		s.fillDependenciesLocked(dep, visited, depth+1, tr, mode)
	}
}

func (s *Store) pickCandidateLocked(candidates []string, visited map[string]bool, mode fillMode) (catalog.Specification, bool) {
	var fallback *catalog.Specification
	for _, c := range candidates {
		if visited[c] {
			continue
		}
		dep, ok := s.specLocked(c)
		if !ok {
			continue
		}
		if s.occupantLocked(dep) != "" {
			continue
		}
		if !s.excludedLocked(dep.ID) {
			return dep, true
		}
		if fallback == nil {
			d := dep
			fallback = &d
		}
	}
	if mode == fillForced && fallback != nil {
		return *fallback, true
	}
	return catalog.Specification{}, false
}

// occupantLocked returns the id holding dep's single-choice field, if it is
// not dep itself.
func (s *Store) occupantLocked(dep catalog.Specification) string {
	if !s.singleChoiceLocked(dep.FieldName) {
		return ""
	}
	for _, id := range s.fieldEntriesLocked(dep.FieldName) {
		if id != dep.ID {
			return id
		}
	}
	return ""
}

func (s *Store) excludedLocked(id string) bool {
	for _, e := range s.graph.ExclusionsFor(id) {
		if other := e.Other(id); other != "" && s.presentLocked(other) {
			return true
		}
	}
	return false
}

func trimIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
