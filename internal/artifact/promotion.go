package artifact

// MoveNonConflictingToRespec promotes every mapped selection that is not
// named by an active conflict and returns the promoted ids.
func (s *Store) MoveNonConflictingToRespec() ([]string, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInitLocked(); err != nil {
		return nil, err
	}
	return s.promoteLocked(), nil
}

func (s *Store) promoteLocked() []string {
	blocking := setOf(s.conflictMeta.BlockingConflicts)
	var moved []string
	evicted := false
	for _, id := range sortedKeys(s.mapped) {
		if blocking[id] {
			continue
		}
		e, ok := s.mapped[id]
		if !ok {
			continue
		}
		if s.singleChoiceLocked(e.FieldName) {
			var rivals []string
			for _, rid := range sortedKeys(s.respec) {
				if rid != id && s.respec[rid].FieldName == e.FieldName {
					rivals = append(rivals, rid)
				}
			}
			if len(rivals) > 0 {
				plan := planRemoval(s.selectionLocked(), s.graph, rivals, setOf([]string{id}))
				if removed := s.applyRemovalLocked(plan); len(removed) > 0 {
					s.logf("promotion of %s evicted %v", id, removed)
					evicted = true
				}
			}
		}
		delete(s.mapped, id)
		s.respec[id] = e
		moved = append(moved, id)
	}
	if len(moved) > 0 {
		s.touchMappedLocked()
		s.touchRespecLocked()
		s.metrics.promoted.Add(uint64(len(moved)))
	}
	if evicted {
		s.refreshConflictsLocked(nil)
	}
	return moved
}

// PruneToDependencyClosure removes every selection that is no longer
// reachable through requirement edges from a requirement-rooted selection,
// and returns the removed ids.
func (s *Store) PruneToDependencyClosure() ([]string, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInitLocked(); err != nil {
		return nil, err
	}
	removed := s.pruneLocked()
	if len(removed) > 0 {
		s.refreshConflictsLocked(nil)
	}
	return removed, nil
}

func (s *Store) pruneLocked() []string {
	sel := s.selectionLocked()
	ids := sortedKeys(sel)

	via := make(map[string]string, len(sel))
	var queue []string
	for _, id := range ids {
		e := sel[id]
		if e.Attribution == AttributionRequirement || e.DependencyOf == "" {
			via[id] = ""
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range s.graph.RequiredIDs(id) {
			if _, ok := sel[dep]; !ok {
				continue
			}
			if _, seen := via[dep]; seen {
				continue
			}
			via[dep] = id
			queue = append(queue, dep)
		}
	}

	var removed []string
	for _, id := range ids {
		parent, reachable := via[id]
		if !reachable {
			s.removeLocked(id)
			removed = append(removed, id)
			continue
		}
		if dep := sel[id].DependencyOf; dep != "" && parent != "" {
			if _, ok := via[dep]; !ok {
				s.reparentLocked(id, parent)
			}
		}
	}
	if len(removed) > 0 {
		s.logf("pruned %v outside the dependency closure", removed)
		s.metrics.pruned.Add(uint64(len(removed)))
	}
	return removed
}
