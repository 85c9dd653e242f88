package artifact

import (
	"fmt"
	"sort"
	"strings"

	"respec/internal/specgraph"
)

// Plan is the concrete outcome of choosing one resolution option.
type Plan struct {
	Winners  []string
	Losers   []string
	Reparent map[string]string
}

// PlanResolution computes which ids survive and which are removed when opt is
// chosen for c. Losers are the affected nodes outside opt.TargetNodes plus
// every assumption whose back-reference chain leads to a loser, except those a
// surviving selection still requires; those are re-attributed to it.
func PlanResolution(sel map[string]Entry, g specgraph.Graph, c Conflict, opt ResolutionOption) (Plan, error) {
	if len(opt.TargetNodes) == 0 {
		return Plan{}, fmt.Errorf("%w: conflict %s option %s", ErrMalformedResolution, c.ID, opt.ID)
	}
	winners := setOf(opt.TargetNodes)
	var seeds []string
	for _, id := range c.AffectedNodes {
		if !winners[id] {
			seeds = append(seeds, id)
		}
	}
	rp := planRemoval(sel, g, seeds, winners)
	return Plan{
		Winners:  sortedKeys(winners),
		Losers:   rp.remove,
		Reparent: rp.reparent,
	}, nil
}

type removalPlan struct {
	remove   []string
	reparent map[string]string
}

func planRemoval(sel map[string]Entry, g specgraph.Graph, seeds []string, protect map[string]bool) removalPlan {
	losers := make(map[string]bool)
	seeded := make(map[string]bool)
	for _, id := range seeds {
		if _, ok := sel[id]; ok && !protect[id] {
			losers[id] = true
			seeded[id] = true
		}
	}

	for changed := true; changed; {
		changed = false
		for id, e := range sel {
			if losers[id] || protect[id] || e.DependencyOf == "" {
				continue
			}
			if losers[e.DependencyOf] {
				losers[id] = true
				changed = true
			}
		}
	}

	reparent := make(map[string]string)
	ids := sortedKeys(sel)
	for changed := true; changed; {
		changed = false
		for _, id := range sortedKeys(losers) {
			if seeded[id] {
				continue
			}
			for _, survivor := range ids {
				if losers[survivor] {
					continue
				}
				if contains(g.RequiredIDs(survivor), id) {
					delete(losers, id)
					reparent[id] = survivor
					changed = true
					break
				}
			}
		}
	}
	for id := range reparent {
		if !losers[sel[id].DependencyOf] {
			delete(reparent, id)
		}
	}
	return removalPlan{remove: sortedKeys(losers), reparent: reparent}
}

func (s *Store) applyRemovalLocked(p removalPlan) []string {
	var removed []string
	for _, id := range p.remove {
		if s.removeLocked(id) {
			removed = append(removed, id)
		}
	}
	for id, parent := range p.reparent {
		s.reparentLocked(id, parent)
	}
	return removed
}

// ResolveConflict applies the chosen option of an active conflict: losers are
// removed, requirements of the survivors are re-ensured, the closure is
// pruned, conflicts are re-derived and promotion is retried.
//
// A conflict id that is no longer active, or whose nodes have since left the
// selection, is treated as already resolved.
func (s *Store) ResolveConflict(conflictID, resolutionID string) (ResolveResult, error) {
	if s == nil {
		return ResolveResult{}, ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInitLocked(); err != nil {
		return ResolveResult{}, err
	}

	conflictID = strings.TrimSpace(conflictID)
	resolutionID = strings.TrimSpace(resolutionID)
	idx := -1
	for i, c := range s.active {
		if c.ID == conflictID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.logf("conflict %s is not active, treating as resolved", conflictID)
		s.metrics.staleResolutions.Add(1)
		return ResolveResult{ConflictID: conflictID, Stale: true, Blocked: s.conflictMeta.SystemBlocked}, nil
	}
	c := s.active[idx]

	var opt *ResolutionOption
	for i := range c.Resolutions {
		if c.Resolutions[i].ID == resolutionID {
			opt = &c.Resolutions[i]
			break
		}
	}
	if opt == nil {
		return ResolveResult{}, fmt.Errorf("%w: %s on conflict %s", ErrUnknownResolution, resolutionID, conflictID)
	}
	if len(opt.TargetNodes) == 0 {
		return ResolveResult{}, fmt.Errorf("%w: conflict %s option %s", ErrMalformedResolution, conflictID, resolutionID)
	}

	sel := s.selectionLocked()
	if !allPresent(c.AffectedNodes, sel) {
		s.logf("conflict %s references selections that are gone, treating as resolved", conflictID)
		s.retireLocked(idx, resolutionID, true)
		s.refreshConflictsLocked(nil)
		s.promoteLocked()
		return ResolveResult{ConflictID: conflictID, Stale: true, Blocked: s.conflictMeta.SystemBlocked}, nil
	}

	plan, err := PlanResolution(sel, s.graph, *c, *opt)
	if err != nil {
		return ResolveResult{}, err
	}
	var parents []string
	for _, id := range plan.Losers {
		if p := sel[id].DependencyOf; p != "" && !contains(plan.Losers, p) {
			parents = appendUnique(parents, p)
		}
	}

	removed := s.applyRemovalLocked(removalPlan{remove: plan.Losers, reparent: plan.Reparent})
	s.retireLocked(idx, resolutionID, false)
	s.logf("conflict %s resolved with %s: kept %v, removed %v", conflictID, resolutionID, plan.Winners, removed)

	tr := &trail{}
	for _, id := range appendUnique(append([]string(nil), plan.Winners...), parents...) {
		if !s.presentLocked(id) {
			continue
		}
		spec, ok := s.specLocked(id)
		if !ok {
			continue
		}
		s.fillDependenciesLocked(spec, map[string]bool{id: true}, 0, tr, fillViableOnly)
	}
	pruned := s.pruneLocked()
	s.refreshConflictsLocked(nil)
	s.promoteLocked()

	removed = append(removed, pruned...)
	sort.Strings(removed)
	s.metrics.filled.Add(uint64(len(tr.filled)))
	return ResolveResult{
		ConflictID: conflictID,
		Winners:    plan.Winners,
		Removed:    removed,
		Filled:     tr.filled,
		Blocked:    s.conflictMeta.SystemBlocked,
	}, nil
}

func (s *Store) retireLocked(idx int, resolutionID string, stale bool) {
	c := s.active[idx]
	c.ResolvedAt = s.now()
	c.ResolutionID = resolutionID
	c.Stale = stale
	s.active = append(s.active[:idx], s.active[idx+1:]...)
	s.resolved = append(s.resolved, c)
	s.updateBlockingLocked()
	if stale {
		s.metrics.staleResolutions.Add(1)
		return
	}
	s.metrics.conflictsResolved.Add(1)
}
