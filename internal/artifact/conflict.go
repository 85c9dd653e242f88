package artifact

import (
	"fmt"
	"sort"
	"strings"

	"respec/internal/types/catalog"
)

// detection is a conflict found by a scan before it is installed. sides[0]
// and sides[1] are the id sets each resolution option keeps.
type detection struct {
	typ         ConflictType
	sides       [2][]string
	severity    string
	description string
	existing    string
	proposed    string
}

func (d detection) affected() []string {
	out := appendUnique(nil, d.sides[0]...)
	return appendUnique(out, d.sides[1]...)
}

func (d detection) signature() string {
	return conflictSignature(d.typ, d.affected())
}

func conflictSignature(t ConflictType, ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return string(t) + ":" + strings.Join(sorted, ",")
}

// RefreshConflicts re-derives the active conflict set from the full
// selection.
func (s *Store) RefreshConflicts() error {
	if s == nil {
		return ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInitLocked(); err != nil {
		return err
	}
	s.refreshConflictsLocked(nil)
	return nil
}

// refreshConflictsLocked rescans pairs touching scope (all pairs when scope
// is empty). Conflicts outside the scope are rechecked on their own nodes;
// unsatisfiable requirements and field constraints are always recomputed.
func (s *Store) refreshConflictsLocked(scope []string) {
	sel := s.selectionLocked()
	ids := sortedKeys(sel)
	inScope := setOf(scope)
	if len(inScope) > 0 {
		s.widenScopeLocked(sel, inScope)
	}

	var found []detection
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if len(inScope) > 0 && !inScope[ids[i]] && !inScope[ids[j]] {
				continue
			}
			found = append(found, s.detectPairLocked(sel, sel[ids[i]], sel[ids[j]])...)
		}
	}
	if len(inScope) > 0 {
		for _, c := range s.active {
			if !allPresent(c.AffectedNodes, sel) || intersects(c.AffectedNodes, inScope) {
				continue
			}
			nodes := append([]string(nil), c.AffectedNodes...)
			sort.Strings(nodes)
			for i := 0; i < len(nodes); i++ {
				for j := i + 1; j < len(nodes); j++ {
					found = append(found, s.detectPairLocked(sel, sel[nodes[i]], sel[nodes[j]])...)
				}
			}
		}
	}
	found = append(found, s.detectUnsatisfiedLocked(sel)...)
	found = append(found, s.detectFieldConstraintsLocked(sel)...)
	s.installConflictsLocked(found)
}

// widenScopeLocked adds the ids whose pairs may have changed outside the
// caller's scope: survivors of conflicts that lost a node, and every present
// descendant of a scoped id, since their dependency chains run through it.
func (s *Store) widenScopeLocked(sel map[string]Entry, inScope map[string]bool) {
	for _, c := range s.active {
		if allPresent(c.AffectedNodes, sel) {
			continue
		}
		for _, id := range c.AffectedNodes {
			if _, ok := sel[id]; ok {
				inScope[id] = true
			}
		}
	}
	for changed := true; changed; {
		changed = false
		for id, e := range sel {
			if !inScope[id] && e.DependencyOf != "" && inScope[e.DependencyOf] {
				inScope[id] = true
				changed = true
			}
		}
	}
}

// installConflictsLocked replaces the active list with found, keeping the
// identity of conflicts whose signature was already active.
func (s *Store) installConflictsLocked(found []detection) {
	now := s.now()
	fresh := make(map[string]detection, len(found))
	var order []string
	for _, d := range found {
		sig := d.signature()
		if _, dup := fresh[sig]; dup {
			continue
		}
		fresh[sig] = d
		order = append(order, sig)
	}

	next := make([]*Conflict, 0, len(fresh))
	for _, c := range s.active {
		sig := conflictSignature(c.Type, c.AffectedNodes)
		d, ok := fresh[sig]
		if !ok {
			continue
		}
		delete(fresh, sig)
		s.describeLocked(c, d)
		c.CycleCount++
		c.UpdatedAt = now
		next = append(next, c)
	}
	for _, sig := range order {
		d, ok := fresh[sig]
		if !ok {
			continue
		}
		c := &Conflict{
			ID:            s.newID(),
			Type:          d.typ,
			AffectedNodes: d.affected(),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.describeLocked(c, d)
		next = append(next, c)
		s.metrics.conflictsDetected.Add(1)
		s.logf("conflict %s (%s) on %v", c.ID, c.Type, c.AffectedNodes)
	}
	s.active = next
	s.updateBlockingLocked()
}

func (s *Store) describeLocked(c *Conflict, d detection) {
	c.Description = d.description
	c.Severity = d.severity
	c.ExistingValue = d.existing
	c.ProposedValue = d.proposed
	c.Resolutions = s.resolutionOptionsLocked(d)
}

func (s *Store) updateBlockingLocked() {
	s.conflictMeta.LastModified = s.now()
	if len(s.active) == 0 {
		s.conflictMeta.SystemBlocked = false
		s.conflictMeta.BlockingConflicts = nil
		s.conflictMeta.Priority = PriorityNormal
		return
	}
	var blocking []string
	for _, c := range s.active {
		blocking = appendUnique(blocking, c.AffectedNodes...)
	}
	sort.Strings(blocking)
	s.conflictMeta.SystemBlocked = true
	s.conflictMeta.BlockingConflicts = blocking
	s.conflictMeta.Priority = PriorityBlocking
}

// detectPairLocked finds field overwrites and declared exclusions between a
// and b. Either one involving an assumption is reported as a cascade whose
// sides carry the dependency chains back to the asserting requirement.
func (s *Store) detectPairLocked(sel map[string]Entry, a, b Entry) []detection {
	var out []detection
	first, second := s.precedence(a, b)
	sides, cascade := sidesFor(sel, first.ID, second.ID)

	if a.FieldName != "" && a.FieldName == b.FieldName && s.singleChoiceLocked(a.FieldName) {
		d := detection{
			typ:      ConflictFieldOverwrite,
			sides:    sides,
			severity: string(catalog.SeverityIncompatible),
			existing: first.Value,
			proposed: second.Value,
			description: fmt.Sprintf("%s already has %q (%s); %q (%s) was proposed",
				first.FieldName, first.Value, first.Name, second.Value, second.Name),
		}
		if cascade {
			d.typ = ConflictCascade
			d.description = s.cascadeText(sel, d.sides, d.description)
		}
		out = append(out, d)
	}

	if ex, ok := s.graph.Exclusion(a.ID, b.ID); ok {
		d := detection{
			typ:         ConflictExclusion,
			sides:       sides,
			severity:    string(ex.Severity),
			description: exclusionText(ex, first, second),
		}
		if cascade {
			d.typ = ConflictCascade
			d.description = s.cascadeText(sel, d.sides, d.description)
		}
		out = append(out, d)
	}
	return out
}

// detectUnsatisfiedLocked reports requirements that cannot be filled because
// every candidate's single-choice field is held by another selection.
func (s *Store) detectUnsatisfiedLocked(sel map[string]Entry) []detection {
	var out []detection
	for _, id := range sortedKeys(sel) {
		spec, ok := s.graph.Specification(id)
		if !ok || len(spec.Requires) == 0 {
			continue
		}
		for _, category := range sortedKeys(spec.Requires) {
			candidates := trimIDs(spec.Requires[category])
			satisfied := false
			for _, c := range candidates {
				if _, ok := sel[c]; ok {
					satisfied = true
					break
				}
			}
			if satisfied {
				continue
			}

			var occupants []string
			known, blocked := 0, true
			for _, c := range candidates {
				dep, ok := s.graph.Specification(c)
				if !ok {
					continue
				}
				known++
				occ := ""
				if s.singleChoiceLocked(dep.FieldName) {
					for _, other := range sortedKeys(sel) {
						if other != dep.ID && sel[other].FieldName == dep.FieldName {
							occ = other
							break
						}
					}
				}
				if occ == "" {
					blocked = false
					break
				}
				occupants = appendUnique(occupants, occ)
			}
			if known == 0 || !blocked {
				continue
			}
			for _, occ := range occupants {
				if occ == id {
					continue
				}
				sides, _ := sidesFor(sel, id, occ)
				out = append(out, detection{
					typ:      ConflictCascade,
					sides:    sides,
					severity: string(catalog.SeverityIncompatible),
					description: fmt.Sprintf("%s requires a %s selection, but %s already holds that field",
						spec.Name, category, sel[occ].Name),
				})
			}
		}
	}
	return out
}

// detectFieldConstraintsLocked reports empty fields whose every option is
// hard excluded by two or more current selections.
func (s *Store) detectFieldConstraintsLocked(sel map[string]Entry) []detection {
	ids := sortedKeys(sel)
	var out []detection
	for _, f := range s.graph.Fields() {
		occupied := false
		for _, id := range ids {
			if sel[id].FieldName == f.FieldName {
				occupied = true
				break
			}
		}
		if occupied {
			continue
		}
		options := s.graph.SpecificationsForField(f.FieldName)
		if len(options) == 0 || len(s.graph.ValidOptions(f.FieldName, ids)) > 0 {
			continue
		}
		var excluders []string
		for _, opt := range options {
			for _, ex := range s.graph.ExclusionsFor(opt.ID) {
				if !ex.Severity.Hard() {
					continue
				}
				other := ex.Other(opt.ID)
				if e, ok := sel[other]; ok && e.FieldName != f.FieldName {
					excluders = appendUnique(excluders, other)
				}
			}
		}
		if len(excluders) < 2 {
			continue
		}
		sort.Strings(excluders)

		keep := chainOf(sel, excluders[0])
		var rest []string
		for _, id := range excluders[1:] {
			for _, c := range chainOf(sel, id) {
				if !contains(keep, c) {
					rest = appendUnique(rest, c)
				}
			}
		}
		if len(rest) == 0 {
			continue
		}
		names := make([]string, 0, len(excluders))
		for _, id := range excluders {
			names = append(names, sel[id].Name)
		}
		out = append(out, detection{
			typ:      ConflictFieldConstraint,
			sides:    [2][]string{keep, rest},
			severity: string(catalog.SeverityIncompatible),
			description: fmt.Sprintf("No %s option remains: %s together exclude every choice",
				f.FieldName, strings.Join(names, ", ")),
		})
	}
	return out
}

// sidesFor builds the two resolution sides for a conflict between a and b.
// Each side is the dependency chain from the asserting requirement down to
// the conflicting entry, minus ancestors the sides share. cascade reports
// whether either side reaches through an assumption.
func sidesFor(sel map[string]Entry, a, b string) ([2][]string, bool) {
	ca, cb := chainOf(sel, a), chainOf(sel, b)
	cascade := len(ca) > 1 || len(cb) > 1
	sa := without(ca, cb)
	sb := without(cb, ca)
	if len(sa) == 0 || len(sb) == 0 {
		return [2][]string{{a}, {b}}, cascade
	}
	return [2][]string{sa, sb}, cascade
}

// chainOf follows dependency back-references from id to its root and returns
// them root first.
func chainOf(sel map[string]Entry, id string) []string {
	chain := []string{id}
	seen := map[string]bool{id: true}
	cur := sel[id]
	for cur.DependencyOf != "" {
		p, ok := sel[cur.DependencyOf]
		if !ok || seen[p.ID] {
			break
		}
		seen[p.ID] = true
		chain = append([]string{p.ID}, chain...)
		cur = p
	}
	return chain
}

// precedence orders two entries so the established one comes first: respec
// before mapped, requirement before assumption, older first, then by id.
func (s *Store) precedence(a, b Entry) (Entry, Entry) {
	_, aValidated := s.respec[a.ID]
	_, bValidated := s.respec[b.ID]
	if aValidated != bValidated {
		if bValidated {
			return b, a
		}
		return a, b
	}
	if a.IsAssumption() != b.IsAssumption() {
		if a.IsAssumption() {
			return b, a
		}
		return a, b
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		if b.Timestamp.Before(a.Timestamp) {
			return b, a
		}
		return a, b
	}
	if b.ID < a.ID {
		return b, a
	}
	return a, b
}

func exclusionText(ex catalog.Exclusion, first, second Entry) string {
	if q := strings.TrimSpace(ex.Question); q != "" {
		na, nb := first.Name, second.Name
		if first.ID != ex.A {
			na, nb = nb, na
		}
		return strings.NewReplacer("{a}", na, "{b}", nb).Replace(q)
	}
	var why string
	switch ex.Severity {
	case catalog.SeverityIncompatible:
		why = "are incompatible"
	case catalog.SeverityPerformanceMismatch:
		why = "are a performance mismatch"
	case catalog.SeverityPerformanceWarning:
		why = "may underperform together"
	case catalog.SeverityEfficiencyWarning:
		why = "are an inefficient combination"
	default:
		why = "conflict"
	}
	return fmt.Sprintf("%s and %s %s", first.Name, second.Name, why)
}

func (s *Store) cascadeText(sel map[string]Entry, sides [2][]string, detail string) string {
	root := func(side []string) string {
		if len(side) == 0 {
			return ""
		}
		return sel[side[0]].Name
	}
	return fmt.Sprintf("%s (via dependencies of %s and %s)", detail, root(sides[0]), root(sides[1]))
}

func (s *Store) resolutionOptionsLocked(d detection) []ResolutionOption {
	var action ResolutionAction
	switch d.typ {
	case ConflictFieldOverwrite:
		action = ActionReplaceValue
	case ConflictExclusion:
		action = ActionSelectOption
	case ConflictCascade:
		action = ActionDropDependency
	case ConflictFieldConstraint:
		action = ActionRelaxConstraint
	default:
		panic(fmt.Sprintf("artifact: no resolution action for conflict type %q", d.typ))
	}

	opts := make([]ResolutionOption, 0, 2)
	for i, keep := range d.sides {
		lose := without(d.sides[1-i], keep)
		desc := "Keep " + s.namesLocked(keep)
		if d.typ == ConflictFieldOverwrite {
			value := d.existing
			if i == 1 {
				value = d.proposed
			}
			desc = fmt.Sprintf("Use %q (%s)", value, s.namesLocked(keep))
		}
		opts = append(opts, ResolutionOption{
			ID:              optionID(i),
			Description:     desc,
			TargetNodes:     append([]string(nil), keep...),
			Action:          action,
			ExpectedOutcome: fmt.Sprintf("Removes %s and anything only it required", s.namesLocked(lose)),
		})
	}
	return opts
}

func optionID(i int) string {
	return fmt.Sprintf("option-%c", 'a'+i)
}

func (s *Store) namesLocked(ids []string) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if e, where := s.lookupLocked(id); where != PartitionNone && e.Name != "" {
			names = append(names, e.Name)
			continue
		}
		names = append(names, id)
	}
	return strings.Join(names, ", ")
}

func without(ids, drop []string) []string {
	var out []string
	for _, id := range ids {
		if !contains(drop, id) {
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}

func allPresent(ids []string, sel map[string]Entry) bool {
	for _, id := range ids {
		if _, ok := sel[id]; !ok {
			return false
		}
	}
	return true
}

func intersects(ids []string, set map[string]bool) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}
