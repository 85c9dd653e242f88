package artifact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusionRaisesSingleConflict(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P5")
	res := add(t, s, "P6")
	assert.True(t, res.Blocked)

	active := s.ActiveConflicts()
	require.Len(t, active, 1)
	c := active[0]
	assert.Equal(t, ConflictExclusion, c.Type)
	assert.Equal(t, []string{"P5", "P6"}, c.AffectedNodes)
	assert.Equal(t, "incompatible", c.Severity)
	assert.Equal(t, "Xeon cannot run inside a Fanless enclosure.", c.Description)
	require.Len(t, c.Resolutions, 2)
	assert.Equal(t, "option-a", c.Resolutions[0].ID)
	assert.Equal(t, []string{"P5"}, c.Resolutions[0].TargetNodes)
	assert.Equal(t, ActionSelectOption, c.Resolutions[0].Action)
	assert.Equal(t, []string{"P6"}, c.Resolutions[1].TargetNodes)

	md := s.Metadata()
	assert.True(t, md.Conflicts.SystemBlocked)
	assert.Equal(t, []string{"P5", "P6"}, md.Conflicts.BlockingConflicts)
	assert.Equal(t, PriorityBlocking, md.Conflicts.Priority)

	q, ok := s.PendingQuestion()
	require.True(t, ok)
	assert.Equal(t, c.ID, q.ConflictID)
	assert.Equal(t, c.Description, q.Text)
	require.Len(t, q.Options, 2)
	assert.Equal(t, "Keep Xeon", q.Options[0].Description)
}

func TestResolveExclusionKeepsChosenSide(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P5")
	add(t, s, "P6")
	c := s.ActiveConflicts()[0]

	res, err := s.ResolveConflict(c.ID, "option-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"P5"}, res.Winners)
	assert.Equal(t, []string{"P6"}, res.Removed)
	assert.False(t, res.Blocked)

	assert.Empty(t, s.ActiveConflicts())
	assert.False(t, s.Blocked())
	_, where := s.Lookup("P5")
	assert.Equal(t, PartitionRespec, where)
	_, where = s.Lookup("P6")
	assert.Equal(t, PartitionNone, where)

	resolved := s.ResolvedConflicts()
	require.Len(t, resolved, 1)
	assert.Equal(t, c.ID, resolved[0].ID)
	assert.Equal(t, "option-a", resolved[0].ResolutionID)
	assert.False(t, resolved[0].ResolvedAt.IsZero())
	assert.False(t, resolved[0].Stale)
	assert.Equal(t, uint64(1), s.Metrics().ConflictsResolved)
}

func TestRefreshKeepsConflictIdentity(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P5")
	add(t, s, "P6")
	before := s.ActiveConflicts()

	require.NoError(t, s.RefreshConflicts())
	require.NoError(t, s.RefreshConflicts())
	after := s.ActiveConflicts()

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, conflictSignature(before[i].Type, before[i].AffectedNodes),
			conflictSignature(after[i].Type, after[i].AffectedNodes))
		assert.Equal(t, before[i].CreatedAt, after[i].CreatedAt)
		assert.Equal(t, before[i].CycleCount+2, after[i].CycleCount)
	}
	assert.Equal(t, uint64(1), s.Metrics().ConflictsDetected)
}

func TestPromotionSkipsConflictingEntries(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P5")
	add(t, s, "P6")
	add(t, s, "P7")

	moved, err := s.MoveNonConflictingToRespec()
	require.NoError(t, err)
	assert.Equal(t, []string{"P7"}, moved)

	mapped := s.Mapped()
	assert.Contains(t, mapped, "P5")
	assert.Contains(t, mapped, "P6")
}

func TestForcedFillSurfacesCascade(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P11")
	res := add(t, s, "P10")
	assert.Equal(t, []string{"C1"}, res.Filled)
	require.True(t, res.Blocked)

	active := s.ActiveConflicts()
	require.Len(t, active, 1)
	c := active[0]
	assert.Equal(t, ConflictCascade, c.Type)
	assert.ElementsMatch(t, []string{"P11", "P10", "C1"}, c.AffectedNodes)
	assert.Equal(t, []string{"P11"}, c.Resolutions[0].TargetNodes)
	assert.Equal(t, []string{"P10", "C1"}, c.Resolutions[1].TargetNodes)
	assert.Equal(t, ActionDropDependency, c.Resolutions[0].Action)
	assert.Contains(t, c.Description, "via dependencies of RTX GPU and Compact Chassis")

	out, err := s.ResolveConflict(c.ID, "option-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "P10"}, out.Removed)
	assert.False(t, out.Blocked)
	assert.Len(t, selection(s), 1)
}

func TestCascadeResolutionCanDropTheExistingSide(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P11")
	add(t, s, "P10")
	c := s.ActiveConflicts()[0]

	out, err := s.ResolveConflict(c.ID, "option-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"P11"}, out.Removed)
	assert.False(t, out.Blocked)

	sel := selection(s)
	assert.Contains(t, sel, "P10")
	assert.Contains(t, sel, "C1")
	assert.Equal(t, "P10", sel["C1"].DependencyOf)
}

func TestOccupiedRequirementRaisesCascade(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P4")
	res := add(t, s, "P1")
	assert.Empty(t, res.Filled)
	require.True(t, res.Blocked)

	active := s.ActiveConflicts()
	require.Len(t, active, 1)
	c := active[0]
	assert.Equal(t, ConflictCascade, c.Type)
	assert.Equal(t, []string{"P1", "P4"}, c.AffectedNodes)
	assert.Equal(t, "8 Digital IO requires a power selection, but 12V DC already holds that field", c.Description)

	out, err := s.ResolveConflict(c.ID, "option-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"P4"}, out.Removed)
	assert.Equal(t, []string{"P2"}, out.Filled)
	assert.False(t, out.Blocked)

	p2, where := s.Lookup("P2")
	assert.Equal(t, PartitionRespec, where)
	assert.Equal(t, SourceConflictResolution, p2.Source)
	assert.Equal(t, "P1", p2.DependencyOf)
}

func TestFieldConstraintNeedsTwoExcluders(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "X1")
	assert.Empty(t, s.ActiveConflicts())

	res := add(t, s, "X2")
	require.True(t, res.Blocked)
	active := s.ActiveConflicts()
	require.Len(t, active, 1)
	c := active[0]
	assert.Equal(t, ConflictFieldConstraint, c.Type)
	assert.Equal(t, []string{"X1", "X2"}, c.AffectedNodes)
	assert.Equal(t, ActionRelaxConstraint, c.Resolutions[1].Action)
	assert.Contains(t, c.Description, "No memory option remains")

	out, err := s.ResolveConflict(c.ID, "option-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"X1"}, out.Removed)
	assert.False(t, out.Blocked)
}

func TestFieldOverwriteDetectedOnInjectedState(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s.mapped["P1"] = Entry{ID: "P1", Name: "8 Digital IO", FieldName: "digitalIO", Value: "8", Attribution: AttributionRequirement, Timestamp: t0}
	s.mapped["P3"] = Entry{ID: "P3", Name: "16 Digital IO", FieldName: "digitalIO", Value: "16", Attribution: AttributionRequirement, Timestamp: t0.Add(time.Minute)}
	require.NoError(t, s.RefreshConflicts())

	active := s.ActiveConflicts()
	require.Len(t, active, 1)
	c := active[0]
	assert.Equal(t, ConflictFieldOverwrite, c.Type)
	assert.Equal(t, "8", c.ExistingValue)
	assert.Equal(t, "16", c.ProposedValue)
	assert.Equal(t, `Use "8" (8 Digital IO)`, c.Resolutions[0].Description)
	assert.Equal(t, ActionReplaceValue, c.Resolutions[0].Action)

	out, err := s.ResolveConflict(c.ID, "option-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, out.Removed)
	_, where := s.Lookup("P3")
	assert.Equal(t, PartitionRespec, where)
}

func TestFieldOverwriteComparesIDsNotValues(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s.mapped["P1"] = Entry{ID: "P1", Name: "8 Digital IO", FieldName: "digitalIO", Value: "8", Attribution: AttributionRequirement, Timestamp: t0}
	s.mapped["P3"] = Entry{ID: "P3", Name: "16 Digital IO", FieldName: "digitalIO", Value: "8", Attribution: AttributionRequirement, Timestamp: t0.Add(time.Minute)}
	require.NoError(t, s.RefreshConflicts())

	active := s.ActiveConflicts()
	require.Len(t, active, 1)
	assert.Equal(t, ConflictFieldOverwrite, active[0].Type)
	assert.ElementsMatch(t, []string{"P1", "P3"}, active[0].AffectedNodes)
	assert.True(t, s.Blocked())
}

func TestResolveUnknownConflictIsStale(t *testing.T) {
	s := newTestStore(t)
	res, err := s.ResolveConflict("conflict-missing", "option-a")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, uint64(1), s.Metrics().StaleResolutions)
}

func TestResolveWithVanishedNodesRetiresConflict(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P5")
	add(t, s, "P6")
	c := s.ActiveConflicts()[0]
	delete(s.mapped, "P6")

	res, err := s.ResolveConflict(c.ID, "option-a")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.False(t, res.Blocked)

	resolved := s.ResolvedConflicts()
	require.Len(t, resolved, 1)
	assert.True(t, resolved[0].Stale)
	_, where := s.Lookup("P5")
	assert.Equal(t, PartitionRespec, where)
}

func TestResolveRejectsBadOptions(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P5")
	add(t, s, "P6")
	c := s.ActiveConflicts()[0]

	_, err := s.ResolveConflict(c.ID, "option-z")
	assert.ErrorIs(t, err, ErrUnknownResolution)

	s.active[0].Resolutions[0].TargetNodes = nil
	_, err = s.ResolveConflict(c.ID, "option-a")
	assert.ErrorIs(t, err, ErrMalformedResolution)

	// nothing changed
	assert.Len(t, s.ActiveConflicts(), 1)
	assert.Len(t, s.Mapped(), 2)
}

func TestPlanResolutionReparentsSharedDependencies(t *testing.T) {
	s := newTestStore(t)
	sel := map[string]Entry{
		"P1":  {ID: "P1", Attribution: AttributionRequirement},
		"P3":  {ID: "P3", Attribution: AttributionRequirement},
		"P2":  {ID: "P2", Attribution: AttributionAssumption, DependencyOf: "P3"},
		"P10": {ID: "P10", Attribution: AttributionRequirement},
		"C1":  {ID: "C1", Attribution: AttributionAssumption, DependencyOf: "P10"},
	}
	c := Conflict{ID: "c", AffectedNodes: []string{"P1", "P3"}}

	plan, err := PlanResolution(sel, s.graph, c, ResolutionOption{ID: "option-a", TargetNodes: []string{"P1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, plan.Winners)
	assert.Equal(t, []string{"P3"}, plan.Losers)
	assert.Equal(t, map[string]string{"P2": "P1"}, plan.Reparent)

	_, err = PlanResolution(sel, s.graph, c, ResolutionOption{ID: "option-b"})
	assert.ErrorIs(t, err, ErrMalformedResolution)
}

func TestBuildQuestionUsesFirstTwoOptions(t *testing.T) {
	c := Conflict{
		ID:          "c1",
		Type:        ConflictExclusion,
		Description: "pick one",
		Resolutions: []ResolutionOption{
			{ID: "option-a", Description: "A", ExpectedOutcome: "drops B"},
			{ID: "option-b", Description: "B", ExpectedOutcome: "drops A"},
			{ID: "option-c", Description: "C"},
		},
	}
	q := BuildQuestion(c)
	assert.Equal(t, "c1", q.ConflictID)
	assert.Equal(t, "pick one", q.Text)
	require.Len(t, q.Options, 2)
	assert.Equal(t, "drops A", q.Options[1].ExpectedOutcome)
}

func TestUnknownConflictTypePanics(t *testing.T) {
	s := newTestStore(t)
	assert.Panics(t, func() {
		s.resolutionOptionsLocked(detection{typ: "bogus", sides: [2][]string{{"a"}, {"b"}}})
	})
}
