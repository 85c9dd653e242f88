package artifact

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respec/internal/specgraph"
	"respec/internal/types/catalog"
)

func fixtureDataset() *catalog.Dataset {
	ds := &catalog.Dataset{
		Version: "test",
		Specifications: []catalog.Specification{
			{ID: "P1", Name: "8 Digital IO", FieldName: "digitalIO", SelectedValue: "8", Requires: map[string][]string{"power": {"P2"}}},
			{ID: "P2", Name: "24V DC", FieldName: "power", SelectedValue: "24V"},
			{ID: "P3", Name: "16 Digital IO", FieldName: "digitalIO", SelectedValue: "16"},
			{ID: "P4", Name: "12V DC", FieldName: "power", SelectedValue: "12V"},
			{ID: "P5", Name: "Xeon", FieldName: "processor"},
			{ID: "P6", Name: "Fanless", FieldName: "enclosure"},
			{ID: "P7", Name: "CE", FieldName: "certifications"},
			{ID: "P8", Name: "UL", FieldName: "certifications"},
			{ID: "P9", Name: "Legacy Bus", Requires: map[string][]string{"bus": {"NOPE"}}},
			{ID: "P10", Name: "Compact Chassis", FieldName: "enclosure", Requires: map[string][]string{"cooling": {"C1"}}},
			{ID: "P11", Name: "RTX GPU", FieldName: "gpu"},
			{ID: "C1", Name: "Passive Cooling", FieldName: "cooling"},
			{ID: "M1", Name: "4GB", FieldName: "memory"},
			{ID: "M2", Name: "8GB", FieldName: "memory"},
			{ID: "X1", Name: "Thermal Camera", FieldName: "sensors"},
			{ID: "X2", Name: "Touch Display", FieldName: "display"},
		},
		Exclusions: []catalog.Exclusion{
			{A: "P5", B: "P6", Severity: catalog.SeverityIncompatible, Question: "{a} cannot run inside a {b} enclosure."},
			{A: "C1", B: "P11", Severity: catalog.SeverityIncompatible},
			{A: "X1", B: "M1", Severity: catalog.SeverityIncompatible},
			{A: "X2", B: "M2", Severity: catalog.SeverityIncompatible},
		},
		Fields: []catalog.UIField{
			{FieldName: "digitalIO", Section: "io", SelectionType: catalog.SingleChoice},
			{FieldName: "sensors", Section: "io", SelectionType: catalog.SingleChoice},
			{FieldName: "display", Section: "io", SelectionType: catalog.SingleChoice},
			{FieldName: "power", Section: "power", SelectionType: catalog.SingleChoice},
			{FieldName: "processor", Section: "compute", SelectionType: catalog.SingleChoice},
			{FieldName: "memory", Section: "compute", SelectionType: catalog.SingleChoice},
			{FieldName: "gpu", Section: "compute", SelectionType: catalog.SingleChoice},
			{FieldName: "enclosure", Section: "environment", SelectionType: catalog.SingleChoice},
			{FieldName: "cooling", Section: "environment", SelectionType: catalog.SingleChoice},
			{FieldName: "certifications", Section: "compliance", SelectionType: catalog.MultiChoice},
		},
	}
	// D0 -> D1 -> ... -> D14, deeper than the fill limit
	for i := 0; i < 15; i++ {
		s := catalog.Specification{ID: fmt.Sprintf("D%d", i), Name: fmt.Sprintf("Chain %d", i)}
		if i < 14 {
			s.Requires = map[string][]string{"next": {fmt.Sprintf("D%d", i+1)}}
		}
		ds.Specifications = append(ds.Specifications, s)
	}
	return ds
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newStoreFrom(t, fixtureDataset())
}

func newStoreFrom(t *testing.T, ds *catalog.Dataset) *Store {
	t.Helper()
	idx, err := specgraph.Build(ds)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	seq := 0
	s := New(idx,
		WithLogger(log.New(io.Discard, "", 0)),
		WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		}),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("conflict-%d", seq)
		}),
	)
	require.NoError(t, s.Initialize())
	return s
}

func add(t *testing.T, s *Store, id string) AddResult {
	t.Helper()
	res, err := s.AddSpecificationToMapped(AddRequest{SpecID: id})
	require.NoError(t, err)
	return res
}

func selection(s *Store) map[string]Entry {
	out := s.Respec()
	for id, e := range s.Mapped() {
		out[id] = e
	}
	return out
}

func TestInitializeRequiresLoadedDataset(t *testing.T) {
	s := New(specgraph.NewHandle())
	assert.ErrorIs(t, s.Initialize(), ErrDatasetNotLoaded)
	assert.False(t, s.Initialized())

	_, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P1"})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.ClearFieldSelections("digitalIO")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.MoveNonConflictingToRespec()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.GenerateFormUpdatesFromRespec()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P5")
	require.NoError(t, s.Initialize())
	assert.Len(t, s.Mapped(), 1)
}

func TestAddUnknownSpecification(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddSpecificationToMapped(AddRequest{SpecID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownSpecification)
	assert.Empty(t, s.Mapped())
}

func TestAddFillsRequirementAndRendersForm(t *testing.T) {
	s := newTestStore(t)

	res := add(t, s, "P1")
	assert.Equal(t, []string{"P2"}, res.Filled)
	assert.False(t, res.Blocked)

	p2, where := s.Lookup("P2")
	require.Equal(t, PartitionMapped, where)
	assert.Equal(t, AttributionAssumption, p2.Attribution)
	assert.Equal(t, "P1", p2.DependencyOf)
	assert.Equal(t, SourceDependency, p2.Source)
	assert.Equal(t, "required by 8 Digital IO", p2.SubstitutionNote)

	moved, err := s.MoveNonConflictingToRespec()
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, moved)
	assert.Empty(t, s.Mapped())

	updates, err := s.GenerateFormUpdatesFromRespec()
	require.NoError(t, err)
	byField := make(map[string]FormUpdate, len(updates))
	for _, u := range updates {
		byField[u.Field] = u
	}
	require.Len(t, byField, 10)

	dio := byField["digitalIO"]
	assert.Equal(t, "io", dio.Section)
	assert.Equal(t, "8", dio.Value)
	assert.False(t, dio.IsAssumption)
	assert.False(t, dio.Cleared)

	pwr := byField["power"]
	assert.Equal(t, "24V", pwr.Value)
	assert.True(t, pwr.IsAssumption)

	assert.True(t, byField["processor"].Cleared)
	assert.Equal(t, ClearedNote, byField["processor"].SubstitutionNote)

	m := s.Metrics()
	assert.Equal(t, uint64(1), m.Added)
	assert.Equal(t, uint64(1), m.Filled)
	assert.Equal(t, uint64(2), m.Promoted)
}

func TestSingleChoiceAddDisplacesRivalAndDependents(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P1")

	res := add(t, s, "P3")
	assert.ElementsMatch(t, []string{"P1", "P2"}, res.Displaced)

	mapped := s.Mapped()
	require.Len(t, mapped, 1)
	assert.Contains(t, mapped, "P3")
	assert.Empty(t, s.ActiveConflicts())
	assert.Equal(t, uint64(2), s.Metrics().Displaced)
}

func TestDisplacementReachesRespec(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P1")
	_, err := s.MoveNonConflictingToRespec()
	require.NoError(t, err)

	res := add(t, s, "P3")
	assert.ElementsMatch(t, []string{"P1", "P2"}, res.Displaced)
	assert.Empty(t, s.Respec())
}

func TestReproposingAssumptionUpgradesIt(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P1")
	add(t, s, "P2")

	p2, _ := s.Lookup("P2")
	assert.Equal(t, AttributionRequirement, p2.Attribution)
	assert.Empty(t, p2.DependencyOf)
	assert.Equal(t, SourceUser, p2.Source)
}

func TestAddKeepsExplicitValueAndClampsConfidence(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddSpecificationToMapped(AddRequest{
		SpecID:          " P5 ",
		Value:           "Xeon E-2278GE",
		OriginalRequest: "a fast xeon",
		Source:          SourceLLM,
		Confidence:      4,
	})
	require.NoError(t, err)

	e, where := s.Lookup("P5")
	require.Equal(t, PartitionMapped, where)
	assert.Equal(t, "Xeon E-2278GE", e.Value)
	assert.Equal(t, "a fast xeon", e.OriginalRequest)
	assert.Equal(t, SourceLLM, e.Source)
	assert.Equal(t, 1.0, e.Confidence)
}

func TestDependencyAddSkipsFillAndScan(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P5")
	res, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P6", DependencyOf: "P5", Attribution: AttributionRequirement})
	require.NoError(t, err)
	assert.Empty(t, res.Filled)

	p6, _ := s.Lookup("P6")
	assert.Equal(t, AttributionAssumption, p6.Attribution)
	assert.Equal(t, SourceDependency, p6.Source)
	// the caller owns the scan for dependency adds
	assert.Empty(t, s.ActiveConflicts())
	require.NoError(t, s.RefreshConflicts())
	assert.Len(t, s.ActiveConflicts(), 1)
}

func TestClearFieldSelections(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P1")
	_, err := s.MoveNonConflictingToRespec()
	require.NoError(t, err)

	removed, err := s.ClearFieldSelections("digitalIO")
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, removed)
	_, where := s.Lookup("P1")
	assert.Equal(t, PartitionNone, where)

	updates, err := s.GenerateFormUpdatesFromRespec()
	require.NoError(t, err)
	for _, u := range updates {
		if u.Field == "digitalIO" {
			assert.True(t, u.Cleared)
			assert.Nil(t, u.Value)
		}
	}

	// the orphaned assumption survives until the closure is pruned
	_, where = s.Lookup("P2")
	assert.Equal(t, PartitionRespec, where)
	pruned, err := s.PruneToDependencyClosure()
	require.NoError(t, err)
	assert.Equal(t, []string{"P2"}, pruned)
	assert.Empty(t, s.Respec())

	removed, err = s.ClearFieldSelections("digitalIO")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestMultiChoiceFieldAccumulates(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P7")
	res := add(t, s, "P8")
	assert.Empty(t, res.Displaced)

	_, err := s.MoveNonConflictingToRespec()
	require.NoError(t, err)
	updates, err := s.GenerateFormUpdatesFromRespec()
	require.NoError(t, err)
	for _, u := range updates {
		if u.Field != "certifications" {
			continue
		}
		values, ok := u.Value.([]string)
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"CE", "UL"}, values)
		assert.False(t, u.IsAssumption)
	}
}

func TestDependencyDepthIsBounded(t *testing.T) {
	s := newTestStore(t)
	res := add(t, s, "D0")
	assert.Len(t, res.Filled, 11)

	mapped := s.Mapped()
	assert.Len(t, mapped, 12)
	assert.Contains(t, mapped, "D11")
	assert.NotContains(t, mapped, "D12")
	assert.Equal(t, uint64(1), s.Metrics().DepthLimited)
}

func TestMissingDependencyIsSkipped(t *testing.T) {
	s := newTestStore(t)
	res := add(t, s, "P9")
	assert.Empty(t, res.Filled)
	assert.False(t, res.Blocked)
	assert.Len(t, s.Mapped(), 1)
	assert.Empty(t, s.ActiveConflicts())
}

func TestSelectionInvariantsHoldAcrossOperations(t *testing.T) {
	s := newTestStore(t)
	steps := []func() error{
		func() error { _, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P1"}); return err },
		func() error { _, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P4"}); return err },
		func() error { _, err := s.MoveNonConflictingToRespec(); return err },
		func() error { _, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P3"}); return err },
		func() error { _, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P1"}); return err },
		func() error { _, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P10"}); return err },
		func() error { _, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P6"}); return err },
		func() error { _, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P11"}); return err },
		func() error { _, err := s.MoveNonConflictingToRespec(); return err },
		func() error { _, err := s.AddSpecificationToMapped(AddRequest{SpecID: "P2"}); return err },
		func() error { _, err := s.ClearFieldSelections("power"); return err },
		func() error { _, err := s.PruneToDependencyClosure(); return err },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)

		sel := selection(s)
		perField := make(map[string]int)
		for id, e := range sel {
			if e.FieldName != "" && e.FieldName != "certifications" {
				perField[e.FieldName]++
			}
			if e.DependencyOf != "" {
				assert.Equal(t, AttributionAssumption, e.Attribution, "step %d entry %s", i, id)
			}
		}
		for field, n := range perField {
			assert.LessOrEqual(t, n, 1, "step %d field %s", i, field)
		}
		for id := range s.Mapped() {
			_, inRespec := s.Respec()[id]
			assert.False(t, inRespec, "step %d: %s in both partitions", i, id)
		}
	}
}

func TestMetadataTracksPartitions(t *testing.T) {
	s := newTestStore(t)
	add(t, s, "P1")
	md := s.Metadata()
	assert.Equal(t, 2, md.Mapped.TotalNodes)
	assert.Equal(t, 0, md.Respec.TotalNodes)
	assert.False(t, md.Mapped.LastModified.IsZero())
	assert.Equal(t, PriorityNormal, md.Conflicts.Priority)

	_, err := s.MoveNonConflictingToRespec()
	require.NoError(t, err)
	md = s.Metadata()
	assert.Equal(t, 0, md.Mapped.TotalNodes)
	assert.Equal(t, 2, md.Respec.TotalNodes)
}
