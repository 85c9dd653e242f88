package artifact

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respec/internal/types/catalog"
)

// sharedDriverDataset adds two specifications that both require D, a rival
// for L's single-choice field and a Z that D excludes.
func sharedDriverDataset() *catalog.Dataset {
	ds := fixtureDataset()
	ds.Specifications = append(ds.Specifications,
		catalog.Specification{ID: "L", Name: "Wide Lens", FieldName: "lens", Requires: map[string][]string{"driver": {"D"}}},
		catalog.Specification{ID: "L2", Name: "Tele Lens", FieldName: "lens"},
		catalog.Specification{ID: "S", Name: "Stabilizer", FieldName: "stabilizer", Requires: map[string][]string{"driver": {"D"}}},
		catalog.Specification{ID: "D", Name: "Motor Driver", FieldName: "driver"},
		catalog.Specification{ID: "Z", Name: "Zoom Module", FieldName: "zoom"},
	)
	ds.Exclusions = append(ds.Exclusions,
		catalog.Exclusion{A: "D", B: "Z", Severity: catalog.SeverityIncompatible},
	)
	ds.Fields = append(ds.Fields,
		catalog.UIField{FieldName: "lens", Section: "optics", SelectionType: catalog.SingleChoice},
		catalog.UIField{FieldName: "stabilizer", Section: "optics", SelectionType: catalog.SingleChoice},
		catalog.UIField{FieldName: "driver", Section: "optics", SelectionType: catalog.SingleChoice},
		catalog.UIField{FieldName: "zoom", Section: "optics", SelectionType: catalog.SingleChoice},
	)
	return ds
}

func activeSignatures(s *Store) []string {
	var out []string
	for _, c := range s.ActiveConflicts() {
		out = append(out, conflictSignature(c.Type, c.AffectedNodes))
	}
	sort.Strings(out)
	return out
}

// fullScanSignatures derives the conflict set from scratch without touching
// the store.
func fullScanSignatures(s *Store) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.selectionLocked()
	ids := sortedKeys(sel)
	var found []detection
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			found = append(found, s.detectPairLocked(sel, sel[ids[i]], sel[ids[j]])...)
		}
	}
	found = append(found, s.detectUnsatisfiedLocked(sel)...)
	found = append(found, s.detectFieldConstraintsLocked(sel)...)
	seen := make(map[string]bool)
	var out []string
	for _, d := range found {
		if sig := d.signature(); !seen[sig] {
			seen[sig] = true
			out = append(out, sig)
		}
	}
	sort.Strings(out)
	return out
}

func assertClosureSound(t *testing.T, s *Store, step int) {
	t.Helper()
	sel := selection(s)
	reached := make(map[string]bool)
	var queue []string
	for id, e := range sel {
		if e.Attribution == AttributionRequirement || e.DependencyOf == "" {
			reached[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range s.graph.RequiredIDs(id) {
			if _, ok := sel[dep]; ok && !reached[dep] {
				reached[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	for id := range sel {
		assert.True(t, reached[id], "step %d: %s is outside the closure", step, id)
	}
}

func assertRespecExclusionFree(t *testing.T, s *Store, step int) {
	t.Helper()
	ids := sortedKeys(s.Respec())
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			_, excluded := s.graph.Exclusion(ids[i], ids[j])
			assert.False(t, excluded, "step %d: %s and %s are both validated", step, ids[i], ids[j])
		}
	}
}

func TestDisplacementKeepsConflictOfReparentedDependency(t *testing.T) {
	s := newStoreFrom(t, sharedDriverDataset())
	add(t, s, "L")
	add(t, s, "S")
	_, err := s.MoveNonConflictingToRespec()
	require.NoError(t, err)

	res := add(t, s, "Z")
	require.True(t, res.Blocked)
	require.Len(t, s.ActiveConflicts(), 1)

	res = add(t, s, "L2")
	assert.Equal(t, []string{"L"}, res.Displaced)
	assert.True(t, res.Blocked)

	d, where := s.Lookup("D")
	require.Equal(t, PartitionRespec, where)
	assert.Equal(t, "S", d.DependencyOf)

	active := s.ActiveConflicts()
	require.Len(t, active, 1)
	assert.Contains(t, active[0].AffectedNodes, "D")
	assert.Contains(t, active[0].AffectedNodes, "Z")
	assert.Equal(t, fullScanSignatures(s), activeSignatures(s))

	moved, err := s.MoveNonConflictingToRespec()
	require.NoError(t, err)
	assert.Equal(t, []string{"L2"}, moved)
	_, where = s.Lookup("Z")
	assert.Equal(t, PartitionMapped, where)

	id := active[0].ID
	require.NoError(t, s.RefreshConflicts())
	require.Len(t, s.ActiveConflicts(), 1)
	assert.Equal(t, id, s.ActiveConflicts()[0].ID)
}

func TestScopedRescanMatchesFullScan(t *testing.T) {
	ds := sharedDriverDataset()
	var ids []string
	for _, sp := range ds.Specifications {
		ids = append(ids, sp.ID)
	}
	var fields []string
	for _, f := range ds.Fields {
		fields = append(fields, f.FieldName)
	}

	for seed := uint64(1); seed <= 8; seed++ {
		s := newStoreFrom(t, ds)
		rng := rand.New(rand.NewPCG(seed, 42))
		for step := 0; step < 80; step++ {
			switch op := rng.IntN(10); {
			case op < 6:
				_, err := s.AddSpecificationToMapped(AddRequest{SpecID: ids[rng.IntN(len(ids))]})
				require.NoError(t, err)
			case op == 6:
				_, err := s.MoveNonConflictingToRespec()
				require.NoError(t, err)
			case op == 7:
				_, err := s.ClearFieldSelections(fields[rng.IntN(len(fields))])
				require.NoError(t, err)
			case op == 8:
				_, err := s.PruneToDependencyClosure()
				require.NoError(t, err)
				assertClosureSound(t, s, step)
			default:
				active := s.ActiveConflicts()
				if len(active) == 0 {
					continue
				}
				option := "option-a"
				if rng.IntN(2) == 1 {
					option = "option-b"
				}
				_, err := s.ResolveConflict(active[0].ID, option)
				require.NoError(t, err)
			}

			require.Equal(t, fullScanSignatures(s), activeSignatures(s), "seed %d step %d", seed, step)
			assert.Equal(t, len(s.ActiveConflicts()) > 0, s.Blocked(), "seed %d step %d", seed, step)
			assertRespecExclusionFree(t, s, step)
		}
	}
}

func TestPruneLeavesOnlyReachableEntries(t *testing.T) {
	s := newStoreFrom(t, sharedDriverDataset())
	add(t, s, "L")
	add(t, s, "S")
	add(t, s, "P1")
	_, err := s.ClearFieldSelections("lens")
	require.NoError(t, err)
	_, err = s.ClearFieldSelections("digitalIO")
	require.NoError(t, err)

	removed, err := s.PruneToDependencyClosure()
	require.NoError(t, err)
	// D is still required by S; P2 lost its only parent
	assert.Equal(t, []string{"P2"}, removed)
	assertClosureSound(t, s, 0)
}
