package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDataset() *Dataset {
	return &Dataset{
		Specifications: []Specification{
			{ID: "P1", Name: "8 digital inputs", FieldName: "digitalIO", SelectedValue: "8", Requires: map[string][]string{"power": {"P2"}}},
			{ID: "P2", Name: "24V supply", FieldName: "power"},
		},
		Exclusions: []Exclusion{{A: "P1", B: "P2", Severity: SeverityPerformanceWarning}},
		Fields: []UIField{
			{FieldName: "digitalIO", Section: "io", SelectionType: SingleChoice},
			{FieldName: "power", Section: "power", SelectionType: SingleChoice},
		},
	}
}

func TestValidateAcceptsWellFormedDataset(t *testing.T) {
	require.NoError(t, validDataset().Validate())
}

func TestValidateRejectsDuplicateSpecification(t *testing.T) {
	ds := validDataset()
	ds.Specifications = append(ds.Specifications, Specification{ID: "P1", Name: "dup"})
	err := ds.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate specification "P1"`)
}

func TestValidateRejectsUnknownField(t *testing.T) {
	ds := validDataset()
	ds.Specifications[1].FieldName = "nope"
	require.ErrorContains(t, ds.Validate(), "unknown field")
}

func TestValidateRejectsBadSeverity(t *testing.T) {
	ds := validDataset()
	ds.Exclusions[0].Severity = "fatal"
	require.ErrorContains(t, ds.Validate(), "Severity")
}

func TestValidateRejectsSelfExclusion(t *testing.T) {
	ds := validDataset()
	ds.Exclusions[0].B = "P1"
	require.Error(t, ds.Validate())
}

func TestDefaultValueFallsBackToName(t *testing.T) {
	assert.Equal(t, "8", Specification{Name: "x", SelectedValue: " 8 "}.DefaultValue())
	assert.Equal(t, "x", Specification{Name: "x"}.DefaultValue())
}

func TestExclusionOther(t *testing.T) {
	e := Exclusion{A: "a", B: "b"}
	assert.Equal(t, "b", e.Other("a"))
	assert.Equal(t, "a", e.Other("b"))
	assert.Empty(t, e.Other("c"))
}
