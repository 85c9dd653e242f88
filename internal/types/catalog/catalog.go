package catalog

import "strings"

// SelectionType controls how a UI field accumulates selections.
type SelectionType string

const (
	SingleChoice SelectionType = "single_choice"
	MultiChoice  SelectionType = "multi_choice"
)

// Severity classifies a declared exclusion.
type Severity string

const (
	SeverityIncompatible        Severity = "incompatible"
	SeverityPerformanceMismatch Severity = "performance_mismatch"
	SeverityPerformanceWarning  Severity = "performance_warning"
	SeverityEfficiencyWarning   Severity = "efficiency_warning"
)

// Hard reports whether the severity removes options from a field.
func (s Severity) Hard() bool {
	return s == SeverityIncompatible
}

// Specification is an atomic selectable option in the dataset graph.
// Requires maps a category to candidate ids: candidates within one category
// are alternatives, categories must all be satisfied.
type Specification struct {
	ID            string              `json:"id" yaml:"id" validate:"required"`
	Name          string              `json:"name" yaml:"name" validate:"required"`
	FieldName     string              `json:"field_name,omitempty" yaml:"field_name,omitempty"`
	Requires      map[string][]string `json:"requires,omitempty" yaml:"requires,omitempty" validate:"omitempty,dive,keys,required,endkeys,dive,required"`
	SelectedValue string              `json:"selected_value,omitempty" yaml:"selected_value,omitempty"`
}

// DefaultValue is the value used when the specification is filled in
// without an explicit value.
func (s Specification) DefaultValue() string {
	if v := strings.TrimSpace(s.SelectedValue); v != "" {
		return v
	}
	return s.Name
}

// Exclusion is an unordered incompatibility between two specifications.
// Question may reference the two specifications as {a} and {b}.
type Exclusion struct {
	A        string   `json:"a" yaml:"a" validate:"required,nefield=B"`
	B        string   `json:"b" yaml:"b" validate:"required"`
	Severity Severity `json:"severity" yaml:"severity" validate:"required,oneof=incompatible performance_mismatch performance_warning efficiency_warning"`
	Question string   `json:"question,omitempty" yaml:"question,omitempty"`
}

// Other returns the id paired with id, or "" when id is not part of the pair.
func (e Exclusion) Other(id string) string {
	switch id {
	case e.A:
		return e.B
	case e.B:
		return e.A
	}
	return ""
}

// UIField is the presentation metadata of a form field.
type UIField struct {
	FieldName     string        `json:"field_name" yaml:"field_name" validate:"required"`
	Section       string        `json:"section" yaml:"section" validate:"required"`
	SelectionType SelectionType `json:"selection_type" yaml:"selection_type" validate:"required,oneof=single_choice multi_choice"`
}

// SingleChoice reports whether a new selection displaces the previous one.
func (f UIField) SingleChoice() bool {
	return f.SelectionType != MultiChoice
}

// Dataset is the static graph the engine reads from.
type Dataset struct {
	Version        string          `json:"version,omitempty" yaml:"version,omitempty"`
	Specifications []Specification `json:"specifications" yaml:"specifications" validate:"dive"`
	Exclusions     []Exclusion     `json:"exclusions,omitempty" yaml:"exclusions,omitempty" validate:"dive"`
	Fields         []UIField       `json:"fields" yaml:"fields" validate:"dive"`
}
