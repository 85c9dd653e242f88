// Package specgraph answers read-only queries over a loaded specification
// dataset. The index is built once and never mutated, so a single *Index can
// be shared by every artifact store in the process.
package specgraph

import "respec/internal/types/catalog"

// Graph is the query surface the artifact engine consumes.
type Graph interface {
	Loaded() bool
	Specification(id string) (catalog.Specification, bool)
	SpecificationsForField(field string) []catalog.Specification
	// RequiredIDs returns the one-hop requirement ids of id across all
	// categories. Callers drive any recursion.
	RequiredIDs(id string) []string
	ExclusionsFor(id string) []catalog.Exclusion
	Exclusion(a, b string) (catalog.Exclusion, bool)
	// ValidOptions returns the field's specifications that are not hard
	// excluded by any selected id outside the field.
	ValidOptions(field string, selected []string) []catalog.Specification
	Field(name string) (catalog.UIField, bool)
	Fields() []catalog.UIField
}
