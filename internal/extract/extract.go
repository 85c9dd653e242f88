// Package extract turns free-form requirement text into specification
// candidates. The engine treats every candidate as an ordinary proposal with
// source llm.
package extract

import (
	"context"
	"strings"
)

// Candidate is one proposed specification.
type Candidate struct {
	SpecID           string  `json:"spec_id"`
	Value            string  `json:"value,omitempty"`
	Confidence       float64 `json:"confidence"`
	OriginalRequest  string  `json:"original_request,omitempty"`
	SubstitutionNote string  `json:"substitution_note,omitempty"`
}

type Extractor interface {
	Extract(ctx context.Context, text string) ([]Candidate, error)
}

// normalize trims, drops empty ids, clamps confidence into (0,1] and keeps the
// first candidate per id.
func normalize(in []Candidate, defaultConfidence float64) []Candidate {
	out := make([]Candidate, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c.SpecID = strings.TrimSpace(c.SpecID)
		if c.SpecID == "" || seen[c.SpecID] {
			continue
		}
		seen[c.SpecID] = true
		c.Value = strings.TrimSpace(c.Value)
		c.OriginalRequest = strings.TrimSpace(c.OriginalRequest)
		c.SubstitutionNote = strings.TrimSpace(c.SubstitutionNote)
		if c.Confidence <= 0 || c.Confidence > 1 {
			c.Confidence = defaultConfidence
		}
		out = append(out, c)
	}
	return out
}
