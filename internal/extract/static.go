package extract

import (
	"context"
	"sort"
	"strings"

	"respec/internal/specgraph"
)

const staticConfidence = 0.6

// Static matches specification names and selected values literally in the
// text. Longer phrases win over shorter ones they contain.
type Static struct {
	graph specgraph.Graph
}

func NewStatic(g specgraph.Graph) *Static {
	return &Static{graph: g}
}

type phrase struct {
	text string
	id   string
}

func (s *Static) Extract(ctx context.Context, text string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" || s == nil || s.graph == nil {
		return nil, nil
	}
	orig := lower
	if len(text) == len(lower) {
		orig = text
	}

	var phrases []phrase
	for _, f := range s.graph.Fields() {
		for _, spec := range s.graph.SpecificationsForField(f.FieldName) {
			for _, p := range []string{spec.Name, spec.SelectedValue} {
				if p = strings.ToLower(strings.TrimSpace(p)); len(p) > 1 {
					phrases = append(phrases, phrase{text: p, id: spec.ID})
				}
			}
		}
	}
	sort.SliceStable(phrases, func(i, j int) bool {
		if len(phrases[i].text) != len(phrases[j].text) {
			return len(phrases[i].text) > len(phrases[j].text)
		}
		return phrases[i].id < phrases[j].id
	})

	type hit struct {
		pos int
		c   Candidate
	}
	var hits []hit
	taken := make([]bool, len(lower))
	for _, p := range phrases {
		pos := indexWord(lower, p.text, taken)
		if pos < 0 {
			continue
		}
		for i := pos; i < pos+len(p.text); i++ {
			taken[i] = true
		}
		hits = append(hits, hit{pos: pos, c: Candidate{
			SpecID:          p.id,
			Confidence:      staticConfidence,
			OriginalRequest: orig[pos : pos+len(p.text)],
		}})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.c)
	}
	return normalize(out, staticConfidence), nil
}

// indexWord finds needle at word boundaries in a region not already taken.
func indexWord(hay, needle string, taken []bool) int {
	for start := 0; start+len(needle) <= len(hay); {
		i := strings.Index(hay[start:], needle)
		if i < 0 {
			return -1
		}
		i += start
		end := i + len(needle)
		if boundary(hay, i-1) && boundary(hay, end) && !anyTaken(taken[i:end]) {
			return i
		}
		start = i + 1
	}
	return -1
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}

func anyTaken(b []bool) bool {
	for _, v := range b {
		if v {
			return true
		}
	}
	return false
}
