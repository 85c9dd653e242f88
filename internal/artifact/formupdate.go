package artifact

import (
	"sort"
)

// GenerateFormUpdatesFromRespec renders one update per known UI field from
// the respec partition. Fields without a validated selection are reported as
// cleared so stale values never survive in the presentation layer.
func (s *Store) GenerateFormUpdatesFromRespec() ([]FormUpdate, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInitLocked(); err != nil {
		return nil, err
	}

	byField := make(map[string][]Entry)
	for _, e := range s.respec {
		if e.FieldName != "" {
			byField[e.FieldName] = append(byField[e.FieldName], e)
		}
	}
	for _, entries := range byField {
		sort.Slice(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if a.Confidence != b.Confidence {
				return a.Confidence > b.Confidence
			}
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.ID < b.ID
		})
	}

	fields := s.graph.Fields()
	out := make([]FormUpdate, 0, len(fields))
	for _, f := range fields {
		entries := byField[f.FieldName]
		if len(entries) == 0 {
			out = append(out, FormUpdate{
				Section:          f.Section,
				Field:            f.FieldName,
				Cleared:          true,
				SubstitutionNote: ClearedNote,
			})
			continue
		}
		win := entries[0]
		u := FormUpdate{
			Section:          f.Section,
			Field:            f.FieldName,
			Value:            win.Value,
			Confidence:       win.Confidence,
			IsAssumption:     win.IsAssumption(),
			OriginalRequest:  win.OriginalRequest,
			SubstitutionNote: win.SubstitutionNote,
		}
		if !f.SingleChoice() {
			values := make([]string, 0, len(entries))
			allAssumed := true
			for _, e := range entries {
				values = append(values, e.Value)
				allAssumed = allAssumed && e.IsAssumption()
			}
			u.Value = values
			u.IsAssumption = allAssumed
		}
		out = append(out, u)
	}
	return out, nil
}

// PendingQuestion renders the first active conflict as a binary question.
func (s *Store) PendingQuestion() (Question, bool) {
	if s == nil {
		return Question{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.active) == 0 {
		return Question{}, false
	}
	return BuildQuestion(*s.active[0]), true
}

// BuildQuestion turns a conflict into the two-option question shown to the
// user, using the first two resolution options.
func BuildQuestion(c Conflict) Question {
	q := Question{ConflictID: c.ID, Type: c.Type, Text: c.Description}
	for i, r := range c.Resolutions {
		if i == 2 {
			break
		}
		q.Options = append(q.Options, QuestionOption{
			ID:              r.ID,
			Description:     r.Description,
			ExpectedOutcome: r.ExpectedOutcome,
		})
	}
	return q
}
