package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"respec/internal/artifact"
	"respec/internal/extract"
	"respec/internal/specgraph"
	"respec/internal/types/catalog"
)

// State is a read-only view of a session.
type State struct {
	SessionID       string                    `json:"sessionId"`
	Seq             int64                     `json:"seq"`
	Mapped          map[string]artifact.Entry `json:"mapped"`
	Respec          map[string]artifact.Entry `json:"respec"`
	ActiveConflicts []artifact.Conflict       `json:"activeConflicts"`
	Metadata        artifact.Metadata         `json:"metadata"`
	Form            []artifact.FormUpdate     `json:"form"`
	Question        *artifact.Question        `json:"question,omitempty"`
}

// TextResult reports what a free-text proposal did.
type TextResult struct {
	Candidates []extract.Candidate  `json:"candidates"`
	Added      []artifact.AddResult `json:"added"`
	Rejected   []string             `json:"rejected,omitempty"`
	Event      Event                `json:"event"`
}

// Propose adds one specification. Source defaults to user.
func (s *Service) Propose(ctx context.Context, sessionID string, req artifact.AddRequest) (artifact.AddResult, Event, error) {
	if s == nil {
		return artifact.AddResult{}, Event{}, ErrSessionNotFound
	}
	if req.Source == "" {
		req.Source = artifact.SourceUser
	}
	var (
		res artifact.AddResult
		ev  Event
	)
	err := s.run(ctx, "propose", sessionID, func(context.Context) error {
		var err error
		ev, err = s.mutate(sessionID, EventProposed, func(st *artifact.Store) error {
			res, err = st.AddSpecificationToMapped(req)
			return err
		})
		return err
	})
	return res, ev, err
}

// ProposeField selects the option of field whose selected value, name or id
// matches value, case-insensitively. An empty value clears the field.
func (s *Service) ProposeField(ctx context.Context, sessionID, field, value string) (artifact.AddResult, Event, error) {
	if s == nil {
		return artifact.AddResult{}, Event{}, ErrSessionNotFound
	}
	field = strings.TrimSpace(field)
	value = strings.TrimSpace(value)
	graph := s.graphOf(sessionID)
	if _, ok := graph.Field(field); !ok {
		return artifact.AddResult{}, Event{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if value == "" {
		_, ev, err := s.ClearField(ctx, sessionID, field)
		return artifact.AddResult{}, ev, err
	}
	spec, ok := matchOption(graph, field, value)
	if !ok {
		return artifact.AddResult{}, Event{}, fmt.Errorf("%w: %s=%q", ErrUnknownValue, field, value)
	}
	return s.Propose(ctx, sessionID, artifact.AddRequest{
		SpecID:          spec.ID,
		OriginalRequest: value,
		Source:          artifact.SourceUser,
		Confidence:      1,
	})
}

func matchOption(g specgraph.Graph, field, value string) (catalog.Specification, bool) {
	options := g.SpecificationsForField(field)
	for _, match := range []func(catalog.Specification) string{
		func(sp catalog.Specification) string { return sp.SelectedValue },
		func(sp catalog.Specification) string { return sp.Name },
		func(sp catalog.Specification) string { return sp.ID },
	} {
		for _, sp := range options {
			if strings.EqualFold(strings.TrimSpace(match(sp)), value) {
				return sp, true
			}
		}
	}
	return catalog.Specification{}, false
}

// ProposeText extracts candidates from text and adds them as one batch.
// Extraction runs before the session lock is taken; the batch itself is never
// interleaved with another mutation of the session.
func (s *Service) ProposeText(ctx context.Context, sessionID, text string) (TextResult, error) {
	if s == nil {
		return TextResult{}, ErrSessionNotFound
	}
	text = strings.TrimSpace(text)
	var out TextResult
	err := s.run(ctx, "propose_text", sessionID, func(ctx context.Context) error {
		if _, err := s.lookup(sessionID); err != nil {
			return err
		}
		if s.extractor == nil {
			return ErrNoExtractor
		}
		cands, err := s.extractor.Extract(ctx, text)
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		out.Candidates = cands

		ev, err := s.mutate(sessionID, EventExtracted, func(st *artifact.Store) error {
			var scope []string
			for _, c := range cands {
				orig := c.OriginalRequest
				if orig == "" {
					orig = text
				}
				res, err := st.AddSpecificationToMapped(artifact.AddRequest{
					SpecID:           c.SpecID,
					Value:            c.Value,
					OriginalRequest:  orig,
					SubstitutionNote: c.SubstitutionNote,
					Source:           artifact.SourceLLM,
					Confidence:       c.Confidence,
					Attribution:      artifact.AttributionRequirement,
					Scope:            scope,
				})
				if errors.Is(err, artifact.ErrUnknownSpecification) {
					s.logf("%s dropped candidate %s: %v", sessionID, c.SpecID, err)
					out.Rejected = append(out.Rejected, c.SpecID)
					s.metrics.Candidates.WithLabelValues("rejected").Inc()
					continue
				}
				if err != nil {
					return err
				}
				s.metrics.Candidates.WithLabelValues("added").Inc()
				out.Added = append(out.Added, res)
				scope = append(scope, res.ID)
				scope = append(scope, res.Filled...)
			}
			return nil
		})
		out.Event = ev
		return err
	})
	return out, err
}

// ResolveConflict applies a resolution option. Conflicts that are no longer
// active resolve as stale without error.
func (s *Service) ResolveConflict(ctx context.Context, sessionID, conflictID, resolutionID string) (artifact.ResolveResult, Event, error) {
	if s == nil {
		return artifact.ResolveResult{}, Event{}, ErrSessionNotFound
	}
	var (
		res artifact.ResolveResult
		ev  Event
	)
	err := s.run(ctx, "resolve", sessionID, func(context.Context) error {
		var err error
		ev, err = s.mutate(sessionID, EventResolved, func(st *artifact.Store) error {
			res, err = st.ResolveConflict(conflictID, resolutionID)
			return err
		})
		return err
	})
	if err == nil && res.Stale {
		s.logf("%s resolution of %s was stale", sessionID, res.ConflictID)
	}
	return res, ev, err
}

// ClearField removes every selection of field.
func (s *Service) ClearField(ctx context.Context, sessionID, field string) ([]string, Event, error) {
	if s == nil {
		return nil, Event{}, ErrSessionNotFound
	}
	var (
		removed []string
		ev      Event
	)
	err := s.run(ctx, "clear", sessionID, func(context.Context) error {
		var err error
		ev, err = s.mutate(sessionID, EventCleared, func(st *artifact.Store) error {
			removed, err = st.ClearFieldSelections(field)
			return err
		})
		return err
	})
	return removed, ev, err
}

// State returns a consistent snapshot of the session.
func (s *Service) State(ctx context.Context, sessionID string) (State, error) {
	if s == nil {
		return State{}, ErrSessionNotFound
	}
	var out State
	err := s.run(ctx, "state", sessionID, func(context.Context) error {
		sess, err := s.lookup(sessionID)
		if err != nil {
			return err
		}
		sess.mu.Lock()
		defer sess.mu.Unlock()
		st := sess.store
		form, err := st.GenerateFormUpdatesFromRespec()
		if err != nil {
			return err
		}
		out = State{
			SessionID:       sess.id,
			Seq:             sess.seq,
			Mapped:          st.Mapped(),
			Respec:          st.Respec(),
			ActiveConflicts: st.ActiveConflicts(),
			Metadata:        st.Metadata(),
			Form:            form,
		}
		if q, ok := st.PendingQuestion(); ok {
			out.Question = &q
		}
		return nil
	})
	return out, err
}
