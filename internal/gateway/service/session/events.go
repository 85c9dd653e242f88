package session

import (
	"context"
	"time"

	"respec/internal/artifact"
	"respec/internal/common/delta"
)

type EventKind string

const (
	EventSnapshot  EventKind = "snapshot"
	EventProposed  EventKind = "proposed"
	EventExtracted EventKind = "extracted"
	EventResolved  EventKind = "resolved"
	EventCleared   EventKind = "cleared"
)

// Event is published after every mutation. FormDelta is keyed by field name;
// Updates carries the full form update of every field named in it.
type Event struct {
	SessionID string                `json:"sessionId"`
	Kind      EventKind             `json:"kind"`
	Seq       int64                 `json:"seq"`
	FormDelta delta.Delta           `json:"formDelta"`
	Updates   []artifact.FormUpdate `json:"updates,omitempty"`
	Question  *artifact.Question    `json:"question,omitempty"`
	Blocked   bool                  `json:"blocked"`
	At        time.Time             `json:"at"`
}

const subscriberBuffer = 16

// Subscribe streams the session's events until ctx is done or the session is
// closed. The first event is a snapshot of the current form.
func (s *Service) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	if s == nil {
		return nil, ErrSessionNotFound
	}
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	out := make(chan Event, subscriberBuffer)

	sess.mu.Lock()
	updates := make([]artifact.FormUpdate, 0, len(sess.form))
	for _, f := range sess.graph.Fields() {
		if u, ok := sess.form[f.FieldName]; ok {
			updates = append(updates, u)
		}
	}
	snap := Event{
		SessionID: sess.id,
		Kind:      EventSnapshot,
		Seq:       sess.seq,
		FormDelta: diffForms(nil, sess.form),
		Updates:   updates,
		Blocked:   sess.store.Blocked(),
		At:        s.now(),
	}
	if q, ok := sess.store.PendingQuestion(); ok {
		snap.Question = &q
	}
	sess.subMu.Lock()
	if sess.closed {
		sess.subMu.Unlock()
		sess.mu.Unlock()
		close(out)
		return out, nil
	}
	key := sess.nextSub
	sess.nextSub++
	sess.subs[key] = out
	pushEvent(out, snap)
	sess.subMu.Unlock()
	sess.mu.Unlock()

	go func() {
		<-ctx.Done()
		sess.unsubscribe(key)
	}()
	return out, nil
}

func (sess *session) publish(ev Event) {
	sess.subMu.Lock()
	defer sess.subMu.Unlock()
	for _, ch := range sess.subs {
		pushEvent(ch, ev)
	}
}

func (sess *session) unsubscribe(key int) {
	sess.subMu.Lock()
	defer sess.subMu.Unlock()
	if ch, ok := sess.subs[key]; ok {
		delete(sess.subs, key)
		close(ch)
	}
}

func (sess *session) closeSubscribers() {
	sess.subMu.Lock()
	defer sess.subMu.Unlock()
	sess.closed = true
	for key, ch := range sess.subs {
		delete(sess.subs, key)
		close(ch)
	}
}

// pushEvent never blocks: a full subscriber loses its oldest event.
func pushEvent(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

func formState(updates []artifact.FormUpdate) map[string]artifact.FormUpdate {
	out := make(map[string]artifact.FormUpdate, len(updates))
	for _, u := range updates {
		out[u.Field] = u
	}
	return out
}

func diffForms(before, after map[string]artifact.FormUpdate) delta.Delta {
	if before == nil {
		before = map[string]artifact.FormUpdate{}
	}
	return delta.Diff(before, after, delta.Options{MaxDepth: 1})
}

func changedUpdates(updates []artifact.FormUpdate, d delta.Delta) []artifact.FormUpdate {
	if d.Empty() {
		return nil
	}
	changed := make(map[string]bool, len(d.Modified))
	for _, m := range d.Modified {
		changed[m.Field] = true
	}
	var out []artifact.FormUpdate
	for _, u := range updates {
		if changed[u.Field] {
			out = append(out, u)
		}
	}
	return out
}
