// Package session hosts one artifact store per configuration session and
// turns every mutation into a form delta and an optional conflict question
// for subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"respec/internal/artifact"
	"respec/internal/extract"
	"respec/internal/specgraph"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoExtractor     = errors.New("no extractor configured")
	ErrUnknownField    = errors.New("unknown field")
	ErrUnknownValue    = errors.New("value does not match any option of the field")
)

const tracerName = "respec/session"

// Service owns the live sessions of the process. Each session pins the
// dataset index current at creation and has its own store and lock.
type Service struct {
	graph     specgraph.Graph
	extractor extract.Extractor
	logger    *log.Logger
	now       func() time.Time
	newID     func() string
	metrics   *Metrics
	tracer    trace.Tracer

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id        string
	createdAt time.Time
	graph     specgraph.Graph

	// mu serializes mutations together with their event publication.
	mu    sync.Mutex
	store *artifact.Store
	form  map[string]artifact.FormUpdate
	seq   int64

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

type Option func(*Service)

func WithExtractor(e extract.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithRegisterer registers the session metrics on reg. Without it the
// metrics are kept but never exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) { s.metrics = NewMetrics(reg) }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(g specgraph.Graph, opts ...Option) *Service {
	s := &Service{
		graph:    g,
		logger:   log.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		tracer:   otel.Tracer(tracerName),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.extractor == nil && g != nil {
		s.extractor = extract.NewStatic(g)
	}
	return s
}

func (s *Service) logf(format string, args ...any) {
	s.logger.Printf("session: "+format, args...)
}

// CreateSession starts an empty, initialized session and returns its id.
func (s *Service) CreateSession(ctx context.Context) (string, error) {
	if s == nil {
		return "", ErrSessionNotFound
	}
	var id string
	err := s.run(ctx, "create", "", func(context.Context) error {
		graph := s.pinned()
		store := artifact.New(graph,
			artifact.WithLogger(s.logger),
			artifact.WithClock(s.now),
		)
		if err := store.Initialize(); err != nil {
			return fmt.Errorf("initialize session store: %w", err)
		}
		updates, err := store.GenerateFormUpdatesFromRespec()
		if err != nil {
			return err
		}
		id = strings.TrimSpace(s.newID())
		sess := &session{
			id:        id,
			createdAt: s.now(),
			graph:     graph,
			store:     store,
			form:      formState(updates),
			subs:      make(map[int]chan Event),
		}
		s.mu.Lock()
		s.sessions[id] = sess
		n := len(s.sessions)
		s.mu.Unlock()
		s.metrics.ActiveSessions.Set(float64(n))
		s.logf("created %s", id)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// CloseSession drops the session and closes every subscription on it.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	if s == nil {
		return ErrSessionNotFound
	}
	sessionID = strings.TrimSpace(sessionID)
	return s.run(ctx, "close", sessionID, func(context.Context) error {
		s.mu.Lock()
		sess, ok := s.sessions[sessionID]
		delete(s.sessions, sessionID)
		n := len(s.sessions)
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		s.metrics.ActiveSessions.Set(float64(n))
		sess.closeSubscribers()
		s.logf("closed %s", sessionID)
		return nil
	})
}

// Sessions returns the ids of the live sessions.
func (s *Service) Sessions() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// pinned resolves a reloadable handle to its current index, so a dataset
// reload only reaches sessions created after it.
func (s *Service) pinned() specgraph.Graph {
	if h, ok := s.graph.(*specgraph.Handle); ok {
		if idx := h.Index(); idx != nil {
			return idx
		}
	}
	return s.graph
}

// graphOf is the graph a session reads, or the shared one when the session
// is unknown.
func (s *Service) graphOf(sessionID string) specgraph.Graph {
	if sess, err := s.lookup(sessionID); err == nil {
		return sess.graph
	}
	return s.graph
}

func (s *Service) lookup(sessionID string) (*session, error) {
	sessionID = strings.TrimSpace(sessionID)
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || sessionID == "" {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// run wraps one operation in a span and records its outcome.
func (s *Service) run(ctx context.Context, op, sessionID string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.startSpan(ctx, op, sessionID)
	start := time.Now()
	err := fn(ctx)
	s.metrics.observe(op, start, err)
	endSpan(span, err)
	return err
}

// mutate runs fn under the session lock and, when it succeeds, settles the
// store and publishes the resulting event.
func (s *Service) mutate(sessionID string, kind EventKind, fn func(*artifact.Store) error) (Event, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return Event{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := fn(sess.store); err != nil {
		return Event{}, err
	}
	return s.settleLocked(sess, kind)
}

// settleLocked prunes and promotes an unblocked store, then diffs the form
// against the last published state.
func (s *Service) settleLocked(sess *session, kind EventKind) (Event, error) {
	st := sess.store
	if !st.Blocked() {
		if removed, err := st.PruneToDependencyClosure(); err != nil {
			return Event{}, err
		} else if len(removed) > 0 {
			s.logf("%s pruned %v", sess.id, removed)
		}
		if !st.Blocked() {
			if _, err := st.MoveNonConflictingToRespec(); err != nil {
				return Event{}, err
			}
		}
	}
	updates, err := st.GenerateFormUpdatesFromRespec()
	if err != nil {
		return Event{}, err
	}
	next := formState(updates)
	d := diffForms(sess.form, next)
	sess.form = next
	sess.seq++

	ev := Event{
		SessionID: sess.id,
		Kind:      kind,
		Seq:       sess.seq,
		FormDelta: d,
		Updates:   changedUpdates(updates, d),
		Blocked:   st.Blocked(),
		At:        s.now(),
	}
	if q, ok := st.PendingQuestion(); ok {
		ev.Question = &q
		s.metrics.Questions.Inc()
	}
	sess.publish(ev)
	return ev, nil
}
