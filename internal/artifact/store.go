// Package artifact holds the selection state of one configuration session:
// the tentative mapped partition, the validated respec partition and the
// conflicts between them. Consistency is always re-derived from the current
// state; nothing is rolled back.
package artifact

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"respec/internal/specgraph"
	"respec/internal/types/catalog"
)

// Store is the artifact state engine. All exported methods are serialized.
type Store struct {
	graph  specgraph.Graph
	logger *log.Logger
	now    func() time.Time
	newID  func() string

	mu          sync.Mutex
	initialized bool

	mapped   map[string]Entry
	respec   map[string]Entry
	active   []*Conflict
	resolved []*Conflict

	mappedMeta   PartitionMeta
	respecMeta   PartitionMeta
	conflictMeta ConflictMeta

	metrics Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes store diagnostics to l.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the conflict id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New returns a store reading from g. Initialize must succeed before use.
func New(g specgraph.Graph, opts ...Option) *Store {
	s := &Store{
		graph:  g,
		logger: log.Default(),
		now:    time.Now,
		newID:  func() string { return "conflict-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize enables the store once the dataset is loaded. Calling it again
// keeps the current state.
func (s *Store) Initialize() error {
	if s == nil || s.graph == nil || !s.graph.Loaded() {
		return ErrDatasetNotLoaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	s.mapped = make(map[string]Entry)
	s.respec = make(map[string]Entry)
	s.conflictMeta.Priority = PriorityNormal
	s.initialized = true
	return nil
}

// Initialized reports whether Initialize succeeded.
func (s *Store) Initialized() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Store) checkInitLocked() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (s *Store) logf(format string, args ...any) {
	s.logger.Printf("artifact: "+format, args...)
}

// Mapped returns a copy of the mapped partition.
func (s *Store) Mapped() map[string]Entry {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyEntries(s.mapped)
}

// Respec returns a copy of the respec partition.
func (s *Store) Respec() map[string]Entry {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyEntries(s.respec)
}

// Lookup returns the entry for id and the partition holding it.
func (s *Store) Lookup(id string) (Entry, Partition) {
	if s == nil {
		return Entry{}, PartitionNone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(strings.TrimSpace(id))
}

// ActiveConflicts returns copies of the active conflicts in detection order.
func (s *Store) ActiveConflicts() []Conflict {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyConflicts(s.active)
}

// ResolvedConflicts returns copies of the resolved conflicts, oldest first.
func (s *Store) ResolvedConflicts() []Conflict {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyConflicts(s.resolved)
}

// Metadata returns the partition and conflict metadata.
func (s *Store) Metadata() Metadata {
	if s == nil {
		return Metadata{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cm := s.conflictMeta
	cm.BlockingConflicts = append([]string(nil), cm.BlockingConflicts...)
	return Metadata{Mapped: s.mappedMeta, Respec: s.respecMeta, Conflicts: cm}
}

// Blocked reports whether unresolved conflicts gate promotion.
func (s *Store) Blocked() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflictMeta.SystemBlocked
}

func (s *Store) lookupLocked(id string) (Entry, Partition) {
	if e, ok := s.mapped[id]; ok {
		return e, PartitionMapped
	}
	if e, ok := s.respec[id]; ok {
		return e, PartitionRespec
	}
	return Entry{}, PartitionNone
}

func (s *Store) presentLocked(id string) bool {
	_, where := s.lookupLocked(id)
	return where != PartitionNone
}

// selectionLocked is the union of mapped and respec.
func (s *Store) selectionLocked() map[string]Entry {
	out := make(map[string]Entry, len(s.mapped)+len(s.respec))
	for id, e := range s.respec {
		out[id] = e
	}
	for id, e := range s.mapped {
		out[id] = e
	}
	return out
}

// fieldEntriesLocked returns the ids of present entries in field, sorted.
func (s *Store) fieldEntriesLocked(field string) []string {
	if field == "" {
		return nil
	}
	var ids []string
	for id, e := range s.selectionLocked() {
		if e.FieldName == field {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) singleChoiceLocked(field string) bool {
	if field == "" {
		return false
	}
	f, ok := s.graph.Field(field)
	if !ok {
		// unknown fields behave as single choice
		return true
	}
	return f.SingleChoice()
}

func (s *Store) putMappedLocked(e Entry) {
	if _, ok := s.respec[e.ID]; ok {
		delete(s.respec, e.ID)
		s.touchRespecLocked()
	}
	s.mapped[e.ID] = e
	s.touchMappedLocked()
}

func (s *Store) removeLocked(id string) bool {
	if _, ok := s.mapped[id]; ok {
		delete(s.mapped, id)
		s.touchMappedLocked()
		return true
	}
	if _, ok := s.respec[id]; ok {
		delete(s.respec, id)
		s.touchRespecLocked()
		return true
	}
	return false
}

// reparentLocked rewrites the dependency back-reference of id in place.
func (s *Store) reparentLocked(id, parent string) {
	if e, ok := s.mapped[id]; ok {
		e.DependencyOf = parent
		e.Attribution = AttributionAssumption
		s.mapped[id] = e
		return
	}
	if e, ok := s.respec[id]; ok {
		e.DependencyOf = parent
		e.Attribution = AttributionAssumption
		s.respec[id] = e
	}
}

func (s *Store) touchMappedLocked() {
	s.mappedMeta.TotalNodes = len(s.mapped)
	s.mappedMeta.LastModified = s.now()
}

func (s *Store) touchRespecLocked() {
	s.respecMeta.TotalNodes = len(s.respec)
	s.respecMeta.LastModified = s.now()
}

func (s *Store) specLocked(id string) (catalog.Specification, bool) {
	spec, ok := s.graph.Specification(id)
	if !ok {
		s.logf("specification %s not found in dataset, skipping", id)
	}
	return spec, ok
}

func copyEntries(in map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyConflicts(in []*Conflict) []Conflict {
	out := make([]Conflict, 0, len(in))
	for _, c := range in {
		cp := *c
		cp.AffectedNodes = append([]string(nil), c.AffectedNodes...)
		cp.Resolutions = make([]ResolutionOption, len(c.Resolutions))
		for i, r := range c.Resolutions {
			r.TargetNodes = append([]string(nil), r.TargetNodes...)
			cp.Resolutions[i] = r
		}
		out = append(out, cp)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setOf(ids ...[]string) map[string]bool {
	out := make(map[string]bool)
	for _, list := range ids {
		for _, id := range list {
			if id != "" {
				out[id] = true
			}
		}
	}
	return out
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if id == "" {
			continue
		}
		dup := false
		for _, have := range dst {
			if have == id {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, id)
		}
	}
	return dst
}
