package artifact

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of the store counters.
type MetricsSnapshot struct {
	Added             uint64
	Filled            uint64
	Displaced         uint64
	Cleared           uint64
	Promoted          uint64
	Pruned            uint64
	DepthLimited      uint64
	ConflictsDetected uint64
	ConflictsResolved uint64
	StaleResolutions  uint64
}

type Metrics struct {
	added             atomic.Uint64
	filled            atomic.Uint64
	displaced         atomic.Uint64
	cleared           atomic.Uint64
	promoted          atomic.Uint64
	pruned            atomic.Uint64
	depthLimited      atomic.Uint64
	conflictsDetected atomic.Uint64
	conflictsResolved atomic.Uint64
	staleResolutions  atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Added:             m.added.Load(),
		Filled:            m.filled.Load(),
		Displaced:         m.displaced.Load(),
		Cleared:           m.cleared.Load(),
		Promoted:          m.promoted.Load(),
		Pruned:            m.pruned.Load(),
		DepthLimited:      m.depthLimited.Load(),
		ConflictsDetected: m.conflictsDetected.Load(),
		ConflictsResolved: m.conflictsResolved.Load(),
		StaleResolutions:  m.staleResolutions.Load(),
	}
}

// Metrics returns the store counters. Safe to call without holding the
// store lock.
func (s *Store) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}
