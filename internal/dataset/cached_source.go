package dataset

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	memcache "respec/internal/cache/memory"
)

type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int
	BlobMaxBytes   int

	ListTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        10 * time.Minute,
		BlobMaxEntries: 256,
		BlobMaxBytes:   32 * 1024 * 1024, // 32MiB
		ListTTL:        time.Minute,
	}
}

type MetricsSnapshot struct {
	BlobHits      uint64
	BlobMisses    uint64
	ListHits      uint64
	ListMisses    uint64
	OriginReads   uint64
	OriginReadErr uint64
	OriginWrites  uint64
}

type Metrics struct {
	blobHits      atomic.Uint64
	blobMisses    atomic.Uint64
	listHits      atomic.Uint64
	listMisses    atomic.Uint64
	originReads   atomic.Uint64
	originReadErr atomic.Uint64
	originWrites  atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		BlobHits:      m.blobHits.Load(),
		BlobMisses:    m.blobMisses.Load(),
		ListHits:      m.listHits.Load(),
		ListMisses:    m.listMisses.Load(),
		OriginReads:   m.originReads.Load(),
		OriginReadErr: m.originReadErr.Load(),
		OriginWrites:  m.originWrites.Load(),
	}
}

const listKey = "\x00list"

// CachedSource is a read-through cache in front of a remote Source. Reloads
// within the TTL do not touch the origin.
type CachedSource struct {
	origin Source

	blobs   *memcache.LRUTTL[string, []byte]
	lists   *memcache.LRUTTL[string, []string]
	metrics Metrics
}

func NewCachedSource(origin Source, cfg CacheConfig) *CachedSource {
	def := DefaultCacheConfig()
	if cfg.BlobTTL <= 0 {
		cfg.BlobTTL = def.BlobTTL
	}
	if cfg.BlobMaxEntries <= 0 {
		cfg.BlobMaxEntries = def.BlobMaxEntries
	}
	if cfg.BlobMaxBytes < 0 {
		cfg.BlobMaxBytes = def.BlobMaxBytes
	}
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = def.ListTTL
	}
	return &CachedSource{
		origin: origin,
		blobs: memcache.NewLRUTTL[string, []byte](memcache.Config{
			MaxEntries: cfg.BlobMaxEntries,
			MaxBytes:   cfg.BlobMaxBytes,
			TTL:        cfg.BlobTTL,
		}),
		lists: memcache.NewLRUTTL[string, []string](memcache.Config{MaxEntries: 1, TTL: cfg.ListTTL}),
	}
}

func (s *CachedSource) Read(ctx context.Context, name string) ([]byte, error) {
	key := strings.TrimLeft(strings.TrimSpace(name), "/")
	if raw, ok := s.blobs.Get(key); ok {
		s.metrics.blobHits.Add(1)
		return append([]byte(nil), raw...), nil
	}
	s.metrics.blobMisses.Add(1)
	s.metrics.originReads.Add(1)

	raw, err := s.origin.Read(ctx, name)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	copied := append([]byte(nil), raw...)
	s.blobs.Set(key, copied, len(copied))
	return append([]byte(nil), copied...), nil
}

func (s *CachedSource) List(ctx context.Context) ([]string, error) {
	if names, ok := s.lists.Get(listKey); ok {
		s.metrics.listHits.Add(1)
		return append([]string(nil), names...), nil
	}
	s.metrics.listMisses.Add(1)
	s.metrics.originReads.Add(1)

	names, err := s.origin.List(ctx)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	copied := append([]string(nil), names...)
	s.lists.Set(listKey, copied, 0)
	return append([]string(nil), copied...), nil
}

// Put writes through to the origin and refreshes the cached copy.
func (s *CachedSource) Put(ctx context.Context, name string, content []byte) error {
	w, ok := s.origin.(Writer)
	if !ok {
		return fmt.Errorf("dataset origin is read-only")
	}
	s.metrics.originWrites.Add(1)
	if err := w.Put(ctx, name, content); err != nil {
		return err
	}
	key := strings.TrimLeft(strings.TrimSpace(name), "/")
	copied := append([]byte(nil), content...)
	s.blobs.Set(key, copied, len(copied))
	s.lists.Delete(listKey)
	return nil
}

// Invalidate drops every cached document so the next load hits the origin.
func (s *CachedSource) Invalidate() {
	if s == nil {
		return
	}
	s.blobs.Clear()
	s.lists.Clear()
}

func (s *CachedSource) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}
