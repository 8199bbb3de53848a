package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/internal/cache"
	"github.com/BaSui01/flowcanvas/workflow"
)

const cacheType = "document"

// CacheRecorder receives cache hit and miss counts.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// CachedStore fronts another store with a read-through, write-through redis
// cache. Cache failures are logged and never fail the call. Entries carry the
// snapshot version so a late read-through fill cannot replace a newer save.
type CachedStore struct {
	next     DocumentStore
	cache    *cache.Manager
	recorder CacheRecorder
	logger   *zap.Logger
}

// NewCachedStore wraps next. Close closes both next and the cache manager.
// recorder may be nil.
func NewCachedStore(next DocumentStore, c *cache.Manager, recorder CacheRecorder, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		next:     next,
		cache:    c,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "cached_store")),
	}
}

func cacheKey(id string) string { return "doc:" + id }

func (s *CachedStore) Load(ctx context.Context, id string) (workflow.Snapshot, error) {
	entry, err := s.cache.Get(ctx, cacheKey(id))
	switch {
	case err == nil:
		snap, decErr := decode(entry.Data)
		if decErr == nil && snap.Version == entry.Version {
			s.hit()
			return snap, nil
		}
		s.logger.Warn("dropping corrupt cache entry", zap.String("id", id), zap.Error(decErr))
		s.evict(ctx, id)
	case errors.Is(err, cache.ErrCorruptEntry):
		s.logger.Warn("dropping corrupt cache entry", zap.String("id", id), zap.Error(err))
		s.evict(ctx, id)
	case !cache.IsCacheMiss(err):
		s.logger.Warn("cache read failed", zap.String("id", id), zap.Error(err))
	}
	s.miss()

	snap, err := s.next.Load(ctx, id)
	if err != nil {
		return snap, err
	}
	s.fill(ctx, id, snap)
	return snap, nil
}

func (s *CachedStore) Save(ctx context.Context, id string, snap workflow.Snapshot) error {
	if err := s.next.Save(ctx, id, snap); err != nil {
		return err
	}
	s.fill(ctx, id, snap)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, id string) error {
	s.evict(ctx, id)
	return s.next.Delete(ctx, id)
}

func (s *CachedStore) List(ctx context.Context) ([]Summary, error) {
	return s.next.List(ctx)
}

func (s *CachedStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *CachedStore) Close() error {
	return errors.Join(s.next.Close(), s.cache.Close())
}

func (s *CachedStore) fill(ctx context.Context, id string, snap workflow.Snapshot) {
	data, err := encode(snap)
	if err != nil {
		return
	}
	stored, err := s.cache.Put(ctx, cacheKey(id), snap.Version, data)
	switch {
	case err != nil:
		s.logger.Warn("cache write failed", zap.String("id", id), zap.Error(err))
	case !stored:
		s.logger.Debug("newer snapshot already cached", zap.String("id", id), zap.Uint64("version", snap.Version))
	}
}

func (s *CachedStore) evict(ctx context.Context, id string) {
	if err := s.cache.Invalidate(ctx, cacheKey(id)); err != nil {
		s.logger.Warn("cache evict failed", zap.String("id", id), zap.Error(err))
	}
}

func (s *CachedStore) hit() {
	if s.recorder != nil {
		s.recorder.RecordCacheHit(cacheType)
	}
}

func (s *CachedStore) miss() {
	if s.recorder != nil {
		s.recorder.RecordCacheMiss(cacheType)
	}
}
