package store

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/flowcanvas/workflow"
)

type memoryRecord struct {
	data    []byte
	summary Summary
}

// MemoryStore keeps encoded snapshots in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]memoryRecord
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Load(ctx context.Context, id string) (workflow.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return workflow.Snapshot{}, ErrStoreClosed
	}
	rec, ok := s.docs[id]
	if !ok {
		return workflow.Snapshot{}, ErrNotFound
	}
	return decode(rec.data)
}

func (s *MemoryStore) Save(ctx context.Context, id string, snap workflow.Snapshot) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.docs[id] = memoryRecord{data: data, summary: summarize(id, snap, time.Now().UTC())}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]Summary, 0, len(s.docs))
	for _, rec := range s.docs {
		out = append(out, rec.summary)
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
