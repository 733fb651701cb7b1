package docstore

import (
	"sync"
	"time"

	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
)

// memoryStore keeps every collection in one arena guarded by a single mutex,
// which makes ConditionalPut plus its side writes trivially atomic.
type memoryStore struct {
	mu    sync.RWMutex
	colls map[string]map[string]Record
	now   func() time.Time
}

func NewMemoryStore() Store {
	return &memoryStore{
		colls: make(map[string]map[string]Record),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) coll(name string) map[string]Record {
	c, ok := s.colls[name]
	if !ok {
		c = make(map[string]Record)
		s.colls[name] = c
	}
	return c
}

func (s *memoryStore) Get(_ dbctx.Context, collection, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.colls[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Data = cloneData(rec.Data)
	return &rec, nil
}

func (s *memoryStore) Put(_ dbctx.Context, collection string, rec Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.putLocked(collection, rec)
	return &out, nil
}

func (s *memoryStore) putLocked(collection string, rec Record) Record {
	c := s.coll(collection)
	prev := c[rec.ID]
	stored := Record{
		ID:        rec.ID,
		Version:   prev.Version + 1,
		Data:      cloneData(rec.Data),
		UpdatedAt: s.now(),
	}
	c[rec.ID] = stored
	stored.Data = cloneData(stored.Data)
	return stored
}

func (s *memoryStore) ConditionalPut(_ dbctx.Context, collection string, rec Record, expectedVersion int64, also ...Write) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.colls[collection][rec.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return nil, ErrVersionMismatch
	}
	out := s.putLocked(collection, rec)
	for _, w := range also {
		if w.Delete {
			delete(s.coll(w.Collection), w.Record.ID)
			continue
		}
		s.putLocked(w.Collection, w.Record)
	}
	return &out, nil
}

func (s *memoryStore) Delete(_ dbctx.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.colls[collection]
	if _, ok := c[id]; !ok {
		return ErrNotFound
	}
	delete(c, id)
	return nil
}

// Scan snapshots the collection first so fn may call back into the store.
func (s *memoryStore) Scan(_ dbctx.Context, collection string, fn func(Record) error) error {
	s.mu.RLock()
	snap := make([]Record, 0, len(s.colls[collection]))
	for _, rec := range s.colls[collection] {
		rec.Data = cloneData(rec.Data)
		snap = append(snap, rec)
	}
	s.mu.RUnlock()
	for _, rec := range snap {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *memoryStore) Close() error { return nil }
