package moderation

import (
	"context"
	"sync"
)

// Store persists ban records keyed by lowercased identity. The ledger treats
// it as a dumb map; all expiry and capability logic stays in the ledger.
type Store interface {
	Get(ctx context.Context, identity string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, identity string) error
	List(ctx context.Context) ([]*Record, error)
}

// memStore is the default in-process store.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*Record
}

// NewMemoryStore returns a Store backed by an in-process map.
func NewMemoryStore() Store {
	return &memStore{recs: make(map[string]*Record)}
}

func (s *memStore) Get(_ context.Context, identity string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[identity]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[rec.Identity] = &cp
	return nil
}

func (s *memStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, identity)
	return nil
}

func (s *memStore) List(_ context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, 0, len(s.recs))
	for _, rec := range s.recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}
