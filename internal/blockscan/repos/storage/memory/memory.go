package memory

import (
	"context"
	"sync"

	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// Store is an in-process storage collaborator. Values are copied on the way in
// and out so callers never share backing arrays with the store.
type Store struct {
	mu     sync.RWMutex
	values map[domain.StorageKey][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{values: make(map[domain.StorageKey][]byte)}
}

func (s *Store) Get(_ context.Context, key domain.StorageKey) ([]byte, bool, error) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Set(_ context.Context, key domain.StorageKey, value []byte) error {
	cp := append([]byte(nil), value...)
	s.mu.Lock()
	s.values[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error { return nil }
