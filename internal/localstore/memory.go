package localstore

import (
	"maps"
	"sync"
)

// MemoryStore is a non-persistent Store. It backs the fallback path when
// persistent storage cannot be opened, and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]

	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) SetMany(values map[string]string) error {
	s.mu.Lock()
	maps.Copy(s.values, values)
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) All() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.values), nil
}

func (s *MemoryStore) Close() error { return nil }
