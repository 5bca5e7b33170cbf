package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps objects in a map. Used by tests and the in-memory server
// mode.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	name := newObjectName()
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.objects[name] = stored
	s.mu.Unlock()
	return name, nil
}

func (s *MemoryStore) Get(_ context.Context, locator string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[locator]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %q: %w", locator, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
