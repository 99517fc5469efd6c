package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"

	ierr "github.com/meterbridge/meterbridge/internal/errors"
	"github.com/meterbridge/meterbridge/internal/storage"
)

// InMemoryObjectStore implements storage.ObjectStore over a map for tests.
type InMemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailGet / FailPut make the next matching operation fail, for
	// exercising load/save failure paths.
	FailGet map[string]error
	FailPut map[string]error

	puts int
}

var _ storage.ObjectStore = (*InMemoryObjectStore)(nil)

func NewInMemoryObjectStore() *InMemoryObjectStore {
	return &InMemoryObjectStore{
		objects: make(map[string][]byte),
		FailGet: make(map[string]error),
		FailPut: make(map[string]error),
	}
}

func (s *InMemoryObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *InMemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.FailGet[key]; ok {
		return nil, err
	}
	body, ok := s.objects[key]
	if !ok {
		return nil, ierr.NewErrorf("object %s not found", key).Mark(ierr.ErrNotFound)
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

func (s *InMemoryObjectStore) Put(_ context.Context, key string, body []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.FailPut[key]; ok {
		return err
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	s.objects[key] = stored
	s.puts++
	return nil
}

// Set seeds an object without counting as a Put.
func (s *InMemoryObjectStore) Set(key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
}

// PutCount returns how many writes have been performed.
func (s *InMemoryObjectStore) PutCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
