package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps objects in process memory. Used by tests and by
// deployments without an object-storage endpoint configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // "bucket/object" → payload
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, bucket, object string, r io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[bucket+"/"+object] = data
	s.mu.Unlock()
	return fmt.Sprintf("memory://%s/%s", bucket, object), nil
}

func (s *MemoryStore) Remove(ctx context.Context, bucket, object string) error {
	s.mu.Lock()
	delete(s.objects, bucket+"/"+object)
	s.mu.Unlock()
	return nil
}

// Get returns a stored object's payload. Test helper.
func (s *MemoryStore) Get(bucket, object string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[bucket+"/"+object]
	return data, ok
}
