// Package memory keeps saved exports and export records in process memory.
// It backs the HTTP-only delivery mode and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore stores artifacts in memory and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject copies the content under name.
func (s *BlobStore) PutObject(_ context.Context, name string, _ string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read data: %w", err)
	}

	s.mu.Lock()
	s.data[name] = byteData
	s.mu.Unlock()
	return "memory://" + name, nil
}

// Object returns a copy of the stored content.
func (s *BlobStore) Object(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}
