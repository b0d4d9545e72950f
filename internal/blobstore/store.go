package blobstore

import (
	"context"
	"fmt"
	"sync"
)

// Store holds chunk payloads between upload and transcription. Put returns a
// URL that later identifies the blob; Get resolves it back to bytes.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
}

const memoryURLPrefix = "mem://"

// MemoryStore keeps blobs in process memory. Suitable for single-instance
// deployments; blobs do not survive a restart.
type MemoryStore struct {
	blobs map[string][]byte
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores a copy of data under name and returns its mem:// URL.
func (s *MemoryStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("blob name cannot be empty")
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.blobs[name] = stored
	s.mu.Unlock()

	return memoryURLPrefix + name, nil
}

// Get returns the blob stored under url.
func (s *MemoryStore) Get(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, ok := trimPrefix(url, memoryURLPrefix)
	if !ok {
		return nil, fmt.Errorf("not a memory store URL: %s", url)
	}

	s.mu.RLock()
	data, found := s.blobs[name]
	s.mu.RUnlock()

	if !found {
		return nil, fmt.Errorf("blob not found: %s", url)
	}

	return data, nil
}

// Delete removes the blob stored under url. Deleting a missing blob is not
// an error.
func (s *MemoryStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, ok := trimPrefix(url, memoryURLPrefix)
	if !ok {
		return fmt.Errorf("not a memory store URL: %s", url)
	}

	s.mu.Lock()
	delete(s.blobs, name)
	s.mu.Unlock()

	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func trimPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}
