package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
)

// InMemoryObjectStore keeps objects in a map guarded by a mutex. It is
// the Go analog of the original's in-memory object_store backend, used
// for tests and local development without touching the filesystem.
type InMemoryObjectStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
}

// NewInMemoryObjectStore builds an empty in-memory store under bucket.
func NewInMemoryObjectStore(bucket string) *InMemoryObjectStore {
	if bucket == "" {
		bucket = "fetchbox-local"
	}
	return &InMemoryObjectStore{bucket: bucket, objects: make(map[string][]byte)}
}

func (s *InMemoryObjectStore) Scheme() string { return "memory" }
func (s *InMemoryObjectStore) Bucket() string { return s.bucket }

func (s *InMemoryObjectStore) Put(ctx context.Context, key string, data []byte) (UploadMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[key] = stored

	sum := md5.Sum(data)
	return UploadMetadata{Key: key, ETag: hex.EncodeToString(sum[:]), Size: len(data)}, nil
}

func (s *InMemoryObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, &Error{Kind: NotFound, Key: key}
	}
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

func (s *InMemoryObjectStore) Head(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[key]
	return ok, nil
}
