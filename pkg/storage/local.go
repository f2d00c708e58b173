package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/oiwn/fetchbox/pkg/config"
)

// LocalObjectStore persists objects as files under a root directory
// named by the bucket. It is the default backend for single-node
// deployments and for tests that want real filesystem round-trips
// without a network dependency.
type LocalObjectStore struct {
	bucket string
	root   string
}

// NewLocalObjectStore builds a LocalObjectStore rooted at cfg.Bucket,
// creating the directory if it does not exist.
func NewLocalObjectStore(cfg config.StorageConfig) (*LocalObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: local backend requires a bucket (root directory)")
	}
	if err := os.MkdirAll(cfg.Bucket, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root dir %q: %w", cfg.Bucket, err)
	}
	return &LocalObjectStore{bucket: cfg.Bucket, root: cfg.Bucket}, nil
}

func (s *LocalObjectStore) Scheme() string { return "local" }
func (s *LocalObjectStore) Bucket() string { return s.bucket }

func (s *LocalObjectStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalObjectStore) Put(ctx context.Context, key string, data []byte) (UploadMetadata, error) {
	full := s.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return UploadMetadata{}, &Error{Kind: UploadFailed, Key: key, Err: err}
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return UploadMetadata{}, &Error{Kind: UploadFailed, Key: key, Err: err}
	}

	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	log.Debug().Str("key", key).Int("size", len(data)).Msg("uploaded to local storage")
	return UploadMetadata{Key: key, ETag: etag, Size: len(data)}, nil
}

func (s *LocalObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &Error{Kind: NotFound, Key: key, Err: err}
	}
	if err != nil {
		return nil, &Error{Kind: DownloadFailed, Key: key, Err: err}
	}
	return data, nil
}

func (s *LocalObjectStore) Head(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Kind: BackendError, Key: key, Err: err}
	}
	return true, nil
}
