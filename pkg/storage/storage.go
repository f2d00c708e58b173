// Package storage defines the ObjectStore capability used to persist
// accepted manifests and, eventually, downloaded resources: put/get/head
// over a flat key namespace, with a concrete backend selected by
// config.StorageConfig.Provider.
package storage

import (
	"context"
	"fmt"

	"github.com/oiwn/fetchbox/pkg/config"
)

// ErrorKind enumerates ObjectStore failure modes.
type ErrorKind int

const (
	UploadFailed ErrorKind = iota
	DownloadFailed
	NotFound
	BackendError
)

// Error wraps an ObjectStore failure with its kind and the key involved.
type Error struct {
	Kind ErrorKind
	Key  string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case UploadFailed:
		return fmt.Sprintf("storage: upload failed for %q: %v", e.Key, e.Err)
	case DownloadFailed:
		return fmt.Sprintf("storage: download failed for %q: %v", e.Key, e.Err)
	case NotFound:
		return fmt.Sprintf("storage: not found: %q", e.Key)
	default:
		return fmt.Sprintf("storage: backend error for %q: %v", e.Key, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// UploadMetadata describes the result of a successful Put.
type UploadMetadata struct {
	Key  string
	ETag string
	Size int
}

// ObjectStore is the storage capability: put/get/head over a bucket.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// Scheme names the backend for manifest_key construction, e.g. "s3"
	// or "local".
	Scheme() string

	// Bucket returns the backend's configured bucket name.
	Bucket() string

	// Put uploads data under key, returning its etag and size.
	Put(ctx context.Context, key string, data []byte) (UploadMetadata, error)

	// Get downloads the bytes stored under key. Returns a *Error with
	// Kind == NotFound if key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Head reports whether key exists without downloading its bytes.
	Head(ctx context.Context, key string) (bool, error)
}

// ManifestKey builds the canonical "<scheme>://<bucket>/<key>" URI
// returned to clients as a job's manifest_key.
func ManifestKey(store ObjectStore, key string) string {
	return fmt.Sprintf("%s://%s/%s", store.Scheme(), store.Bucket(), key)
}

// New constructs the ObjectStore backend selected by cfg.Provider.
func New(cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Provider {
	case config.StorageS3:
		return NewS3ObjectStore(cfg)
	case config.StorageLocal, "":
		return NewLocalObjectStore(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown provider %q", cfg.Provider)
	}
}
