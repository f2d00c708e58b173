package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oiwn/fetchbox/pkg/config"
	"github.com/oiwn/fetchbox/pkg/storage"
)

func TestLocalObjectStorePutGetHead(t *testing.T) {
	store, err := storage.NewLocalObjectStore(config.StorageConfig{Bucket: t.TempDir()})
	require.NoError(t, err)

	ctx := context.Background()
	meta, err := store.Put(ctx, "p/m.json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "p/m.json", meta.Key)
	assert.NotEmpty(t, meta.ETag)
	assert.Equal(t, 11, meta.Size)

	exists, err := store.Head(ctx, "p/m.json")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "p/m.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestLocalObjectStoreHeadMissingReturnsFalse(t *testing.T) {
	store, err := storage.NewLocalObjectStore(config.StorageConfig{Bucket: t.TempDir()})
	require.NoError(t, err)

	exists, err := store.Head(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalObjectStoreGetMissingReturnsNotFound(t *testing.T) {
	store, err := storage.NewLocalObjectStore(config.StorageConfig{Bucket: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")
	require.Error(t, err)
	var storeErr *storage.Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, storage.NotFound, storeErr.Kind)
}

func TestManifestKeyFormat(t *testing.T) {
	store, err := storage.NewLocalObjectStore(config.StorageConfig{Bucket: "data"})
	require.NoError(t, err)

	key := storage.ManifestKey(store, "p/m.json")
	assert.Equal(t, "local://data/p/m.json", key)
}

func TestInMemoryObjectStorePutGetHead(t *testing.T) {
	store := storage.NewInMemoryObjectStore("")
	ctx := context.Background()

	_, err := store.Put(ctx, "k1", []byte("hello"))
	require.NoError(t, err)

	exists, err := store.Head(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.Equal(t, "fetchbox-local", store.Bucket())
	assert.Equal(t, "memory", store.Scheme())
}

func TestInMemoryObjectStoreGetMissingReturnsNotFound(t *testing.T) {
	store := storage.NewInMemoryObjectStore("bucket")

	_, err := store.Get(context.Background(), "absent")
	require.Error(t, err)
	var storeErr *storage.Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, storage.NotFound, storeErr.Kind)
}

func TestInMemoryObjectStoreIsolatesMutations(t *testing.T) {
	store := storage.NewInMemoryObjectStore("bucket")
	ctx := context.Background()

	original := []byte("abc")
	_, err := store.Put(ctx, "k", original)
	require.NoError(t, err)
	original[0] = 'z' // mutating caller's slice must not affect the stored copy

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestNewSelectsProviderByConfig(t *testing.T) {
	local, err := storage.New(config.StorageConfig{Provider: config.StorageLocal, Bucket: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", local.Scheme())

	_, err = storage.New(config.StorageConfig{Provider: "bogus"})
	assert.Error(t, err)
}
