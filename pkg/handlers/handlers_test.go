package handlers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oiwn/fetchbox/pkg/config"
	"github.com/oiwn/fetchbox/pkg/handlers"
	"github.com/oiwn/fetchbox/pkg/types"
)

func sampleManifest() types.Manifest {
	return types.Manifest{
		Version:  "v1",
		Metadata: map[string]interface{}{},
		Resources: []types.Resource{
			{
				Name:    "resource-1",
				URL:     "https://example.com/file.jpg",
				Headers: map[string]string{"User-Agent": "Test/1.0"},
				Tags:    map[string]string{"type": "image"},
			},
		},
	}
}

func TestDefaultHandlerPrepareManifest(t *testing.T) {
	h := handlers.NewDefaultHandler(config.HandlerConfig{Handler: "default"})
	ctx := types.HandlerContext{JobID: "test-job", JobType: "default", Manifest: sampleManifest()}

	prepared, err := h.PrepareManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-job", prepared.JobID)
	assert.Len(t, prepared.Manifest.Resources, 1)
}

func TestDefaultHandlerRejectsBadVersion(t *testing.T) {
	h := handlers.NewDefaultHandler(config.HandlerConfig{Handler: "default"})
	manifest := sampleManifest()
	manifest.Version = "v2"
	ctx := types.HandlerContext{JobID: "test-job", JobType: "default", Manifest: manifest}

	_, err := h.PrepareManifest(ctx)
	require.Error(t, err)
	var handlerErr *handlers.Error
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, handlers.InvalidManifest, handlerErr.Kind)
}

func TestDefaultHandlerBuildTasks(t *testing.T) {
	h := handlers.NewDefaultHandler(config.HandlerConfig{Handler: "default"})
	ctx := types.HandlerContext{JobID: "test-job", JobType: "default", Manifest: sampleManifest()}

	tasks, err := h.BuildTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "resource-1", tasks[0].ResourceName)
	assert.Equal(t, "https://example.com/file.jpg", tasks[0].URL)
	assert.Nil(t, tasks[0].StorageHint)
	assert.Nil(t, tasks[0].ProxyHint)
}

func TestDefaultHandlerMergesDefaultAndResourceHeaders(t *testing.T) {
	h := handlers.NewDefaultHandler(config.HandlerConfig{
		Handler:        "default",
		DefaultHeaders: map[string]string{"Accept": "*/*", "User-Agent": "Default/1.0"},
	})
	ctx := types.HandlerContext{JobID: "test-job", JobType: "default", Manifest: sampleManifest()}

	tasks, err := h.BuildTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	headers := map[string]string{}
	for _, kv := range tasks[0].HTTPHeaders {
		headers[kv.Name] = kv.Value
	}
	assert.Equal(t, "*/*", headers["Accept"])
	assert.Equal(t, "Test/1.0", headers["User-Agent"], "resource header overrides the configured default")
}

func TestDefaultHandlerAttachesConfiguredHints(t *testing.T) {
	h := handlers.NewDefaultHandler(config.HandlerConfig{
		Handler:       "default",
		StorageBucket: "fetchbox-bucket",
		KeyPrefix:     "uploads",
		ProxyPool:     "residential",
	})
	ctx := types.HandlerContext{JobID: "job-42", JobType: "default", Manifest: sampleManifest()}

	tasks, err := h.BuildTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NotNil(t, tasks[0].StorageHint)
	assert.Equal(t, "fetchbox-bucket", tasks[0].StorageHint.Bucket)
	assert.Equal(t, "uploads/job-42/resource-1", tasks[0].StorageHint.KeyPrefix)

	require.NotNil(t, tasks[0].ProxyHint)
	assert.Equal(t, "residential", tasks[0].ProxyHint.PoolName)
}

func TestRegistryDefaultsRegisterBothDefaultAndGallery(t *testing.T) {
	registry := handlers.NewDefaultRegistry()

	assert.True(t, registry.HasHandler("default"))
	assert.True(t, registry.HasHandler("gallery"))
	assert.False(t, registry.HasHandler("unknown"))

	defaultHandler, err := registry.Get("default")
	require.NoError(t, err)
	galleryHandler, err := registry.Get("gallery")
	require.NoError(t, err)
	assert.Same(t, defaultHandler, galleryHandler, "default and gallery share one handler instance")
}

func TestRegistryGetUnknownJobType(t *testing.T) {
	registry := handlers.NewRegistry()
	_, err := registry.Get("nonexistent")
	assert.Error(t, err)
}
