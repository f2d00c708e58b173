package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oiwn/fetchbox/pkg/api"
	"github.com/oiwn/fetchbox/pkg/broker"
	"github.com/oiwn/fetchbox/pkg/config"
	"github.com/oiwn/fetchbox/pkg/handlers"
	"github.com/oiwn/fetchbox/pkg/ledger"
	"github.com/oiwn/fetchbox/pkg/queue"
	"github.com/oiwn/fetchbox/pkg/storage"
)

func newTestController(t *testing.T) *api.Controller {
	t.Helper()

	ledgerStore, err := ledger.Open(filepath.Join(t.TempDir(), "ledger"), ledger.DefaultRetention())
	require.NoError(t, err)
	t.Cleanup(func() { ledgerStore.Close() })

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	b, _ := broker.New(q, 2, 16)

	return &api.Controller{
		Ledger:   ledgerStore,
		Broker:   b,
		Registry: handlers.NewDefaultRegistry(),
		Store:    storage.NewInMemoryObjectStore("test-bucket"),
		Limits: config.APILimits{
			MaxPayloadBytes:         5 * 1024 * 1024,
			MaxResourcesPerManifest: 1000,
			MaxHeadersPerResource:   10,
			MaxHeaderValueBytes:     1024,
		},
	}
}

func sampleBody(resourceCount int) []byte {
	resources := make([]string, 0, resourceCount)
	for i := 0; i < resourceCount; i++ {
		resources = append(resources, fmt.Sprintf(`{"name":"r%d","url":"https://e.com/%d"}`, i, i))
	}
	body := fmt.Sprintf(`{"manifest_version":"v1","storage":{"manifest_file":"m.json","resource_key_prefix":"p/"},"metadata":{},"resources":[%s]}`,
		strings.Join(resources, ","))
	return []byte(body)
}

func ingestHeaders(tenant, idempotencyKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if tenant != "" {
		h.Set("X-Fetchbox-Tenant", tenant)
	}
	if idempotencyKey != "" {
		h.Set("X-Fetchbox-Idempotency-Key", idempotencyKey)
	}
	return h
}

// TestIngestJobHappyPath covers S1: 202, resource_count, manifest_key
// scheme, ledger snapshot, and queue sequence advance.
func TestIngestJobHappyPath(t *testing.T) {
	c := newTestController(t)
	body := sampleBody(2)

	resp, err := c.IngestJob(context.Background(), ingestHeaders("tenant-a", ""), bytes.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, uint64(2), resp.ResourceCount)
	assert.True(t, strings.HasPrefix(resp.ManifestKey, "memory://"))

	snapshot, err := c.Ledger.Get(resp.JobID)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, uint64(2), snapshot.ResourceTotal)
	assert.Equal(t, uint64(2), c.Broker.CurrentSeq())

	task0, err := c.Broker.GetTask(0)
	require.NoError(t, err)
	assert.Equal(t, "https://e.com/0", task0.URL)
	assert.Equal(t, uint32(1), task0.Attempt)
}

// TestIngestJobIdempotencyHit covers S2.
func TestIngestJobIdempotencyHit(t *testing.T) {
	c := newTestController(t)
	body := sampleBody(2)

	first, err := c.IngestJob(context.Background(), ingestHeaders("tenant-a", "k1"), bytes.NewReader(body))
	require.NoError(t, err)

	second, err := c.IngestJob(context.Background(), ingestHeaders("tenant-a", "k1"), bytes.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, uint64(2), c.Broker.CurrentSeq(), "second submission enqueues no additional tasks")
}

// TestIngestJobMissingTenant covers S3.
func TestIngestJobMissingTenant(t *testing.T) {
	c := newTestController(t)
	_, err := c.IngestJob(context.Background(), ingestHeaders("", ""), bytes.NewReader(sampleBody(1)))

	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.InvalidPayload, apiErr.Kind)
	assert.Equal(t, "INVALID_PAYLOAD", apiErr.Code())
}

// TestIngestJobUnsupportedVersion covers S4.
func TestIngestJobUnsupportedVersion(t *testing.T) {
	c := newTestController(t)
	body := []byte(`{"manifest_version":"v2","storage":{"manifest_file":"m.json","resource_key_prefix":"p/"},"metadata":{},"resources":[{"name":"r1","url":"https://e.com/a"}]}`)

	_, err := c.IngestJob(context.Background(), ingestHeaders("tenant-a", ""), bytes.NewReader(body))

	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.InvalidPayload, apiErr.Kind)
	assert.Contains(t, apiErr.Message, "v1")
}

// TestIngestJobOversizeBody covers S5.
func TestIngestJobOversizeBody(t *testing.T) {
	c := newTestController(t)
	c.Limits.MaxPayloadBytes = 10

	_, err := c.IngestJob(context.Background(), ingestHeaders("tenant-a", ""), bytes.NewReader(sampleBody(1)))

	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.PayloadTooLarge, apiErr.Kind)
	assert.Equal(t, http.StatusRequestEntityTooLarge, apiErr.StatusCode())
}

func TestIngestJobMissingContentType(t *testing.T) {
	c := newTestController(t)
	h := http.Header{}
	h.Set("X-Fetchbox-Tenant", "tenant-a")

	_, err := c.IngestJob(context.Background(), h, bytes.NewReader(sampleBody(1)))
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.InvalidPayload, apiErr.Kind)
}

func TestGetJobNotFound(t *testing.T) {
	c := newTestController(t)
	_, err := c.GetJob("does-not-exist")

	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.NotFound, apiErr.Kind)
}

func TestHealthAllHealthy(t *testing.T) {
	c := newTestController(t)
	status := c.Health("test-version")

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Components["ledger"])
	assert.Equal(t, "healthy", status.Components["task_broker"])
	assert.Contains(t, status.Details, "ledger_size")
	assert.Equal(t, "0", status.Details["queue_current_seq"])
}

func TestHealthReportsUnhealthyBroker(t *testing.T) {
	c := newTestController(t)
	c.Broker.CloseInbox(0)
	c.Broker.CloseInbox(1)

	status := c.Health("test-version")
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "unhealthy", status.Components["task_broker"])
}

// TestServerEndToEnd drives the HTTP layer via httptest to confirm
// routing, status codes, and body shape match the documented surface.
func TestServerEndToEnd(t *testing.T) {
	c := newTestController(t)
	srv := api.NewServer(c, "test-version")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/jobs", bytes.NewReader(sampleBody(1)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fetchbox-Tenant", "tenant-a")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusAccepted, res.StatusCode)

	var accepted api.JobAcceptedResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&accepted))
	assert.Equal(t, uint64(1), accepted.ResourceCount)

	statusRes, err := http.Get(ts.URL + "/operators/jobs/" + accepted.JobID)
	require.NoError(t, err)
	defer statusRes.Body.Close()
	assert.Equal(t, http.StatusOK, statusRes.StatusCode)

	healthRes, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer healthRes.Body.Close()
	assert.Equal(t, http.StatusOK, healthRes.StatusCode)
}

func TestServerGetJobNotFound(t *testing.T) {
	c := newTestController(t)
	srv := api.NewServer(c, "test-version")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/operators/jobs/missing")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
