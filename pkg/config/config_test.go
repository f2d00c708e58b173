package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oiwn/fetchbox/pkg/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, config.Validate(config.Default()))
}

func TestValidateRejectsNoHandlers(t *testing.T) {
	cfg := config.Default()
	cfg.Handlers = nil

	require.Error(t, config.Validate(cfg))
}

func TestValidateRejectsZeroMaxPayloadBytes(t *testing.T) {
	cfg := config.Default()
	cfg.Server.API.MaxPayloadBytes = 0

	require.Error(t, config.Validate(cfg))
}

func TestValidateRejectsOversizeMaxPayloadBytes(t *testing.T) {
	cfg := config.Default()
	cfg.Server.API.MaxPayloadBytes = 6 * 1024 * 1024

	require.Error(t, config.Validate(cfg))
}

func TestValidateRejectsOutOfRangeMaxResources(t *testing.T) {
	cfg := config.Default()
	cfg.Server.API.MaxResourcesPerManifest = 1001

	require.Error(t, config.Validate(cfg))
}

func TestValidateRejectsOversizeMaxHeadersPerResource(t *testing.T) {
	cfg := config.Default()
	cfg.Server.API.MaxHeadersPerResource = 11

	require.Error(t, config.Validate(cfg))
}

func TestValidateRejectsOversizeMaxHeaderValueBytes(t *testing.T) {
	cfg := config.Default()
	cfg.Server.API.MaxHeaderValueBytes = 1025

	require.Error(t, config.Validate(cfg))
}

func TestValidateRejectsHandlerReferencingMissingProxyPool(t *testing.T) {
	cfg := config.Default()
	cfg.Handlers["default"] = config.HandlerConfig{Handler: "default", ProxyPool: "missing-pool"}

	require.Error(t, config.Validate(cfg))
}

func TestValidateAcceptsHandlerReferencingDeclaredProxyPool(t *testing.T) {
	cfg := config.Default()
	cfg.Proxy.Pools = map[string]config.ProxyPoolConfig{
		"residential": {Primary: []string{"http://p1"}},
	}
	cfg.Handlers["default"] = config.HandlerConfig{Handler: "default", ProxyPool: "residential"}

	assert.NoError(t, config.Validate(cfg))
}

func TestValidateRejectsS3ProviderWithoutCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Provider = config.StorageS3
	cfg.Storage.AccessKeyID = ""
	cfg.Storage.SecretAccessKey = ""

	require.Error(t, config.Validate(cfg))
}

func TestValidateAcceptsS3ProviderWithCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Provider = config.StorageS3
	cfg.Storage.Bucket = "fetchbox"
	cfg.Storage.AccessKeyID = "AKIA..."
	cfg.Storage.SecretAccessKey = "secret"

	assert.NoError(t, config.Validate(cfg))
}

func TestValidateRejectsZeroRetentionTTLs(t *testing.T) {
	t.Run("job_ttl_days", func(t *testing.T) {
		cfg := config.Default()
		cfg.Retention.JobTTLDays = 0
		require.Error(t, config.Validate(cfg))
	})
	t.Run("logs_ttl_days", func(t *testing.T) {
		cfg := config.Default()
		cfg.Retention.LogsTTLDays = 0
		require.Error(t, config.Validate(cfg))
	})
	t.Run("idempotency_ttl_days", func(t *testing.T) {
		cfg := config.Default()
		cfg.Retention.IdempotencyTTLDays = 0
		require.Error(t, config.Validate(cfg))
	})
}

func TestValidateRejectsZeroLedgerMaxBytes(t *testing.T) {
	cfg := config.Default()
	cfg.Retention.LedgerMaxBytes = 0

	require.Error(t, config.Validate(cfg))
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := config.Load("/nonexistent/fetchbox.yaml")
	require.Error(t, err)
}

func TestLoadParsesYAMLAndOverlaysDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  bind_addr: "127.0.0.1:9090"
  ledger_path: "./testdata/ledger"
  queue_path: "./testdata/queue"
  num_workers: 2
  api:
    max_payload_bytes: 1048576
    max_resources_per_manifest: 100
    max_headers_per_resource: 5
    max_header_value_bytes: 512
storage:
  provider: local
  bucket: testbucket
handlers:
  default:
    handler: default
retention:
  job_ttl_days: 7
  logs_ttl_days: 7
  idempotency_ttl_days: 7
  ledger_max_bytes: 1048576
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.BindAddr)
	assert.Equal(t, 2, cfg.Server.NumWorkers)
	assert.Equal(t, uint64(1048576), cfg.Server.API.MaxPayloadBytes)
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := t.TempDir() + "/fetchbox.yaml"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
