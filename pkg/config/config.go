// Package config defines FetchBox's resolved configuration shape and
// validates it. Source parsing is YAML (gopkg.in/yaml.v3), matching the
// teacher's own declarative-document idiom; storage credentials are
// overlaid from the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StorageProvider selects the ObjectStore backend.
type StorageProvider string

const (
	StorageS3    StorageProvider = "s3"
	StorageLocal StorageProvider = "local"
)

// APILimits bounds the Ingest Controller's request handling. Only
// MaxPayloadBytes is applied per request; the other three fields are
// range-checked by Validate but not passed to the manifest validator,
// which always uses its fixed limits (1000 resources, 10 headers,
// 1024-byte header values).
type APILimits struct {
	MaxPayloadBytes         uint64 `yaml:"max_payload_bytes"`
	MaxResourcesPerManifest uint64 `yaml:"max_resources_per_manifest"`
	MaxHeadersPerResource   uint64 `yaml:"max_headers_per_resource"`
	MaxHeaderValueBytes     uint64 `yaml:"max_header_value_bytes"`
}

// ServerConfig is the top-level listener and ledger configuration.
type ServerConfig struct {
	BindAddr   string    `yaml:"bind_addr"`
	LedgerPath string    `yaml:"ledger_path"`
	QueuePath  string    `yaml:"queue_path"`
	NumWorkers int       `yaml:"num_workers"`
	API        APILimits `yaml:"api"`
}

// StorageConfig selects and configures the ObjectStore implementation.
type StorageConfig struct {
	Provider StorageProvider `yaml:"provider"`
	Bucket   string          `yaml:"bucket"`
	Endpoint string          `yaml:"endpoint,omitempty"`
	Region   string          `yaml:"region,omitempty"`

	// Populated from environment, never from the YAML document.
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

// HandlerConfig configures one registered job handler.
type HandlerConfig struct {
	Handler        string            `yaml:"handler"`
	StorageBucket  string            `yaml:"storage_bucket,omitempty"`
	KeyPrefix      string            `yaml:"key_prefix,omitempty"`
	DefaultHeaders map[string]string `yaml:"default_headers,omitempty"`
	Options        map[string]string `yaml:"options,omitempty"`
	ProxyPool      string            `yaml:"proxy_pool,omitempty"`
}

// ProxyPoolConfig is one named entry in proxy.pools.
type ProxyPoolConfig struct {
	Primary        []string `yaml:"primary"`
	Fallbacks      []string `yaml:"fallbacks,omitempty"`
	RetryBackoffMs uint64   `yaml:"retry_backoff_ms"`
	MaxRetries     uint32   `yaml:"max_retries"`
}

// ProxyConfig is the full set of named proxy pools.
type ProxyConfig struct {
	Pools map[string]ProxyPoolConfig `yaml:"pools"`
}

// RetentionConfig bounds ledger pruning.
type RetentionConfig struct {
	JobTTLDays         uint32 `yaml:"job_ttl_days"`
	LedgerMaxBytes     uint64 `yaml:"ledger_max_bytes"`
	LogsTTLDays        uint32 `yaml:"logs_ttl_days"`
	IdempotencyTTLDays uint32 `yaml:"idempotency_ttl_days"`
}

// Config is FetchBox's fully resolved configuration document.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Storage   StorageConfig            `yaml:"storage"`
	Handlers  map[string]HandlerConfig `yaml:"handlers"`
	Proxy     ProxyConfig              `yaml:"proxy"`
	Retention RetentionConfig          `yaml:"retention"`
}

// Default returns a configuration with spec.md's documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BindAddr:   "0.0.0.0:8080",
			LedgerPath: "./data/ledger",
			QueuePath:  "./data/queue",
			NumWorkers: 4,
			API: APILimits{
				MaxPayloadBytes:         5 * 1024 * 1024,
				MaxResourcesPerManifest: 1000,
				MaxHeadersPerResource:   10,
				MaxHeaderValueBytes:     1024,
			},
		},
		Storage: StorageConfig{
			Provider: StorageLocal,
			Bucket:   "fetchbox",
		},
		Handlers: map[string]HandlerConfig{
			"default": {Handler: "default"},
		},
		Proxy: ProxyConfig{Pools: map[string]ProxyPoolConfig{}},
		Retention: RetentionConfig{
			JobTTLDays:         30,
			LogsTTLDays:        30,
			IdempotencyTTLDays: 14,
			LedgerMaxBytes:     1 << 30,
		},
	}
}

// Load reads a YAML configuration document from path, overlays storage
// credentials from the environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Storage.AccessKeyID = os.Getenv("FETCHBOX_STORAGE_ACCESS_KEY_ID")
	cfg.Storage.SecretAccessKey = os.Getenv("FETCHBOX_STORAGE_SECRET_ACCESS_KEY")

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a config that: has no handlers; has a handler
// referencing a missing proxy pool; exceeds the 5 MiB manifest cap;
// declares the S3 provider without credentials; or sets any retention
// TTL to zero. Proxy pool cycle/dangling-fallback detection is the
// resolver's job (pkg/resolver.ResolveAll) since it requires walking
// the pool graph; the composition root calls both Validate and
// ResolveAll before serving traffic.
func Validate(cfg Config) error {
	if len(cfg.Handlers) == 0 {
		return fmt.Errorf("config: at least one handler must be configured")
	}
	if cfg.Server.API.MaxPayloadBytes == 0 || cfg.Server.API.MaxPayloadBytes > 5*1024*1024 {
		return fmt.Errorf("config: server.api.max_payload_bytes must be in (0, 5MiB]")
	}
	if cfg.Server.API.MaxResourcesPerManifest == 0 || cfg.Server.API.MaxResourcesPerManifest > 1000 {
		return fmt.Errorf("config: server.api.max_resources_per_manifest must be in (0, 1000]")
	}
	if cfg.Server.API.MaxHeadersPerResource > 10 {
		return fmt.Errorf("config: server.api.max_headers_per_resource must be <= 10")
	}
	if cfg.Server.API.MaxHeaderValueBytes > 1024 {
		return fmt.Errorf("config: server.api.max_header_value_bytes must be <= 1024")
	}

	for name, h := range cfg.Handlers {
		if h.ProxyPool == "" {
			continue
		}
		if _, ok := cfg.Proxy.Pools[h.ProxyPool]; !ok {
			return fmt.Errorf("config: handler %q references missing proxy pool %q", name, h.ProxyPool)
		}
	}

	if cfg.Storage.Provider == StorageS3 {
		if cfg.Storage.AccessKeyID == "" || cfg.Storage.SecretAccessKey == "" {
			return fmt.Errorf("config: storage.provider=s3 requires FETCHBOX_STORAGE_ACCESS_KEY_ID/SECRET_ACCESS_KEY")
		}
	}

	if cfg.Retention.JobTTLDays == 0 || cfg.Retention.LogsTTLDays == 0 || cfg.Retention.IdempotencyTTLDays == 0 {
		return fmt.Errorf("config: retention TTLs must be non-zero")
	}
	if cfg.Retention.LedgerMaxBytes == 0 {
		return fmt.Errorf("config: retention.ledger_max_bytes must be non-zero")
	}

	return nil
}
