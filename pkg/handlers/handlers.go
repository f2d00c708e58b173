// Package handlers defines the JobHandler contract and a registry
// mapping job-type strings to handler instances, plus the built-in
// DefaultHandler that echoes a manifest's resources into tasks without
// transformation.
package handlers

import (
	"fmt"
	"sort"

	"github.com/oiwn/fetchbox/pkg/config"
	"github.com/oiwn/fetchbox/pkg/types"
)

// ErrorKind enumerates handler failure modes.
type ErrorKind int

const (
	InvalidManifest ErrorKind = iota
	TaskGeneration
	Finalization
	Fatal
)

// Error wraps a handler failure with its kind.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	switch e.Kind {
	case InvalidManifest:
		return "invalid manifest: " + e.Message
	case TaskGeneration:
		return "task generation failed: " + e.Message
	case Finalization:
		return "finalization failed: " + e.Message
	default:
		return "fatal handler error: " + e.Message
	}
}

// JobHandler customizes how a manifest is turned into download tasks.
// Implementations must be safe for concurrent use: a single handler
// instance serves every job of its registered type.
type JobHandler interface {
	// PrepareManifest validates/normalizes ctx.Manifest before task
	// generation; it may replace the manifest in the returned context.
	PrepareManifest(ctx types.HandlerContext) (types.HandlerContext, error)

	// BuildTasks turns a prepared context's manifest into one LiteTask
	// per resource.
	BuildTasks(ctx types.HandlerContext) ([]types.LiteTask, error)

	// FinalizeJob runs once all of a job's tasks have completed or
	// failed. The default implementation is a no-op.
	FinalizeJob(summary types.JobSummary) error
}

// Registry maps job-type strings to handler instances and their
// resolved configuration.
type Registry struct {
	handlers map[string]JobHandler
	configs  map[string]config.HandlerConfig
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]JobHandler),
		configs:  make(map[string]config.HandlerConfig),
	}
}

// Register associates jobType with handler and its configuration.
func (r *Registry) Register(jobType string, handler JobHandler, cfg config.HandlerConfig) {
	r.handlers[jobType] = handler
	r.configs[jobType] = cfg
}

// Get returns the handler registered for jobType.
func (r *Registry) Get(jobType string) (JobHandler, error) {
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("handlers: no handler registered for job type %q", jobType)
	}
	return h, nil
}

// GetConfig returns the configuration registered for jobType, if any.
func (r *Registry) GetConfig(jobType string) (config.HandlerConfig, bool) {
	cfg, ok := r.configs[jobType]
	return cfg, ok
}

// HasHandler reports whether jobType has a registered handler.
func (r *Registry) HasHandler(jobType string) bool {
	_, ok := r.handlers[jobType]
	return ok
}

// NewDefaultRegistry builds a registry with the built-in DefaultHandler
// registered under both "default" and "gallery" job types, sharing one
// handler instance and configuration between them.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()

	defaultConfig := config.HandlerConfig{Handler: "default"}
	defaultHandler := NewDefaultHandler(defaultConfig)

	registry.Register("default", defaultHandler, defaultConfig)
	registry.Register("gallery", defaultHandler, defaultConfig)

	return registry
}

// DefaultHandler echoes a manifest's resources into tasks, merging its
// configured default headers under each resource's own header
// overrides and attaching a storage/proxy hint when configured.
type DefaultHandler struct {
	config config.HandlerConfig
}

// NewDefaultHandler builds a DefaultHandler bound to cfg.
func NewDefaultHandler(cfg config.HandlerConfig) *DefaultHandler {
	return &DefaultHandler{config: cfg}
}

// PrepareManifest rejects any manifest version other than "v1"; the
// Ingest Controller's Validator has already checked shape, so this is
// a defense-in-depth version gate specific to this handler.
func (h *DefaultHandler) PrepareManifest(ctx types.HandlerContext) (types.HandlerContext, error) {
	if ctx.Manifest.Version != "v1" {
		return ctx, &Error{Kind: InvalidManifest, Message: fmt.Sprintf("unsupported manifest version: %s", ctx.Manifest.Version)}
	}
	return ctx, nil
}

// BuildTasks emits one LiteTask per manifest resource.
func (h *DefaultHandler) BuildTasks(ctx types.HandlerContext) ([]types.LiteTask, error) {
	tasks := make([]types.LiteTask, 0, len(ctx.Manifest.Resources))

	var storageHint *types.StorageHint
	if h.config.StorageBucket != "" {
		storageHint = &types.StorageHint{Bucket: h.config.StorageBucket}
	}
	var proxyHint *types.ProxyHint
	if h.config.ProxyPool != "" {
		proxyHint = &types.ProxyHint{PoolName: h.config.ProxyPool}
	}

	for _, resource := range ctx.Manifest.Resources {
		headers := mergedHeaders(h.config.DefaultHeaders, resource.Headers)

		hint := storageHint
		if hint != nil {
			scoped := *hint
			scoped.KeyPrefix = fmt.Sprintf("%s/%s/%s", h.config.KeyPrefix, ctx.JobID, resource.Name)
			hint = &scoped
		}

		tasks = append(tasks, types.LiteTask{
			ResourceName: resource.Name,
			URL:          resource.URL,
			HTTPHeaders:  headers,
			ProxyHint:    proxyHint,
			StorageHint:  hint,
			Tags:         resource.Tags,
		})
	}

	return tasks, nil
}

// FinalizeJob does nothing on finalization.
func (h *DefaultHandler) FinalizeJob(summary types.JobSummary) error {
	return nil
}

// mergedHeaders combines default headers with resource-level overrides,
// resource headers taking precedence on a key collision. Default keys
// come first in key-sorted order (an overridden default keeps its slot
// and carries the resource value), followed by the resource-only keys in
// key-sorted order, so header/task encoding stays deterministic.
func mergedHeaders(defaults, overrides map[string]string) []types.HeaderKV {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		_, iDefault := defaults[keys[i]]
		_, jDefault := defaults[keys[j]]
		if iDefault != jDefault {
			return iDefault
		}
		return keys[i] < keys[j]
	})

	result := make([]types.HeaderKV, 0, len(keys))
	for _, k := range keys {
		result = append(result, types.HeaderKV{Name: k, Value: merged[k]})
	}
	return result
}
