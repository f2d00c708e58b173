// Package api implements the Ingest Controller: the request→validate→
// snapshot→enqueue state machine behind POST /jobs, plus the job-status
// and health endpoints. It is the one place that wires the Validator,
// Handler Registry, ObjectStore, Ledger Store, and Task Broker together
// per request.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oiwn/fetchbox/pkg/broker"
	"github.com/oiwn/fetchbox/pkg/config"
	"github.com/oiwn/fetchbox/pkg/handlers"
	"github.com/oiwn/fetchbox/pkg/humanize"
	"github.com/oiwn/fetchbox/pkg/ledger"
	"github.com/oiwn/fetchbox/pkg/log"
	"github.com/oiwn/fetchbox/pkg/metrics"
	"github.com/oiwn/fetchbox/pkg/storage"
	"github.com/oiwn/fetchbox/pkg/types"
	"github.com/oiwn/fetchbox/pkg/validator"
)

// ErrorKind enumerates the Controller's user-visible failure modes.
type ErrorKind int

const (
	InvalidPayload ErrorKind = iota
	PayloadTooLarge
	UnsupportedJobType
	NotFound
	Internal
)

// Error is the Controller's user-facing error, carrying the status code
// and response body the HTTP layer should emit.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Code returns the closed-enumeration error code for the response body.
func (e *Error) Code() string {
	switch e.Kind {
	case InvalidPayload:
		return "INVALID_PAYLOAD"
	case PayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case UnsupportedJobType:
		return "UNSUPPORTED_JOB_TYPE"
	case NotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL_ERROR"
	}
}

// StatusCode returns the HTTP status the Code maps to.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case InvalidPayload:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case UnsupportedJobType:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

const defaultJobType = "default"

// Controller owns the Ingest Controller's dependencies. It is safe for
// concurrent use: every field is itself concurrency-safe, and the
// Controller holds no mutable state of its own.
type Controller struct {
	Ledger   *ledger.Store
	Broker   *broker.Broker
	Registry *handlers.Registry
	Store    storage.ObjectStore
	Limits   config.APILimits
}

// JobAcceptedResponse is the 202 body returned by POST /jobs, on both
// the fresh-ingest and idempotent-replay paths.
type JobAcceptedResponse struct {
	JobID         string `json:"job_id"`
	ManifestKey   string `json:"manifest_key"`
	ResourceCount uint64 `json:"resource_count"`
}

// ErrorResponse is the closed-enumeration error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IngestJob runs the full POST /jobs state machine: parse headers,
// look up the handler, read and size-check the body, parse and
// validate the manifest, check idempotency, upload the manifest,
// record idempotency, upsert the snapshot, build and enqueue tasks.
func (c *Controller) IngestJob(ctx context.Context, headers http.Header, body io.Reader) (JobAcceptedResponse, error) {
	if err := checkContentType(headers.Get("Content-Type")); err != nil {
		return JobAcceptedResponse{}, err
	}

	jobType := defaultJobType
	handler, err := c.Registry.Get(jobType)
	if err != nil {
		return JobAcceptedResponse{}, &Error{Kind: UnsupportedJobType, Message: fmt.Sprintf("unsupported job type: %s", jobType)}
	}

	tenant := headers.Get("X-Fetchbox-Tenant")
	if tenant == "" {
		return JobAcceptedResponse{}, &Error{Kind: InvalidPayload, Message: "X-Fetchbox-Tenant header is required"}
	}

	idempotencyKey := headers.Get("X-Fetchbox-Idempotency-Key")

	bodyBytes, err := readBodyLimited(body, c.Limits.MaxPayloadBytes)
	if err != nil {
		return JobAcceptedResponse{}, err
	}

	var manifest types.Manifest
	if err := json.Unmarshal(bodyBytes, &manifest); err != nil {
		return JobAcceptedResponse{}, &Error{Kind: InvalidPayload, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if err := validator.Validate(manifest); err != nil {
		return JobAcceptedResponse{}, &Error{Kind: InvalidPayload, Message: err.Error()}
	}

	if idempotencyKey != "" {
		if existingID, ok, err := c.Ledger.GetIdempotent(idempotencyKey); err != nil {
			return JobAcceptedResponse{}, internalErr("idempotency lookup failed", err)
		} else if ok {
			if snapshot, err := c.Ledger.Get(existingID); err != nil {
				return JobAcceptedResponse{}, internalErr("ledger lookup failed", err)
			} else if snapshot != nil {
				metrics.IdempotentHits.WithLabelValues(tenant).Inc()
				return JobAcceptedResponse{
					JobID:         snapshot.JobID,
					ManifestKey:   snapshot.ManifestKey,
					ResourceCount: snapshot.ResourceTotal,
				}, nil
			}
		}
	}

	preparedCtx, err := handler.PrepareManifest(types.HandlerContext{JobID: "", JobType: jobType, Manifest: manifest})
	if err != nil {
		return JobAcceptedResponse{}, &Error{Kind: InvalidPayload, Message: err.Error()}
	}
	manifest = preparedCtx.Manifest

	jobID, err := uuid.NewV7()
	if err != nil {
		return JobAcceptedResponse{}, internalErr("job id generation failed", err)
	}

	storageKey := manifest.Storage.ResourceKeyPrefix + manifest.Storage.ManifestFile
	if _, err := c.Store.Put(ctx, storageKey, bodyBytes); err != nil {
		return JobAcceptedResponse{}, internalErr("manifest upload failed", err)
	}
	manifestKey := storage.ManifestKey(c.Store, storageKey)

	if idempotencyKey != "" {
		if err := c.Ledger.RememberIdempotency(idempotencyKey, jobID.String()); err != nil {
			return JobAcceptedResponse{}, internalErr("idempotency record failed", err)
		}
	}

	resourceTotal := uint64(len(manifest.Resources))
	snapshot := types.NewJobSnapshot(jobID.String(), tenant, manifestKey, resourceTotal, time.Now())
	if err := c.Ledger.Upsert(snapshot); err != nil {
		return JobAcceptedResponse{}, internalErr("snapshot upsert failed", err)
	}

	liteTasks, err := handler.BuildTasks(types.HandlerContext{JobID: jobID.String(), JobType: jobType, Manifest: manifest})
	if err != nil {
		return JobAcceptedResponse{}, internalErr("task generation failed", err)
	}

	for _, lite := range liteTasks {
		traceID, err := uuid.NewV7()
		if err != nil {
			return JobAcceptedResponse{}, internalErr("trace id generation failed", err)
		}
		task := types.TaskDescriptor{
			JobID:       jobID.String(),
			JobType:     jobType,
			Tenant:      tenant,
			ResourceID:  lite.ResourceName,
			URL:         lite.URL,
			ManifestKey: manifestKey,
			Attempt:     1,
			TraceID:     traceID.String(),
			Headers:     lite.HTTPHeaders,
			StorageHint: lite.StorageHint,
			ProxyHint:   lite.ProxyHint,
			Attributes:  lite.Attributes,
		}
		if _, err := c.Broker.Enqueue(task); err != nil {
			return JobAcceptedResponse{}, internalErr("task enqueue failed", err)
		}
		metrics.TasksPublished.WithLabelValues(tenant).Inc()
	}

	metrics.JobsAccepted.WithLabelValues(tenant).Inc()

	return JobAcceptedResponse{
		JobID:         jobID.String(),
		ManifestKey:   manifestKey,
		ResourceCount: resourceTotal,
	}, nil
}

// GetJob returns the ledger snapshot for jobID, or a NotFound Error.
func (c *Controller) GetJob(jobID string) (types.JobSnapshot, error) {
	snapshot, err := c.Ledger.Get(jobID)
	if err != nil {
		return types.JobSnapshot{}, internalErr("ledger lookup failed", err)
	}
	if snapshot == nil {
		return types.JobSnapshot{}, &Error{Kind: NotFound, Message: fmt.Sprintf("job %s not found", jobID)}
	}
	return *snapshot, nil
}

// HealthStatus reports per-component health for /health and
// /operators/health. Details is a best-effort diagnostic snapshot
// (ledger entry counts and on-disk size, current queue sequence) in
// the spirit of the original implementation's stats() surfacing;
// absent rather than zeroed if a probe fails.
type HealthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Version    string            `json:"version"`
	Details    map[string]string `json:"details,omitempty"`
}

// Health checks each component the Controller depends on and reports
// overall status. Version is injected by the caller (the cmd layer
// knows the build version; the Controller does not).
func (c *Controller) Health(version string) HealthStatus {
	components := map[string]string{
		"api":         "healthy",
		"ledger":      componentHealth(c.Ledger.HealthCheck() == nil),
		"task_broker": componentHealth(c.Broker.HealthCheck()),
		"storage":     "healthy",
	}

	healthy := true
	for _, status := range components {
		if status != "healthy" {
			healthy = false
			break
		}
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthStatus{
		Status:     status,
		Components: components,
		Version:    version,
		Details:    c.healthDetails(),
	}
}

// healthDetails collects a diagnostic snapshot. Any probe that fails
// is simply omitted rather than surfacing a zero value that would
// read as a real measurement.
func (c *Controller) healthDetails() map[string]string {
	details := make(map[string]string)

	if stats, err := c.Ledger.Stats(); err == nil {
		details["ledger_jobs"] = fmt.Sprintf("%d", stats.JobCount)
		details["ledger_idempotency_keys"] = fmt.Sprintf("%d", stats.IdemCount)
	}
	if size, err := c.Ledger.SizeBytes(); err == nil {
		details["ledger_size"] = humanize.Bytes(uint64(size))
	}
	details["queue_current_seq"] = fmt.Sprintf("%d", c.Broker.CurrentSeq())

	return details
}

func componentHealth(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

func checkContentType(contentType string) error {
	if contentType == "" {
		return &Error{Kind: InvalidPayload, Message: "missing Content-Type header"}
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return &Error{Kind: InvalidPayload, Message: fmt.Sprintf("invalid Content-Type: %s", contentType)}
	}
	if mediaType != "application/json" {
		return &Error{Kind: InvalidPayload, Message: fmt.Sprintf("Content-Type must be application/json, got: %s", mediaType)}
	}
	return nil
}

// readBodyLimited reads body, failing with PayloadTooLarge if it
// exceeds maxBytes. It reads one byte past the limit to distinguish
// "exactly maxBytes" from "more than maxBytes" without buffering an
// unbounded amount of attacker-controlled data.
func readBodyLimited(body io.Reader, maxBytes uint64) ([]byte, error) {
	limited := io.LimitReader(body, int64(maxBytes)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, internalErr("body read failed", err)
	}
	if uint64(len(data)) > maxBytes {
		return nil, &Error{Kind: PayloadTooLarge, Message: fmt.Sprintf("payload exceeds maximum of %d bytes", maxBytes)}
	}
	return data, nil
}

func internalErr(msg string, err error) error {
	log.WithComponent("api").Error().Err(err).Msg(msg)
	return &Error{Kind: Internal, Message: msg}
}
