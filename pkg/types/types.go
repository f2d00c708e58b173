// Package types holds the core data model shared across FetchBox's
// ledger, queue, handler, and API layers.
package types

import "time"

// JobStatus is the lifecycle state of a job's ledger snapshot.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// StorageConfig names where an accepted manifest and its resources land
// in the object store.
type StorageConfig struct {
	ManifestFile      string `json:"manifest_file"`
	ResourceKeyPrefix string `json:"resource_key_prefix"`
}

// Resource is one URL within a manifest.
type Resource struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Manifest is the client-submitted, not-yet-validated download batch.
// Metadata and Attributes are decoded as raw interface{} (rather than
// map[string]interface{}) so that a non-object JSON value parses
// successfully and the shape check becomes the validator's job, per
// spec.md's ordered validation rules rather than a JSON-decode error.
type Manifest struct {
	Version    string        `json:"manifest_version"`
	Storage    StorageConfig `json:"storage"`
	Metadata   interface{}   `json:"metadata"`
	Resources  []Resource    `json:"resources"`
	Attributes interface{}   `json:"attributes,omitempty"`
}

// JobError is one recorded failure against a job snapshot.
type JobError struct {
	ResourceName string `json:"resource_name"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
}

// JobSnapshot is the ledger's canonical representation of a job's state.
type JobSnapshot struct {
	JobID             string     `json:"job_id"`
	Tenant            string     `json:"tenant"`
	ManifestKey       string     `json:"manifest_key"`
	Status            JobStatus  `json:"status"`
	CreatedAt         int64      `json:"created_at"`
	UpdatedAt         int64      `json:"updated_at"`
	ResourceTotal     uint64     `json:"resource_total"`
	ResourceCompleted uint64     `json:"resource_completed"`
	ResourceFailed    uint64     `json:"resource_failed"`
	Errors            []JobError `json:"errors,omitempty"`
}

// NewJobSnapshot builds the initial Queued snapshot for a freshly
// accepted job, per spec invariant 1: created_at == updated_at,
// resource_completed == resource_failed == 0.
func NewJobSnapshot(jobID, tenant, manifestKey string, resourceTotal uint64, now time.Time) JobSnapshot {
	ts := now.Unix()
	return JobSnapshot{
		JobID:         jobID,
		Tenant:        tenant,
		ManifestKey:   manifestKey,
		Status:        JobQueued,
		CreatedAt:     ts,
		UpdatedAt:     ts,
		ResourceTotal: resourceTotal,
	}
}

// LogEntry is one structured log line recorded against a job in the
// ledger's logs partition, ordered by a per-job offset counter.
type LogEntry struct {
	Timestamp    int64  `json:"timestamp"`
	Level        string `json:"level"`
	Message      string `json:"message"`
	ResourceName string `json:"resource_name,omitempty"`
}

// HeaderKV is one ordered header name/value pair. TaskDescriptor
// preserves insertion order (defaults then resource overrides, in
// key-sorted order) rather than using a map.
type HeaderKV struct {
	Name  string
	Value string
}

// StorageHint tells a worker where to upload a fetched resource.
type StorageHint struct {
	Bucket    string
	KeyPrefix string
}

// ProxyHint tells a worker which proxy pool to route a fetch through.
type ProxyHint struct {
	PoolName string
}

// TaskDescriptor is one unit of dispatched work, protobuf-encoded in
// the Queue Store.
type TaskDescriptor struct {
	JobID       string
	JobType     string
	Tenant      string
	ResourceID  string
	URL         string
	ManifestKey string
	Attempt     uint32
	TraceID     string
	Headers     []HeaderKV
	StorageHint *StorageHint
	ProxyHint   *ProxyHint
	Attributes  map[string]string
}

// DeadLetterEntry records a task that exhausted retries.
type DeadLetterEntry struct {
	Task           TaskDescriptor
	FailureCode    string
	FailureMessage string
	Attempts       uint32
	FailedAtMs     int64
}

// LiteTask is the pre-enrichment record a JobHandler produces. The
// Ingest Controller later enriches it with job/tenant/trace identity
// before it becomes a full TaskDescriptor.
type LiteTask struct {
	ResourceName string
	URL          string
	HTTPHeaders  []HeaderKV
	ProxyHint    *ProxyHint
	StorageHint  *StorageHint
	Tags         map[string]string
	Attributes   map[string]string
}

// ProxyEndpoint is one proxy URI within a resolved tier.
type ProxyEndpoint struct {
	URI string
}

// ResolvedProxyPool is an ordered sequence of tiers; tier 0 is the
// named pool's own primaries, tiers 1..k come from each fallback in
// DFS discovery order.
type ResolvedProxyPool struct {
	Tiers [][]ProxyEndpoint
}

// JobSummary is passed to a JobHandler's FinalizeJob hook.
type JobSummary struct {
	JobID             string
	Tenant            string
	ResourceTotal     uint64
	ResourceCompleted uint64
	ResourceFailed    uint64
}

// HandlerContext carries the identity a JobHandler needs to prepare a
// manifest and build tasks.
type HandlerContext struct {
	JobID    string
	JobType  string
	Manifest Manifest
}
