/*
Package types defines the core data structures shared across FetchBox's
ledger, queue, handler, and API layers.

# Architecture

The types package is the foundation of FetchBox's data model. It defines:

  - Client-submitted manifests and their resources
  - Ledger snapshots (job lifecycle state)
  - Task descriptors (the protobuf-encoded unit of dispatched work)
  - Proxy pool resolution results
  - The pre-enrichment "lite task" record produced by job handlers

# Core Types

Manifest:
  - Manifest: client-submitted download batch (version, storage, metadata, resources)
  - Resource: one URL within a manifest
  - StorageConfig: where the manifest and its resources land in the object store

Ledger:
  - JobSnapshot: canonical ledger representation of a job's state
  - JobStatus: Queued, InProgress, Completed, Failed
  - JobError: one recorded per-resource failure

Queue:
  - TaskDescriptor: one dispatched unit of work
  - DeadLetterEntry: a task that exhausted retries
  - HeaderKV: one ordered header name/value pair
  - StorageHint, ProxyHint: worker-facing routing hints

Handlers:
  - LiteTask: pre-enrichment record a JobHandler produces
  - HandlerContext: identity passed into a JobHandler
  - JobSummary: passed to a JobHandler's FinalizeJob hook

Proxy resolution:
  - ResolvedProxyPool: ordered tier list produced by the resolver
  - ProxyEndpoint: one proxy URI within a tier

# Design Patterns

Enumeration Pattern: status enums use typed string constants, e.g.

	type JobStatus string
	const (
	    JobQueued JobStatus = "queued"
	)

Optional Fields: StorageHint and ProxyHint are nil when the owning
handler config does not declare them.

# Thread Safety

Values in this package carry no internal synchronization. JobSnapshot
and TaskDescriptor are treated as immutable once constructed; callers
that need read-modify-write semantics serialize externally (the Ledger
Store's upsert is an unconditional overwrite, not a merge).
*/
package types
