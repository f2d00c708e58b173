// Package taskpb encodes and decodes the Queue Store's wire values
// against the schema described in taskpb.proto.
//
// No generated protoc-gen-go code backs this package: the schema is
// small and stable, so encode/decode are hand-written directly against
// google.golang.org/protobuf/encoding/protowire, the same low-level
// primitives protoc-gen-go's generated Marshal/Unmarshal methods call
// into. This produces genuine protobuf wire-format bytes without
// requiring a protoc invocation or reflection-based message registry.
package taskpb

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oiwn/fetchbox/pkg/types"
)

// Field numbers, per taskpb.proto.
const (
	fieldJobID       = 1
	fieldJobType     = 2
	fieldTenant      = 3
	fieldResourceID  = 4
	fieldURL         = 5
	fieldManifestKey = 6
	fieldAttempt     = 7
	fieldTraceID     = 8
	fieldHeaders     = 9
	fieldStorageHint = 10
	fieldProxyHint   = 11
	fieldAttributes  = 12

	fieldHeaderName  = 1
	fieldHeaderValue = 2

	fieldStorageBucket    = 1
	fieldStorageKeyPrefix = 2

	fieldProxyPoolName = 1

	fieldDLQTask           = 1
	fieldDLQFailureCode    = 2
	fieldDLQFailureMessage = 3
	fieldDLQAttempts       = 4
	fieldDLQFailedAtMs     = 5

	fieldMapKey   = 1
	fieldMapValue = 2
)

// MarshalTaskDescriptor encodes t as protobuf wire bytes.
func MarshalTaskDescriptor(t types.TaskDescriptor) []byte {
	return appendTaskDescriptor(nil, t)
}

// UnmarshalTaskDescriptor decodes protobuf wire bytes into a
// TaskDescriptor.
func UnmarshalTaskDescriptor(b []byte) (types.TaskDescriptor, error) {
	var t types.TaskDescriptor
	if err := consumeTaskDescriptor(b, &t); err != nil {
		return types.TaskDescriptor{}, err
	}
	return t, nil
}

// MarshalDeadLetterEntry encodes e as protobuf wire bytes.
func MarshalDeadLetterEntry(e types.DeadLetterEntry) []byte {
	var b []byte
	taskBytes := appendTaskDescriptor(nil, e.Task)
	b = protowire.AppendTag(b, fieldDLQTask, protowire.BytesType)
	b = protowire.AppendBytes(b, taskBytes)
	b = protowire.AppendTag(b, fieldDLQFailureCode, protowire.BytesType)
	b = protowire.AppendString(b, e.FailureCode)
	b = protowire.AppendTag(b, fieldDLQFailureMessage, protowire.BytesType)
	b = protowire.AppendString(b, e.FailureMessage)
	b = protowire.AppendTag(b, fieldDLQAttempts, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Attempts))
	b = protowire.AppendTag(b, fieldDLQFailedAtMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.FailedAtMs))
	return b
}

// UnmarshalDeadLetterEntry decodes protobuf wire bytes into a
// DeadLetterEntry.
func UnmarshalDeadLetterEntry(b []byte) (types.DeadLetterEntry, error) {
	var e types.DeadLetterEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return types.DeadLetterEntry{}, fmt.Errorf("taskpb: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldDLQTask:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return types.DeadLetterEntry{}, fmt.Errorf("taskpb: invalid task field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if err := consumeTaskDescriptor(v, &e.Task); err != nil {
				return types.DeadLetterEntry{}, err
			}
		case fieldDLQFailureCode:
			v, n, err := consumeString(b)
			if err != nil {
				return types.DeadLetterEntry{}, err
			}
			b, e.FailureCode = b[n:], v
		case fieldDLQFailureMessage:
			v, n, err := consumeString(b)
			if err != nil {
				return types.DeadLetterEntry{}, err
			}
			b, e.FailureMessage = b[n:], v
		case fieldDLQAttempts:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return types.DeadLetterEntry{}, fmt.Errorf("taskpb: invalid attempts field: %w", protowire.ParseError(n))
			}
			b, e.Attempts = b[n:], uint32(v)
		case fieldDLQFailedAtMs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return types.DeadLetterEntry{}, fmt.Errorf("taskpb: invalid failed_at_ms field: %w", protowire.ParseError(n))
			}
			b, e.FailedAtMs = b[n:], int64(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return types.DeadLetterEntry{}, fmt.Errorf("taskpb: invalid field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

func appendTaskDescriptor(b []byte, t types.TaskDescriptor) []byte {
	b = protowire.AppendTag(b, fieldJobID, protowire.BytesType)
	b = protowire.AppendString(b, t.JobID)
	b = protowire.AppendTag(b, fieldJobType, protowire.BytesType)
	b = protowire.AppendString(b, t.JobType)
	b = protowire.AppendTag(b, fieldTenant, protowire.BytesType)
	b = protowire.AppendString(b, t.Tenant)
	b = protowire.AppendTag(b, fieldResourceID, protowire.BytesType)
	b = protowire.AppendString(b, t.ResourceID)
	b = protowire.AppendTag(b, fieldURL, protowire.BytesType)
	b = protowire.AppendString(b, t.URL)
	b = protowire.AppendTag(b, fieldManifestKey, protowire.BytesType)
	b = protowire.AppendString(b, t.ManifestKey)
	b = protowire.AppendTag(b, fieldAttempt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Attempt))
	b = protowire.AppendTag(b, fieldTraceID, protowire.BytesType)
	b = protowire.AppendString(b, t.TraceID)

	for _, h := range t.Headers {
		var hb []byte
		hb = protowire.AppendTag(hb, fieldHeaderName, protowire.BytesType)
		hb = protowire.AppendString(hb, h.Name)
		hb = protowire.AppendTag(hb, fieldHeaderValue, protowire.BytesType)
		hb = protowire.AppendString(hb, h.Value)
		b = protowire.AppendTag(b, fieldHeaders, protowire.BytesType)
		b = protowire.AppendBytes(b, hb)
	}

	if t.StorageHint != nil {
		var sb []byte
		sb = protowire.AppendTag(sb, fieldStorageBucket, protowire.BytesType)
		sb = protowire.AppendString(sb, t.StorageHint.Bucket)
		sb = protowire.AppendTag(sb, fieldStorageKeyPrefix, protowire.BytesType)
		sb = protowire.AppendString(sb, t.StorageHint.KeyPrefix)
		b = protowire.AppendTag(b, fieldStorageHint, protowire.BytesType)
		b = protowire.AppendBytes(b, sb)
	}

	if t.ProxyHint != nil {
		var pb []byte
		pb = protowire.AppendTag(pb, fieldProxyPoolName, protowire.BytesType)
		pb = protowire.AppendString(pb, t.ProxyHint.PoolName)
		b = protowire.AppendTag(b, fieldProxyHint, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}

	if len(t.Attributes) > 0 {
		keys := make([]string, 0, len(t.Attributes))
		for k := range t.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			var eb []byte
			eb = protowire.AppendTag(eb, fieldMapKey, protowire.BytesType)
			eb = protowire.AppendString(eb, k)
			eb = protowire.AppendTag(eb, fieldMapValue, protowire.BytesType)
			eb = protowire.AppendString(eb, t.Attributes[k])
			b = protowire.AppendTag(b, fieldAttributes, protowire.BytesType)
			b = protowire.AppendBytes(b, eb)
		}
	}

	return b
}

func consumeTaskDescriptor(b []byte, t *types.TaskDescriptor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("taskpb: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldJobID:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			b, t.JobID = b[n:], v
		case fieldJobType:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			b, t.JobType = b[n:], v
		case fieldTenant:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			b, t.Tenant = b[n:], v
		case fieldResourceID:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			b, t.ResourceID = b[n:], v
		case fieldURL:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			b, t.URL = b[n:], v
		case fieldManifestKey:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			b, t.ManifestKey = b[n:], v
		case fieldAttempt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("taskpb: invalid attempt field: %w", protowire.ParseError(n))
			}
			b, t.Attempt = b[n:], uint32(v)
		case fieldTraceID:
			v, n, err := consumeString(b)
			if err != nil {
				return err
			}
			b, t.TraceID = b[n:], v
		case fieldHeaders:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("taskpb: invalid header field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			h, err := consumeHeader(v)
			if err != nil {
				return err
			}
			t.Headers = append(t.Headers, h)
		case fieldStorageHint:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("taskpb: invalid storage_hint field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			hint, err := consumeStorageHint(v)
			if err != nil {
				return err
			}
			t.StorageHint = &hint
		case fieldProxyHint:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("taskpb: invalid proxy_hint field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			hint, err := consumeProxyHint(v)
			if err != nil {
				return err
			}
			t.ProxyHint = &hint
		case fieldAttributes:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("taskpb: invalid attributes field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			k, val, err := consumeMapEntry(v)
			if err != nil {
				return err
			}
			if t.Attributes == nil {
				t.Attributes = make(map[string]string)
			}
			t.Attributes[k] = val
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("taskpb: invalid field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func consumeHeader(b []byte) (types.HeaderKV, error) {
	var h types.HeaderKV
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h, fmt.Errorf("taskpb: invalid header tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldHeaderName:
			v, n, err := consumeString(b)
			if err != nil {
				return h, err
			}
			b, h.Name = b[n:], v
		case fieldHeaderValue:
			v, n, err := consumeString(b)
			if err != nil {
				return h, err
			}
			b, h.Value = b[n:], v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return h, fmt.Errorf("taskpb: invalid header field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return h, nil
}

func consumeStorageHint(b []byte) (types.StorageHint, error) {
	var hint types.StorageHint
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return hint, fmt.Errorf("taskpb: invalid storage_hint tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldStorageBucket:
			v, n, err := consumeString(b)
			if err != nil {
				return hint, err
			}
			b, hint.Bucket = b[n:], v
		case fieldStorageKeyPrefix:
			v, n, err := consumeString(b)
			if err != nil {
				return hint, err
			}
			b, hint.KeyPrefix = b[n:], v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return hint, fmt.Errorf("taskpb: invalid storage_hint field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return hint, nil
}

func consumeProxyHint(b []byte) (types.ProxyHint, error) {
	var hint types.ProxyHint
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return hint, fmt.Errorf("taskpb: invalid proxy_hint tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldProxyPoolName:
			v, n, err := consumeString(b)
			if err != nil {
				return hint, err
			}
			b, hint.PoolName = b[n:], v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return hint, fmt.Errorf("taskpb: invalid proxy_hint field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return hint, nil
}

func consumeMapEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", fmt.Errorf("taskpb: invalid map entry tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldMapKey:
			v, n, err := consumeString(b)
			if err != nil {
				return "", "", err
			}
			b, key = b[n:], v
		case fieldMapValue:
			v, n, err := consumeString(b)
			if err != nil {
				return "", "", err
			}
			b, value = b[n:], v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", fmt.Errorf("taskpb: invalid map entry field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return key, value, nil
}

func consumeString(b []byte) (string, int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, fmt.Errorf("taskpb: invalid string field: %w", protowire.ParseError(n))
	}
	return v, n, nil
}
