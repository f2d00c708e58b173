package taskpb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oiwn/fetchbox/pkg/taskpb"
	"github.com/oiwn/fetchbox/pkg/types"
)

func TestTaskDescriptorRoundTrip(t *testing.T) {
	original := types.TaskDescriptor{
		JobID:       "job-1",
		JobType:     "default",
		Tenant:      "tenant-a",
		ResourceID:  "r1",
		URL:         "https://example.com/a",
		ManifestKey: "s3://bucket/p/m.json",
		Attempt:     1,
		TraceID:     "trace-1",
		Headers: []types.HeaderKV{
			{Name: "accept", Value: "*/*"},
			{Name: "x-custom", Value: "v"},
		},
		StorageHint: &types.StorageHint{Bucket: "bkt", KeyPrefix: "p/job-1/r1"},
		ProxyHint:   &types.ProxyHint{PoolName: "eu"},
		Attributes:  map[string]string{"a": "1", "b": "2"},
	}

	encoded := taskpb.MarshalTaskDescriptor(original)
	require.NotEmpty(t, encoded)

	decoded, err := taskpb.UnmarshalTaskDescriptor(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestTaskDescriptorRoundTripNoOptionalHints(t *testing.T) {
	original := types.TaskDescriptor{
		JobID:   "job-2",
		JobType: "default",
		Tenant:  "tenant-b",
		URL:     "http://example.com/b",
		Attempt: 1,
		TraceID: "trace-2",
	}

	encoded := taskpb.MarshalTaskDescriptor(original)
	decoded, err := taskpb.UnmarshalTaskDescriptor(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
	assert.Nil(t, decoded.StorageHint)
	assert.Nil(t, decoded.ProxyHint)
}

func TestDeadLetterEntryRoundTrip(t *testing.T) {
	original := types.DeadLetterEntry{
		Task: types.TaskDescriptor{
			JobID:   "job-3",
			JobType: "default",
			Tenant:  "tenant-c",
			URL:     "https://example.com/c",
			Attempt: 3,
			TraceID: "trace-3",
		},
		FailureCode:    "FETCH_TIMEOUT",
		FailureMessage: "upstream timed out after 3 attempts",
		Attempts:       3,
		FailedAtMs:     1735500000000,
	}

	encoded := taskpb.MarshalDeadLetterEntry(original)
	decoded, err := taskpb.UnmarshalDeadLetterEntry(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}
