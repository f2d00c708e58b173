package queue_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/oiwn/fetchbox/pkg/queue"
	"github.com/oiwn/fetchbox/pkg/taskpb"
	"github.com/oiwn/fetchbox/pkg/types"
)

func testTask(jobID string) types.TaskDescriptor {
	return types.TaskDescriptor{
		JobID:      jobID,
		JobType:    "test",
		Tenant:     "default",
		ResourceID: "res1",
		URL:        "https://example.com/file",
		Attempt:    1,
		TraceID:    "trace123",
	}
}

func TestEnqueueAndRetrieve(t *testing.T) {
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer q.Close()

	seq, err := q.Enqueue(testTask("job1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)

	task, err := q.GetTask(seq)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "job1", task.JobID)
}

func TestSequentialIDs(t *testing.T) {
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer q.Close()

	seq1, err := q.Enqueue(testTask("job1"))
	require.NoError(t, err)
	seq2, err := q.Enqueue(testTask("job2"))
	require.NoError(t, err)
	seq3, err := q.Enqueue(testTask("job3"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), seq1)
	assert.Equal(t, uint64(1), seq2)
	assert.Equal(t, uint64(2), seq3)
}

func TestMoveToDLQ(t *testing.T) {
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer q.Close()

	seq, err := q.Enqueue(testTask("failed_job"))
	require.NoError(t, err)

	require.NoError(t, q.MoveToDLQ(seq, "NETWORK_ERROR", "Connection timeout", 3))

	entry, err := q.GetDLQTask(seq)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "NETWORK_ERROR", entry.FailureCode)
	assert.Equal(t, uint32(3), entry.Attempts)
	assert.Equal(t, "failed_job", entry.Task.JobID)

	original, err := q.GetTask(seq)
	require.NoError(t, err)
	assert.NotNil(t, original, "the original task entry is retained after a DLQ move")
}

func TestListDLQRespectsLimit(t *testing.T) {
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer q.Close()

	for i := 0; i < 5; i++ {
		seq, err := q.Enqueue(testTask("job"))
		require.NoError(t, err)
		require.NoError(t, q.MoveToDLQ(seq, "ERR", "boom", 1))
	}

	entries, err := q.ListDLQ(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, uint64(0), entries[0].Seq)
	assert.Equal(t, uint64(1), entries[1].Seq)
	assert.Equal(t, uint64(2), entries[2].Seq)
}

func TestPersistenceAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := queue.Open(path)
	require.NoError(t, err)
	_, err = q.Enqueue(testTask("job1"))
	require.NoError(t, err)
	require.NoError(t, q.Close())

	reopened, err := queue.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(1), reopened.CurrentSeq())

	seq2, err := reopened.Enqueue(testTask("job2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq2)
}

// TestCrashRecoveryReconcilesCounterFromTasksPartition simulates a
// crash between the task write and the metadata counter write: it
// writes directly to the tasks bucket at seq=5 without updating
// next_seq, then reopens and asserts the counter is reconciled to 6
// rather than trusting the stale persisted metadata.
func TestCrashRecoveryReconcilesCounterFromTasksPartition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := queue.Open(path)
	require.NoError(t, err)
	_, err = q.Enqueue(testTask("job0"))
	require.NoError(t, err)
	require.NoError(t, q.Close())

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("tasks"))
		key := make([]byte, 8)
		key[7] = 5
		return b.Put(key, taskpb.MarshalTaskDescriptor(testTask("orphaned")))
	}))
	require.NoError(t, db.Close())

	reopened, err := queue.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(6), reopened.CurrentSeq())

	nextSeq, err := reopened.Enqueue(testTask("job_after_crash"))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), nextSeq)
}

func TestHealthCheck(t *testing.T) {
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer q.Close()

	assert.NoError(t, q.HealthCheck())
}
