// Package queue implements the task queue: a bbolt-backed store of
// protobuf-encoded TaskDescriptors keyed by a monotonically increasing
// sequence number, plus a dead-letter partition for permanently failed
// tasks. It owns its keyspace exclusively, distinct from the ledger's.
package queue

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/oiwn/fetchbox/pkg/log"
	"github.com/oiwn/fetchbox/pkg/taskpb"
	"github.com/oiwn/fetchbox/pkg/types"
)

var (
	bucketTasks    = []byte("tasks")
	bucketMetadata = []byte("metadata")
	bucketDLQ      = []byte("dlq")
)

var keyNextSeq = []byte("next_seq")

// ErrorKind distinguishes queue failure modes.
type ErrorKind int

const (
	Storage ErrorKind = iota
	ProtobufDecode
	TaskNotFound
	InvalidSequence
)

// Error wraps a queue failure with its kind.
type Error struct {
	Kind ErrorKind
	Seq  uint64
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case TaskNotFound:
		return fmt.Sprintf("queue: task not found: seq=%d", e.Seq)
	case ProtobufDecode:
		return fmt.Sprintf("queue: decode: %v", e.Err)
	case InvalidSequence:
		return "queue: invalid sequence number"
	default:
		return fmt.Sprintf("queue: storage: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Queue is the bbolt-backed task store.
type Queue struct {
	db  *bolt.DB
	seq atomic.Uint64
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func seqFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// Open opens (or creates) a queue store at path. On open, the
// in-memory sequence counter is reconciled to
// max(persisted metadata next_seq, 1 + max existing key in tasks ∪ dlq)
// so that a crash between enqueue's task write and its counter write
// never causes a later run to reuse an already-persisted sequence.
func Open(path string) (*Queue, error) {
	componentLog := log.WithComponent("queue")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		componentLog.Error().Err(err).Str("path", path).Msg("queue: failed to create data directory")
		return nil, &Error{Kind: Storage, Err: err}
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		componentLog.Error().Err(err).Str("path", path).Msg("queue: failed to open database")
		return nil, &Error{Kind: Storage, Err: err}
	}

	q := &Queue{db: db}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketMetadata, bucketDLQ} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}

		next := uint64(0)
		if raw := tx.Bucket(bucketMetadata).Get(keyNextSeq); raw != nil && len(raw) == 8 {
			next = binary.BigEndian.Uint64(raw)
		}

		if lastTasks, ok := lastKeyInBucket(tx.Bucket(bucketTasks)); ok {
			if lastTasks+1 > next {
				next = lastTasks + 1
			}
		}
		if lastDLQ, ok := lastKeyInBucket(tx.Bucket(bucketDLQ)); ok {
			if lastDLQ+1 > next {
				next = lastDLQ + 1
			}
		}

		q.seq.Store(next)
		return nil
	})
	if err != nil {
		componentLog.Error().Err(err).Str("path", path).Msg("queue: failed to initialize buckets")
		db.Close()
		return nil, &Error{Kind: Storage, Err: err}
	}

	return q, nil
}

func lastKeyInBucket(b *bolt.Bucket) (uint64, bool) {
	k, _ := b.Cursor().Last()
	if k == nil || len(k) != 8 {
		return 0, false
	}
	return seqFromKey(k), true
}

// Close releases the underlying database file.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue persists task under the next sequence number and returns it.
// Ordering: (1) atomically fetch-and-add the in-memory counter, (2)
// encode the task with protobuf, (3) insert under tasks/<seq>, (4)
// persist next_seq=seq+1 into metadata. If step (4) does not become
// durable before a crash, Open's reconciliation above recomputes the
// correct next sequence from the tasks/dlq partitions themselves, so
// no persisted key is ever reused across a restart.
func (q *Queue) Enqueue(task types.TaskDescriptor) (uint64, error) {
	seq := q.seq.Add(1) - 1
	value := taskpb.MarshalTaskDescriptor(task)

	err := q.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTasks).Put(seqKey(seq), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMetadata).Put(keyNextSeq, seqKey(seq+1))
	})
	if err != nil {
		log.WithComponent("queue").Error().Err(err).Uint64("seq", seq).Msg("queue: enqueue failed")
		return 0, &Error{Kind: Storage, Seq: seq, Err: err}
	}
	return seq, nil
}

// GetTask returns the task at seq, or (nil, nil) if absent.
func (q *Queue) GetTask(seq uint64) (*types.TaskDescriptor, error) {
	var task *types.TaskDescriptor
	err := q.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTasks).Get(seqKey(seq))
		if raw == nil {
			return nil
		}
		decoded, err := taskpb.UnmarshalTaskDescriptor(raw)
		if err != nil {
			return err
		}
		task = &decoded
		return nil
	})
	if err != nil {
		log.WithComponent("queue").Error().Err(err).Uint64("seq", seq).Msg("queue: decode task failed")
		return nil, &Error{Kind: ProtobufDecode, Seq: seq, Err: err}
	}
	return task, nil
}

// MoveToDLQ reads the task at seq, wraps it with failure metadata, and
// writes it to the dead-letter partition under the same sequence. The
// original tasks/<seq> entry is left in place: storage is cheap and
// DLQ inspection is diagnostic, so retention is preferred over a
// transactional move.
func (q *Queue) MoveToDLQ(seq uint64, failureCode, failureMessage string, attempts uint32) error {
	task, err := q.GetTask(seq)
	if err != nil {
		return err
	}
	if task == nil {
		return &Error{Kind: TaskNotFound, Seq: seq}
	}

	entry := types.DeadLetterEntry{
		Task:           *task,
		FailureCode:    failureCode,
		FailureMessage: failureMessage,
		Attempts:       attempts,
		FailedAtMs:     time.Now().UnixMilli(),
	}
	value := taskpb.MarshalDeadLetterEntry(entry)

	err = q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDLQ).Put(seqKey(seq), value)
	})
	if err != nil {
		log.WithComponent("queue").Error().Err(err).Uint64("seq", seq).Msg("queue: move to dead-letter failed")
		return &Error{Kind: Storage, Seq: seq, Err: err}
	}
	return nil
}

// GetDLQTask returns the dead-letter entry at seq, or (nil, nil) if
// absent.
func (q *Queue) GetDLQTask(seq uint64) (*types.DeadLetterEntry, error) {
	var entry *types.DeadLetterEntry
	err := q.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDLQ).Get(seqKey(seq))
		if raw == nil {
			return nil
		}
		decoded, err := taskpb.UnmarshalDeadLetterEntry(raw)
		if err != nil {
			return err
		}
		entry = &decoded
		return nil
	})
	if err != nil {
		return nil, &Error{Kind: ProtobufDecode, Seq: seq, Err: err}
	}
	return entry, nil
}

// DLQEntry pairs a sequence number with its dead-letter entry, as
// returned by ListDLQ.
type DLQEntry struct {
	Seq   uint64
	Entry types.DeadLetterEntry
}

// ListDLQ returns up to limit dead-letter entries in ascending
// sequence order, for diagnostic inspection.
func (q *Queue) ListDLQ(limit int) ([]DLQEntry, error) {
	var results []DLQEntry
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDLQ).Cursor()
		for k, v := c.First(); k != nil && len(results) < limit; k, v = c.Next() {
			entry, err := taskpb.UnmarshalDeadLetterEntry(v)
			if err != nil {
				return err
			}
			results = append(results, DLQEntry{Seq: seqFromKey(k), Entry: entry})
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Kind: ProtobufDecode, Err: err}
	}
	return results, nil
}

// CurrentSeq returns the next sequence number that will be assigned.
func (q *Queue) CurrentSeq() uint64 {
	return q.seq.Load()
}

// Flush is a no-op: bbolt fsyncs every committed transaction, so there
// is no separate flush step. It exists to satisfy the shutdown
// sequence's expectation of a flush() call.
func (q *Queue) Flush() error {
	return nil
}

// HealthCheck verifies the database is still readable.
func (q *Queue) HealthCheck() error {
	return q.db.View(func(tx *bolt.Tx) error {
		_ = tx.Bucket(bucketMetadata).Get(keyNextSeq)
		return nil
	})
}
