// Package ledger implements the job ledger: a crash-consistent,
// bbolt-backed key-value store holding job snapshots, an idempotency
// index, per-job log entries, and pruning metadata. It owns its
// keyspace exclusively; nothing outside this package opens the
// underlying database file.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/oiwn/fetchbox/pkg/log"
	"github.com/oiwn/fetchbox/pkg/types"
)

var (
	bucketJobs        = []byte("jobs")
	bucketLogs        = []byte("logs")
	bucketIdempotency = []byte("idempotency")
	bucketMeta        = []byte("meta")
)

// Retention defaults, overridable via config.RetentionConfig at open
// time.
const (
	DefaultJobTTLDays         = 30
	DefaultLogsTTLDays        = 30
	DefaultIdempotencyTTLDays = 14
)

const (
	metaLastPruneJobs = "last_prune_jobs"
	metaLastPruneLogs = "last_prune_logs"
	metaLastPruneIdem = "last_prune_idem"
)

// ErrorKind distinguishes ledger failure modes, mirroring the storage-
// engine, serialization, not-found, and key-format error kinds a
// caller needs to map onto HTTP status codes.
type ErrorKind int

const (
	Storage ErrorKind = iota
	Serialization
	JobNotFound
	InvalidKey
	IOFailure
)

// Error wraps a ledger failure with its kind and the underlying cause.
type Error struct {
	Kind  ErrorKind
	JobID string
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case JobNotFound:
		return fmt.Sprintf("ledger: job not found: %s", e.JobID)
	case InvalidKey:
		return fmt.Sprintf("ledger: invalid key: %v", e.Err)
	case Serialization:
		return fmt.Sprintf("ledger: serialization: %v", e.Err)
	case IOFailure:
		return fmt.Sprintf("ledger: io: %v", e.Err)
	default:
		return fmt.Sprintf("ledger: storage: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retention bounds the pruning policy. Matches config.RetentionConfig's
// job/logs/idempotency TTL fields.
type Retention struct {
	JobTTLDays         uint32
	LogsTTLDays        uint32
	IdempotencyTTLDays uint32
}

// DefaultRetention returns the documented default retention windows.
func DefaultRetention() Retention {
	return Retention{
		JobTTLDays:         DefaultJobTTLDays,
		LogsTTLDays:        DefaultLogsTTLDays,
		IdempotencyTTLDays: DefaultIdempotencyTTLDays,
	}
}

// Store is the bbolt-backed job ledger.
type Store struct {
	db        *bolt.DB
	retention Retention
}

// Open opens (or creates) a ledger store at path, creating its parent
// directory and all four partitions if they do not already exist.
func Open(path string, retention Retention) (*Store, error) {
	componentLog := log.WithComponent("ledger")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		componentLog.Error().Err(err).Str("path", path).Msg("ledger: failed to create data directory")
		return nil, &Error{Kind: IOFailure, Err: err}
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		componentLog.Error().Err(err).Str("path", path).Msg("ledger: failed to open database")
		return nil, &Error{Kind: Storage, Err: err}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketLogs, bucketIdempotency, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		componentLog.Error().Err(err).Str("path", path).Msg("ledger: failed to create buckets")
		db.Close()
		return nil, &Error{Kind: Storage, Err: err}
	}

	return &Store{db: db, retention: retention}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeJobKey(jobID string) []byte {
	return []byte("job:" + jobID)
}

func decodeJobKey(key []byte) (string, bool) {
	s := string(key)
	if !strings.HasPrefix(s, "job:") {
		return "", false
	}
	return strings.TrimPrefix(s, "job:"), true
}

func encodeIdemKey(key string) []byte {
	return []byte("idem:" + key)
}

func encodeLogKey(jobID string, offset uint64) []byte {
	return []byte(fmt.Sprintf("log:%s:%016d", jobID, offset))
}

func encodeLogPrefix(jobID string) []byte {
	return []byte(fmt.Sprintf("log:%s:", jobID))
}

func encodeMetaKey(name string) []byte {
	return []byte("meta:" + name)
}

// Upsert stores or replaces a job snapshot.
func (s *Store) Upsert(snapshot types.JobSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return &Error{Kind: Serialization, JobID: snapshot.JobID, Err: err}
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Put(encodeJobKey(snapshot.JobID), data)
	})
	if err != nil {
		log.WithComponent("ledger").Error().Err(err).Str("job_id", snapshot.JobID).Msg("ledger: upsert failed")
		return &Error{Kind: Storage, JobID: snapshot.JobID, Err: err}
	}
	return nil
}

// Get returns the snapshot for job_id, or (nil, nil) if absent.
func (s *Store) Get(jobID string) (*types.JobSnapshot, error) {
	var snapshot *types.JobSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get(encodeJobKey(jobID))
		if data == nil {
			return nil
		}
		var snap types.JobSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
		snapshot = &snap
		return nil
	})
	if err != nil {
		log.WithComponent("ledger").Error().Err(err).Str("job_id", jobID).Msg("ledger: get failed")
		return nil, &Error{Kind: Serialization, JobID: jobID, Err: err}
	}
	return snapshot, nil
}

// AppendLog appends a log entry for job_id at the next sequential
// offset, tracked in the meta partition under "meta:log_offset:<job_id>".
func (s *Store) AppendLog(jobID string, entry types.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return &Error{Kind: Serialization, JobID: jobID, Err: err}
	}
	offsetKey := encodeMetaKey("log_offset:" + jobID)

	err = s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		offset := uint64(0)
		if raw := meta.Get(offsetKey); raw != nil {
			offset, _ = strconv.ParseUint(string(raw), 10, 64)
		}
		if err := tx.Bucket(bucketLogs).Put(encodeLogKey(jobID, offset), data); err != nil {
			return err
		}
		return meta.Put(offsetKey, []byte(strconv.FormatUint(offset+1, 10)))
	})
	if err != nil {
		log.WithComponent("ledger").Error().Err(err).Str("job_id", jobID).Msg("ledger: append log failed")
		return &Error{Kind: Storage, JobID: jobID, Err: err}
	}
	return nil
}

// ListLogs returns every log entry recorded for job_id, in offset
// order (the fixed-width decimal key encoding makes lexical order
// equal numeric order, so a plain bucket scan suffices).
func (s *Store) ListLogs(jobID string) ([]types.LogEntry, error) {
	var entries []types.LogEntry
	prefix := encodeLogPrefix(jobID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var entry types.LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Kind: Serialization, JobID: jobID, Err: err}
	}
	return entries, nil
}

// RememberIdempotency records that client_key maps to job_id.
func (s *Store) RememberIdempotency(key, jobID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put(encodeIdemKey(key), []byte(jobID))
	})
	if err != nil {
		log.WithComponent("ledger").Error().Err(err).Str("idempotency_key", key).Msg("ledger: remember idempotency failed")
		return &Error{Kind: Storage, Err: err}
	}
	return nil
}

// GetIdempotent returns the job_id previously recorded under key, and
// whether an entry was found.
func (s *Store) GetIdempotent(key string) (string, bool, error) {
	var jobID string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdempotency).Get(encodeIdemKey(key))
		if data == nil {
			return nil
		}
		found = true
		jobID = string(data)
		return nil
	})
	if err != nil {
		return "", false, &Error{Kind: Storage, Err: err}
	}
	return jobID, found, nil
}

// PruneStats reports how many entries each partition's prune removed.
type PruneStats struct {
	JobsPruned       int
	LogsPruned       int
	IdempotencyPruned int
}

// PruneExpired advances the three metadata cursors to now and garbage-
// collects entries past their retention window. Jobs and logs are
// pruned using JobSnapshot.UpdatedAt (jobs) and the job's own snapshot
// age (logs, keyed by their parent job) since log entries carry no
// individual timestamp key of their own in the partition encoding.
// Idempotency uses the coarse policy: if the partition hasn't been
// pruned within its own retention window, it is drained entirely,
// since idempotency is a deduplication hint rather than a correctness
// requirement for already-persisted jobs.
func (s *Store) PruneExpired(now time.Time) (PruneStats, error) {
	var stats PruneStats
	componentLog := log.WithComponent("ledger")

	jobsPruned, err := s.pruneJobs(now)
	if err != nil {
		componentLog.Error().Err(err).Msg("ledger: prune jobs failed")
		return stats, &Error{Kind: Storage, Err: err}
	}
	stats.JobsPruned = jobsPruned

	logsPruned, err := s.pruneLogs(now)
	if err != nil {
		componentLog.Error().Err(err).Msg("ledger: prune logs failed")
		return stats, &Error{Kind: Storage, Err: err}
	}
	stats.LogsPruned = logsPruned

	idemPruned, err := s.pruneIdempotency(now)
	if err != nil {
		componentLog.Error().Err(err).Msg("ledger: prune idempotency failed")
		return stats, &Error{Kind: Storage, Err: err}
	}
	stats.IdempotencyPruned = idemPruned

	return stats, nil
}

func (s *Store) pruneJobs(now time.Time) (int, error) {
	cutoff := now.Add(-time.Duration(s.retention.JobTTLDays) * 24 * time.Hour).Unix()
	pruned := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		var stale [][]byte
		c := jobs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var snap types.JobSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				continue
			}
			if snap.UpdatedAt < cutoff {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := jobs.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return tx.Bucket(bucketMeta).Put(encodeMetaKey(metaLastPruneJobs), []byte(strconv.FormatInt(now.Unix(), 10)))
	})
	return pruned, err
}

// pruneLogs removes log entries for jobs whose snapshot has already
// aged past the logs retention window (or no longer exists).
func (s *Store) pruneLogs(now time.Time) (int, error) {
	cutoff := now.Add(-time.Duration(s.retention.LogsTTLDays) * 24 * time.Hour).Unix()
	pruned := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		logs := tx.Bucket(bucketLogs)

		var stale [][]byte
		c := logs.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			jobID, ok := decodeLogJobID(k)
			if !ok {
				continue
			}
			jobData := jobs.Get(encodeJobKey(jobID))
			if jobData == nil {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			var snap types.JobSnapshot
			if err := json.Unmarshal(jobData, &snap); err != nil {
				continue
			}
			if snap.UpdatedAt < cutoff {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := logs.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return tx.Bucket(bucketMeta).Put(encodeMetaKey(metaLastPruneLogs), []byte(strconv.FormatInt(now.Unix(), 10)))
	})
	return pruned, err
}

func decodeLogJobID(key []byte) (string, bool) {
	s := string(key)
	if !strings.HasPrefix(s, "log:") {
		return "", false
	}
	rest := strings.TrimPrefix(s, "log:")
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}

// pruneIdempotency implements the coarse drain-entirely policy: if the
// recorded last-prune timestamp predates the idempotency retention
// cutoff (or has never been set), every idempotency entry is removed.
func (s *Store) pruneIdempotency(now time.Time) (int, error) {
	cutoff := now.Add(-time.Duration(s.retention.IdempotencyTTLDays) * 24 * time.Hour).Unix()
	pruned := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		idem := tx.Bucket(bucketIdempotency)

		shouldDrain := true
		if raw := meta.Get(encodeMetaKey(metaLastPruneIdem)); raw != nil {
			if lastPrune, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				shouldDrain = lastPrune < cutoff
			}
		}

		if shouldDrain {
			var keys [][]byte
			c := idem.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			for _, k := range keys {
				if err := idem.Delete(k); err != nil {
					return err
				}
				pruned++
			}
		}

		return meta.Put(encodeMetaKey(metaLastPruneIdem), []byte(strconv.FormatInt(now.Unix(), 10)))
	})
	return pruned, err
}

// Persist is a no-op: bbolt fsyncs every committed transaction by
// default, so there is no separate flush step. It exists to satisfy
// the shutdown sequence's expectation of a persist() call.
func (s *Store) Persist() error {
	return nil
}

// HealthCheck is a trivial read confirming the underlying database is
// still open and responsive.
func (s *Store) HealthCheck() error {
	return s.db.View(func(tx *bolt.Tx) error {
		tx.Bucket(bucketJobs)
		return nil
	})
}

// StoreStats reports per-partition entry counts.
type StoreStats struct {
	JobCount  int
	LogCount  int
	IdemCount int
}

// Stats returns the number of entries in each of the jobs, logs, and
// idempotency partitions.
func (s *Store) Stats() (StoreStats, error) {
	var stats StoreStats
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.JobCount = tx.Bucket(bucketJobs).Stats().KeyN
		stats.LogCount = tx.Bucket(bucketLogs).Stats().KeyN
		stats.IdemCount = tx.Bucket(bucketIdempotency).Stats().KeyN
		return nil
	})
	if err != nil {
		return StoreStats{}, &Error{Kind: Storage, Err: err}
	}
	return stats, nil
}

// SizeBytes reports the on-disk size of the ledger's database file,
// for operators/health's diagnostic details.
func (s *Store) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, &Error{Kind: IOFailure, Err: err}
	}
	return info.Size(), nil
}
