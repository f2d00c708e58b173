// Package broker implements the task broker: it atomically persists
// each task to the queue store, then hands it to one of N bounded
// worker inboxes under a round-robin policy with backpressure. The
// broker owns the inbox send side; inbox receive channels are
// transferred to callers at construction and must not be read from
// anywhere else.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/oiwn/fetchbox/pkg/log"
	"github.com/oiwn/fetchbox/pkg/queue"
	"github.com/oiwn/fetchbox/pkg/types"
)

// Envelope wraps a TaskDescriptor with the sequence number it was
// persisted under.
type Envelope struct {
	Seq  uint64
	Task types.TaskDescriptor
}

// Inbox is the receive side of one worker's bounded channel.
type Inbox <-chan Envelope

// Broker distributes tasks from the ingest path to the worker pool.
// The queue handle is guarded by a reader-writer lock: Enqueue takes
// the writer (serializing sequence-counter use with the durable
// write); GetTask/GetDLQTask/ListDLQ take the reader.
type Broker struct {
	mu    sync.RWMutex
	q     *queue.Queue
	inbox []chan Envelope

	// inboxMu serializes a worker's send against its own close, so an
	// Enqueue never races CloseInbox into a send-on-closed-channel
	// panic. Each index guards the inbox at the same index.
	inboxMu []sync.Mutex
	closed  []bool

	nextWorker atomic.Uint64
}

// New builds a Broker over queue, with numWorkers bounded inboxes of
// inboxCapacity each. It returns the broker and one receive-only Inbox
// per worker, in worker-index order; callers must consume their inbox
// exactly once, from exactly one goroutine.
func New(q *queue.Queue, numWorkers, inboxCapacity int) (*Broker, []Inbox) {
	channels := make([]chan Envelope, numWorkers)
	inboxes := make([]Inbox, numWorkers)
	for i := 0; i < numWorkers; i++ {
		ch := make(chan Envelope, inboxCapacity)
		channels[i] = ch
		inboxes[i] = ch
	}

	return &Broker{
		q:       q,
		inbox:   channels,
		inboxMu: make([]sync.Mutex, numWorkers),
		closed:  make([]bool, numWorkers),
	}, inboxes
}

// CloseInbox marks a worker's inbox closed: subsequent Enqueue calls
// that would route to it are logged and dropped from dispatch rather
// than sent (only the broker ever closes the underlying channel, to
// avoid a send racing a close from the worker side).
func (b *Broker) CloseInbox(workerIdx int) {
	b.inboxMu[workerIdx].Lock()
	defer b.inboxMu[workerIdx].Unlock()
	if !b.closed[workerIdx] {
		b.closed[workerIdx] = true
		close(b.inbox[workerIdx])
	}
}

// Enqueue persists task to the queue store, then dispatches it to the
// next worker inbox in round-robin order. If the inbox is full, the
// call blocks until space is available (backpressure); there is no
// internal timeout. If the inbox is closed, the task remains
// persisted: the broker logs a warning and returns seq as success,
// since recovery of undispatched tasks is not the broker's job.
func (b *Broker) Enqueue(task types.TaskDescriptor) (uint64, error) {
	seq, err := func() (uint64, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.q.Enqueue(task)
	}()
	if err != nil {
		log.WithComponent("broker").Error().Err(err).Msg("broker: task persist failed")
		return 0, err
	}

	workerIdx := int(b.nextWorker.Add(1)-1) % len(b.inbox)

	b.inboxMu[workerIdx].Lock()
	defer b.inboxMu[workerIdx].Unlock()
	if b.closed[workerIdx] {
		log.WithComponent("broker").Warn().Uint64("seq", seq).Int("worker", workerIdx).
			Msg("worker inbox closed, task left undispatched")
		return seq, nil
	}

	b.inbox[workerIdx] <- Envelope{Seq: seq, Task: task}
	return seq, nil
}

// GetTask reads a task from the queue store under the reader lock.
func (b *Broker) GetTask(seq uint64) (*types.TaskDescriptor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.q.GetTask(seq)
}

// GetDLQTask reads a dead-letter entry from the queue store under the
// reader lock.
func (b *Broker) GetDLQTask(seq uint64) (*types.DeadLetterEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.q.GetDLQTask(seq)
}

// ListDLQ reads up to limit dead-letter entries under the reader lock.
func (b *Broker) ListDLQ(limit int) ([]queue.DLQEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.q.ListDLQ(limit)
}

// MoveToDLQ moves a task to the dead-letter partition under the
// writer lock.
func (b *Broker) MoveToDLQ(seq uint64, failureCode, failureMessage string, attempts uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.MoveToDLQ(seq, failureCode, failureMessage, attempts)
}

// CurrentSeq returns the queue store's next sequence number.
func (b *Broker) CurrentSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.q.CurrentSeq()
}

// NumWorkers returns the number of worker inboxes.
func (b *Broker) NumWorkers() int {
	return len(b.inbox)
}

// HealthCheck reports true iff every inbox is still open. Go offers no
// direct "is this channel closed" query from the sender side without
// consuming from it, so the broker tracks closed state explicitly via
// CloseInbox rather than probing the channel.
func (b *Broker) HealthCheck() bool {
	for i := range b.inbox {
		b.inboxMu[i].Lock()
		open := !b.closed[i]
		b.inboxMu[i].Unlock()
		if !open {
			return false
		}
	}
	return true
}
