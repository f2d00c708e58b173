package appstate

import (
	"sync"
	"time"

	"github.com/oiwn/fetchbox/pkg/log"
	"github.com/oiwn/fetchbox/pkg/metrics"
)

// RetentionLoop periodically drives Ledger.PruneExpired on a ticker,
// following the reconciler's start/stop-channel idiom rather than a
// context-cancellation loop, to match the rest of the codebase's
// background-worker shape.
type RetentionLoop struct {
	state    *AppState
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRetentionLoop builds a loop that prunes state's ledger every
// interval.
func NewRetentionLoop(state *AppState, interval time.Duration) *RetentionLoop {
	return &RetentionLoop{state: state, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the prune loop in a background goroutine.
func (r *RetentionLoop) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop signals the loop to exit and waits for it to return.
func (r *RetentionLoop) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *RetentionLoop) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.pruneOnce()
		case <-r.stopCh:
			return
		}
	}
}

func (r *RetentionLoop) pruneOnce() {
	componentLog := log.WithComponent("appstate")

	stats, err := r.state.Ledger.PruneExpired(time.Now())
	if err != nil {
		componentLog.Error().Err(err).Msg("appstate: ledger prune cycle failed")
		return
	}

	metrics.LedgerPrunedTotal.WithLabelValues("jobs").Add(float64(stats.JobsPruned))
	metrics.LedgerPrunedTotal.WithLabelValues("logs").Add(float64(stats.LogsPruned))
	metrics.LedgerPrunedTotal.WithLabelValues("idempotency").Add(float64(stats.IdempotencyPruned))

	componentLog.Debug().
		Int("jobs_pruned", stats.JobsPruned).
		Int("logs_pruned", stats.LogsPruned).
		Int("idempotency_pruned", stats.IdempotencyPruned).
		Msg("appstate: ledger prune cycle complete")
}
