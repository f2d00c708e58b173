// Package appstate is FetchBox's composition root. It owns the
// lifetime of every durable dependency (ledger, queue, object store)
// and wires them, together with the handler registry and resolved
// proxy pools, into the structures the API and worker layers consume.
// Nothing outside this package opens a bbolt file or an ObjectStore
// backend directly.
package appstate

import (
	"fmt"

	"github.com/oiwn/fetchbox/pkg/api"
	"github.com/oiwn/fetchbox/pkg/broker"
	"github.com/oiwn/fetchbox/pkg/config"
	"github.com/oiwn/fetchbox/pkg/handlers"
	"github.com/oiwn/fetchbox/pkg/ledger"
	"github.com/oiwn/fetchbox/pkg/log"
	"github.com/oiwn/fetchbox/pkg/queue"
	"github.com/oiwn/fetchbox/pkg/resolver"
	"github.com/oiwn/fetchbox/pkg/storage"
	"github.com/oiwn/fetchbox/pkg/types"
)

// AppState holds every long-lived dependency FetchBox's command layer
// needs to start serving and to shut down cleanly.
type AppState struct {
	Config     config.Config
	Ledger     *ledger.Store
	Queue      *queue.Queue
	Broker     *broker.Broker
	Inboxes    []broker.Inbox
	Registry   *handlers.Registry
	Store      storage.ObjectStore
	ProxyPools map[string]types.ResolvedProxyPool
	Controller *api.Controller
}

// New validates cfg, opens the ledger and queue stores, resolves the
// proxy pool graph, builds the handler registry and object store, and
// assembles the Ingest Controller. On error, New closes any store it
// had already opened and returns a nil *AppState; on success, the
// caller must call Close when done.
func New(cfg config.Config) (*AppState, error) {
	componentLog := log.WithComponent("appstate")

	if err := config.Validate(cfg); err != nil {
		componentLog.Error().Err(err).Msg("appstate: invalid configuration")
		return nil, fmt.Errorf("appstate: invalid configuration: %w", err)
	}

	retention := ledger.Retention{
		JobTTLDays:         cfg.Retention.JobTTLDays,
		LogsTTLDays:        cfg.Retention.LogsTTLDays,
		IdempotencyTTLDays: cfg.Retention.IdempotencyTTLDays,
	}
	ledgerStore, err := ledger.Open(cfg.Server.LedgerPath, retention)
	if err != nil {
		componentLog.Error().Err(err).Msg("appstate: opening ledger failed")
		return nil, fmt.Errorf("appstate: opening ledger: %w", err)
	}

	queueStore, err := queue.Open(cfg.Server.QueuePath)
	if err != nil {
		componentLog.Error().Err(err).Msg("appstate: opening queue failed")
		ledgerStore.Close()
		return nil, fmt.Errorf("appstate: opening queue: %w", err)
	}

	numWorkers := cfg.Server.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	taskBroker, inboxes := broker.New(queueStore, numWorkers, 256)

	proxyGraph := resolver.New(cfg.Proxy)
	proxyPools, err := proxyGraph.ResolveAll()
	if err != nil {
		componentLog.Error().Err(err).Msg("appstate: resolving proxy pools failed")
		queueStore.Close()
		ledgerStore.Close()
		return nil, fmt.Errorf("appstate: resolving proxy pools: %w", err)
	}

	registry := handlers.NewRegistry()
	if len(cfg.Handlers) == 0 {
		registry = handlers.NewDefaultRegistry()
	} else {
		for jobType, handlerCfg := range cfg.Handlers {
			registry.Register(jobType, handlers.NewDefaultHandler(handlerCfg), handlerCfg)
		}
	}

	objectStore, err := storage.New(cfg.Storage)
	if err != nil {
		componentLog.Error().Err(err).Msg("appstate: building object store failed")
		queueStore.Close()
		ledgerStore.Close()
		return nil, fmt.Errorf("appstate: building object store: %w", err)
	}

	controller := &api.Controller{
		Ledger:   ledgerStore,
		Broker:   taskBroker,
		Registry: registry,
		Store:    objectStore,
		Limits:   cfg.Server.API,
	}

	componentLog.Info().
		Int("num_workers", numWorkers).
		Str("storage_provider", string(cfg.Storage.Provider)).
		Int("proxy_pools", len(proxyPools)).
		Msg("appstate: initialized")

	return &AppState{
		Config:     cfg,
		Ledger:     ledgerStore,
		Queue:      queueStore,
		Broker:     taskBroker,
		Inboxes:    inboxes,
		Registry:   registry,
		Store:      objectStore,
		ProxyPools: proxyPools,
		Controller: controller,
	}, nil
}

// Close flushes and closes the durable stores in reverse-dependency
// order. It is safe to call on a partially-initialized AppState.
func (a *AppState) Close() error {
	var firstErr error
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
