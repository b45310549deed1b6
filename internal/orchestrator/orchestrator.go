// Package orchestrator wires the synchronization core (internal/ctxsync)
// to its storage and transport collaborators and runs the housekeeping
// tasks: pending-buffer decay, hash heartbeat, blob-cache eviction, and
// context garbage collection.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"syncore/internal/application"
	"syncore/internal/ctxsync"
	"syncore/internal/infrastructure/network/libp2p"
	"syncore/internal/infrastructure/storage"
	"syncore/internal/infrastructure/storage/blobcache"
	"syncore/internal/pkg/logging"
)

// contextIDDigest maps a string context id onto the 32-byte field the
// wire heartbeat format uses, so that a context's handle in the pipeline
// registry never needs to be a raw 32-byte value itself.
func contextIDDigest(contextID string) [32]byte {
	return sha256.Sum256([]byte(contextID))
}

// Default housekeeping cadences, values chosen to sit comfortably
// below the sync manager's own sweep frequency.
const (
	pendingDecayInterval = 30 * time.Second
	pendingDecayAge      = 10 * time.Minute
	heartbeatInterval    = 15 * time.Second
	contextGCInterval    = 5 * time.Minute
	contextGCIdleAge     = 30 * time.Minute
	blobEvictInterval    = 2 * time.Minute
)

// Orchestrator owns the node, storage, pipeline and sync manager for
// the whole process, performs startup rehydration, and fans out the
// housekeeping goroutines: a started-flag/errCh/WaitGroup lifecycle
// over a fixed set of named housekeeping tasks plus the sync core
// itself.
type Orchestrator struct {
	cfg *application.Config

	node     *libp2p.Node
	dagStore storage.DagStore
	applier  ctxsync.Applier
	blobs    *blobcache.Store
	audit    storage.AuditStore

	dispatcher *ctxsync.Dispatcher
	pipeline   *ctxsync.Pipeline
	manager    *ctxsync.SyncManager
	bridge     *libp2p.EventBridge
	handler    *libp2p.ReconcileHandler

	log *logging.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errCh   chan error

	lastIdleSince map[string]time.Time
}

// New constructs an Orchestrator from its already-open collaborators.
// The caller owns opening/closing node, dagStore, blobs, and audit;
// New only wires them together. blobs and audit may be nil — blob-cache
// eviction and audit logging are then simply skipped.
func New(cfg *application.Config, node *libp2p.Node, dagStore storage.DagStore, appl ctxsync.Applier, identity [32]byte, blobs *blobcache.Store, audit storage.AuditStore) *Orchestrator {
	// pipeline is wired into the dispatcher's submit function via a
	// forwarding closure, since the dispatcher must exist before the
	// pipeline that owns SubmitLocal does; the closure is never invoked
	// until after both are fully constructed below.
	var pipeline *ctxsync.Pipeline
	dispatcher := ctxsync.NewDispatcher(identity, func(ctx context.Context, contextID string, parents []ctxsync.ID, payload []byte) error {
		return pipeline.SubmitLocal(ctx, contextID, parents, payload)
	})
	pipeline = ctxsync.NewPipeline(appl, dispatcher, identity)
	pipeline.SetPersister(newDagPersister(dagStore, audit))

	manager := ctxsync.NewSyncManager(cfg.SyncManagerConfig(), pipeline, identity, libp2p.NewReconcileOpener(node))

	o := &Orchestrator{
		cfg:           cfg,
		node:          node,
		dagStore:      dagStore,
		applier:       appl,
		blobs:         blobs,
		audit:         audit,
		dispatcher:    dispatcher,
		pipeline:      pipeline,
		manager:       manager,
		log:           logging.Default().Component("orchestrator"),
		errCh:         make(chan error, 8),
		lastIdleSince: make(map[string]time.Time),
	}

	pipeline.SetHintFunc(func(contextID, sourcePeer string, missing []ctxsync.ID) {
		manager.RequestReconcile(context.Background(), contextID, sourcePeer)
	})
	pipeline.SetBroadcastFunc(o.broadcastDelta)

	manager.SetSnapshotProvider(&snapshotProvider{dagStore: dagStore})
	manager.SetSnapshotInstaller(&snapshotInstaller{dagStore: dagStore})

	o.handler = libp2p.NewReconcileHandler(node, manager)
	o.bridge = libp2p.NewEventBridge(pipeline, nil)

	return o
}

func (o *Orchestrator) Pipeline() *ctxsync.Pipeline      { return o.pipeline }
func (o *Orchestrator) SyncManager() *ctxsync.SyncManager { return o.manager }
func (o *Orchestrator) Dispatcher() *ctxsync.Dispatcher   { return o.dispatcher }

func (o *Orchestrator) broadcastDelta(contextID string, delta *ctxsync.Delta) {
	data := ctxsync.EncodeDelta(delta)
	topic := libp2p.StateDeltaTopic(contextID)
	if err := o.node.Publish(context.Background(), topic, data); err != nil {
		o.log.Warn("broadcast delta failed", "context", contextID, "err", err)
	}
}

// Start rehydrates every persisted context from storage, joins their
// gossip topics, registers the reconciliation stream handler, and
// launches the sync manager's sweep loop plus the four housekeeping
// tasks. Returns once startup rehydration completes; the housekeeping
// and sweep loops continue in the background until Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	if err := o.rehydrate(); err != nil {
		return fmt.Errorf("startup rehydration: %w", err)
	}

	o.handler.Register()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.bridge.Run(runCtx)
	}()

	o.manager.Start(runCtx)

	o.runTask(runCtx, "pending_decay", pendingDecayInterval, o.pendingDecayTick)
	o.runTask(runCtx, "heartbeat", heartbeatInterval, o.heartbeatTick)
	o.runTask(runCtx, "context_gc", contextGCInterval, o.contextGCTick)
	if o.blobs != nil {
		o.runTask(runCtx, "blob_cache_evict", blobEvictInterval, o.blobCacheEvictTick)
	}

	return nil
}

// Stop cancels every background task and waits for them to exit,
// including the sync manager's in-flight reconciliations.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.manager.Stop()
	o.wg.Wait()
}

// Errors returns a channel of task-level errors, surfaced for logging by
// the caller; never closed.
func (o *Orchestrator) Errors() <-chan error { return o.errCh }

// runTask fans out a single named, ticker-driven background task.
func (o *Orchestrator) runTask(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
	o.log.Debug("housekeeping task started", "task", name, "interval", interval)
}

// pendingDecayTick evicts orphan-buffer entries older than
// pendingDecayAge in every registered context (§4.7's "pending buffer
// decay").
func (o *Orchestrator) pendingDecayTick(ctx context.Context) {
	for _, c := range o.pipeline.Contexts() {
		if n := c.CleanupStale(pendingDecayAge); n > 0 {
			o.log.Info("evicted stale pending deltas", "context", c.ID, "count", n)
		}
	}
}

// heartbeatTick broadcasts each ready context's root hash and heads on
// its heartbeat topic (§4.7/§6). Nothing in this node reads incoming
// heartbeats, so receiving peers do not compare them or trigger a
// reconciliation on a mismatch.
func (o *Orchestrator) heartbeatTick(ctx context.Context) {
	for _, c := range o.pipeline.Contexts() {
		if c.SyncState() != ctxsync.StateReady {
			continue
		}
		data := ctxsync.EncodeHeartbeat(contextIDDigest(c.ID), c.RootHash(), c.Heads())
		topic := libp2p.HeartbeatTopic(c.ID)
		if err := o.node.Publish(ctx, topic, data); err != nil {
			o.log.Warn("publish heartbeat failed", "context", c.ID, "err", err)
		}
	}
}

// blobCacheEvictTick runs the blob cache's three-phase (age, count,
// size) eviction. Only scheduled when an orchestrator is constructed
// with a non-nil blob store.
func (o *Orchestrator) blobCacheEvictTick(ctx context.Context) {
	if n := o.blobs.EvictTick(); n > 0 {
		o.log.Info("evicted blobs", "count", n)
	}
}

// contextGCTick drops in-memory bookkeeping for contexts with no known
// peers that have sat idle past contextGCIdleAge, preventing unbounded
// registry growth from short-lived contexts. Durable state already
// persisted by the applier and dag store is untouched; if the context
// becomes active again it is recreated Uninitialized and catches up
// through the normal reconciliation path rather than being rehydrated
// in place.
func (o *Orchestrator) contextGCTick(ctx context.Context) {
	now := time.Now()
	for _, c := range o.pipeline.Contexts() {
		if len(c.Peers()) > 0 {
			delete(o.lastIdleSince, c.ID)
			continue
		}
		since, seen := o.lastIdleSince[c.ID]
		if !seen {
			o.lastIdleSince[c.ID] = now
			continue
		}
		if now.Sub(since) >= contextGCIdleAge {
			o.node.LeaveContext(c.ID)
			o.pipeline.RemoveContext(c.ID)
			delete(o.lastIdleSince, c.ID)
			o.log.Info("garbage collected idle context", "context", c.ID)
		}
	}
}
