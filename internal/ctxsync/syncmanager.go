package ctxsync

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"syncore/internal/pkg/logging"
)

// StreamOpener is the consumed transport contract for peer streams
// (§6): open an ordered byte stream to a peer running the reconciliation
// protocol.
type StreamOpener interface {
	Open(ctx context.Context, peerAddr string, protocolID string) (io.ReadWriteCloser, error)
}

const ReconcileProtocolID = "/syncore/reconcile/1.0.0"

// Config holds the sync manager's tunables, documented in §4.4 with
// these defaults; overridable via SYNC_FREQUENCY, SYNC_INTERVAL,
// SYNC_TIMEOUT, MAX_CONCURRENT_SYNCS (§6).
type Config struct {
	Frequency           time.Duration
	Interval            time.Duration
	Timeout             time.Duration
	MaxConcurrent       int
	SnapshotChunkSize   int
	DeltaSyncThreshold  int
}

func DefaultConfig() Config {
	return Config{
		Frequency:          10 * time.Second,
		Interval:           5 * time.Second,
		Timeout:            30 * time.Second,
		MaxConcurrent:      30,
		SnapshotChunkSize:  64 * 1024,
		DeltaSyncThreshold: 128,
	}
}

// SyncManager is a single sweep-scheduling task plus a
// bounded-concurrency reconciliation gate: a sweep ticker loop
// paired with a fixed-size acquire/release semaphore sized
// by max_concurrent, simplified from a general string-keyed work queue
// since every unit of reconciliation work here is a (context, peer)
// pair.
type SyncManager struct {
	cfg      Config
	pipeline *Pipeline
	identity [32]byte
	opener   StreamOpener

	gate chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup

	inFlightMu sync.Mutex
	inFlight   int

	snapshotProvider  SnapshotProvider
	snapshotInstaller SnapshotInstaller

	log *logging.Logger
}

func NewSyncManager(cfg Config, pipeline *Pipeline, identity [32]byte, opener StreamOpener) *SyncManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &SyncManager{
		cfg:      cfg,
		pipeline: pipeline,
		identity: identity,
		opener:   opener,
		gate:     make(chan struct{}, cfg.MaxConcurrent),
		stopCh:   make(chan struct{}),
		log:      logging.Default().Component("syncmanager"),
	}
}

// Start launches the sweep loop. Call Stop to cancel it and wait for
// in-flight reconciliations to finish.
func (m *SyncManager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.sweepLoop(ctx)
}

// Stop cancels the sweep loop and waits for outstanding reconciliations
// to return. The wait has no deadline of its own: each reconciliation is
// bounded only by cfg.Timeout and by the context it was dispatched with.
func (m *SyncManager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *SyncManager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

func (m *SyncManager) sweepOnce(ctx context.Context) {
	now := time.Now()
	for _, c := range m.pipeline.Contexts() {
		if now.Sub(c.LastSyncAt()) < m.cfg.Interval {
			continue
		}
		peer := pickPeer(c.Peers())
		c.MarkSyncAttempt(now)
		if peer == "" {
			// Degenerate case: no peers with a known address. Still
			// advances last_sync_at to avoid busy-looping (§4.4).
			continue
		}
		m.dispatch(ctx, c.ID, peer)
	}
}

// RequestReconcile schedules an on-demand reconciliation (triggered by
// a missing-parent hint), multiplexed into the
// same bounded pool as sweep-scheduled ones.
func (m *SyncManager) RequestReconcile(ctx context.Context, contextID, peer string) {
	c := m.pipeline.Context(contextID)
	c.MarkSyncAttempt(time.Now())
	m.dispatch(ctx, contextID, peer)
}

// dispatch acquires a gate slot — blocking if max_concurrent in-flight
// reconciliations are already running, which is exactly the "sweep
// awaits a completion before issuing more" behavior in §4.4 — then runs
// the reconciliation in its own goroutine.
func (m *SyncManager) dispatch(ctx context.Context, contextID, peer string) {
	select {
	case m.gate <- struct{}{}:
	case <-m.stopCh:
		return
	case <-ctx.Done():
		return
	}

	m.inFlightMu.Lock()
	m.inFlight++
	m.inFlightMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.gate }()
		defer func() {
			m.inFlightMu.Lock()
			m.inFlight--
			m.inFlightMu.Unlock()
		}()

		reconcileCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()

		reqID := uuid.NewString()
		if err := m.reconcileWith(reconcileCtx, contextID, peer); err != nil {
			m.log.Warn("reconciliation failed", "context", contextID, "peer", peer, "request", reqID, "err", err)
		}
	}()
}

// InFlight returns the current in-flight reconciliation count, exercised
// by tests asserting invariant 6 (never exceeds max_concurrent).
func (m *SyncManager) InFlight() int {
	m.inFlightMu.Lock()
	defer m.inFlightMu.Unlock()
	return m.inFlight
}

// pickPeer selects uniformly at random among known addresses; an empty
// slice yields the degenerate no-op case.
func pickPeer(peers []string) string {
	if len(peers) == 0 {
		return ""
	}
	return peers[rand.Intn(len(peers))]
}
