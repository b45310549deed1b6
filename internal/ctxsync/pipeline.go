package ctxsync

import (
	"context"
	"sync"
	"time"

	"syncore/internal/pkg/logging"
)

// HintFunc emits a best-effort parent-request hint to the sync manager,
// targeting sourcePeer, when an incoming delta buffers on missing
// parents. Duplicate requests for the same (context, missing id) are
// coalesced by the pipeline before this is called.
type HintFunc func(contextID string, sourcePeer string, missing []ID)

// BroadcastFunc hands a locally-applied delta to the network event
// bridge for gossip broadcast.
type BroadcastFunc func(contextID string, delta *Delta)

const hintCoalesceWindow = 10 * time.Second

// Pipeline is the on_incoming admission entrypoint: dedup check,
// lock-guarded update, and peer bookkeeping ahead of the DAG admit
// contract.
type Pipeline struct {
	mu       sync.RWMutex
	contexts map[string]*Context

	applier     Applier
	dispatcher  *Dispatcher
	ourIdentity [32]byte
	clock       *Clock

	hint      HintFunc
	broadcast BroadcastFunc
	persister Persister

	hintMu   sync.Mutex
	hintSeen map[string]map[ID]time.Time

	log *logging.Logger
}

func NewPipeline(applier Applier, dispatcher *Dispatcher, ourIdentity [32]byte) *Pipeline {
	return &Pipeline{
		contexts:    make(map[string]*Context),
		applier:     applier,
		dispatcher:  dispatcher,
		ourIdentity: ourIdentity,
		clock:       NewClock(),
		hintSeen:    make(map[string]map[ID]time.Time),
		log:         logging.Default().Component("pipeline"),
	}
}

func (p *Pipeline) SetHintFunc(fn HintFunc)           { p.hint = fn }
func (p *Pipeline) SetBroadcastFunc(fn BroadcastFunc) { p.broadcast = fn }

// SetPersister installs the durability hook applied to every context
// the pipeline creates from this point on, including ones created
// later via Context/OnIncoming/SubmitLocal.
func (p *Pipeline) SetPersister(persister Persister) { p.persister = persister }

// Context returns the registered Context for id, creating an
// Uninitialized one if absent.
func (p *Pipeline) Context(id string) *Context {
	p.mu.RLock()
	c, ok := p.contexts[id]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.contexts[id]; ok {
		return c
	}
	c = NewContext(id)
	if p.persister != nil {
		c.SetPersister(p.persister)
	}
	p.contexts[id] = c
	return c
}

// Contexts returns a snapshot of all registered contexts, used by the
// sync manager's sweep and the orchestrator's housekeeping tasks.
func (p *Pipeline) Contexts() []*Context {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Context, 0, len(p.contexts))
	for _, c := range p.contexts {
		out = append(out, c)
	}
	return out
}

// RemoveContext drops a context's in-memory bookkeeping entirely — used
// by the orchestrator's idle-context GC. Durable state already written
// by the applier/dag store is untouched; if the context becomes active
// again, Context recreates it Uninitialized and it catches up via the
// normal snapshot/delta-sync path, the same as a peer seeing it for the
// first time would.
func (p *Pipeline) RemoveContext(id string) {
	p.mu.Lock()
	delete(p.contexts, id)
	p.mu.Unlock()

	p.hintMu.Lock()
	delete(p.hintSeen, id)
	p.hintMu.Unlock()
}

// OnIncoming is the pipeline's entrypoint for a delta arriving from the
// network (sourcePeer non-empty) or from reconciliation delta-sync.
func (p *Pipeline) OnIncoming(ctx context.Context, contextID string, delta *Delta, sourcePeer string) error {
	c := p.Context(contextID)

	if delta.Author == p.ourIdentity && c.Has(delta.ID) {
		return nil
	}

	state := c.SyncState()
	if state == StateUninitialized || state == StateCatchingUp {
		if dropped := c.Session().enqueue(delta, sourcePeer); dropped {
			p.log.Warn("session buffer full, dropped oldest", "context", contextID)
		}
		return nil
	}

	return p.admitAndDispatch(ctx, c, delta, sourcePeer)
}

// admitAndDispatch performs the Admit/cascade/dispatch/hint sequence
// (steps 3-5 of §4.3), used both by OnIncoming and by session-buffer
// drain after catch-up finishes.
func (p *Pipeline) admitAndDispatch(ctx context.Context, c *Context, delta *Delta, sourcePeer string) error {
	p.clock.Observe(delta.Timestamp)

	c.Lock()
	outcome, err := c.Admit(ctx, delta, p.applier)
	c.Unlock()
	if err != nil {
		return err
	}

	switch outcome.Status {
	case AdmitApplied:
		p.dispatchNewlyApplied(ctx, c, delta)
		for _, id := range outcome.CascadedIDs {
			p.clearHint(c.ID, id)
			c.dagMu.RLock()
			cascaded := c.deltas[id]
			c.dagMu.RUnlock()
			if cascaded != nil {
				p.dispatchNewlyApplied(ctx, c, cascaded)
			}
		}
	case AdmitBuffered:
		p.emitHint(c.ID, sourcePeer, outcome.Missing)
	}
	return nil
}

func (p *Pipeline) dispatchNewlyApplied(ctx context.Context, c *Context, delta *Delta) {
	if delta.Author != p.ourIdentity {
		p.dispatcher.Dispatch(ctx, c.ID, delta)
	}
}

// emitHint forwards a coalesced parent-request hint to the sync manager.
// Duplicate (context, missing-id) requests within hintCoalesceWindow are
// suppressed, matching the "best-effort; duplicate requests are
// coalesced" requirement.
func (p *Pipeline) emitHint(contextID, sourcePeer string, missing []ID) {
	if p.hint == nil || sourcePeer == "" {
		return
	}

	p.hintMu.Lock()
	seen, ok := p.hintSeen[contextID]
	if !ok {
		seen = make(map[ID]time.Time)
		p.hintSeen[contextID] = seen
	}
	var fresh []ID
	now := time.Now()
	for _, id := range missing {
		if last, ok := seen[id]; ok && now.Sub(last) < hintCoalesceWindow {
			continue
		}
		seen[id] = now
		fresh = append(fresh, id)
	}
	p.hintMu.Unlock()

	if len(fresh) > 0 {
		p.hint(contextID, sourcePeer, fresh)
	}
}

func (p *Pipeline) clearHint(contextID string, id ID) {
	p.hintMu.Lock()
	defer p.hintMu.Unlock()
	if seen, ok := p.hintSeen[contextID]; ok {
		delete(seen, id)
	}
}

// SubmitLocal builds and admits a delta authored by this node — the
// entrypoint for both local execution and handler-derived deltas (the
// Dispatcher's SubmitFunc). A successfully applied local delta is handed
// to broadcast; its own admission happens before broadcast, satisfying
// the ordering guarantee in §5 ("self-authored delta's local apply
// happens before its broadcast").
func (p *Pipeline) SubmitLocal(ctx context.Context, contextID string, parents []ID, payload []byte) error {
	c := p.Context(contextID)
	ts := p.clock.Tick()
	delta := NewDelta(parents, payload, ts, p.ourIdentity, KindRegular)

	c.Lock()
	outcome, err := c.Admit(ctx, delta, p.applier)
	c.Unlock()
	if err != nil {
		return err
	}
	if outcome.Status == AdmitApplied && p.broadcast != nil {
		p.broadcast(contextID, delta)
	}
	return nil
}

// DrainSession replays a context's buffered-delta queue through the
// normal admission path once catch-up completes, per §4.3's "post
// catch-up, the session's buffered-delta list is drained through the
// same path" and open question (a): buffered events ARE dispatched
// after drain.
func (p *Pipeline) DrainSession(ctx context.Context, contextID string) {
	c := p.Context(contextID)
	for _, buffered := range c.Session().drain() {
		if err := p.admitAndDispatch(ctx, c, buffered.delta, buffered.sourcePeer); err != nil {
			p.log.Warn("drain admit failed", "context", contextID, "id", buffered.delta.ID.String(), "err", err)
		}
	}
}
