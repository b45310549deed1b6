package ctxsync

import (
	"context"
	"sort"
	"time"

	syncerrors "syncore/internal/pkg/errors"
	"syncore/internal/pkg/logging"
)

// AdmitStatus enumerates the outcome variants of Context.Admit (§4.1).
type AdmitStatus int

const (
	AdmitAlreadyApplied AdmitStatus = iota
	AdmitApplied
	AdmitBuffered
	AdmitRejected
)

// AdmitOutcome is the sum-typed result of an admission attempt.
type AdmitOutcome struct {
	Status      AdmitStatus
	CascadedIDs []ID   // populated on AdmitApplied
	Missing     []ID   // populated on AdmitBuffered
	Reason      string // populated on AdmitRejected
}

// PendingStats summarizes the current orphan buffer for housekeeping and
// reconciliation-protocol decisions.
type PendingStats struct {
	Count         int
	OldestArrival time.Time
}

// maxCascadePerCall bounds the number of orphans promoted in a single
// Admit call; runaway gossip bursts leave the remainder buffered with
// its parents satisfied, and the next Admit call that applies a delta
// picks it up, rather than blocking the context lock indefinitely.
const maxCascadePerCall = 5000

// maxPendingBuffer bounds the per-context orphan buffer; once full, the
// next insertion evicts the oldest-arrived entry instead of letting a
// runaway gossip burst (or a stalled parent that never arrives) grow it
// without bound.
const maxPendingBuffer = 10000

// pendingBufferWarnCooldown rate-limits the at-capacity warning so a
// sustained overflow logs once per window rather than once per delta.
const pendingBufferWarnCooldown = 5 * time.Second

var dagLog = logging.Default().Component("dag")

// Lock acquires the context's exclusive lock. Every applier invocation,
// head mutation, and buffer mutation for this context must happen while
// held. Lock ordering: Lock() before any dagMu access performed by the
// caller directly (Admit/RestoreApplied manage dagMu themselves).
func (c *Context) Lock() { c.lock.Lock() }

// Unlock releases the exclusive lock acquired by Lock.
func (c *Context) Unlock() { c.lock.Unlock() }

// Has reports whether id is present in the applied set. Safe to call
// without holding the exclusive lock.
func (c *Context) Has(id ID) bool {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()
	_, ok := c.appliedSet[id]
	return ok
}

// Heads returns a snapshot of the current head set.
func (c *Context) Heads() []ID {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()
	out := make([]ID, 0, len(c.heads))
	for id := range c.heads {
		out = append(out, id)
	}
	return out
}

// MissingParents reports which of delta's parents are not yet applied.
func (c *Context) MissingParents(delta *Delta) []ID {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()
	return c.missingParentsLocked(delta.Parents)
}

func (c *Context) missingParentsLocked(parents []ID) []ID {
	var missing []ID
	for _, p := range parents {
		if _, ok := c.appliedSet[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// PendingStats reports the size and age of the orphan buffer.
func (c *Context) PendingStats() PendingStats {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()
	stats := PendingStats{Count: len(c.buffered)}
	for _, e := range c.buffered {
		if stats.OldestArrival.IsZero() || e.arrivalTime.Before(stats.OldestArrival) {
			stats.OldestArrival = e.arrivalTime
		}
	}
	return stats
}

// CleanupStale drops buffered deltas older than age, as performed by the
// pending-buffer-decay housekeeping task (§4.7). Returns the eviction
// count.
func (c *Context) CleanupStale(age time.Duration) int {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()

	cutoff := time.Now().Add(-age)
	evicted := 0
	for id, e := range c.buffered {
		if e.arrivalTime.Before(cutoff) {
			c.dropBufferedLocked(id)
			evicted++
		}
	}
	return evicted
}

// oldestBufferedLocked finds the earliest-arrived buffered entry, used
// to pick an eviction candidate once the buffer is at capacity.
func (c *Context) oldestBufferedLocked() (ID, bool) {
	var oldestID ID
	var oldestTime time.Time
	found := false
	for id, e := range c.buffered {
		if !found || e.arrivalTime.Before(oldestTime) {
			oldestID, oldestTime, found = id, e.arrivalTime, true
		}
	}
	return oldestID, found
}

func (c *Context) dropBufferedLocked(id ID) {
	entry, ok := c.buffered[id]
	if !ok {
		return
	}
	for parent := range entry.missing {
		if waiters, ok := c.waitingOn[parent]; ok {
			delete(waiters, id)
			if len(waiters) == 0 {
				delete(c.waitingOn, parent)
			}
		}
	}
	delete(c.buffered, id)
}

// Admit is the DAG store's admission algorithm (§4.1). The caller must
// hold the context's exclusive lock (Lock/Unlock) for the duration of
// this call.
func (c *Context) Admit(ctx context.Context, delta *Delta, applier Applier) (AdmitOutcome, error) {
	if !delta.Verify() {
		dagLog.Warn("rejecting malformed delta", "context", c.ID, "id", delta.ID.String())
		return AdmitOutcome{Status: AdmitRejected, Reason: "hash mismatch"}, nil
	}

	c.dagMu.RLock()
	if _, ok := c.appliedSet[delta.ID]; ok {
		c.dagMu.RUnlock()
		return AdmitOutcome{Status: AdmitAlreadyApplied}, nil
	}
	missing := c.missingParentsLocked(delta.Parents)
	c.dagMu.RUnlock()

	if delta.Kind != KindCheckpoint && len(missing) > 0 {
		c.bufferOrphan(delta, missing)
		return AdmitOutcome{Status: AdmitBuffered, Missing: missing}, nil
	}

	if err := c.applyOne(ctx, delta, applier); err != nil {
		return AdmitOutcome{}, err
	}

	cascaded, capped := c.cascade(ctx, delta.ID, applier)
	if capped {
		dagLog.Warn("cascade capped, deferring remainder", "context", c.ID, "applied_this_call", len(cascaded))
	}

	if delta.Kind == KindCheckpoint {
		c.setSyncState(StateReady)
	}

	return AdmitOutcome{Status: AdmitApplied, CascadedIDs: cascaded}, nil
}

func (c *Context) bufferOrphan(delta *Delta, missing []ID) {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()

	if _, exists := c.buffered[delta.ID]; exists {
		return
	}

	if len(c.buffered) >= maxPendingBuffer {
		if oldest, ok := c.oldestBufferedLocked(); ok {
			c.dropBufferedLocked(oldest)
		}
		if time.Since(c.lastBufferWarn) >= pendingBufferWarnCooldown {
			c.lastBufferWarn = time.Now()
			dagLog.Warn("pending buffer at capacity, evicting oldest orphan", "context", c.ID, "cap", maxPendingBuffer)
		}
	}

	missingSet := make(map[ID]struct{}, len(missing))
	for _, m := range missing {
		missingSet[m] = struct{}{}
		if c.waitingOn[m] == nil {
			c.waitingOn[m] = make(map[ID]struct{})
		}
		c.waitingOn[m][delta.ID] = struct{}{}
	}
	c.buffered[delta.ID] = &bufferedEntry{delta: delta, arrivalTime: time.Now(), missing: missingSet}
}

// applyOne invokes the applier for a single delta whose parents are all
// already satisfied, then folds the result into the DAG index structures.
func (c *Context) applyOne(ctx context.Context, delta *Delta, applier Applier) error {
	c.dagMu.RLock()
	preRoot := c.currentRoot
	isMerge := false
	for _, p := range delta.Parents {
		if r, ok := c.headRoot[p]; ok && r != preRoot {
			isMerge = true
			break
		}
	}
	c.dagMu.RUnlock()

	if err := applier.Apply(ctx, c.ID, delta, isMerge); err != nil {
		if syncerrors.IsFatal(err) {
			dagLog.Error("fatal applier error", "context", c.ID, "id", delta.ID.String(), "err", err)
		}
		return err
	}

	root := applier.RootHash(c.ID)

	c.dagMu.Lock()
	c.deltas[delta.ID] = delta
	c.appliedSet[delta.ID] = struct{}{}
	for _, p := range delta.Parents {
		delete(c.heads, p)
	}
	c.heads[delta.ID] = struct{}{}
	c.headRoot[delta.ID] = root
	c.currentRoot = root
	if delta.Kind == KindCheckpoint {
		c.lastCheckpoint = delta.ID
	}
	persister := c.persister
	heads := make([]ID, 0, len(c.heads))
	for id := range c.heads {
		heads = append(heads, id)
	}
	lastCheckpoint := c.lastCheckpoint
	c.dagMu.Unlock()

	if persister != nil {
		if err := persister.Persist(c.ID, delta, heads, root, lastCheckpoint); err != nil {
			dagLog.Error("durable persist failed", "context", c.ID, "id", delta.ID.String(), "err", err)
			return err
		}
	}

	return nil
}

// cascade promotes buffered orphans whose parents are now all satisfied,
// applying them in deterministic (timestamp, id) order, until no more
// become ready or the per-call cap is reached. Orphans left ready by an
// earlier capped call are part of the starting frontier.
func (c *Context) cascade(ctx context.Context, justApplied ID, applier Applier) (cascaded []ID, capped bool) {
	c.readyChildrenLocked(justApplied)
	var frontier []*Delta
	c.dagMu.RLock()
	for _, e := range c.buffered {
		if len(e.missing) == 0 {
			frontier = append(frontier, e.delta)
		}
	}
	c.dagMu.RUnlock()

	for len(frontier) > 0 {
		if len(cascaded) >= maxCascadePerCall {
			return cascaded, true
		}
		sort.Slice(frontier, func(i, j int) bool { return less(frontier[i], frontier[j]) })
		next := frontier[0]
		frontier = frontier[1:]

		c.dagMu.Lock()
		entry, ok := c.buffered[next.ID]
		if !ok {
			c.dagMu.Unlock()
			continue
		}
		delete(c.buffered, next.ID)
		for parent := range entry.missing {
			if waiters, ok2 := c.waitingOn[parent]; ok2 {
				delete(waiters, next.ID)
				if len(waiters) == 0 {
					delete(c.waitingOn, parent)
				}
			}
		}
		c.dagMu.Unlock()

		if err := c.applyOne(ctx, next, applier); err != nil {
			// Leave un-applied and un-buffered per §4.1 failure modes;
			// the caller (pipeline/reconciliation) decides on retry.
			continue
		}
		cascaded = append(cascaded, next.ID)
		frontier = append(frontier, c.readyChildrenLocked(next.ID)...)
	}
	return cascaded, false
}

// readyChildrenLocked finds buffered deltas waiting on parentID whose
// full missing-parent set is now satisfied.
func (c *Context) readyChildrenLocked(parentID ID) []*Delta {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()

	waiters, ok := c.waitingOn[parentID]
	if !ok {
		return nil
	}
	var ready []*Delta
	for childID := range waiters {
		entry, ok := c.buffered[childID]
		if !ok {
			continue
		}
		delete(entry.missing, parentID)
		if len(entry.missing) == 0 {
			ready = append(ready, entry.delta)
		}
	}
	return ready
}

// RestoreApplied marks a previously-applied delta as applied during
// startup rehydration, without invoking the applier (the state it would
// have produced is already materialized in storage). Parents are not
// checked: every delta passed in is marked applied, whatever order the
// caller restores them in, and nothing is placed in the pending buffer.
func (c *Context) RestoreApplied(delta *Delta, rootHash [32]byte) {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()

	c.deltas[delta.ID] = delta
	c.appliedSet[delta.ID] = struct{}{}
	c.headRoot[delta.ID] = rootHash
	c.currentRoot = rootHash
}

// RestoreAppliedID marks a bare id as applied without delta content,
// used for a checkpoint's covered ancestor set, which is implicit in
// applied_set and absent from the delta map (open question (b)).
func (c *Context) RestoreAppliedID(id ID) {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()
	c.appliedSet[id] = struct{}{}
}

// RecomputeHeads derives heads from applied_set after a batch of
// RestoreApplied calls: any applied id that is not itself a parent of
// another applied delta is a head.
func (c *Context) RecomputeHeads() {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()

	isParent := make(map[ID]struct{}, len(c.deltas))
	for _, d := range c.deltas {
		for _, p := range d.Parents {
			isParent[p] = struct{}{}
		}
	}
	c.heads = make(map[ID]struct{})
	for id := range c.appliedSet {
		if _, ok := isParent[id]; !ok {
			c.heads[id] = struct{}{}
		}
	}
}

// AncestorsBFS returns the set of ancestor ids reachable by following
// parent links from the given frontier, not including the frontier
// itself.
func (c *Context) AncestorsBFS(from []ID) []ID {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()

	visited := make(map[ID]struct{})
	queue := append([]ID{}, from...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		d, ok := c.deltas[id]
		if !ok {
			continue
		}
		for _, p := range d.Parents {
			if _, seen := visited[p]; seen {
				continue
			}
			visited[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	out := make([]ID, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	return out
}

// GetDeltasSince returns, in topological (parents-before-children) order,
// every applied delta not in the ancestor-closure of ancestorSet —
// i.e. what a peer whose heads are ancestorSet does not have yet.
func (c *Context) GetDeltasSince(ancestorSet []ID) []*Delta {
	closure := make(map[ID]struct{}, len(ancestorSet))
	for _, id := range ancestorSet {
		closure[id] = struct{}{}
	}
	for _, id := range c.AncestorsBFS(ancestorSet) {
		closure[id] = struct{}{}
	}

	c.dagMu.RLock()
	defer c.dagMu.RUnlock()

	subset := make(map[ID]*Delta)
	indegree := make(map[ID]int)
	for id, d := range c.deltas {
		if _, excluded := closure[id]; excluded {
			continue
		}
		if _, applied := c.appliedSet[id]; !applied {
			continue
		}
		subset[id] = d
		indegree[id] = 0
	}
	for id, d := range subset {
		for _, p := range d.Parents {
			if _, inSubset := subset[p]; inSubset {
				indegree[id]++
			}
		}
	}

	var ready []*Delta
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, subset[id])
		}
	}

	var ordered []*Delta
	remaining := indegree
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)

		for id, d := range subset {
			if remaining[id] <= 0 {
				continue
			}
			for _, p := range d.Parents {
				if p == next.ID {
					remaining[id]--
					if remaining[id] == 0 {
						ready = append(ready, d)
					}
				}
			}
		}
	}
	return ordered
}
