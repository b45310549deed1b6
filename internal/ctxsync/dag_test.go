package ctxsync

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"
)

// memApplier is a minimal deterministic Applier for exercising the DAG
// admission algorithm in isolation from any storage engine: it just
// concatenates applied payloads in apply order and hashes the result.
type memApplier struct {
	applied map[string][]byte
}

func newMemApplier() *memApplier {
	return &memApplier{applied: make(map[string][]byte)}
}

func (a *memApplier) Apply(ctx context.Context, contextID string, delta *Delta, mergeMode bool) error {
	a.applied[contextID] = append(a.applied[contextID], delta.Payload...)
	return nil
}

func (a *memApplier) RootHash(contextID string) [32]byte {
	return sha256.Sum256(a.applied[contextID])
}

func (a *memApplier) HandlerNames(contextID string) []string { return nil }

var testAuthor = [32]byte{1, 2, 3}

func mkDelta(parents []ID, payload string, physical int64) *Delta {
	return NewDelta(parents, []byte(payload), HLC{Physical: physical, Logical: 0}, testAuthor, KindRegular)
}

func TestAdmitAppliesRootImmediately(t *testing.T) {
	c := NewContext("ctx-1")
	applier := newMemApplier()
	root := mkDelta(nil, "root", 1)

	c.Lock()
	outcome, err := c.Admit(context.Background(), root, applier)
	c.Unlock()
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if outcome.Status != AdmitApplied {
		t.Fatalf("expected AdmitApplied, got %v", outcome.Status)
	}
	if !c.Has(root.ID) {
		t.Fatal("root delta not marked applied")
	}
	heads := c.Heads()
	if len(heads) != 1 || heads[0] != root.ID {
		t.Fatalf("expected single head = root, got %v", heads)
	}
}

func TestAdmitDuplicateIsNoop(t *testing.T) {
	c := NewContext("ctx-1")
	applier := newMemApplier()
	root := mkDelta(nil, "root", 1)

	c.Lock()
	c.Admit(context.Background(), root, applier)
	outcome, err := c.Admit(context.Background(), root, applier)
	c.Unlock()
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if outcome.Status != AdmitAlreadyApplied {
		t.Fatalf("expected AdmitAlreadyApplied, got %v", outcome.Status)
	}
}

func TestAdmitRejectsTamperedDelta(t *testing.T) {
	c := NewContext("ctx-1")
	applier := newMemApplier()
	root := mkDelta(nil, "root", 1)
	root.Payload = []byte("tampered")

	c.Lock()
	outcome, err := c.Admit(context.Background(), root, applier)
	c.Unlock()
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if outcome.Status != AdmitRejected {
		t.Fatalf("expected AdmitRejected, got %v", outcome.Status)
	}
}

// TestAdmitOutOfOrderCascades verifies that a child delta arriving before
// its parent is buffered, and is promoted through cascade once the parent
// arrives — independent of gossip delivery order.
func TestAdmitOutOfOrderCascades(t *testing.T) {
	c := NewContext("ctx-1")
	applier := newMemApplier()

	root := mkDelta(nil, "root", 1)
	child := mkDelta([]ID{root.ID}, "child", 2)
	grandchild := mkDelta([]ID{child.ID}, "grandchild", 3)

	c.Lock()
	outcome, err := c.Admit(context.Background(), grandchild, applier)
	c.Unlock()
	if err != nil {
		t.Fatalf("Admit grandchild: %v", err)
	}
	if outcome.Status != AdmitBuffered {
		t.Fatalf("expected grandchild buffered, got %v", outcome.Status)
	}

	c.Lock()
	outcome, err = c.Admit(context.Background(), child, applier)
	c.Unlock()
	if err != nil {
		t.Fatalf("Admit child: %v", err)
	}
	if outcome.Status != AdmitBuffered {
		t.Fatalf("expected child buffered (root still missing), got %v", outcome.Status)
	}

	c.Lock()
	outcome, err = c.Admit(context.Background(), root, applier)
	c.Unlock()
	if err != nil {
		t.Fatalf("Admit root: %v", err)
	}
	if outcome.Status != AdmitApplied {
		t.Fatalf("expected root applied, got %v", outcome.Status)
	}
	if len(outcome.CascadedIDs) != 2 {
		t.Fatalf("expected both buffered deltas to cascade, got %d", len(outcome.CascadedIDs))
	}

	for _, id := range []ID{root.ID, child.ID, grandchild.ID} {
		if !c.Has(id) {
			t.Fatalf("expected %s applied after cascade", id)
		}
	}
	heads := c.Heads()
	if len(heads) != 1 || heads[0] != grandchild.ID {
		t.Fatalf("expected single head = grandchild, got %v", heads)
	}

	stats := c.PendingStats()
	if stats.Count != 0 {
		t.Fatalf("expected empty pending buffer after cascade, got %d", stats.Count)
	}
}

// TestGetDeltasSinceOrdering checks that a catch-up peer receives deltas
// in parents-before-children order, so replaying them never hits a
// missing-parent gap.
func TestGetDeltasSinceOrdering(t *testing.T) {
	c := NewContext("ctx-1")
	applier := newMemApplier()

	root := mkDelta(nil, "root", 1)
	a := mkDelta([]ID{root.ID}, "a", 2)
	b := mkDelta([]ID{root.ID}, "b", 2)
	merge := mkDelta([]ID{a.ID, b.ID}, "merge", 3)

	for _, d := range []*Delta{root, a, b, merge} {
		c.Lock()
		if _, err := c.Admit(context.Background(), d, applier); err != nil {
			t.Fatalf("Admit %s: %v", d.ID, err)
		}
		c.Unlock()
	}

	since := c.GetDeltasSince(nil)
	if len(since) != 4 {
		t.Fatalf("expected all 4 deltas, got %d", len(since))
	}

	index := make(map[ID]int, len(since))
	for i, d := range since {
		index[d.ID] = i
	}
	for _, d := range since {
		for _, p := range d.Parents {
			if index[p] > index[d.ID] {
				t.Fatalf("parent %s ordered after child %s", p, d.ID)
			}
		}
	}

	since = c.GetDeltasSince([]ID{root.ID})
	if len(since) != 3 {
		t.Fatalf("expected 3 deltas since root, got %d", len(since))
	}
}

// TestBufferOrphanEvictsOldestAtCapacity verifies that once the pending
// buffer holds maxPendingBuffer orphans, the next arrival evicts the
// oldest-arrived one rather than growing the buffer further.
func TestBufferOrphanEvictsOldestAtCapacity(t *testing.T) {
	c := NewContext("ctx-1")
	applier := newMemApplier()
	root := mkDelta(nil, "root", 1)

	var orphans []*Delta
	for i := 0; i < maxPendingBuffer; i++ {
		orphans = append(orphans, mkDelta([]ID{root.ID}, fmt.Sprintf("orphan-%d", i), int64(i+2)))
	}

	for _, o := range orphans {
		c.Lock()
		outcome, err := c.Admit(context.Background(), o, applier)
		c.Unlock()
		if err != nil {
			t.Fatalf("Admit orphan: %v", err)
		}
		if outcome.Status != AdmitBuffered {
			t.Fatalf("expected buffered, got %v", outcome.Status)
		}
	}

	if stats := c.PendingStats(); stats.Count != maxPendingBuffer {
		t.Fatalf("expected buffer full at %d, got %d", maxPendingBuffer, stats.Count)
	}

	overflow := mkDelta([]ID{root.ID}, "overflow", int64(maxPendingBuffer+2))
	c.Lock()
	outcome, err := c.Admit(context.Background(), overflow, applier)
	c.Unlock()
	if err != nil {
		t.Fatalf("Admit overflow: %v", err)
	}
	if outcome.Status != AdmitBuffered {
		t.Fatalf("expected overflow buffered, got %v", outcome.Status)
	}

	stats := c.PendingStats()
	if stats.Count != maxPendingBuffer {
		t.Fatalf("expected buffer to stay capped at %d after eviction, got %d", maxPendingBuffer, stats.Count)
	}

	c.dagMu.RLock()
	_, oldestStillBuffered := c.buffered[orphans[0].ID]
	_, overflowBuffered := c.buffered[overflow.ID]
	c.dagMu.RUnlock()
	if oldestStillBuffered {
		t.Fatal("expected oldest orphan to be evicted")
	}
	if !overflowBuffered {
		t.Fatal("expected the newly-arrived orphan to occupy the freed slot")
	}
}

// TestDeterministicCascadeOrderMatchesAcrossReplicas checks that two
// orphans buffered on the same missing parent are cascade-applied in the
// same (timestamp, id) order no matter which one was received first, so
// two replicas that see gossip in a different order still converge.
func TestDeterministicCascadeOrderMatchesAcrossReplicas(t *testing.T) {
	root := mkDelta(nil, "root", 1)
	a := mkDelta([]ID{root.ID}, "a", 2)
	b := mkDelta([]ID{root.ID}, "b", 2)

	run := func(orphanOrder []*Delta) [32]byte {
		c := NewContext("ctx-1")
		applier := newMemApplier()
		for _, d := range orphanOrder {
			c.Lock()
			c.Admit(context.Background(), d, applier)
			c.Unlock()
		}
		c.Lock()
		c.Admit(context.Background(), root, applier)
		c.Unlock()
		return applier.RootHash("ctx-1")
	}

	if run([]*Delta{a, b}) != run([]*Delta{b, a}) {
		t.Fatal("cascade order must be deterministic regardless of arrival order")
	}
}
