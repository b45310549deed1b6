package ctxsync

import (
	"context"
	"testing"
)

func newTestDispatcher(identity [32]byte) *Dispatcher {
	return NewDispatcher(identity, func(ctx context.Context, contextID string, parents []ID, payload []byte) error {
		return nil
	})
}

// TestSubmitLocalAppliesBeforeBroadcast verifies §5's ordering guarantee:
// a self-authored delta is admitted into the DAG before the broadcast
// callback ever sees it.
func TestSubmitLocalAppliesBeforeBroadcast(t *testing.T) {
	applier := newMemApplier()
	p := NewPipeline(applier, newTestDispatcher(testAuthor), testAuthor)

	var broadcastSeen bool
	p.SetBroadcastFunc(func(contextID string, delta *Delta) {
		broadcastSeen = true
		if !p.Context(contextID).Has(delta.ID) {
			t.Fatal("delta must be applied locally before broadcast fires")
		}
	})

	if err := p.SubmitLocal(context.Background(), "ctx-1", nil, []byte("payload")); err != nil {
		t.Fatalf("SubmitLocal: %v", err)
	}
	if !broadcastSeen {
		t.Fatal("expected broadcast callback to fire for an applied local delta")
	}
}

// TestOnIncomingDedupsSelfAuthoredDelta checks the short-circuit for a
// delta this node authored and has already applied (e.g. an echo from
// gossip fanout) — it must not be re-admitted or re-dispatched.
func TestOnIncomingDedupsSelfAuthoredDelta(t *testing.T) {
	applier := newMemApplier()
	p := NewPipeline(applier, newTestDispatcher(testAuthor), testAuthor)

	if err := p.SubmitLocal(context.Background(), "ctx-1", nil, []byte("payload")); err != nil {
		t.Fatalf("SubmitLocal: %v", err)
	}
	c := p.Context("ctx-1")
	heads := c.Heads()
	if len(heads) != 1 {
		t.Fatalf("expected 1 head, got %d", len(heads))
	}
	ownDelta := c.deltas[heads[0]]

	if err := p.OnIncoming(context.Background(), "ctx-1", ownDelta, "peer-x"); err != nil {
		t.Fatalf("OnIncoming: %v", err)
	}
	if len(c.Heads()) != 1 {
		t.Fatal("echoed self-authored delta must not change the head set")
	}
}

// TestOnIncomingBuffersWhileCatchingUp verifies that deltas arriving for
// an Uninitialized/CatchingUp context are buffered in the session queue
// rather than admitted, and are replayed in order once DrainSession runs.
func TestOnIncomingBuffersWhileCatchingUp(t *testing.T) {
	applier := newMemApplier()
	remoteAuthor := [32]byte{9, 9, 9}
	p := NewPipeline(applier, newTestDispatcher(testAuthor), testAuthor)

	root := NewDelta(nil, []byte("root"), HLC{Physical: 1}, remoteAuthor, KindRegular)
	if err := p.OnIncoming(context.Background(), "ctx-1", root, "peer-x"); err != nil {
		t.Fatalf("OnIncoming: %v", err)
	}

	c := p.Context("ctx-1")
	if c.Has(root.ID) {
		t.Fatal("delta must not be admitted while context is uninitialized")
	}

	p.DrainSession(context.Background(), "ctx-1")
	if !c.Has(root.ID) {
		t.Fatal("expected buffered delta applied after DrainSession")
	}
}

// TestRemoveContextDropsRegistryEntry exercises the orchestrator's
// context-GC path: after RemoveContext, Contexts() no longer reports the
// id, and a subsequent Context() call recreates it Uninitialized rather
// than returning stale state.
func TestRemoveContextDropsRegistryEntry(t *testing.T) {
	applier := newMemApplier()
	p := NewPipeline(applier, newTestDispatcher(testAuthor), testAuthor)

	if err := p.SubmitLocal(context.Background(), "ctx-1", nil, []byte("payload")); err != nil {
		t.Fatalf("SubmitLocal: %v", err)
	}
	if len(p.Contexts()) != 1 {
		t.Fatalf("expected 1 registered context, got %d", len(p.Contexts()))
	}

	p.RemoveContext("ctx-1")
	if len(p.Contexts()) != 0 {
		t.Fatal("expected context removed from registry")
	}

	recreated := p.Context("ctx-1")
	if recreated.SyncState() != StateUninitialized {
		t.Fatal("recreated context must start Uninitialized, not inherit prior state")
	}
}
