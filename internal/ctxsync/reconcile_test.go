package ctxsync

import (
	"bytes"
	"context"
	"testing"
)

// fakeSnapshotProvider hands back one fixed checkpoint delta and a
// single fixed chunk, standing in for a storage.DagStore-backed
// snapshot provider.
type fakeSnapshotProvider struct {
	checkpoint *Delta
	chunk      []byte
}

func (p *fakeSnapshotProvider) Checkpoint(contextID string) (*Delta, error) {
	return p.checkpoint, nil
}

func (p *fakeSnapshotProvider) Iterate(contextID string, chunkSize int, fn func(chunk []byte) error) error {
	return fn(p.chunk)
}

// fakeSnapshotInstaller records what it was asked to install.
type fakeSnapshotInstaller struct {
	gotContextID string
	gotChunks    [][]byte
	gotCheckpoint *Delta
	err          error
}

func (i *fakeSnapshotInstaller) InstallSnapshot(ctx context.Context, contextID string, checkpoint *Delta, chunks [][]byte) error {
	i.gotContextID = contextID
	i.gotCheckpoint = checkpoint
	i.gotChunks = chunks
	return i.err
}

// TestHandleReconcileStreamStreamsSnapshotForFreshPeer drives the full
// responder+initiator path for a peer that has never synced this
// context: the responder sees Initialized=false and streams a
// SnapshotBegin/Chunk/End/Done sequence, and the initiator's
// consumeResponderStream installs it and admits the checkpoint.
func TestHandleReconcileStreamStreamsSnapshotForFreshPeer(t *testing.T) {
	checkpoint := NewDelta(nil, []byte("checkpoint"), HLC{Physical: 1}, [32]byte{9}, KindCheckpoint)

	responderPipeline := newPipelineWithIdentity([32]byte{2})
	responderManager := NewSyncManager(DefaultConfig(), responderPipeline, [32]byte{2}, nil)
	provider := &fakeSnapshotProvider{checkpoint: checkpoint, chunk: []byte("state-bytes")}
	responderManager.SetSnapshotProvider(provider)

	buf := &bytes.Buffer{}
	if err := WriteFrame(buf, EncodeHello(HelloMessage{
		ContextID:   idsToBytes32("ctx-1"),
		Initialized: false,
	})); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	respBuf := &bytes.Buffer{}
	if err := responderManager.HandleReconcileStream(context.Background(), &loopback{r: buf, w: respBuf}, "initiator"); err != nil {
		t.Fatalf("HandleReconcileStream: %v", err)
	}

	initiatorPipeline := newPipelineWithIdentity([32]byte{1})
	installer := &fakeSnapshotInstaller{}
	initiatorManager := NewSyncManager(DefaultConfig(), initiatorPipeline, [32]byte{1}, nil)
	initiatorManager.SetSnapshotInstaller(installer)

	ic := initiatorPipeline.Context("ctx-1")
	// Discard the responder's own Hello reply first, the same way
	// reconcileWith does, before handing the rest to consumeResponderStream.
	if _, err := ReadFrame(respBuf); err != nil {
		t.Fatalf("read responder hello: %v", err)
	}
	if err := initiatorManager.consumeResponderStream(context.Background(), ic, respBuf, "responder"); err != nil {
		t.Fatalf("consumeResponderStream: %v", err)
	}

	if installer.gotContextID != "ctx-1" {
		t.Fatalf("expected install for ctx-1, got %q", installer.gotContextID)
	}
	if len(installer.gotChunks) != 1 || string(installer.gotChunks[0]) != "state-bytes" {
		t.Fatalf("unexpected installed chunks: %v", installer.gotChunks)
	}
	if !ic.Has(checkpoint.ID) {
		t.Fatal("expected checkpoint admitted after snapshot install")
	}
	if ic.SyncState() != StateReady {
		t.Fatalf("expected Ready after checkpoint admission, got %v", ic.SyncState())
	}
}

// TestConsumeResponderStreamPropagatesProtocolError checks that an
// OpError frame from the responder surfaces as a protocol error rather
// than being silently swallowed.
func TestConsumeResponderStreamPropagatesProtocolError(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteFrame(buf, EncodeError(7, "divergence detected")); err != nil {
		t.Fatalf("write error frame: %v", err)
	}

	m := NewSyncManager(DefaultConfig(), newPipelineWithIdentity([32]byte{1}), [32]byte{1}, nil)
	c := m.pipeline.Context("ctx-1")

	err := m.consumeResponderStream(context.Background(), c, buf, "peer")
	if err == nil {
		t.Fatal("expected protocol error to propagate")
	}
}

// loopback adapts a separate reader and writer into a single
// io.ReadWriter, letting HandleReconcileStream be driven directly off
// pre-built frame buffers without a real network round trip.
type loopback struct {
	r *bytes.Buffer
	w *bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.r.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.w.Write(p) }
