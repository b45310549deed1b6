package ctxsync

import (
	"bytes"
	"context"
	"io"

	syncerrors "syncore/internal/pkg/errors"
)

// SnapshotProvider is the consumed storage contract for the responder
// side of snapshot sync: a checkpoint delta pinning the ancestor set
// covered by the snapshot, and a chunked iterator over the materialized
// state as of that checkpoint.
type SnapshotProvider interface {
	Checkpoint(contextID string) (*Delta, error)
	Iterate(contextID string, chunkSize int, fn func(chunk []byte) error) error
}

// SnapshotInstaller is the consumed storage contract for the initiator
// side: atomically installs a full snapshot transfer, or discards it on
// any error (the "staged, committed atomically at the end" requirement
// in §9).
type SnapshotInstaller interface {
	InstallSnapshot(ctx context.Context, contextID string, checkpoint *Delta, chunks [][]byte) error
}

func (m *SyncManager) SetSnapshotProvider(p SnapshotProvider)   { m.snapshotProvider = p }
func (m *SyncManager) SetSnapshotInstaller(i SnapshotInstaller) { m.snapshotInstaller = i }

// headsMatch is set equality over head ids; ordering is irrelevant.
func headsMatch(a, b []ID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[ID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func idsToBytes32(ctxID string) [32]byte {
	var out [32]byte
	copy(out[:], []byte(ctxID))
	return out
}

// reconcileWith runs the initiator (A) side of one reconciliation
// against peer for contextID (§4.4, steps 1-6).
func (m *SyncManager) reconcileWith(ctx context.Context, contextID, peer string) error {
	c := m.pipeline.Context(contextID)

	stream, err := m.opener.Open(ctx, peer, ReconcileProtocolID)
	if err != nil {
		return err
	}
	defer stream.Close()

	ourHeads := c.Heads()
	initialized := c.SyncState() != StateUninitialized

	if err := WriteFrame(stream, EncodeHello(HelloMessage{
		ContextID:   idsToBytes32(contextID),
		Initialized: initialized,
		Heads:       ourHeads,
	})); err != nil {
		return err
	}

	replyFrame, err := ReadFrame(stream)
	if err != nil {
		if err == io.EOF {
			return nil // responder closed the stream without sending its Hello reply
		}
		return err
	}
	reply, err := readHelloFrame(replyFrame)
	if err != nil {
		return err
	}
	_ = reply // their heads are implicit in what follows; kept for parity with the protocol's exchange step

	return m.consumeResponderStream(ctx, c, stream, peer)
}

func readHelloFrame(frame []byte) (HelloMessage, error) {
	r := bytes.NewReader(frame)
	op, err := PeekOpcode(r)
	if err != nil {
		return HelloMessage{}, err
	}
	if op != OpHello {
		return HelloMessage{}, syncerrors.NewProtocolError(3, "expected hello frame")
	}
	return DecodeHello(r)
}

// consumeResponderStream reads whatever the responder streams after its
// Hello reply: nothing (None), a Deltas/Done sequence (Delta Sync), or a
// SnapshotBegin/Chunk*/End/Done sequence (Snapshot Sync).
func (m *SyncManager) consumeResponderStream(ctx context.Context, c *Context, stream io.Reader, peer string) error {
	var snapshotChunks [][]byte
	var checkpoint *Delta
	inSnapshot := false
	prevState := c.SyncState()
	defer func() {
		// A snapshot that never completed leaves no CatchingUp state
		// behind: the context returns to its pre-snapshot sync state.
		if inSnapshot {
			c.setSyncState(prevState)
		}
	}()

	for {
		frame, err := ReadFrame(stream)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		r := bytes.NewReader(frame)
		op, err := PeekOpcode(r)
		if err != nil {
			return err
		}

		switch op {
		case OpDeltas:
			deltas, err := DecodeDeltas(r)
			if err != nil {
				return err
			}
			for _, d := range deltas {
				if err := m.pipeline.OnIncoming(ctx, c.ID, d, peer); err != nil {
					m.log.Warn("failed to admit delta-sync delta", "context", c.ID, "id", d.ID.String(), "err", err)
				}
			}

		case OpSnapshotBegin:
			inSnapshot = true
			c.setSyncState(StateCatchingUp)
			c.session.Protocol = ProtocolSnapshotSync
			cp, err := DecodeSnapshotBegin(r)
			if err != nil {
				return err
			}
			checkpoint = cp

		case OpSnapshotChunk:
			chunk, err := DecodeSnapshotChunk(r)
			if err != nil {
				return err
			}
			snapshotChunks = append(snapshotChunks, chunk)

		case OpSnapshotEnd:
			if m.snapshotInstaller != nil && checkpoint != nil {
				if err := m.snapshotInstaller.InstallSnapshot(ctx, c.ID, checkpoint, snapshotChunks); err != nil {
					// Atomicity failure: the staged snapshot is discarded and
					// the deferred reset restores the pre-snapshot sync state,
					// so the next sweep retries (§7 snapshot atomicity row).
					return syncerrors.NewTransientError("install_snapshot", err)
				}
			}
			if checkpoint != nil {
				c.Lock()
				for _, p := range checkpoint.Parents {
					c.RestoreAppliedID(p)
				}
				if _, err := c.Admit(ctx, checkpoint, noopApplier{root: c.RootHash()}); err != nil {
					c.Unlock()
					return err
				}
				c.Unlock()
			}
			inSnapshot = false
			m.pipeline.DrainSession(ctx, c.ID)

		case OpDone:
			_, err := DecodeDone(r)
			if err != nil {
				return err
			}
			return nil

		case OpError:
			code, msg, err := DecodeError(r)
			if err != nil {
				return err
			}
			return syncerrors.NewProtocolError(code, msg)

		default:
			return syncerrors.NewProtocolError(4, "unknown opcode")
		}

		_ = inSnapshot
	}
}

// noopApplier satisfies the Applier contract for admitting a checkpoint
// whose snapshot content was already installed directly by the
// SnapshotInstaller; the checkpoint delta itself carries no actions.
type noopApplier struct{ root [32]byte }

func (n noopApplier) Apply(ctx context.Context, contextID string, delta *Delta, mergeMode bool) error {
	return nil
}
func (n noopApplier) RootHash(contextID string) [32]byte  { return n.root }
func (n noopApplier) HandlerNames(contextID string) []string { return nil }

// HandleReconcileStream is the responder (B) side, invoked by the
// transport layer when a peer opens a reconciliation stream.
func (m *SyncManager) HandleReconcileStream(ctx context.Context, stream io.ReadWriter, peerAddr string) error {
	frame, err := ReadFrame(stream)
	if err != nil {
		return err
	}
	aHello, err := readHelloFrame(frame)
	if err != nil {
		return err
	}
	contextID := string(bytes.TrimRight(aHello.ContextID[:], "\x00"))
	c := m.pipeline.Context(contextID)

	ourHeads := c.Heads()
	ourInitialized := c.SyncState() != StateUninitialized

	if err := WriteFrame(stream, EncodeHello(HelloMessage{
		ContextID:   aHello.ContextID,
		Initialized: ourInitialized,
		Heads:       ourHeads,
	})); err != nil {
		return err
	}

	switch {
	case !aHello.Initialized:
		return m.streamSnapshotSync(c, stream, ourHeads)
	case headsMatch(aHello.Heads, ourHeads):
		return nil // None: connection closes
	default:
		missing := c.GetDeltasSince(aHello.Heads)
		if len(missing) > m.cfg.DeltaSyncThreshold {
			return m.streamSnapshotSync(c, stream, ourHeads)
		}
		return m.streamDeltaSync(stream, missing, ourHeads)
	}
}

func (m *SyncManager) streamDeltaSync(stream io.Writer, deltas []*Delta, ourHeads []ID) error {
	if err := WriteFrame(stream, EncodeDeltas(deltas)); err != nil {
		return err
	}
	return WriteFrame(stream, EncodeDone(ourHeads))
}

func (m *SyncManager) streamSnapshotSync(c *Context, stream io.Writer, ourHeads []ID) error {
	if m.snapshotProvider == nil {
		return syncerrors.NewInternalError("streamSnapshotSync", syncerrors.New("no snapshot provider configured"))
	}
	checkpoint, err := m.snapshotProvider.Checkpoint(c.ID)
	if err != nil {
		return err
	}
	if err := WriteFrame(stream, EncodeSnapshotBegin(checkpoint)); err != nil {
		return err
	}
	err = m.snapshotProvider.Iterate(c.ID, m.cfg.SnapshotChunkSize, func(chunk []byte) error {
		return WriteFrame(stream, EncodeSnapshotChunk(chunk))
	})
	if err != nil {
		return err
	}
	if err := WriteFrame(stream, EncodeSnapshotEnd()); err != nil {
		return err
	}
	return WriteFrame(stream, EncodeDone(ourHeads))
}
