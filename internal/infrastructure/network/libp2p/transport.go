package libp2p

import (
	"context"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"syncore/internal/ctxsync"
)

// ReconcileOpener adapts a Node to ctxsync.StreamOpener, letting the
// sync manager open reconciliation streams without depending on libp2p
// directly. peerAddr is the peer's base58-encoded ID; Node already holds
// the open connection (or can dial fresh) via its host.
type ReconcileOpener struct {
	node *Node
}

func NewReconcileOpener(node *Node) *ReconcileOpener {
	return &ReconcileOpener{node: node}
}

func (o *ReconcileOpener) Open(ctx context.Context, peerAddr string, protocolID string) (io.ReadWriteCloser, error) {
	id, err := peer.Decode(peerAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid peer id %q: %w", peerAddr, err)
	}
	stream, err := o.node.host.NewStream(ctx, id, protocol.ID(protocolID))
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// ReconcileHandler wires the responder side of the reconciliation
// protocol (ctxsync.SyncManager.HandleReconcileStream) into the libp2p
// host's stream handler table, one SetStreamHandler closure per
// protocol ID.
type ReconcileHandler struct {
	manager *ctxsync.SyncManager
	node    *Node
}

func NewReconcileHandler(node *Node, manager *ctxsync.SyncManager) *ReconcileHandler {
	return &ReconcileHandler{node: node, manager: manager}
}

// Register installs the stream handler on the underlying host. Call once
// at startup.
func (h *ReconcileHandler) Register() {
	h.node.host.SetStreamHandler(protocol.ID(ctxsync.ReconcileProtocolID), h.handle)
}

func (h *ReconcileHandler) handle(stream network.Stream) {
	defer stream.Close()
	ctx := context.Background()
	if err := h.manager.HandleReconcileStream(ctx, stream, stream.Conn().RemotePeer().String()); err != nil {
		stream.Reset()
	}
}

// bestPeer ranks candidate peer addresses by PeerQualityMonitor score
// (locality is not considered), keeping the first candidate when no
// measurements exist yet — used by callers that want a better-than-random pick than
// the sync manager's uniform default (ctxsync intentionally stays
// transport-agnostic, so this lives here instead of in pickPeer).
func bestPeer(quality *PeerQualityMonitor, candidates []peer.ID) peer.ID {
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	bestScore := quality.GetScore(best)
	for _, id := range candidates[1:] {
		if s := quality.GetScore(id); s > bestScore {
			best, bestScore = id, s
		}
	}
	return best
}
