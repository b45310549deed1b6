package orchestrator

import (
	"time"

	"syncore/internal/ctxsync"
	"syncore/internal/infrastructure/storage"
	"syncore/internal/pkg/logging"
)

// dagPersister adapts storage.DagStore (and, if configured, an
// AuditStore) into a ctxsync.Persister: every live-admitted delta — the
// gossip/local-submit path, not just a snapshot catch-up — is written
// through to the same delta/applied-set/meta columns startup
// rehydration reads back, in one atomic SaveAppliedDelta transaction,
// so a node that never does a snapshot install still survives a
// restart with no loss.
type dagPersister struct {
	dagStore storage.DagStore
	audit    storage.AuditStore // optional; nil disables audit logging
	log      *logging.Logger
}

func newDagPersister(dagStore storage.DagStore, audit storage.AuditStore) *dagPersister {
	return &dagPersister{dagStore: dagStore, audit: audit, log: logging.Default().Component("persist")}
}

func (p *dagPersister) Persist(contextID string, delta *ctxsync.Delta, heads []ctxsync.ID, rootHash [32]byte, lastCheckpoint ctxsync.ID) error {
	if err := p.dagStore.SaveAppliedDelta(contextID, delta, storage.ContextMeta{
		Heads:          heads,
		RootHash:       rootHash,
		LastCheckpoint: lastCheckpoint,
	}); err != nil {
		return err
	}

	if p.audit != nil {
		action := "delta_applied"
		if delta.Kind == ctxsync.KindCheckpoint {
			action = "checkpoint_applied"
		}
		if err := p.audit.LogAsync(&storage.AuditEvent{
			Timestamp: time.Now(),
			Action:    action,
			ContextID: contextID,
			DeltaID:   delta.ID.String(),
		}); err != nil {
			// Audit is observability, not the durability contract: a
			// full buffer drops the event but never blocks admission.
			p.log.Warn("audit log dropped", "context", contextID, "id", delta.ID.String(), "err", err)
		}
	}
	return nil
}
