package orchestrator

import (
	"context"
	"fmt"

	"syncore/internal/ctxsync"
)

// rehydrate loads every context with persisted state back into memory
// before the sync manager's sweep loop starts, so a restart never
// re-requests deltas it already has durably, using DAG.RestoreApplied/
// RecomputeHeads to avoid re-invoking the applier on already-materialized
// state.
func (o *Orchestrator) rehydrate() error {
	contextIDs, err := o.dagStore.Contexts()
	if err != nil {
		return fmt.Errorf("list persisted contexts: %w", err)
	}

	for _, contextID := range contextIDs {
		if err := o.rehydrateContext(contextID); err != nil {
			return fmt.Errorf("rehydrate context %q: %w", contextID, err)
		}
	}
	return nil
}

func (o *Orchestrator) rehydrateContext(contextID string) error {
	c := o.pipeline.Context(contextID)

	applied, err := o.dagStore.AppliedSet(contextID)
	if err != nil {
		return err
	}
	deltas, err := o.dagStore.LoadDeltas(contextID)
	if err != nil {
		return err
	}
	meta, hasMeta, err := o.dagStore.LoadMeta(contextID)
	if err != nil {
		return err
	}

	byID := make(map[ctxsync.ID]*ctxsync.Delta, len(deltas))
	for _, d := range deltas {
		byID[d.ID] = d
	}

	for id := range applied {
		if d, ok := byID[id]; ok {
			root := o.applier.RootHash(contextID)
			c.RestoreApplied(d, root)
		} else {
			// Covered only implicitly by a checkpoint's ancestor set:
			// present in applied_set, absent from the delta map.
			c.RestoreAppliedID(id)
		}
	}
	c.RecomputeHeads()

	if hasMeta && len(meta.Heads) > 0 {
		if err := o.node.SubscribeContext(context.Background(), contextID); err != nil {
			o.log.Warn("subscribe rehydrated context failed", "context", contextID, "err", err)
		}
	}

	o.log.Info("rehydrated context", "context", contextID, "applied", len(applied), "deltas", len(deltas))
	return nil
}
