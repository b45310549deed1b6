package ctxsync

import "context"

// Applier is the external collaborator that materializes deltas into
// application state. It is the only writer of application state; the
// core invokes it while holding the owning Context's exclusive
// lock. Apply must be deterministic given (contextID, pre-state, delta)
// and must run inside a transactional scope: on a nil return the write
// commits atomically; on a non-nil return the transaction is discarded
// and the delta is left un-applied.
//
// mergeMode is set when the delta being applied introduces a concurrent
// branch (see DAG.isMerge); an applier whose CRDT merge path stamps
// wall-clock metadata MUST suppress that stamping when mergeMode is
// true, so two replicas applying the same merge converge on identical
// state.
type Applier interface {
	Apply(ctx context.Context, contextID string, delta *Delta, mergeMode bool) error

	// RootHash returns the post-application state digest for contextID,
	// used to populate the head-root map and the hash heartbeat.
	RootHash(contextID string) [32]byte

	// HandlerNames lists the event handler entrypoints the applier
	// advertises, by the on_<event_name_snake_case> convention.
	HandlerNames(contextID string) []string
}
