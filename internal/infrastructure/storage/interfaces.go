// Package storage provides the storage interfaces consumed by the
// synchronization core and their BadgerDB implementation.
package storage

import (
	"time"

	"syncore/internal/ctxsync"
)

// DagStore is the consumed storage contract for the DAG's durable
// half: persisted deltas, applied-set membership, and per-context
// metadata (heads, root hash, last checkpoint id), partitioned into
// "dag_meta", "dag_deltas", and "applied_set" columns per §6.
type DagStore interface {
	// SaveDelta persists a single delta, sharded by context id to avoid
	// LSM hotspots on a single hot context.
	SaveDelta(contextID string, delta *ctxsync.Delta) error

	// SaveDeltaBatch persists multiple deltas for a context atomically.
	SaveDeltaBatch(contextID string, deltas []*ctxsync.Delta) error

	// LoadDeltas returns every persisted delta for a context, in key
	// order (ascending hex delta id), used by startup rehydration.
	LoadDeltas(contextID string) ([]*ctxsync.Delta, error)

	// MarkApplied records an id as a member of a context's applied_set.
	MarkApplied(contextID string, id ctxsync.ID) error

	// SaveAppliedDelta persists delta, marks it applied, and updates the
	// context's meta row in a single transaction — the durable
	// counterpart of one live Admit, so a restart mid-write never
	// observes the delta recorded without its applied-set/meta update
	// or vice versa.
	SaveAppliedDelta(contextID string, delta *ctxsync.Delta, meta ContextMeta) error

	// AppliedSet returns the persisted applied_set for a context.
	AppliedSet(contextID string) (map[ctxsync.ID]struct{}, error)

	// SaveMeta persists a context's heads/root hash/last checkpoint id.
	SaveMeta(contextID string, meta ContextMeta) error

	// LoadMeta retrieves a context's persisted metadata.
	LoadMeta(contextID string) (ContextMeta, bool, error)

	// Contexts lists every context id with persisted state, used at
	// startup to drive rehydration.
	Contexts() ([]string, error)

	// Snapshot returns an iterator over the materialized state for
	// contextID, used by the responder side of snapshot sync.
	Snapshot(contextID string) (StateIterator, error)

	// ApplyBatch atomically writes a full-state transfer (keys + the
	// applied-set/meta rows it implies) or rolls back entirely.
	ApplyBatch(contextID string, batch StateBatch) error

	Close() error
}

// ContextMeta is the persisted dag_meta row for one context.
type ContextMeta struct {
	Heads          []ctxsync.ID
	RootHash       [32]byte
	LastCheckpoint ctxsync.ID
}

// StateIterator walks replicated application state key/value pairs for
// full-state transfer, chunked by the caller to snapshot_chunk_size.
type StateIterator interface {
	Next() (key, value []byte, ok bool)
	Close() error
}

// StateBatch is an atomic set of key/value writes plus the applied-set
// and meta rows a snapshot install implies.
type StateBatch struct {
	Entries []StateEntry
	Meta    ContextMeta
	Applied []ctxsync.ID
}

type StateEntry struct {
	Key   []byte
	Value []byte
}

// AuditStore logs housekeeping and divergence events for observability.
// Writes are asynchronous so they never add latency to the admit path.
type AuditStore interface {
	LogAsync(event *AuditEvent) error
	Query(filter AuditFilter) ([]*AuditEvent, error)
	Close() error
}

type AuditEvent struct {
	Timestamp time.Time
	Action    string
	ContextID string
	DeltaID   string
	Metadata  map[string]string
}

type AuditFilter struct {
	ContextID string
	Action    string
	Limit     int
}
