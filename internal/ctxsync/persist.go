package ctxsync

// Persister durably records a delta the moment it is actually applied —
// including each orphan promoted through cascade, not just the delta an
// Admit call was originally invoked with — so state survives a restart
// without relying solely on the next snapshot/checkpoint. It is invoked
// from applyOne after the applier's own commit succeeds and the
// in-memory DAG index reflects the change, but still inside the
// context's exclusive lock: a crash between the applier's commit and
// the Persist call simply re-applies on the next Admit of the same
// delta, which AdmitAlreadyApplied/applier idempotency already handles.
type Persister interface {
	Persist(contextID string, delta *Delta, heads []ID, rootHash [32]byte, lastCheckpoint ID) error
}

// SetPersister installs the durability hook. A nil or never-set
// persister makes admission storage-free, which is what every existing
// unit test exercises.
func (c *Context) SetPersister(p Persister) {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()
	c.persister = p
}
