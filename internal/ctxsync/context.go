package ctxsync

import (
	"sync"
	"time"
)

// SyncState is the lifecycle state of a Context with respect to catch-up.
type SyncState int

const (
	StateUninitialized SyncState = iota
	StateReady
	StateCatchingUp
)

func (s SyncState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateCatchingUp:
		return "catching_up"
	default:
		return "uninitialized"
	}
}

// CatchupProtocol names which reconciliation protocol a CatchingUp context
// is running, so the session buffer knows what it's waiting on.
type CatchupProtocol int

const (
	ProtocolNone CatchupProtocol = iota
	ProtocolDeltaSync
	ProtocolSnapshotSync
)

// SessionState holds transient catch-up metadata: the buffered-delta queue
// accumulated while CatchingUp/Uninitialized, and a rate limiter for the
// "buffer full, dropping oldest" warning.
type SessionState struct {
	Protocol      CatchupProtocol
	Since         time.Time
	bufferedMu    sync.Mutex
	buffered      []*bufferedIncoming
	bufferCap     int
	lastDropWarn  time.Time
}

type bufferedIncoming struct {
	delta      *Delta
	sourcePeer string
}

const defaultSessionBufferCap = 2000
const dropWarnCooldown = 5 * time.Second

func newSessionState() *SessionState {
	return &SessionState{bufferCap: defaultSessionBufferCap}
}

// enqueue appends an incoming delta to the session's buffered-delta list,
// dropping the oldest entry with a rate-limited warning once at capacity.
// Returns true only when an entry was dropped and dropWarnCooldown has
// elapsed since the last such report, so the caller's warning is
// rate-limited; drops inside the cooldown return false.
func (s *SessionState) enqueue(d *Delta, sourcePeer string) (dropped bool) {
	s.bufferedMu.Lock()
	defer s.bufferedMu.Unlock()

	if len(s.buffered) >= s.bufferCap {
		s.buffered = s.buffered[1:]
		if time.Since(s.lastDropWarn) >= dropWarnCooldown {
			s.lastDropWarn = time.Now()
			dropped = true
		}
	}
	s.buffered = append(s.buffered, &bufferedIncoming{delta: d, sourcePeer: sourcePeer})
	return dropped
}

// drain removes and returns all buffered entries, used once catch-up
// finishes to replay them through the normal admission path.
func (s *SessionState) drain() []*bufferedIncoming {
	s.bufferedMu.Lock()
	defer s.bufferedMu.Unlock()
	out := s.buffered
	s.buffered = nil
	return out
}

// bufferedEntry is a DAG-level orphan: a delta admitted before all of its
// parents arrived, keyed by the parents it's still waiting on.
type bufferedEntry struct {
	delta       *Delta
	arrivalTime time.Time
	missing     map[ID]struct{}
}

// Context is the per-subscription unit of DAG state, locking, and
// catch-up bookkeeping. It owns an exclusive lock serializing applier
// invocations, head mutations, and
// buffer mutations, plus an internal reader/writer lock over the DAG
// index structures (heads/applied set/pending buffer/head-root map) that
// allows concurrent readers (e.g. the sync manager reading heads) while
// writers — admit/cascade — hold briefly.
type Context struct {
	ID string

	// lock is the exclusive, per-context lock: every applier invocation
	// and DAG mutation for this context is serialized through it. Lock
	// ordering: always acquire lock before dagMu.
	lock sync.Mutex

	dagMu     sync.RWMutex
	deltas    map[ID]*Delta
	appliedSet map[ID]struct{}
	heads     map[ID]struct{}
	headRoot  map[ID][32]byte // applied id -> post-application root hash
	buffered  map[ID]*bufferedEntry
	waitingOn map[ID]map[ID]struct{} // parent id -> ids of deltas waiting on it
	lastBufferWarn time.Time          // rate-limits the pending-buffer-at-capacity warning

	syncState  SyncState
	session    *SessionState
	lastSyncAt time.Time

	currentRoot  [32]byte
	lastCheckpoint ID

	persister Persister // optional durability hook invoked from applyOne

	peers map[string]struct{} // known member addresses, managed by the orchestrator
}

// NewContext creates an empty, Uninitialized context.
func NewContext(id string) *Context {
	return &Context{
		ID:         id,
		deltas:     make(map[ID]*Delta),
		appliedSet: make(map[ID]struct{}),
		heads:      make(map[ID]struct{}),
		headRoot:   make(map[ID][32]byte),
		buffered:   make(map[ID]*bufferedEntry),
		waitingOn:  make(map[ID]map[ID]struct{}),
		syncState:  StateUninitialized,
		session:    newSessionState(),
		peers:      make(map[string]struct{}),
	}
}

// SyncState returns the context's current lifecycle state.
func (c *Context) SyncState() SyncState {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()
	return c.syncState
}

func (c *Context) setSyncState(s SyncState) {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()
	c.syncState = s
}

// LastSyncAt returns the wall-clock instant of the last attempted
// reconciliation; monotonically non-decreasing per invariant 7.
func (c *Context) LastSyncAt() time.Time {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()
	return c.lastSyncAt
}

// MarkSyncAttempt updates last_sync_at to now, called before dispatch so
// a concurrent sweep tick never duplicates the same reconciliation.
func (c *Context) MarkSyncAttempt(now time.Time) {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()
	if now.After(c.lastSyncAt) {
		c.lastSyncAt = now
	}
}

// AddPeer/RemovePeer/Peers manage the context's membership set, used by
// the sync manager's peer-selection step.
func (c *Context) AddPeer(addr string) {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()
	c.peers[addr] = struct{}{}
}

func (c *Context) RemovePeer(addr string) {
	c.dagMu.Lock()
	defer c.dagMu.Unlock()
	delete(c.peers, addr)
}

func (c *Context) Peers() []string {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()
	out := make([]string, 0, len(c.peers))
	for p := range c.peers {
		out = append(out, p)
	}
	return out
}

// RootHash returns the current materialized-state digest, compared
// against peers during the hash heartbeat (§4.7).
func (c *Context) RootHash() [32]byte {
	c.dagMu.RLock()
	defer c.dagMu.RUnlock()
	return c.currentRoot
}

// Session returns the transient catch-up session state.
func (c *Context) Session() *SessionState {
	return c.session
}
