// Package applier provides a reference implementation of
// ctxsync.Applier: a deterministic key/value state machine materialized
// into BadgerDB, used to exercise and test the synchronization core.
// Apply's contract requires mergeMode to suppress wall-clock stamping
// so two replicas applying the same merge converge on identical state.
package applier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"syncore/internal/ctxsync"
	badgerstore "syncore/internal/infrastructure/storage/badger"
)

// Op is the operation opcode carried in a delta's payload.
type Op byte

const (
	OpSet Op = iota
	OpDelete
)

// EncodeOp builds a delta payload for a single key/value mutation,
// the shape SubmitLocal callers hand to the pipeline.
func EncodeOp(op Op, key, value []byte) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(op))
	writeU32(buf, uint32(len(key)))
	buf.Write(key)
	writeU32(buf, uint32(len(value)))
	buf.Write(value)
	return buf.Bytes()
}

func decodeOp(payload []byte) (op Op, key, value []byte, err error) {
	if len(payload) < 1 {
		return 0, nil, nil, fmt.Errorf("empty payload")
	}
	op = Op(payload[0])
	r := bytes.NewReader(payload[1:])
	klen, err := readU32(r)
	if err != nil {
		return 0, nil, nil, err
	}
	key = make([]byte, klen)
	if _, err := r.Read(key); err != nil {
		return 0, nil, nil, err
	}
	vlen, err := readU32(r)
	if err != nil {
		return 0, nil, nil, err
	}
	value = make([]byte, vlen)
	if vlen > 0 {
		if _, err := r.Read(value); err != nil {
			return 0, nil, nil, err
		}
	}
	return op, key, value, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// KVApplier is a deterministic, commutative-on-apply key/value store:
// OpSet/OpDelete mutations are applied in the DAG's cascade order, and
// the root hash is the SHA-256 of the sorted key/value pairs, so two
// replicas with identical applied_sets always agree (invariant 5).
type KVApplier struct {
	db *badger.DB

	mu    sync.Mutex
	roots map[string][32]byte

	registeredHandlers map[string][]string
}

func NewKVApplier(db *badger.DB) *KVApplier {
	return &KVApplier{
		db:                 db,
		roots:              make(map[string][32]byte),
		registeredHandlers: make(map[string][]string),
	}
}

// RegisterHandlerNames advertises the handler entrypoints available for
// contextID — the registration side of the applier interface.
func (a *KVApplier) RegisterHandlerNames(contextID string, names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registeredHandlers[contextID] = append([]string(nil), names...)
}

func (a *KVApplier) HandlerNames(contextID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registeredHandlers[contextID]
}

func contextPrefix(contextID string) []byte {
	return []byte("state/" + contextID + "/")
}

func stateKey(contextID string, key []byte) []byte {
	return append(contextPrefix(contextID), key...)
}

// Apply decodes delta.Payload as a single key/value mutation and commits
// it transactionally via badgerstore.WriteTx; mergeMode is accepted for
// interface conformance but this applier has no wall-clock stamping to
// suppress (all mutations are replayed exactly as authored).
func (a *KVApplier) Apply(ctx context.Context, contextID string, delta *ctxsync.Delta, mergeMode bool) error {
	op, key, value, err := decodeOp(delta.Payload)
	if err != nil {
		return err
	}

	err = badgerstore.WriteTx(a.db, func(txn *badger.Txn) error {
		k := stateKey(contextID, key)
		switch op {
		case OpSet:
			return txn.Set(k, value)
		case OpDelete:
			err := txn.Delete(k)
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		default:
			return fmt.Errorf("unknown op %d", op)
		}
	})
	if err != nil {
		return err
	}

	root, err := a.computeRoot(contextID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.roots[contextID] = root
	a.mu.Unlock()
	return nil
}

func (a *KVApplier) computeRoot(contextID string) ([32]byte, error) {
	type pair struct{ k, v []byte }
	var pairs []pair
	err := badgerstore.Iterate(a.db, contextPrefix(contextID), func(key, value []byte) error {
		pairs = append(pairs, pair{k: append([]byte(nil), key...), v: append([]byte(nil), value...)})
		return nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].k, pairs[j].k) < 0 })

	h := sha256.New()
	for _, p := range pairs {
		h.Write(p.k)
		h.Write(p.v)
	}
	var root [32]byte
	copy(root[:], h.Sum(nil))
	return root, nil
}

// RootHash returns the last computed digest for contextID, or the digest
// of an empty state if no delta has been applied yet — required so a
// freshly rehydrated context with zero local deltas still has a
// well-defined root equal across replicas.
func (a *KVApplier) RootHash(contextID string) [32]byte {
	a.mu.Lock()
	root, ok := a.roots[contextID]
	a.mu.Unlock()
	if ok {
		return root
	}
	root, err := a.computeRoot(contextID)
	if err != nil {
		return [32]byte{}
	}
	a.mu.Lock()
	a.roots[contextID] = root
	a.mu.Unlock()
	return root
}

// Get reads a single materialized key, exercised by tests and by
// application code that wants to read current state outside the sync
// path.
func (a *KVApplier) Get(contextID string, key []byte) ([]byte, error) {
	var out []byte
	err := badgerstore.ReadTx(a.db, func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(contextID, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, err
}
