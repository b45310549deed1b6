package badger

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"syncore/internal/ctxsync"
	"syncore/internal/infrastructure/storage"
)

// Key layout, sharded by context id to keep any single hot context's
// writes from creating an LSM hotspot — the shard dimension is context
// rather than author, since the hotspot concern here is per-context
// fan-in, not per-author.
//
//	dag_deltas:   d:{contextID}:{id}              -> encoded delta
//	applied_set:  a:{contextID}:{id}              -> empty
//	dag_meta:     m:{contextID}                   -> encoded ContextMeta
//	replicated:   s:{contextID}:{key}              -> value
const (
	prefixDelta     = "d:"
	prefixApplied   = "a:"
	prefixMeta      = "m:"
	prefixState     = "s:"
)

func deltaKey(contextID string, id ctxsync.ID) []byte {
	return []byte(fmt.Sprintf("%s%s:%x", prefixDelta, contextID, id[:]))
}

func deltaPrefix(contextID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixDelta, contextID))
}

func appliedKey(contextID string, id ctxsync.ID) []byte {
	return []byte(fmt.Sprintf("%s%s:%x", prefixApplied, contextID, id[:]))
}

func appliedPrefix(contextID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixApplied, contextID))
}

func metaKey(contextID string) []byte {
	return []byte(prefixMeta + contextID)
}

func stateKey(contextID string, key []byte) []byte {
	return append([]byte(prefixState+contextID+":"), key...)
}

func stateKeyPrefix(contextID string) []byte {
	return []byte(prefixState + contextID + ":")
}

// DagStore is the BadgerDB-backed implementation of storage.DagStore,
// following the Save/batch idiom of the embedded delta store and
// Manager's instance lifecycle, generalized to also persist
// applied-set membership and per-context metadata rather than only a
// flat delta log.
type DagStore struct {
	db *badger.DB
}

// NewDagStore opens (or reuses) a named BadgerDB instance via mgr for
// the DAG store's three column families.
func NewDagStore(mgr *Manager, instanceName string) (*DagStore, error) {
	db, err := mgr.Open(instanceName)
	if err != nil {
		return nil, fmt.Errorf("open dag store: %w", err)
	}
	return &DagStore{db: db}, nil
}

func (s *DagStore) SaveDelta(contextID string, delta *ctxsync.Delta) error {
	return WriteTx(s.db, func(txn *badger.Txn) error {
		return txn.Set(deltaKey(contextID, delta.ID), ctxsync.EncodeDelta(delta))
	})
}

func (s *DagStore) SaveDeltaBatch(contextID string, deltas []*ctxsync.Delta) error {
	return BatchWrite(s.db, func(wb *badger.WriteBatch) error {
		for _, d := range deltas {
			if err := wb.Set(deltaKey(contextID, d.ID), ctxsync.EncodeDelta(d)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DagStore) LoadDeltas(contextID string) ([]*ctxsync.Delta, error) {
	var out []*ctxsync.Delta
	err := Iterate(s.db, deltaPrefix(contextID), func(_, value []byte) error {
		d, err := ctxsync.DecodeDelta(bytes.NewReader(value))
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, WrapError(err)
	}
	return out, nil
}

func (s *DagStore) MarkApplied(contextID string, id ctxsync.ID) error {
	return WriteTx(s.db, func(txn *badger.Txn) error {
		return txn.Set(appliedKey(contextID, id), nil)
	})
}

func (s *DagStore) SaveAppliedDelta(contextID string, delta *ctxsync.Delta, meta storage.ContextMeta) error {
	return WriteTx(s.db, func(txn *badger.Txn) error {
		if err := txn.Set(deltaKey(contextID, delta.ID), ctxsync.EncodeDelta(delta)); err != nil {
			return err
		}
		if err := txn.Set(appliedKey(contextID, delta.ID), nil); err != nil {
			return err
		}
		return txn.Set(metaKey(contextID), encodeMeta(meta))
	})
}

func (s *DagStore) AppliedSet(contextID string) (map[ctxsync.ID]struct{}, error) {
	out := make(map[ctxsync.ID]struct{})
	prefix := appliedPrefix(contextID)
	err := IterateKeys(s.db, prefix, func(key []byte) error {
		hexPart := key[len(prefix):]
		raw, err := hex.DecodeString(string(hexPart))
		if err != nil || len(raw) != len(ctxsync.ID{}) {
			return nil // skip malformed key rather than fail rehydration
		}
		var id ctxsync.ID
		copy(id[:], raw)
		out[id] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, WrapError(err)
	}
	return out, nil
}

func (s *DagStore) SaveMeta(contextID string, meta storage.ContextMeta) error {
	return WriteTx(s.db, func(txn *badger.Txn) error {
		return txn.Set(metaKey(contextID), encodeMeta(meta))
	})
}

func (s *DagStore) LoadMeta(contextID string) (storage.ContextMeta, bool, error) {
	var meta storage.ContextMeta
	var found bool
	err := ReadTx(s.db, func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(contextID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			meta, err = decodeMeta(val)
			return err
		})
	})
	if err != nil {
		return meta, false, WrapError(err)
	}
	return meta, found, nil
}

func (s *DagStore) Contexts() ([]string, error) {
	seen := make(map[string]struct{})
	err := IterateKeys(s.db, []byte(prefixMeta), func(key []byte) error {
		seen[string(key[len(prefixMeta):])] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, WrapError(err)
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// stateIterator adapts a badger prefix scan to storage.StateIterator.
type stateIterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
}

func (s *DagStore) Snapshot(contextID string) (storage.StateIterator, error) {
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	prefix := stateKeyPrefix(contextID)
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	it.Rewind()
	return &stateIterator{txn: txn, it: it, prefix: prefix}, nil
}

func (it *stateIterator) Next() (key, value []byte, ok bool) {
	if !it.it.Valid() {
		return nil, nil, false
	}
	item := it.it.Item()
	k := item.KeyCopy(nil)[len(it.prefix):]
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, false
	}
	it.it.Next()
	return k, v, true
}

func (it *stateIterator) Close() error {
	it.it.Close()
	it.txn.Discard()
	return nil
}

func (s *DagStore) ApplyBatch(contextID string, batch storage.StateBatch) error {
	return BatchWrite(s.db, func(wb *badger.WriteBatch) error {
		for _, e := range batch.Entries {
			if err := wb.Set(stateKey(contextID, e.Key), e.Value); err != nil {
				return err
			}
		}
		for _, id := range batch.Applied {
			if err := wb.Set(appliedKey(contextID, id), nil); err != nil {
				return err
			}
		}
		return wb.Set(metaKey(contextID), encodeMeta(batch.Meta))
	})
}

func (s *DagStore) Close() error {
	return s.db.Close()
}

func encodeMeta(m storage.ContextMeta) []byte {
	buf := &bytes.Buffer{}
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(m.Heads)))
	buf.Write(countBuf[:])
	for _, h := range m.Heads {
		buf.Write(h[:])
	}
	buf.Write(m.RootHash[:])
	buf.Write(m.LastCheckpoint[:])
	return buf.Bytes()
}

func decodeMeta(data []byte) (storage.ContextMeta, error) {
	var m storage.ContextMeta
	r := bytes.NewReader(data)
	var countBuf [4]byte
	if _, err := r.Read(countBuf[:]); err != nil {
		return m, err
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	m.Heads = make([]ctxsync.ID, count)
	for i := range m.Heads {
		if _, err := r.Read(m.Heads[i][:]); err != nil {
			return m, err
		}
	}
	if _, err := r.Read(m.RootHash[:]); err != nil {
		return m, err
	}
	if _, err := r.Read(m.LastCheckpoint[:]); err != nil {
		return m, err
	}
	return m, nil
}
