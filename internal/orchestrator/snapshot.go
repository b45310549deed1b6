package orchestrator

import (
	"context"
	"fmt"

	"syncore/internal/ctxsync"
	"syncore/internal/infrastructure/storage"
)

// snapshotProvider adapts storage.DagStore to ctxsync.SnapshotProvider,
// the responder side of snapshot catch-up.
type snapshotProvider struct {
	dagStore storage.DagStore
}

func (p *snapshotProvider) Checkpoint(contextID string) (*ctxsync.Delta, error) {
	meta, ok, err := p.dagStore.LoadMeta(contextID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no persisted checkpoint for context %q", contextID)
	}
	deltas, err := p.dagStore.LoadDeltas(contextID)
	if err != nil {
		return nil, err
	}
	for _, d := range deltas {
		if d.ID == meta.LastCheckpoint {
			return d, nil
		}
	}
	return nil, fmt.Errorf("checkpoint delta %s not found for context %q", meta.LastCheckpoint.String(), contextID)
}

func (p *snapshotProvider) Iterate(contextID string, chunkSize int, fn func(chunk []byte) error) error {
	it, err := p.dagStore.Snapshot(contextID)
	if err != nil {
		return err
	}
	defer it.Close()

	buf := make([]byte, 0, chunkSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		err := fn(buf)
		buf = buf[:0]
		return err
	}
	for {
		key, value, ok := it.Next()
		if !ok {
			break
		}
		entry := encodeStateEntry(key, value)
		if len(buf)+len(entry) > chunkSize && len(buf) > 0 {
			if err := flush(); err != nil {
				return err
			}
		}
		buf = append(buf, entry...)
	}
	return flush()
}

// snapshotInstaller adapts storage.DagStore to ctxsync.SnapshotInstaller,
// the initiator side: decode every chunk back into key/value entries and
// install them plus the checkpoint's applied-set/meta rows atomically.
type snapshotInstaller struct {
	dagStore storage.DagStore
}

func (i *snapshotInstaller) InstallSnapshot(ctx context.Context, contextID string, checkpoint *ctxsync.Delta, chunks [][]byte) error {
	var entries []storage.StateEntry
	for _, chunk := range chunks {
		decoded, err := decodeStateEntries(chunk)
		if err != nil {
			return fmt.Errorf("decode snapshot chunk: %w", err)
		}
		entries = append(entries, decoded...)
	}

	batch := storage.StateBatch{
		Entries: entries,
		Meta: storage.ContextMeta{
			Heads:          []ctxsync.ID{checkpoint.ID},
			RootHash:       checkpoint.ExpectedRootHash,
			LastCheckpoint: checkpoint.ID,
		},
		Applied: []ctxsync.ID{checkpoint.ID},
	}
	if err := i.dagStore.ApplyBatch(contextID, batch); err != nil {
		return err
	}
	return i.dagStore.SaveDelta(contextID, checkpoint)
}

// encodeStateEntry/decodeStateEntries give the key/value pairs crossing
// the wire inside a SnapshotChunk a stable length-prefixed shape
// (big-endian u32 lengths, unlike the little-endian framing in
// ctxsync/wire.go) rather than reaching for encoding/gob or JSON for
// this one internal transfer format.
func encodeStateEntry(key, value []byte) []byte {
	out := make([]byte, 0, 8+len(key)+len(value))
	out = appendU32(out, uint32(len(key)))
	out = append(out, key...)
	out = appendU32(out, uint32(len(value)))
	out = append(out, value...)
	return out
}

func decodeStateEntries(chunk []byte) ([]storage.StateEntry, error) {
	var entries []storage.StateEntry
	for len(chunk) > 0 {
		if len(chunk) < 4 {
			return nil, fmt.Errorf("truncated state entry key length")
		}
		klen := readU32(chunk)
		chunk = chunk[4:]
		if len(chunk) < int(klen) {
			return nil, fmt.Errorf("truncated state entry key")
		}
		key := append([]byte(nil), chunk[:klen]...)
		chunk = chunk[klen:]

		if len(chunk) < 4 {
			return nil, fmt.Errorf("truncated state entry value length")
		}
		vlen := readU32(chunk)
		chunk = chunk[4:]
		if len(chunk) < int(vlen) {
			return nil, fmt.Errorf("truncated state entry value")
		}
		value := append([]byte(nil), chunk[:vlen]...)
		chunk = chunk[vlen:]

		entries = append(entries, storage.StateEntry{Key: key, Value: value})
	}
	return entries, nil
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readU32(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}
