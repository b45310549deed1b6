// Package blobcache is a small, badger-backed content-addressed blob
// store with three-phase (age, count, size) eviction. It adapts the
// node's in-memory content store's eviction idiom
// (infrastructure/network/libp2p/content_store.go) into a durable
// variant driven by the orchestrator's housekeeping ticker instead of
// its own private goroutine, and kept minimal — an in-memory index of
// size/access metadata over badger-backed blob bytes — since blob
// storage itself is out of the synchronization core's primary scope.
package blobcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ID is a content-addressed blob identifier (hex-encoded SHA-256).
type ID string

func computeID(data []byte) ID {
	sum := sha256.Sum256(data)
	return ID(hex.EncodeToString(sum[:]))
}

const keyPrefix = "blob:"

func blobKey(id ID) []byte { return []byte(keyPrefix + string(id)) }

type entry struct {
	size       int64
	createdAt  time.Time
	lastAccess time.Time
}

// Config bounds the cache along all three eviction phases.
type Config struct {
	MaxAge   time.Duration // phase 1: evict regardless of count/size once older than this
	MaxCount int           // phase 2: evict oldest-accessed above this count
	MaxSize  int64         // phase 3: evict oldest-accessed above this total byte size
}

func DefaultConfig() Config {
	return Config{
		MaxAge:   1 * time.Hour,
		MaxCount: 10000,
		MaxSize:  100 * 1024 * 1024,
	}
}

// Store is a badger-backed content-addressed blob cache: Put/Get
// persist through badger for durability across restarts, while an
// in-memory index of size and access-time metadata drives EvictTick's
// three phases without a full-store value scan.
type Store struct {
	db  *badger.DB
	cfg Config

	mu    sync.Mutex
	index map[ID]*entry
}

// NewStore builds a Store over an already-open badger instance,
// seeding its in-memory index from persisted key sizes. Access/creation
// times are not themselves persisted, so a restart resets recency
// ordering to "now" for everything already on disk.
func NewStore(db *badger.DB, cfg Config) *Store {
	def := DefaultConfig()
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = def.MaxCount
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}

	s := &Store{db: db, cfg: cfg, index: make(map[ID]*entry)}
	s.loadIndex()
	return s
}

func (s *Store) loadIndex() {
	now := time.Now()
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := ID(item.Key()[len(keyPrefix):])
			s.index[id] = &entry{size: item.ValueSize(), createdAt: now, lastAccess: now}
		}
		return nil
	})
}

// Put stores data under its content hash and returns the id. A repeat
// Put of already-stored content is a cheap access-time bump.
func (s *Store) Put(data []byte) (ID, error) {
	id := computeID(data)

	s.mu.Lock()
	if e, exists := s.index[id]; exists {
		e.lastAccess = time.Now()
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(id), data)
	}); err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.index[id] = &entry{size: int64(len(data)), createdAt: now, lastAccess: now}
	s.mu.Unlock()
	return id, nil
}

// Get retrieves a blob by id, bumping its last-access time so it sorts
// later in the count/size eviction phases' recency ordering.
func (s *Store) Get(id ID) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if e, ok := s.index[id]; ok {
		e.lastAccess = time.Now()
	}
	s.mu.Unlock()
	return data, nil
}

// Has reports whether id is present without reading its value.
func (s *Store) Has(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Stats reports current occupancy.
type Stats struct {
	Count int
	Size  int64
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var size int64
	for _, e := range s.index {
		size += e.size
	}
	return Stats{Count: len(s.index), Size: size}
}

// EvictTick runs the three eviction phases in order — age, then count,
// then size — and deletes everything selected from both the in-memory
// index and the underlying store. Returns the number of blobs evicted.
func (s *Store) EvictTick() int {
	s.mu.Lock()
	toEvict := make(map[ID]struct{})
	now := time.Now()

	// Phase 1: age. Anything past MaxAge goes regardless of the other
	// two budgets.
	for id, e := range s.index {
		if now.Sub(e.createdAt) > s.cfg.MaxAge {
			toEvict[id] = struct{}{}
		}
	}

	// Phase 2: count. Evict oldest-accessed survivors above MaxCount.
	remaining := s.remainingSortedLocked(toEvict)
	for len(remaining) > s.cfg.MaxCount {
		toEvict[remaining[0]] = struct{}{}
		remaining = remaining[1:]
	}

	// Phase 3: size. Evict oldest-accessed survivors above MaxSize.
	var total int64
	for _, id := range remaining {
		total += s.index[id].size
	}
	for total > s.cfg.MaxSize && len(remaining) > 0 {
		total -= s.index[remaining[0]].size
		toEvict[remaining[0]] = struct{}{}
		remaining = remaining[1:]
	}

	for id := range toEvict {
		delete(s.index, id)
	}
	s.mu.Unlock()

	if len(toEvict) == 0 {
		return 0
	}
	_ = s.db.Update(func(txn *badger.Txn) error {
		for id := range toEvict {
			if err := txn.Delete(blobKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	return len(toEvict)
}

// remainingSortedLocked returns ids not already marked for eviction,
// ordered oldest-last-accessed-first. Caller must hold s.mu.
func (s *Store) remainingSortedLocked(excluded map[ID]struct{}) []ID {
	ids := make([]ID, 0, len(s.index))
	for id := range s.index {
		if _, skip := excluded[id]; skip {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.index[ids[i]].lastAccess.Before(s.index[ids[j]].lastAccess)
	})
	return ids
}

// Close closes the underlying badger instance.
func (s *Store) Close() error { return s.db.Close() }
