package blobcache

import (
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "blobcache-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		t.Fatalf("badger.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	s := NewStore(openTestDB(t), DefaultConfig())

	id, err := s.Put([]byte("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	s := NewStore(openTestDB(t), DefaultConfig())

	id1, _ := s.Put([]byte("same content"))
	id2, _ := s.Put([]byte("same content"))
	if id1 != id2 {
		t.Fatal("expected identical content to yield identical ids")
	}
	if s.Stats().Count != 1 {
		t.Fatalf("expected a duplicate Put to not grow the store, got count %d", s.Stats().Count)
	}
}

func TestEvictTickAgePhase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAge = time.Millisecond
	s := NewStore(openTestDB(t), cfg)

	id, _ := s.Put([]byte("stale"))
	time.Sleep(5 * time.Millisecond)

	evicted := s.EvictTick()
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if s.Has(id) {
		t.Fatal("expected aged-out blob to be evicted")
	}
	if _, err := s.Get(id); err == nil {
		t.Fatal("expected Get to fail for an evicted blob")
	}
}

func TestEvictTickCountPhase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCount = 3
	s := NewStore(openTestDB(t), cfg)

	var ids []ID
	for i := 0; i < 5; i++ {
		id, _ := s.Put([]byte{byte(i)})
		ids = append(ids, id)
		time.Sleep(time.Millisecond) // force distinct lastAccess ordering
	}

	evicted := s.EvictTick()
	if evicted != 2 {
		t.Fatalf("expected 2 evictions to bring count down to MaxCount, got %d", evicted)
	}
	if s.Stats().Count != 3 {
		t.Fatalf("expected 3 remaining, got %d", s.Stats().Count)
	}
	if s.Has(ids[0]) || s.Has(ids[1]) {
		t.Fatal("expected the two oldest-accessed blobs to be evicted first")
	}
	if !s.Has(ids[4]) {
		t.Fatal("expected the most recently accessed blob to survive")
	}
}

func TestEvictTickSizePhase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCount = 100
	cfg.MaxSize = 10
	s := NewStore(openTestDB(t), cfg)

	idOld, _ := s.Put(make([]byte, 6))
	time.Sleep(time.Millisecond)
	idNew, _ := s.Put(make([]byte, 6))

	evicted := s.EvictTick()
	if evicted != 1 {
		t.Fatalf("expected 1 eviction to bring total size under MaxSize, got %d", evicted)
	}
	if s.Has(idOld) {
		t.Fatal("expected the older blob to be evicted to make room")
	}
	if !s.Has(idNew) {
		t.Fatal("expected the newer blob to survive")
	}
}

func TestEvictTickNoOpWhenWithinBudgets(t *testing.T) {
	s := NewStore(openTestDB(t), DefaultConfig())
	s.Put([]byte("small"))

	if evicted := s.EvictTick(); evicted != 0 {
		t.Fatalf("expected no eviction within budget, got %d", evicted)
	}
}
