package applier

import (
	"context"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"syncore/internal/ctxsync"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "kvapplier-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setDelta(key, value string) *ctxsync.Delta {
	return ctxsync.NewDelta(nil, EncodeOp(OpSet, []byte(key), []byte(value)), ctxsync.HLC{Physical: 1}, [32]byte{}, ctxsync.KindRegular)
}

func TestKVApplierSetAndGet(t *testing.T) {
	a := NewKVApplier(openTestDB(t))
	d := setDelta("k1", "v1")

	if err := a.Apply(context.Background(), "ctx-1", d, false); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got, err := a.Get("ctx-1", []byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}
}

func TestKVApplierDelete(t *testing.T) {
	a := NewKVApplier(openTestDB(t))
	ctx := context.Background()

	if err := a.Apply(ctx, "ctx-1", setDelta("k1", "v1"), false); err != nil {
		t.Fatalf("Apply set: %v", err)
	}

	del := ctxsync.NewDelta(nil, EncodeOp(OpDelete, []byte("k1"), nil), ctxsync.HLC{Physical: 2}, [32]byte{}, ctxsync.KindRegular)
	if err := a.Apply(ctx, "ctx-1", del, false); err != nil {
		t.Fatalf("Apply delete: %v", err)
	}

	got, err := a.Get("ctx-1", []byte("k1"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %q", got)
	}
}

// TestKVApplierRootHashDeterministic checks that the materialized root
// hash depends only on the final key/value set, not the order mutations
// were applied in — required for two replicas with the same applied_set
// to agree on root hash.
func TestKVApplierRootHashDeterministic(t *testing.T) {
	ctx := context.Background()

	a1 := NewKVApplier(openTestDB(t))
	a1.Apply(ctx, "ctx-1", setDelta("a", "1"), false)
	a1.Apply(ctx, "ctx-1", setDelta("b", "2"), false)

	a2 := NewKVApplier(openTestDB(t))
	a2.Apply(ctx, "ctx-1", setDelta("b", "2"), false)
	a2.Apply(ctx, "ctx-1", setDelta("a", "1"), false)

	if a1.RootHash("ctx-1") != a2.RootHash("ctx-1") {
		t.Fatal("root hash must not depend on application order of commutative sets")
	}
}

func TestKVApplierContextsAreIsolated(t *testing.T) {
	a := NewKVApplier(openTestDB(t))
	ctx := context.Background()

	a.Apply(ctx, "ctx-1", setDelta("k", "one"), false)
	a.Apply(ctx, "ctx-2", setDelta("k", "two"), false)

	v1, _ := a.Get("ctx-1", []byte("k"))
	v2, _ := a.Get("ctx-2", []byte("k"))
	if string(v1) != "one" || string(v2) != "two" {
		t.Fatalf("expected isolated per-context values, got %q / %q", v1, v2)
	}
	if a.RootHash("ctx-1") == a.RootHash("ctx-2") {
		t.Fatal("distinct contexts with distinct state must have distinct root hashes")
	}
}
