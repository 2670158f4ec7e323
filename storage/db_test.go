package storage

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	bolt, err := NewBoltDB(filepath.Join(dir, "state.bolt"), nil)
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	backends := map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
	t.Cleanup(func() {
		for _, db := range backends {
			_ = db.Close()
		}
	})
	return backends
}

func TestDatabaseRoundTrip(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := db.Put([]byte("k"), []byte("v1")); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := db.Get([]byte("k"))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got) != "v1" {
				t.Fatalf("unexpected value %q", got)
			}
			if err := db.Delete([]byte("k")); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestBatchAppliesAllWritesOnWrite(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := db.Put([]byte("stale"), []byte("x")); err != nil {
				t.Fatalf("put: %v", err)
			}
			batch := db.NewBatch()
			_ = batch.Put([]byte("a"), []byte("1"))
			_ = batch.Put([]byte("b"), []byte("2"))
			_ = batch.Delete([]byte("stale"))
			if batch.Len() != 3 {
				t.Fatalf("expected 3 pending ops, got %d", batch.Len())
			}
			if _, err := db.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("batch leaked before write: %v", err)
			}
			if err := batch.Write(); err != nil {
				t.Fatalf("write: %v", err)
			}
			for key, want := range map[string]string{"a": "1", "b": "2"} {
				got, err := db.Get([]byte(key))
				if err != nil || string(got) != want {
					t.Fatalf("key %s: got %q err %v", key, got, err)
				}
			}
			if _, err := db.Get([]byte("stale")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected stale key removed, got %v", err)
			}
		})
	}
}

type storedRecord struct {
	Name   string
	Amount *big.Int
	Flag   bool
}

func TestKVPutGet(t *testing.T) {
	db := NewMemDB()
	in := storedRecord{Name: "sale", Amount: big.NewInt(42), Flag: true}
	if err := KVPut(db, []byte("rec"), in); err != nil {
		t.Fatalf("kv put: %v", err)
	}
	var out storedRecord
	ok, err := KVGet(db, []byte("rec"), &out)
	if err != nil || !ok {
		t.Fatalf("kv get: ok=%v err=%v", ok, err)
	}
	if out.Name != "sale" || out.Amount.Cmp(big.NewInt(42)) != 0 || !out.Flag {
		t.Fatalf("unexpected record %+v", out)
	}
	ok, err = KVGet(db, []byte("absent"), &out)
	if err != nil || ok {
		t.Fatalf("expected absent key, ok=%v err=%v", ok, err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open("redis", "/tmp/x"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	db, err := Open("memory", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	_ = db.Close()
}
