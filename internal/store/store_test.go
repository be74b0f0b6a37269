package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestStore_upsertFind(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC().Truncate(time.Second)
			recs := []Record{
				{Key: "http://a/1", Doc: []byte(`{"name":"one"}`), UpdatedAt: now},
				{Key: "http://a/2", Doc: []byte(`{"name":"two"}`), UpdatedAt: now},
			}
			if err := s.BulkUpsert(ctx, "channels", recs); err != nil {
				t.Fatalf("BulkUpsert: %v", err)
			}

			got, err := s.Find(ctx, "channels")
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("Find returned %d records, want 2", len(got))
			}

			one, err := s.FindOne(ctx, "channels", "http://a/1")
			if err != nil {
				t.Fatalf("FindOne: %v", err)
			}
			if string(one.Doc) != `{"name":"one"}` {
				t.Errorf("doc = %s", one.Doc)
			}
		})
	}
}

func TestStore_upsertIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec := Record{Key: "k", Doc: []byte(`{"v":1}`), UpdatedAt: time.Now()}
			for range 3 {
				if err := s.BulkUpsert(ctx, "c", []Record{rec}); err != nil {
					t.Fatalf("BulkUpsert: %v", err)
				}
			}
			got, err := s.Find(ctx, "c")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 {
				t.Fatalf("repeated upsert produced %d records, want 1", len(got))
			}
		})
	}
}

func TestStore_findOneMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.FindOne(ctx, "none", "nope"); err != ErrNotFound {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestGetPutDoc(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	type payload struct {
		Name string `json:"name"`
	}
	if err := PutDoc(ctx, s, "c", "k", payload{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := GetDoc[payload](ctx, s, "c", "k")
	if err != nil || !ok {
		t.Fatalf("GetDoc: ok=%v err=%v", ok, err)
	}
	if v.Name != "x" {
		t.Errorf("name = %q", v.Name)
	}
	_, ok, err = GetDoc[payload](ctx, s, "c", "missing")
	if err != nil || ok {
		t.Fatalf("missing doc: ok=%v err=%v", ok, err)
	}
}
