package odm

import (
	"context"
	"sync"
	"testing"

	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
)

// forEachBackend runs fn against a fresh connection over every engine.
func forEachBackend(t *testing.T, fn func(t *testing.T, conn *Connection)) {
	t.Helper()

	factories := map[string]func(t *testing.T) storage.Backend{
		"memory": func(t *testing.T) storage.Backend {
			m, err := storage.NewMemory(storage.MemoryOptions{})
			if err != nil {
				t.Fatalf("NewMemory failed: %v", err)
			}
			return m
		},
		"file": func(t *testing.T) storage.Backend {
			m, err := storage.NewMemory(storage.MemoryOptions{Dir: t.TempDir()})
			if err != nil {
				t.Fatalf("NewMemory failed: %v", err)
			}
			return m
		},
		"sqlite": func(t *testing.T) storage.Backend {
			s, err := storage.NewSQLite(":memory:")
			if err != nil {
				t.Fatalf("NewSQLite failed: %v", err)
			}
			return s
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			conn := New(factory(t))
			t.Cleanup(func() { conn.Close(context.Background()) })
			fn(t, conn)
		})
	}
}

func newMemoryConn(t *testing.T, opts ...Option) *Connection {
	t.Helper()
	m, err := storage.NewMemory(storage.MemoryOptions{})
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	conn := New(m, opts...)
	t.Cleanup(func() { conn.Close(context.Background()) })
	return conn
}

func mustDefine(t *testing.T, conn *Connection, name string, decls schema.Decls, opts ...KindOption) *Kind {
	t.Helper()
	k, err := conn.Define(name, decls, opts...)
	if err != nil {
		t.Fatalf("Define(%s) failed: %v", name, err)
	}
	return k
}

func mustDefineEmbedded(t *testing.T, conn *Connection, name string, decls schema.Decls, opts ...KindOption) *Kind {
	t.Helper()
	k, err := conn.DefineEmbedded(name, decls, opts...)
	if err != nil {
		t.Fatalf("DefineEmbedded(%s) failed: %v", name, err)
	}
	return k
}

func mustCreate(t *testing.T, k *Kind, data map[string]any) *Document {
	t.Helper()
	d, err := k.Create(context.Background(), data)
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", k.Name(), err)
	}
	return d
}

func mustSave(t *testing.T, k *Kind, data map[string]any) *Document {
	t.Helper()
	d := mustCreate(t, k, data)
	if err := d.Save(context.Background()); err != nil {
		t.Fatalf("Save(%s) failed: %v", k.Name(), err)
	}
	return d
}

func mustCount(t *testing.T, k *Kind, filter storage.Filter) int {
	t.Helper()
	n, err := k.Count(context.Background(), filter)
	if err != nil {
		t.Fatalf("Count(%s) failed: %v", k.Name(), err)
	}
	return n
}

// countingBackend counts Find calls per collection.
type countingBackend struct {
	storage.Backend

	mu    sync.Mutex
	finds map[string]int
}

func newCountingBackend(b storage.Backend) *countingBackend {
	return &countingBackend{Backend: b, finds: make(map[string]int)}
}

func (c *countingBackend) Find(ctx context.Context, collection string, filter storage.Filter, opts storage.FindOptions) ([]storage.Document, error) {
	c.mu.Lock()
	c.finds[collection]++
	c.mu.Unlock()
	return c.Backend.Find(ctx, collection, filter, opts)
}

func (c *countingBackend) count(collection string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finds[collection]
}

func (c *countingBackend) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds = make(map[string]int)
}
