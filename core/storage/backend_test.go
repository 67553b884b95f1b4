package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Helper()

	factories := map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			m, err := NewMemory(MemoryOptions{})
			if err != nil {
				t.Fatalf("NewMemory failed: %v", err)
			}
			return m
		},
		"file": func(t *testing.T) Backend {
			m, err := NewMemory(MemoryOptions{Dir: t.TempDir()})
			if err != nil {
				t.Fatalf("NewMemory failed: %v", err)
			}
			return m
		},
		"file-zstd": func(t *testing.T) Backend {
			m, err := NewMemory(MemoryOptions{Dir: t.TempDir(), Compress: true})
			if err != nil {
				t.Fatalf("NewMemory failed: %v", err)
			}
			return m
		},
		"sqlite": func(t *testing.T) Backend {
			s, err := NewSQLite(":memory:")
			if err != nil {
				t.Fatalf("NewSQLite failed: %v", err)
			}
			return s
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			t.Cleanup(func() { b.Close() })
			fn(t, b)
		})
	}
}

var ignoreID = cmpopts.IgnoreMapEntries(func(k string, _ any) bool { return k == IDField })

func seed(t *testing.T, b Backend, docs ...Document) []string {
	t.Helper()
	ids := make([]string, len(docs))
	for i, d := range docs {
		id, err := b.Save(context.Background(), "items", "", d)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		ids[i] = id
	}
	return ids
}

func TestBackendSaveAndFind(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		id, err := b.Save(ctx, "items", "", Document{"name": "Widget", "price": 100, "tags": []any{"a"}})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if !b.IsNativeID(id) {
			t.Errorf("Save returned non-native id %q", id)
		}

		doc, err := b.FindOne(ctx, "items", Filter{IDField: id})
		if err != nil {
			t.Fatalf("FindOne failed: %v", err)
		}
		want := Document{"name": "Widget", "price": 100.0, "tags": []any{"a"}}
		if diff := cmp.Diff(want, doc, ignoreID); diff != "" {
			t.Errorf("FindOne mismatch (-want +got):\n%s", diff)
		}
		if doc[IDField] != id {
			t.Errorf("_id = %v, want %v", doc[IDField], id)
		}

		// Save with a known id replaces the document.
		if _, err := b.Save(ctx, "items", id, Document{"name": "Gadget"}); err != nil {
			t.Fatalf("Save (update) failed: %v", err)
		}
		doc, err = b.FindOne(ctx, "items", Filter{IDField: id})
		if err != nil {
			t.Fatalf("FindOne failed: %v", err)
		}
		if diff := cmp.Diff(Document{"name": "Gadget"}, doc, ignoreID); diff != "" {
			t.Errorf("after update (-want +got):\n%s", diff)
		}

		n, err := b.Count(ctx, "items", nil)
		if err != nil || n != 1 {
			t.Errorf("Count = %d, %v, want 1", n, err)
		}

		missing, err := b.FindOne(ctx, "items", Filter{"name": "nope"})
		if err != nil || missing != nil {
			t.Errorf("FindOne(missing) = %v, %v, want nil", missing, err)
		}
	})
}

func TestBackendFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		seed(t, b,
			Document{"name": "a", "n": 1, "tags": []any{"x", "y"}, "nested": map[string]any{"k": "v"}},
			Document{"name": "b", "n": 2, "tags": []any{"y"}, "opt": nil},
			Document{"name": "c", "n": 3},
		)

		tests := []struct {
			name   string
			filter Filter
			want   int
		}{
			{"empty", Filter{}, 3},
			{"equality", Filter{"name": "a"}, 1},
			{"numeric equality", Filter{"n": 2}, 1},
			{"gt", Filter{"n": map[string]any{"$gt": 1}}, 2},
			{"range", Filter{"n": map[string]any{"$gte": 1, "$lt": 3}}, 2},
			{"array contains", Filter{"tags": "y"}, 2},
			{"in", Filter{"tags": map[string]any{"$in": []any{"x"}}}, 1},
			{"in ids style", Filter{"name": map[string]any{"$in": []any{"a", "c"}}}, 2},
			{"nin", Filter{"name": map[string]any{"$nin": []any{"a", "b"}}}, 1},
			{"ne", Filter{"name": map[string]any{"$ne": "a"}}, 2},
			{"null matches missing", Filter{"opt": nil}, 3},
			{"exists", Filter{"opt": map[string]any{"$exists": true}}, 1},
			{"not exists", Filter{"tags": map[string]any{"$exists": false}}, 1},
			{"dotted path", Filter{"nested.k": "v"}, 1},
			{"or", Filter{"$or": []any{map[string]any{"name": "a"}, map[string]any{"n": 3}}}, 2},
			{"and", Filter{"$and": []any{
				map[string]any{"n": map[string]any{"$gt": 1}},
				map[string]any{"n": map[string]any{"$lt": 3}},
			}}, 1},
			{"class mismatch", Filter{"n": map[string]any{"$gt": "1"}}, 0},
			{"string order", Filter{"name": map[string]any{"$gt": "a"}}, 2},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				n, err := b.Count(context.Background(), "items", tt.filter)
				if err != nil {
					t.Fatalf("Count failed: %v", err)
				}
				if n != tt.want {
					t.Errorf("Count(%v) = %d, want %d", tt.filter, n, tt.want)
				}
			})
		}
	})
}

func TestBackendInvalidFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		_, err := b.Find(context.Background(), "items", Filter{"n": map[string]any{"$regex": "x"}}, FindOptions{})
		var fe *FilterError
		if !errors.As(err, &fe) {
			t.Errorf("Find error = %v, want FilterError", err)
		}
	})
}

func TestBackendSortSkipLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		seed(t, b,
			Document{"name": "b", "n": 2},
			Document{"name": "a", "n": 1},
			Document{"name": "c", "n": 3},
		)
		ctx := context.Background()

		names := func(docs []Document) []string {
			out := make([]string, len(docs))
			for i, d := range docs {
				out[i], _ = d["name"].(string)
			}
			return out
		}

		tests := []struct {
			name string
			opts FindOptions
			want []string
		}{
			{"insertion order", FindOptions{}, []string{"b", "a", "c"}},
			{"ascending", FindOptions{Sort: []string{"n"}}, []string{"a", "b", "c"}},
			{"descending", FindOptions{Sort: []string{"-n"}}, []string{"c", "b", "a"}},
			{"skip and limit", FindOptions{Sort: []string{"name"}, Skip: 1, Limit: 1}, []string{"b"}},
			{"limit only", FindOptions{Limit: 2}, []string{"b", "a"}},
			{"skip past end", FindOptions{Skip: 5}, []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				docs, err := b.Find(ctx, "items", nil, tt.opts)
				if err != nil {
					t.Fatalf("Find failed: %v", err)
				}
				if diff := cmp.Diff(tt.want, names(docs), cmpopts.EquateEmpty()); diff != "" {
					t.Errorf("Find mismatch (-want +got):\n%s", diff)
				}
			})
		}
	})
}

func TestBackendFindOneAndUpdate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ids := seed(t, b, Document{"name": "a", "n": 1})
		ctx := context.Background()

		doc, err := b.FindOneAndUpdate(ctx, "items", Filter{"name": "a"}, Document{"n": 10}, UpdateOptions{})
		if err != nil {
			t.Fatalf("FindOneAndUpdate failed: %v", err)
		}
		if diff := cmp.Diff(Document{"name": "a", "n": 10.0}, doc, ignoreID); diff != "" {
			t.Errorf("updated doc (-want +got):\n%s", diff)
		}
		if doc[IDField] != ids[0] {
			t.Errorf("_id = %v, want %v", doc[IDField], ids[0])
		}

		none, err := b.FindOneAndUpdate(ctx, "items", Filter{"name": "zzz"}, Document{"n": 1}, UpdateOptions{})
		if err != nil || none != nil {
			t.Errorf("FindOneAndUpdate(no match) = %v, %v", none, err)
		}

		up, err := b.FindOneAndUpdate(ctx, "items", Filter{"name": "zzz"}, Document{"name": "zzz", "n": 9}, UpdateOptions{Upsert: true})
		if err != nil {
			t.Fatalf("FindOneAndUpdate(upsert) failed: %v", err)
		}
		if id, _ := up[IDField].(string); !b.IsNativeID(id) {
			t.Errorf("upserted _id = %v", up[IDField])
		}
		if n, _ := b.Count(ctx, "items", nil); n != 2 {
			t.Errorf("Count = %d, want 2", n)
		}
	})
}

func TestBackendDeletes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ids := seed(t, b,
			Document{"g": 1}, Document{"g": 1}, Document{"g": 2}, Document{"g": 2}, Document{"g": 3},
		)
		ctx := context.Background()

		steps := []struct {
			name string
			run  func() (int, error)
			want int
		}{
			{"delete by id", func() (int, error) { return b.Delete(ctx, "items", ids[4]) }, 1},
			{"delete missing id", func() (int, error) { return b.Delete(ctx, "items", ids[4]) }, 0},
			{"delete empty id", func() (int, error) { return b.Delete(ctx, "items", "") }, 0},
			{"delete one", func() (int, error) { return b.DeleteOne(ctx, "items", Filter{"g": 1}) }, 1},
			{"find one and delete", func() (int, error) { return b.FindOneAndDelete(ctx, "items", Filter{"g": 1}) }, 1},
			{"find one and delete none", func() (int, error) { return b.FindOneAndDelete(ctx, "items", Filter{"g": 1}) }, 0},
			{"delete many", func() (int, error) { return b.DeleteMany(ctx, "items", Filter{"g": 2}) }, 2},
		}

		for _, s := range steps {
			n, err := s.run()
			if err != nil {
				t.Fatalf("%s failed: %v", s.name, err)
			}
			if n != s.want {
				t.Errorf("%s = %d, want %d", s.name, n, s.want)
			}
		}

		if n, _ := b.Count(ctx, "items", nil); n != 0 {
			t.Errorf("Count = %d, want 0", n)
		}
	})
}

func TestBackendUniqueIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		if err := b.CreateIndex(ctx, "users", "email", IndexOptions{Unique: true, Sparse: true}); err != nil {
			t.Fatalf("CreateIndex failed: %v", err)
		}
		if err := b.CreateIndex(ctx, "users", "email", IndexOptions{Unique: true, Sparse: true}); err != nil {
			t.Fatalf("CreateIndex (again) failed: %v", err)
		}

		first, err := b.Save(ctx, "users", "", Document{"email": "a@x", "name": "first"})
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		_, err = b.Save(ctx, "users", "", Document{"email": "a@x", "name": "second"})
		var dup *DuplicateKeyError
		if !errors.As(err, &dup) {
			t.Fatalf("Save duplicate error = %v, want DuplicateKeyError", err)
		}
		if dup.Field != "email" || dup.Value != "a@x" || dup.Collection != "users" {
			t.Errorf("DuplicateKeyError = %+v", dup)
		}
		if !errors.Is(err, ErrDuplicateKey) {
			t.Error("errors.Is(err, ErrDuplicateKey) = false")
		}

		docs, err := b.Find(ctx, "users", nil, FindOptions{})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(docs) != 1 || docs[0]["name"] != "first" || docs[0][IDField] != first {
			t.Errorf("documents after failed save = %v", docs)
		}

		// Sparse: documents without the field never collide.
		for i := 0; i < 2; i++ {
			if _, err := b.Save(ctx, "users", "", Document{"name": "anon"}); err != nil {
				t.Fatalf("Save without email failed: %v", err)
			}
		}

		// Re-saving the same document is not a collision.
		if _, err := b.Save(ctx, "users", first, Document{"email": "a@x", "name": "renamed"}); err != nil {
			t.Errorf("re-save failed: %v", err)
		}

		indexes, err := b.ListIndexes(ctx, "users")
		if err != nil {
			t.Fatalf("ListIndexes failed: %v", err)
		}
		if diff := cmp.Diff([]string{IDField, "email"}, indexes); diff != "" {
			t.Errorf("ListIndexes (-want +got):\n%s", diff)
		}

		if err := b.RemoveIndex(ctx, "users", "email"); err != nil {
			t.Fatalf("RemoveIndex failed: %v", err)
		}
		if _, err := b.Save(ctx, "users", "", Document{"email": "a@x"}); err != nil {
			t.Errorf("Save after RemoveIndex failed: %v", err)
		}
		indexes, _ = b.ListIndexes(ctx, "users")
		if diff := cmp.Diff([]string{IDField}, indexes); diff != "" {
			t.Errorf("ListIndexes after remove (-want +got):\n%s", diff)
		}
	})
}

func TestBackendUniqueIndexOverDuplicates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		seed(t, b, Document{"code": "dup"}, Document{"code": "dup"})

		err := b.CreateIndex(ctx, "items", "code", IndexOptions{Unique: true})
		var dup *DuplicateKeyError
		if !errors.As(err, &dup) {
			t.Fatalf("CreateIndex error = %v, want DuplicateKeyError", err)
		}
		if dup.Field != "code" {
			t.Errorf("Field = %q, want code", dup.Field)
		}

		indexes, _ := b.ListIndexes(ctx, "items")
		if len(indexes) != 1 {
			t.Errorf("failed index was recorded: %v", indexes)
		}
	})
}

func TestBackendClearAndDrop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		seed(t, b, Document{"n": 1}, Document{"n": 2})
		if _, err := b.Save(ctx, "other", "", Document{"n": 3}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if err := b.ClearCollection(ctx, "items"); err != nil {
			t.Fatalf("ClearCollection failed: %v", err)
		}
		if n, _ := b.Count(ctx, "items", nil); n != 0 {
			t.Errorf("Count(items) = %d after clear", n)
		}
		if n, _ := b.Count(ctx, "other", nil); n != 1 {
			t.Errorf("Count(other) = %d, want 1", n)
		}

		if err := b.DropDatabase(ctx); err != nil {
			t.Fatalf("DropDatabase failed: %v", err)
		}
		if n, _ := b.Count(ctx, "other", nil); n != 0 {
			t.Errorf("Count(other) = %d after drop", n)
		}
	})
}

func TestBackendInvalidCollection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		if _, err := b.Save(context.Background(), "../etc", "", Document{}); err == nil {
			t.Error("Save into invalid collection should fail")
		}
	})
}
