package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/artpar/docmap/core/odm"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
)

const authorKind = `
kind: Author
fields:
  name: { type: string, required: true }
  email: { type: string, unique: true }
`

const bookKind = `
kind: Book
fields:
  title: string
  pages: number
  author: Author
migrations:
  - rename: { name: title }
`

type fixture struct {
	dir   string
	db    string
	kinds string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	dir := t.TempDir()
	f := fixture{
		dir:   dir,
		db:    "nedb://" + filepath.Join(dir, "data"),
		kinds: filepath.Join(dir, "kinds"),
	}
	if err := os.MkdirAll(f.kinds, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{"author.yaml": authorKind, "book.yaml": bookKind} {
		if err := os.WriteFile(filepath.Join(f.kinds, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

// seed stores records through a connection of its own.
func (f fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	conn, err := odm.Connect(f.db)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close(ctx)

	defs, err := schema.ParseDir(f.kinds)
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}
	if _, err := conn.DefineAll(defs); err != nil {
		t.Fatalf("DefineAll failed: %v", err)
	}
	author, _ := conn.Kind("Author")
	book, _ := conn.Kind("Book")

	ada, err := author.Create(ctx, map[string]any{"name": "Ada", "email": "ada@example.com"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := ada.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	for _, data := range []map[string]any{
		{"title": "Alpha", "pages": 100, "author": ada},
		{"title": "Beta", "pages": 200, "author": ada},
	} {
		b, err := book.Create(ctx, data)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := b.Save(ctx); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
}

func (f fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return execute(t, append([]string{
		"--config", filepath.Join(f.dir, "missing.yaml"),
		"--db", f.db,
		"--kinds", f.kinds,
	}, args...)...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgFile, dbURL, kindsDir, logLevel = "docmap.yaml", "", "", ""
	findFilter, findSort, findSkip, findLimit, findPopulate = "", "", 0, 0, "all"
	countFilter = ""
	clearYes, dropYes = false, false
	validateCheckDatabase = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "docmap ") {
		t.Errorf("version output = %q", out)
	}
}

func TestKindsCommand(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "kinds")
	if err != nil {
		t.Fatalf("kinds failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("kinds output has %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[2], "Book") || !strings.Contains(lines[2], " 1 ") {
		t.Errorf("Book line = %q, want version 1", lines[2])
	}
}

func TestFindAndCount(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	out, err := f.run(t, "count", "Book", "--filter", `{"pages": {"$gte": 150}}`)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if strings.TrimSpace(out) != "1" {
		t.Errorf("count = %q, want 1", out)
	}

	out, err = f.run(t, "find", "Book", "--sort=-pages", "--limit", "1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	var docs []map[string]any
	if err := json.Unmarshal([]byte(out), &docs); err != nil {
		t.Fatalf("find output is not JSON: %v\n%s", err, out)
	}
	if len(docs) != 1 {
		t.Fatalf("find returned %d docs, want 1", len(docs))
	}
	if docs[0]["title"] != "Beta" {
		t.Errorf("title = %v, want Beta", docs[0]["title"])
	}
	author, ok := docs[0]["author"].(map[string]any)
	if !ok || author["name"] != "Ada" {
		t.Errorf("author = %v, want populated Ada", docs[0]["author"])
	}

	out, err = f.run(t, "find", "Book", "--populate", "none", "--filter", `{"title": "Alpha"}`)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	docs = nil
	if err := json.Unmarshal([]byte(out), &docs); err != nil {
		t.Fatalf("find output is not JSON: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("find returned %d docs, want 1", len(docs))
	}
	if _, ok := docs[0]["author"].(string); !ok {
		t.Errorf("author = %v, want an id", docs[0]["author"])
	}
}

func TestCommandErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown kind", []string{"count", "Nope"}, "Nope"},
		{"bad filter", []string{"find", "Book", "--filter", "{"}, "--filter"},
		{"negative limit", []string{"find", "Book", "--limit=-1"}, "negative"},
		{"clear without yes", []string{"clear", "Book"}, "--yes"},
		{"drop without yes", []string{"drop"}, "--yes"},
		{"missing kind arg", []string{"find"}, "arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(t, tt.args...)
			if err == nil {
				t.Fatal("command succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestIndexesCommands(t *testing.T) {
	f := newFixture(t)

	if _, err := f.run(t, "indexes", "create", "Author"); err != nil {
		t.Fatalf("indexes create failed: %v", err)
	}
	out, err := f.run(t, "indexes", "list", "Author")
	if err != nil {
		t.Fatalf("indexes list failed: %v", err)
	}
	if diff := cmp.Diff([]string{"_id", "email"}, strings.Fields(out)); diff != "" {
		t.Errorf("indexes mismatch (-want +got):\n%s", diff)
	}

	if _, err := f.run(t, "indexes", "remove", "Author"); err != nil {
		t.Fatalf("indexes remove failed: %v", err)
	}
	out, err = f.run(t, "indexes", "list", "Author")
	if err != nil {
		t.Fatalf("indexes list failed: %v", err)
	}
	if diff := cmp.Diff([]string{"_id"}, strings.Fields(out)); diff != "" {
		t.Errorf("indexes after remove mismatch (-want +got):\n%s", diff)
	}
}

func TestClearAndDrop(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	if _, err := f.run(t, "clear", "Book", "--yes"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	out, _ := f.run(t, "count", "Book")
	if strings.TrimSpace(out) != "0" {
		t.Errorf("count after clear = %q, want 0", out)
	}
	out, _ = f.run(t, "count", "Author")
	if strings.TrimSpace(out) != "1" {
		t.Errorf("Author count after clearing Book = %q, want 1", out)
	}

	if _, err := f.run(t, "drop", "--yes"); err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	out, _ = f.run(t, "count", "Author")
	if strings.TrimSpace(out) != "0" {
		t.Errorf("count after drop = %q, want 0", out)
	}
}

func TestMigrateCommand(t *testing.T) {
	f := newFixture(t)

	backend, err := storage.Open(f.db)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := backend.Save(context.Background(), "Book", "", storage.Document{"name": "Legacy"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	backend.Close()

	if _, err := f.run(t, "count", "Book", "--filter", `{"title": "Legacy"}`); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if _, err := f.run(t, "find", "Book"); err == nil {
		t.Error("find before migrate succeeded, want version mismatch")
	}

	out, err := f.run(t, "migrate", "Book")
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "Book: 1 migrated (version 1)") {
		t.Errorf("migrate output = %q", out)
	}

	out, err = f.run(t, "count", "Book", "--filter", `{"title": "Legacy"}`)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if strings.TrimSpace(out) != "1" {
		t.Errorf("count of migrated = %q, want 1", out)
	}

	out, err = f.run(t, "migrate")
	if err != nil {
		t.Fatalf("migrate all failed: %v", err)
	}
	if !strings.Contains(out, "Book: 0 migrated") {
		t.Errorf("second migrate output = %q", out)
	}
}

func TestValidateCommand(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "validate", "--check-database")
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	for _, want := range []string{"Config valid", "Kind files parse (2 kinds)", "Kinds resolve", "Database opens", "Configuration valid."} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q:\n%s", want, out)
		}
	}

	broken := filepath.Join(f.kinds, "broken.yaml")
	if err := os.WriteFile(broken, []byte("kind: Broken\nfields:\n  owner: Missing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = f.run(t, "validate")
	if err == nil {
		t.Fatal("validate succeeded with an unresolved kind")
	}
	if !strings.Contains(out, crossMark+" Kinds resolve") {
		t.Errorf("validate output = %q, want failed resolve check", out)
	}
}
