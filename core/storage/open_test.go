package storage

import (
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		url      string
		wantType string
		wantErr  bool
	}{
		{"memory", "memory://", "memory", false},
		{"nedb memory", "nedb://memory", "memory", false},
		{"nedb dir", "nedb://" + filepath.Join(dir, "db"), "memory", false},
		{"nedb compressed", "nedb://" + filepath.Join(dir, "z") + "?compress=zstd", "memory", false},
		{"sqlite memory", "sqlite://:memory:", "sqlite", false},
		{"sqlite file", "sqlite://" + filepath.Join(dir, "app.db"), "sqlite", false},
		{"no scheme", "just-a-path", "", true},
		{"unknown scheme", "mongodb://localhost/db", "", true},
		{"bad readonly", "nedb://" + dir + "?readonly=maybe", "", true},
		{"bad compression", "nedb://" + dir + "?compress=lz4", "", true},
		{"readonly memory", "nedb://memory?readonly=true", "", true},
		{"sqlite without path", "sqlite://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(tt.url)
			if tt.wantErr {
				if err == nil {
					b.Close()
					t.Fatalf("Open(%q) should fail", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open(%q) failed: %v", tt.url, err)
			}
			defer b.Close()

			switch b.(type) {
			case *Memory:
				if tt.wantType != "memory" {
					t.Errorf("Open(%q) returned *Memory", tt.url)
				}
			case *SQLite:
				if tt.wantType != "sqlite" {
					t.Errorf("Open(%q) returned *SQLite", tt.url)
				}
			default:
				t.Errorf("Open(%q) returned %T", tt.url, b)
			}
		})
	}
}

func TestOpenReadOnlyDir(t *testing.T) {
	dir := t.TempDir()
	b, err := Open("nedb://" + dir + "?readonly=true")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer b.Close()

	m := b.(*Memory)
	if !m.opts.ReadOnly || m.opts.Dir != dir {
		t.Errorf("options = %+v", m.opts)
	}
}

func TestScheme(t *testing.T) {
	if got := Scheme("SQLite:///x.db"); got != "sqlite" {
		t.Errorf("Scheme = %q, want sqlite", got)
	}
}
