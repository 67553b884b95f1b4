package config_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/docmap/config"
)

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Database.URL != "sqlite://docmap.db" {
		t.Errorf("Database.URL = %s, want sqlite://docmap.db", got.Database.URL)
	}
}

func TestHolder_NewMissingFile(t *testing.T) {
	if _, err := config.NewHolder(filepath.Join(t.TempDir(), "nope.yaml"), zerolog.Nop()); err == nil {
		t.Error("NewHolder should fail for a missing file")
	}
}

func TestHolder_ReloadNotifies(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var receivedCfg *config.Config
	var outcomes []error

	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		receivedCfg = cfg
		mu.Unlock()
	})
	h.OnReload(func(err error) {
		mu.Lock()
		outcomes = append(outcomes, err)
		mu.Unlock()
	})

	if err := os.WriteFile(path, []byte("database:\n  url: sqlite://docmap.db\nlogging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}
	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}

	mu.Lock()
	defer mu.Unlock()
	if receivedCfg == nil || receivedCfg.Logging.Level != "debug" {
		t.Errorf("OnChange received %+v, want debug level", receivedCfg)
	}
	if len(outcomes) != 2 || outcomes[0] != nil || outcomes[1] == nil {
		t.Errorf("OnReload outcomes = %v, want [nil, error]", outcomes)
	}

	// The invalid reload keeps the previous config.
	if got := h.Get().Logging.Level; got != "debug" {
		t.Errorf("Logging.Level after failed reload = %s, want debug", got)
	}
}

func TestHolder_ReloadMissingFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove config: %v", err)
	}
	err = h.Reload()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Reload error = %v, want not exist", err)
	}
	if h.Get().Database.URL != "sqlite://docmap.db" {
		t.Error("failed reload replaced the config")
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan *config.Config, 8)
	h.OnChange(func(cfg *config.Config) { changed <- cfg })

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	if err := os.WriteFile(path, []byte("database:\n  url: sqlite://docmap.db\nlogging:\n  level: warn\n"), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Logging.Level == "warn" {
				return
			}
		case <-deadline:
			t.Fatalf("file watcher did not reload, level = %s", h.Get().Logging.Level)
		}
	}
}

func TestHolder_StopTwice(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}
	h.Stop()
	h.Stop()
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	// Start many readers
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}

	// Concurrent reloads
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}

	wg.Wait()
}

func TestReloadableFields(t *testing.T) {
	reloadable := config.ReloadableFields()
	fixed := config.NonReloadableFields()

	if !slices.Contains(reloadable, "logging.level") {
		t.Errorf("ReloadableFields = %v, want logging.level", reloadable)
	}
	for _, f := range []string{"database.url", "kinds.dir", "server.port"} {
		if !slices.Contains(fixed, f) {
			t.Errorf("%s not in NonReloadableFields", f)
		}
	}
	for _, f := range reloadable {
		if slices.Contains(fixed, f) {
			t.Errorf("%s is both reloadable and not", f)
		}
	}
}

func TestReloadWarnsOnRestartFields(t *testing.T) {
	path := writeConfig(t, validConfig())

	var logs bytes.Buffer
	h, err := config.NewHolder(path, zerolog.New(&logs))
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := "database:\n  url: sqlite://other.db\nserver:\n  port: 9191\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(changed), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	out := logs.String()
	for _, field := range []string{"database.url", "server.port"} {
		if !strings.Contains(out, `"field":"`+field+`"`) {
			t.Errorf("no restart warning for %s:\n%s", field, out)
		}
	}
	if strings.Contains(out, `"field":"kinds.dir"`) {
		t.Errorf("restart warning for unchanged kinds.dir:\n%s", out)
	}
	if !strings.Contains(out, `"message":"log level changed"`) {
		t.Errorf("log level change not logged:\n%s", out)
	}
	if got := h.Get().Server.Port; got != 9191 {
		t.Errorf("Server.Port = %d, want 9191", got)
	}
}

// Helpers

func validConfig() string {
	return `
database:
  url: sqlite://docmap.db
logging:
  level: info
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "docmap.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
