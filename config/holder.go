// Package config loads docmap configuration and keeps it current while the
// server runs.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// restartFields are settings read once at startup. A reload that changes
// one of them is logged and otherwise ignored until the next start.
var restartFields = []struct {
	name  string
	value func(*Config) any
}{
	{"database.url", func(c *Config) any { return c.Database.URL }},
	{"kinds.dir", func(c *Config) any { return c.Kinds.Dir }},
	{"server.host", func(c *Config) any { return c.Server.Host }},
	{"server.port", func(c *Config) any { return c.Server.Port }},
	{"metrics.enabled", func(c *Config) any { return c.Metrics.Enabled }},
	{"metrics.path", func(c *Config) any { return c.Metrics.Path }},
}

// Holder owns the live configuration of a docmap process. Readers call Get;
// the file watcher and SIGHUP swap in a new value.
type Holder struct {
	mu       sync.RWMutex
	current  *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	onReload []func(error)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it. Nothing is watched
// until WatchFile or WatchSignals is called.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	return &Holder{
		current: cfg,
		path:    abs,
		logger:  logger.With().Str("component", "config").Logger(),
		stopCh:  make(chan struct{}),
	}, nil
}

// Get returns the configuration in effect.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload reads the file again. On error the previous configuration stays
// in effect; either way OnReload listeners hear the outcome.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		err = fmt.Errorf("reload config: %w", err)
		h.logger.Error().Err(err).Msg("keeping previous configuration")
		h.notifyReload(err)
		return err
	}

	prev, listeners := h.swap(next)
	h.logChanges(prev, next)
	for _, fn := range listeners {
		fn(next)
	}
	h.notifyReload(nil)

	h.logger.Info().Str("path", h.path).Msg("configuration reloaded")
	return nil
}

func (h *Holder) swap(next *Config) (*Config, []func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.current
	h.current = next
	return prev, append([]func(*Config){}, h.onChange...)
}

// OnChange registers fn to receive every successfully reloaded configuration.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnReload registers fn to receive the result of every reload attempt.
func (h *Holder) OnReload(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = append(h.onReload, fn)
}

func (h *Holder) notifyReload(err error) {
	h.mu.RLock()
	observers := append([]func(error){}, h.onReload...)
	h.mu.RUnlock()
	for _, fn := range observers {
		fn(err)
	}
}

// WatchFile reloads whenever the config file is written or replaced.
// The parent directory is watched so rename-over saves are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(h.path), err)
	}
	h.watcher = watcher

	go h.watchLoop()

	h.logger.Debug().Str("path", h.path).Msg("watching config file")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("SIGHUP")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if !h.touchesConfig(event) {
				continue
			}
			h.logger.Debug().
				Str("op", event.Op.String()).
				Msg("config file changed")
			h.Reload()

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn().Err(err).Msg("config watcher")

		case <-h.stopCh:
			return
		}
	}
}

// touchesConfig reports whether event wrote or created the config file.
func (h *Holder) touchesConfig(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(h.path) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}

func (h *Holder) logChanges(prev, next *Config) {
	if prev.Logging.Level != next.Logging.Level {
		h.logger.Info().
			Str("from", prev.Logging.Level).
			Str("to", next.Logging.Level).
			Msg("log level changed")
	}
	for _, field := range changedNonReloadable(prev, next) {
		h.logger.Warn().
			Str("field", field).
			Msg("config change requires restart")
	}
}

func changedNonReloadable(prev, next *Config) []string {
	var changed []string
	for _, f := range restartFields {
		if f.value(prev) != f.value(next) {
			changed = append(changed, f.name)
		}
	}
	return changed
}

// ReloadableFields lists the settings a reload applies.
func ReloadableFields() []string {
	return []string{"logging.level"}
}

// NonReloadableFields lists the settings that need a restart.
func NonReloadableFields() []string {
	names := make([]string, len(restartFields))
	for i, f := range restartFields {
		names[i] = f.name
	}
	return names
}
