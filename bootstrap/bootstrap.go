// Package bootstrap wires configuration, logging, storage, kinds, metrics
// and the browse API into a running docmap instance.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	apihttp "github.com/artpar/docmap/adapters/http"
	"github.com/artpar/docmap/adapters/metrics"
	"github.com/artpar/docmap/config"
	"github.com/artpar/docmap/core/events"
	"github.com/artpar/docmap/core/odm"
	"github.com/artpar/docmap/core/schema"
)

// Version is the build version reported by the CLI and the API.
var Version = "dev"

// Options override configuration for a single run.
type Options struct {
	// ConfigPath is the YAML config file. When it does not exist the
	// configuration comes from DOCMAP_* variables alone.
	ConfigPath string

	// DatabaseURL, KindsDir and LogLevel override the loaded configuration.
	DatabaseURL string
	KindsDir    string
	LogLevel    string

	// LogOutput receives log lines (default: stderr).
	LogOutput io.Writer
}

// App represents a wired docmap instance.
type App struct {
	Logger  zerolog.Logger
	Config  *config.Config
	Holder  *config.Holder
	Conn    *odm.Connection
	Events  *events.Bus
	Metrics *metrics.Collector
	Journal *Journal
	Kinds   []*odm.Kind

	HTTPServer *http.Server
}

// New loads configuration, opens the database and defines the configured
// kinds.
func New(opts Options) (*App, error) {
	a := &App{}

	if err := a.loadConfig(opts); err != nil {
		return nil, err
	}
	cfg := a.Config

	a.Logger = NewLogger(cfg.Logging, opts.LogOutput)
	a.Logger.Info().
		Str("version", Version).
		Str("database", cfg.Database.URL).
		Msg("initializing docmap")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewWithRegistry(reg)
	a.Events = events.NewBus(a.Logger.With().Str("component", "events").Logger())

	if err := a.watchConfig(opts.ConfigPath); err != nil {
		return nil, err
	}

	conn, err := odm.Connect(cfg.Database.URL,
		odm.WithLogger(a.Logger),
		odm.WithMetrics(a.Metrics),
		odm.WithEvents(a.Events),
	)
	if err != nil {
		a.stopHolder()
		return nil, fmt.Errorf("connect: %w", err)
	}
	a.Conn = conn

	if cfg.Journal.Enabled {
		a.Journal = NewJournal(conn.Backend(), cfg.Journal.Collection, cfg.Journal.BatchSize, cfg.Journal.FlushInterval, a.Logger)
		a.Journal.Subscribe(a.Events)
	}

	if err := a.defineKinds(); err != nil {
		a.Close(context.Background())
		return nil, err
	}

	if cfg.Kinds.MigrateOnStart {
		counts, err := conn.MigrateAll(context.Background())
		if err != nil {
			a.Close(context.Background())
			return nil, fmt.Errorf("migrate on start: %w", err)
		}
		for kind, n := range counts {
			if n > 0 {
				a.Logger.Info().Str("kind", kind).Int("documents", n).Msg("migrated on start")
			}
		}
	}

	return a, nil
}

func (a *App) loadConfig(opts Options) error {
	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.Config = cfg

	// Flags win over the file; the holder keeps its own copy for reloads.
	if opts.DatabaseURL != "" {
		cfg.Database.URL = opts.DatabaseURL
	}
	if opts.KindsDir != "" {
		cfg.Kinds.Dir = opts.KindsDir
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	return nil
}

func (a *App) watchConfig(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	holder, err := config.NewHolder(path, a.Logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.Holder = holder

	holder.OnChange(func(c *config.Config) {
		level := SetLevel(c.Logging.Level)
		a.Logger.Info().Str("level", level.String()).Msg("log level applied")
	})
	holder.OnReload(a.Metrics.ConfigReloaded)
	return nil
}

func (a *App) defineKinds() error {
	dir := a.Config.Kinds.Dir
	if dir == "" {
		a.Logger.Warn().Msg("no kinds directory configured, no kinds defined")
		return nil
	}

	defs, err := schema.ParseDir(dir)
	if err != nil {
		return fmt.Errorf("load kinds: %w", err)
	}
	kinds, err := a.Conn.DefineAll(defs)
	if err != nil {
		return fmt.Errorf("define kinds: %w", err)
	}
	a.Kinds = kinds

	a.Logger.Info().
		Str("dir", dir).
		Int("kinds", len(kinds)).
		Msg("kinds defined")
	return nil
}

// Handler returns the browse API for the connection.
func (a *App) Handler() http.Handler {
	rc := apihttp.RouterConfig{
		Metrics: a.Metrics,
		Timeout: a.Config.Server.RequestTimeout,
	}
	if a.Config.Metrics.Enabled {
		rc.MetricsPath = a.Config.Metrics.Path
	}
	browse := apihttp.NewBrowseHandler(a.Conn, a.Logger, Version)
	return apihttp.NewRouter(browse, a.Logger, rc)
}

// Run serves the browse API until ctx is done, then shuts down.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config.Server
	a.HTTPServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if a.Holder != nil {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.Holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Close stops the server, flushes the journal and closes the connection
// after in-flight operations finish.
func (a *App) Close(ctx context.Context) error {
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	a.stopHolder()

	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("journal close error")
		}
	}

	var err error
	if a.Conn != nil {
		if err = a.Conn.Close(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("connection close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return err
}

func (a *App) stopHolder() {
	if a.Holder != nil {
		a.Holder.Stop()
	}
}
