package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/docmap/bootstrap"
	"github.com/artpar/docmap/core/odm"
	"github.com/artpar/docmap/core/storage"
)

const (
	checkMark = "✓"
	crossMark = "✗"
)

var (
	// Global flags
	cfgFile  string
	dbURL    string
	kindsDir string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docmap",
	Short: "Document mapper with schemas, references and migrations",
	Long: `docmap maps typed records onto a document store.

Kinds are declared in YAML files and stored in an embedded document
database (nedb://, memory://) or SQLite (sqlite://).

Quick start:
  docmap validate                  # Check config and kind files
  docmap migrate                   # Upgrade stored documents
  docmap serve                     # Start the browse API

Data:
  docmap kinds                     # List defined kinds
  docmap find Book --limit 10      # Query documents
  docmap count Book                # Count documents
  docmap indexes list Book         # Inspect unique indexes`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "docmap.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "database url (overrides config)")
	rootCmd.PersistentFlags().StringVar(&kindsDir, "kinds", "", "directory of kind files (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
}

// openApp wires a docmap instance for a one-shot command. Logs stay at
// warn unless a level is asked for.
func openApp(cmd *cobra.Command, quiet bool) (*bootstrap.App, error) {
	level := logLevel
	if level == "" && quiet {
		level = "warn"
	}
	return bootstrap.New(bootstrap.Options{
		ConfigPath:  cfgFile,
		DatabaseURL: dbURL,
		KindsDir:    kindsDir,
		LogLevel:    level,
		LogOutput:   cmd.ErrOrStderr(),
	})
}

// withKind runs fn against a stored kind and closes the app afterwards.
func withKind(cmd *cobra.Command, name string, fn func(ctx context.Context, k *odm.Kind) error) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	k, err := app.Conn.Kind(name)
	if err != nil {
		return err
	}
	if k.IsEmbedded() {
		return fmt.Errorf("%s is an embedded kind and has no collection", name)
	}
	return fn(cmd.Context(), k)
}

func parseFilter(raw string) (storage.Filter, error) {
	if raw == "" {
		return nil, nil
	}
	var filter storage.Filter
	if err := json.Unmarshal([]byte(raw), &filter); err != nil {
		return nil, fmt.Errorf("invalid --filter: %w", err)
	}
	return filter, nil
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
