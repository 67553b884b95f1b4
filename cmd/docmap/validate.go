package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/docmap/config"
	"github.com/artpar/docmap/core/odm"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and kind files before deployment",
	Long: `Validate the docmap configuration and kind definitions.

Checks:
  - Config file parses and its values are valid
  - Every kind file in kinds.dir parses
  - Kind references and extends resolve
  - Database opens (optional)

Examples:
  docmap validate
  docmap validate --kinds ./kinds --check-database`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the database opens")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if _, err := os.Stat(cfgFile); err == nil {
		fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)
	} else {
		fmt.Fprintf(out, "Validating environment configuration...\n\n")
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if kindsDir != "" {
		cfg.Kinds.Dir = kindsDir
	}

	if cfg.Kinds.Dir == "" {
		fmt.Fprintf(out, "  - No kinds directory configured\n")
	} else {
		defs, err := schema.ParseDir(cfg.Kinds.Dir)
		if err != nil {
			fmt.Fprintf(out, "  %s Kind files parse\n", crossMark)
			return err
		}
		fmt.Fprintf(out, "  %s Kind files parse (%d kinds)\n", checkMark, len(defs))

		if err := resolveKinds(defs); err != nil {
			fmt.Fprintf(out, "  %s Kinds resolve\n", crossMark)
			return err
		}
		fmt.Fprintf(out, "  %s Kinds resolve\n", checkMark)
	}

	if validateCheckDatabase {
		backend, err := storage.Open(cfg.Database.URL)
		if err != nil {
			fmt.Fprintf(out, "  %s Database opens\n", crossMark)
			return err
		}
		backend.Close()
		fmt.Fprintf(out, "  %s Database opens\n", checkMark)
	}

	fmt.Fprintf(out, "\nConfiguration valid.\n")
	return nil
}

// resolveKinds defines the kinds against a scratch in-memory connection.
func resolveKinds(defs []schema.KindDef) error {
	backend, err := storage.NewMemory(storage.MemoryOptions{})
	if err != nil {
		return err
	}
	conn := odm.New(backend, odm.WithLogger(zerolog.Nop()))
	defer conn.Close(context.Background())

	_, err = conn.DefineAll(defs)
	return err
}
