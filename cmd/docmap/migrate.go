package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [kind...]",
	Short: "Upgrade stored documents to the current kind versions",
	Long: `Run pending migrations for the named kinds, or for every stored kind
when none is named. Documents already at the current version are left
untouched.

Examples:
  docmap migrate
  docmap migrate Book Author`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context())

	ctx := cmd.Context()
	counts := make(map[string]int)
	if len(args) == 0 {
		if counts, err = app.Conn.MigrateAll(ctx); err != nil {
			return err
		}
	}
	for _, name := range args {
		k, err := app.Conn.Kind(name)
		if err != nil {
			return err
		}
		n, err := k.Migrate(ctx)
		if err != nil {
			return err
		}
		counts[name] = n
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	for _, name := range names {
		k, _ := app.Conn.Kind(name)
		fmt.Fprintf(out, "%s %s: %d migrated (version %d)\n", checkMark, name, counts[name], k.Version())
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "Nothing to migrate.")
	}
	return nil
}
