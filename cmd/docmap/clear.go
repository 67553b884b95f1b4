package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/docmap/core/odm"
)

var clearCmd = &cobra.Command{
	Use:   "clear <kind>",
	Short: "Delete every document of a kind",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop every collection in the database",
	Long: `Drop every collection in the database. Requires --yes.

Examples:
  docmap drop --yes --db nedb://./data`,
	Args: cobra.NoArgs,
	RunE: runDrop,
}

var (
	clearYes bool
	dropYes  bool
)

func init() {
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(dropCmd)

	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deletion")
	dropCmd.Flags().BoolVar(&dropYes, "yes", false, "confirm deletion")
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return fmt.Errorf("refusing to clear %s without --yes", args[0])
	}
	return withKind(cmd, args[0], func(ctx context.Context, k *odm.Kind) error {
		if err := k.ClearCollection(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared %s\n", checkMark, k.Collection())
		return nil
	})
}

func runDrop(cmd *cobra.Command, args []string) error {
	if !dropYes {
		return fmt.Errorf("refusing to drop the database without --yes")
	}
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context())

	if err := app.Conn.DropDatabase(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Dropped %s\n", checkMark, app.Config.Database.URL)
	return nil
}
