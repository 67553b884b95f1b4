package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/docmap/core/odm"
)

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "Manage unique indexes",
	Long: `Manage the unique indexes of a kind's collection.

Examples:
  docmap indexes list User
  docmap indexes create User
  docmap indexes remove User`,
}

var indexesListCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "List indexed fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKind(cmd, args[0], func(ctx context.Context, k *odm.Kind) error {
			fields, err := k.Indexes(ctx)
			if err != nil {
				return err
			}
			for _, f := range fields {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		})
	},
}

var indexesCreateCmd = &cobra.Command{
	Use:   "create <kind>",
	Short: "Create indexes for unique fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKind(cmd, args[0], func(ctx context.Context, k *odm.Kind) error {
			if err := k.CreateIndexes(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created indexes for %s\n", checkMark, k.Name())
			return nil
		})
	},
}

var indexesRemoveCmd = &cobra.Command{
	Use:   "remove <kind>",
	Short: "Remove indexes for unique fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKind(cmd, args[0], func(ctx context.Context, k *odm.Kind) error {
			if err := k.RemoveIndexes(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Removed indexes for %s\n", checkMark, k.Name())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(indexesCmd)

	indexesCmd.AddCommand(indexesListCmd)
	indexesCmd.AddCommand(indexesCreateCmd)
	indexesCmd.AddCommand(indexesRemoveCmd)
}
