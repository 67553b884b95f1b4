package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/docmap/core/odm"
)

var findCmd = &cobra.Command{
	Use:   "find <kind>",
	Short: "Query documents of a kind",
	Long: `Query documents of a kind and print them as JSON.

References are populated unless --populate=none.

Examples:
  docmap find Book
  docmap find Book --filter '{"pages": {"$gte": 100}}' --sort -pages --limit 5
  docmap find Book --populate author`,
	Args: cobra.ExactArgs(1),
	RunE: runFind,
}

var countCmd = &cobra.Command{
	Use:   "count <kind>",
	Short: "Count documents of a kind",
	Args:  cobra.ExactArgs(1),
	RunE:  runCount,
}

var (
	findFilter   string
	findSort     string
	findSkip     int
	findLimit    int
	findPopulate string
	countFilter  string
)

func init() {
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(countCmd)

	findCmd.Flags().StringVar(&findFilter, "filter", "", "JSON filter, e.g. '{\"name\": \"ada\"}'")
	findCmd.Flags().StringVar(&findSort, "sort", "", "comma-separated sort keys; prefix with - for descending")
	findCmd.Flags().IntVar(&findSkip, "skip", 0, "number of documents to skip")
	findCmd.Flags().IntVar(&findLimit, "limit", 0, "maximum documents to print (0 = all)")
	findCmd.Flags().StringVar(&findPopulate, "populate", "all", "reference fields to load: all, none, or a comma-separated list")

	countCmd.Flags().StringVar(&countFilter, "filter", "", "JSON filter")
}

func findOptions() ([]odm.QueryOption, error) {
	if findSkip < 0 || findLimit < 0 {
		return nil, fmt.Errorf("--skip and --limit must not be negative")
	}
	opts := []odm.QueryOption{odm.Skip(findSkip), odm.Limit(findLimit)}
	if keys := splitList(findSort); len(keys) > 0 {
		opts = append(opts, odm.Sort(keys...))
	}
	switch findPopulate {
	case "none", "false":
		opts = append(opts, odm.NoPopulate())
	case "", "all", "true":
	default:
		opts = append(opts, odm.Populate(splitList(findPopulate)...))
	}
	return opts, nil
}

func runFind(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(findFilter)
	if err != nil {
		return err
	}
	opts, err := findOptions()
	if err != nil {
		return err
	}

	return withKind(cmd, args[0], func(ctx context.Context, k *odm.Kind) error {
		docs, err := k.Find(ctx, filter, opts...)
		if err != nil {
			return fmt.Errorf("find %s: %w", k.Name(), err)
		}
		out := make([]map[string]any, len(docs))
		for i, d := range docs {
			out[i] = d.ToJSON()
		}
		return printJSON(cmd.OutOrStdout(), out)
	})
}

func runCount(cmd *cobra.Command, args []string) error {
	filter, err := parseFilter(countFilter)
	if err != nil {
		return err
	}

	return withKind(cmd, args[0], func(ctx context.Context, k *odm.Kind) error {
		n, err := k.Count(ctx, filter)
		if err != nil {
			return fmt.Errorf("count %s: %w", k.Name(), err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	})
}
