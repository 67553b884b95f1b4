package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List defined kinds",
	Long: `List the kinds defined from the kinds directory.

Examples:
  docmap kinds
  docmap kinds --kinds ./schemas`,
	Args: cobra.NoArgs,
	RunE: runKinds,
}

func init() {
	rootCmd.AddCommand(kindsCmd)
}

func runKinds(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context())

	kinds := app.Conn.Kinds()
	if len(kinds) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No kinds defined.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOLLECTION\tVERSION\tEXTENDS\tFIELDS")
	for _, k := range kinds {
		collection := k.Collection()
		if k.IsEmbedded() {
			collection = "(embedded)"
		}
		base := "-"
		if k.Base() != nil {
			base = k.Base().Name()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", k.Name(), collection, k.Version(), base, k.Schema().Len())
	}
	return w.Flush()
}
