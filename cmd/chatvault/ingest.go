package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <export.zip>",
	Short: "Import a chat history export archive",
	Long:  "Reads every conversations shard in the archive, reconstructs the visible transcript of each conversation and upserts it into the local database. Re-importing an archive updates conversations in place.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.ingester().Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Imported %d conversations", sum.Total)
		if sum.Skipped > 0 {
			fmt.Fprintf(out, " (%d skipped)", sum.Skipped)
		}
		if sum.EarliestYear != 0 {
			fmt.Fprintf(out, " from %d to %d", sum.EarliestYear, sum.LatestYear)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
