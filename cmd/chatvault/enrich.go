package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/chatvault/internal/enrich"
)

var (
	enrichEstimateOnly bool
	enrichYes          bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Label and summarize stored conversations with a batch job",
	Long:  "Discovers a label vocabulary from a sample of conversations, then submits one batch job that labels and summarizes every conversation, waits for it and stores the results.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		o := a.orchestrator()
		out := cmd.OutOrStdout()

		est, err := o.Estimate(cmd.Context())
		if err != nil {
			return err
		}
		printEstimate(out, est, a.cfg.Enrich.Provider, a.cfg.Enrich.Model)
		if enrichEstimateOnly {
			return nil
		}
		if !enrichYes && !confirm(cmd.InOrStdin(), out, "Submit the batch job?") {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}

		report, err := o.Run(cmd.Context())
		if err != nil {
			if enrich.KeychainMissing(err) {
				return fmt.Errorf("%w (store one with `chatvault key set`)", err)
			}
			return err
		}
		fmt.Fprintf(out, "Batch %s finished: %d of %d conversations labeled into %d groups (%d results skipped)\n",
			report.JobID, report.Assigned, report.Submitted, len(report.Labels), report.Skipped)
		return nil
	},
}

func printEstimate(w io.Writer, est enrich.Estimate, provider, model string) {
	fmt.Fprintf(w, "Conversations: %d\n", est.Conversations)
	fmt.Fprintf(w, "Model:         %s (%s)\n", model, provider)
	fmt.Fprintf(w, "Input tokens:  ~%d\n", est.InputTokens)
	fmt.Fprintf(w, "Output tokens: ~%d\n", est.OutputTokens)
	fmt.Fprintf(w, "Estimated:     $%.2f\n", est.USD)
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichEstimateOnly, "estimate", false, "Only print the cost estimate")
	enrichCmd.Flags().BoolVarP(&enrichYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(enrichCmd)
}
