package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"charge-flip/internal/persistence"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [RUN_ID]",
	Short: "List past runs, or the origin peaks of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := persistence.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	w := cmd.OutOrStdout()
	if len(args) == 1 {
		peaks, err := db.RunPeaks(args[0])
		if err != nil {
			return fmt.Errorf("peaks of %s: %w", args[0], err)
		}
		if cfg.Output == "json" {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(peaks)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tX\tY\tZ\tHEIGHT")
		for _, p := range peaks {
			fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.4f\t%.4g\n", p.Rank, p.Site.X, p.Site.Y, p.Site.Z, p.Height)
		}
		return tw.Flush()
	}

	runs, err := db.RecentRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if cfg.Output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tJOB\tSTRATEGY\tSEED\tSOLVED\tATTEMPTS\tITERATIONS\tR1\tWHEN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%d\t%d\t%.4f\t%s\n",
			r.ID, r.Job, r.Strategy, r.Seed, r.Success, r.Attempts, r.Iterations, r.R1,
			r.Created.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
