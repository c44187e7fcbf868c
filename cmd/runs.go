package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/update-tools/restitch/internal/ledger"
)

var (
	runsLedgerPath string
	runsLimit      int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past reconciliation runs from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := runsLedgerPath
		if path == "" {
			path = cfg.LedgerPath
		}
		if path == "" {
			return fmt.Errorf("no ledger configured: pass --ledger or set ledger_path in the config file")
		}

		l, err := ledger.Open(path)
		if err != nil {
			return err
		}
		defer l.Close()

		runs, err := l.ListRuns(runsLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintf(out, "#%d  %s  %-9s  %s  placed=%d unmatched=%d failed=%d\n",
				r.ID, r.StartedAt.Format(time.RFC3339), r.Outcome,
				r.BuildString, r.Placed, r.Unmatched, r.Failed)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsLedgerPath, "ledger", "", "Run-history database path")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}
