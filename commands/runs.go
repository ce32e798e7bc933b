package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-signal-rl/report"
)

func RunsCommand() *cobra.Command {
	var ledgerPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(cmd.Context(), ledgerPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&ledgerPath, "ledger", "runs.db", "Run ledger file")
	return cmd
}

func listRuns(ctx context.Context, ledgerPath string, out io.Writer) error {
	if _, err := os.Stat(ledgerPath); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	ledger := report.NewLedger(ledgerPath)
	if err := ledger.Init(ctx); err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tEPISODES\tSTARTED\tDURATION\tDIR")
	for _, r := range runs {
		duration := "-"
		if r.Finished != nil {
			duration = r.Finished.Sub(r.Started).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			r.ID, r.Mode, r.Status, r.Episodes, r.Total, humanize.Time(r.Started), duration, r.Dir)
	}
	return w.Flush()
}
