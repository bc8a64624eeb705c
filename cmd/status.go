package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline counts, provider spend, and queue depths",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Collector.Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "collect status")
		}

		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func formatSnapshot(out io.Writer, snap *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ENRICHMENT\tCOUNT")
	for _, status := range []model.EnrichmentStatus{
		model.EnrichmentPending, model.EnrichmentInProgress,
		model.EnrichmentEnriched, model.EnrichmentFailed,
	} {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, snap.Enrichment[status])
	}

	_, _ = fmt.Fprintln(w, "\nSYNC\tCOUNT")
	for _, status := range []model.SyncStatus{model.SyncPending, model.SyncSynced, model.SyncFailed} {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, snap.Sync[status])
	}

	_, _ = fmt.Fprintf(w, "\nqualified leads (score >= %d)\t%d\n", snap.ScoreThreshold, snap.QualifiedLeads)

	_, _ = fmt.Fprintf(w, "\nPROVIDER (%s)\tREQUESTS\tERRORS\tSPEND\n", snap.Month)
	for _, p := range snap.Providers {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t$%s\n", p.Provider, p.RequestCount, p.ErrorCount, p.Cost.StringFixed(2))
	}
	_, _ = fmt.Fprintf(w, "total\t\t\t$%s\n", snap.TotalSpend.StringFixed(2))

	if len(snap.Queues) > 0 {
		_, _ = fmt.Fprintln(w, "\nQUEUE\tPENDING\tIN-FLIGHT")
		for _, q := range snap.Queues {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", q.Topic, q.Pending, q.Processing)
		}
	}

	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
