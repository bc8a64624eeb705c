package main

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/importer"
	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/queue"
)

var (
	importCSVPath string
	importSource  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import companies from CSV and enqueue them for enrichment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		companies, err := importer.ParseCSV(importCSVPath, importSource)
		if err != nil {
			return eris.Wrap(err, "parse csv")
		}

		var created, updated, enqueued int
		for i := range companies {
			c := &companies[i]
			isNew, err := env.Store.UpsertCompany(ctx, c)
			if err != nil {
				return eris.Wrapf(err, "upsert company %q", c.Name)
			}
			if isNew {
				created++
			} else {
				updated++
			}

			// Re-imports of an already enriched record keep their
			// contacts; only pending companies get enqueued.
			if c.EnrichmentStatus != model.EnrichmentPending {
				continue
			}
			id, err := uuid.Parse(c.ID)
			if err != nil {
				return eris.Wrapf(err, "company %q has invalid id", c.Name)
			}
			if err := env.Queue.Publish(ctx, queue.TopicEnrich, queue.NewMessage(id)); err != nil {
				return eris.Wrapf(err, "enqueue company %q", c.Name)
			}
			enqueued++
		}

		zap.L().Info("import complete",
			zap.Int("created", created),
			zap.Int("updated", updated),
			zap.Int("enqueued", enqueued),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().StringVar(&importSource, "source", "csv", "source label stored on imported records")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
