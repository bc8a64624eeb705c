package main

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/model"
	"github.com/sells-group/leadgen/internal/queue"
	"github.com/sells-group/leadgen/internal/store"
)

var reclaimRepublish bool

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Requeue stale in-flight messages and deferred companies",
	Long:  "Moves unacked messages from every topic's processing list back onto the topic, then republishes pending companies that fell off the queue (budget-deferred enrichments). Run this only when no workers are consuming, or rely on stage idempotency.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, topic := range []string{queue.TopicEnrich, queue.TopicScore, queue.TopicSync} {
			n, err := env.Queue.ReclaimStale(ctx, topic)
			if err != nil {
				return eris.Wrapf(err, "reclaim %s", topic)
			}
			if n > 0 {
				zap.L().Info("reclaimed stale messages", zap.String("topic", topic), zap.Int("count", n))
			}
		}

		if !reclaimRepublish {
			return nil
		}

		// Budget-deferred companies sit in pending with their delivery
		// already acked; put them back on the enrich topic. A duplicate
		// message is harmless, the claim CAS makes redelivery a no-op.
		pending, err := env.Store.ListCompanies(ctx, store.CompanyFilter{
			EnrichmentStatus: model.EnrichmentPending,
		})
		if err != nil {
			return eris.Wrap(err, "list pending companies")
		}

		var republished int
		for _, c := range pending {
			id, err := uuid.Parse(c.ID)
			if err != nil {
				zap.L().Warn("skipping company with invalid id", zap.String("company_id", c.ID))
				continue
			}
			if err := env.Queue.Publish(ctx, queue.TopicEnrich, queue.NewMessage(id)); err != nil {
				return eris.Wrapf(err, "republish company %s", c.ID)
			}
			republished++
		}

		zap.L().Info("reclaim complete", zap.Int("republished", republished))
		return nil
	},
}

func init() {
	reclaimCmd.Flags().BoolVar(&reclaimRepublish, "republish", true, "republish pending companies to the enrich topic")
	rootCmd.AddCommand(reclaimCmd)
}
