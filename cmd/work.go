package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/worker"
)

var (
	workStages      []string
	workConcurrency int
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run pipeline stage consumers until interrupted",
	Long:  "Consumes the enrich, score, and sync topics. Use --stages to run a subset, e.g. a dedicated enrichment worker that never needs CRM credentials.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		needCRM := false
		for _, s := range workStages {
			if strings.TrimSpace(s) == "sync" {
				needCRM = true
			}
		}

		env, err := initEnv(ctx, needCRM)
		if err != nil {
			return err
		}
		defer env.Close()

		var stages []worker.Stage
		for _, name := range workStages {
			switch strings.TrimSpace(name) {
			case "enrich":
				stages = append(stages, &worker.EnrichStage{Orchestrator: env.Orchestrator})
			case "score":
				stages = append(stages, &worker.ScoreStage{Store: env.Store, Scorer: env.Scorer, Queue: env.Queue})
			case "sync":
				stages = append(stages, &worker.SyncStage{Store: env.Store, Engine: env.Engine})
			default:
				return eris.Errorf("unknown stage %q (want enrich, score, or sync)", name)
			}
		}

		workerCfg := worker.Config{
			Concurrency:    cfg.Worker.Concurrency,
			ReceiveTimeout: cfg.Worker.ReceiveTimeout(),
			MaxAttempts:    cfg.Worker.MaxAttempts,
		}
		if workConcurrency > 0 {
			workerCfg.Concurrency = workConcurrency
		}

		zap.L().Info("worker starting",
			zap.Strings("stages", workStages),
			zap.Int("concurrency", workerCfg.Concurrency),
		)

		runner := worker.NewRunner(env.Queue, workerCfg, stages...)
		if err := runner.Run(ctx); err != nil {
			return eris.Wrap(err, "worker run")
		}

		zap.L().Info("worker stopped")
		return nil
	},
}

func init() {
	workCmd.Flags().StringSliceVar(&workStages, "stages", []string{"enrich", "score", "sync"}, "stages to consume")
	workCmd.Flags().IntVar(&workConcurrency, "concurrency", 0, "consumer goroutines per stage (0 = config default)")
	rootCmd.AddCommand(workCmd)
}
