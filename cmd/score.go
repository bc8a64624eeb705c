package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen/internal/scorer"
)

var scoreCompanyID string

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score one company and print the record",
	Long:  "Computes a score record for a single company without persisting it. Useful for inspecting how a record would score under the current scoring config.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		company, err := st.GetCompany(ctx, scoreCompanyID)
		if err != nil {
			return eris.Wrapf(err, "get company %s", scoreCompanyID)
		}
		contacts, err := st.ListContacts(ctx, scoreCompanyID)
		if err != nil {
			return eris.Wrap(err, "list contacts")
		}

		scoreCfg, err := scorer.LoadConfig(cfg.Scoring.ConfigPath)
		if err != nil {
			return eris.Wrap(err, "load scoring config")
		}

		record := scorer.New(scoreCfg).Score(company, contacts)

		out, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal record")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	scoreCmd.Flags().StringVar(&scoreCompanyID, "company-id", "", "company ID to score (required)")
	_ = scoreCmd.MarkFlagRequired("company-id")
	rootCmd.AddCommand(scoreCmd)
}
