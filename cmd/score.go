package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transparencia-lab/contratos-cli/internal/features"
	"github.com/transparencia-lab/contratos-cli/internal/risk"
)

var scoreSkipFeatures bool

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Compute cohort features and risk scores",
	Long: `Runs the feature pass (cohort-relative z-scores per contract) and then
the scoring pass (bounded weighted aggregation into a risk level).
Requires a current vendor mapping; run dedup first.

Examples:
  # Full run
  contratos score

  # Rescore from the cached feature table, e.g. after a weight change
  contratos score --skip-features`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if !scoreSkipFeatures {
			featEngine := features.NewEngine(cfg.Features, st, st)
			if err := runStage(ctx, st, featEngine.Run); err != nil {
				return err
			}
		}

		riskEngine, err := risk.NewEngine(cfg.Risk, st, st)
		if err != nil {
			return err
		}
		return runStage(ctx, st, riskEngine.Run)
	},
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreSkipFeatures, "skip-features", false, "reuse the cached feature table")
	rootCmd.AddCommand(scoreCmd)
}
