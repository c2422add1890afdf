package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transparencia-lab/contratos-cli/internal/risk"
	"github.com/transparencia-lab/contratos-cli/internal/store"
)

var relevelCmd = &cobra.Command{
	Use:   "relevel",
	Short: "Recompute risk levels from stored scores",
	Long: `Reapplies the configured level thresholds to every stored score
without recomputing features or scores. Run after a threshold change
so presented levels never disagree with the active configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		scorer, err := risk.NewScorer(cfg.Risk)
		if err != nil {
			return err
		}

		scores, err := st.ListRiskScores(ctx, store.ScoreFilter{Limit: -1})
		if err != nil {
			return err
		}
		if len(scores) == 0 {
			return eris.New("relevel: no stored scores, run score first")
		}

		updated := scorer.Relevel(scores)
		if updated == 0 {
			zap.L().Info("levels already current", zap.Int("scores", len(scores)))
			return nil
		}
		if err := st.ReplaceRiskScores(ctx, scores); err != nil {
			return err
		}
		zap.L().Info("levels recomputed",
			zap.Int("scores", len(scores)),
			zap.Int("updated", updated))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(relevelCmd)
}
