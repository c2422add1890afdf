package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transparencia-lab/contratos-cli/internal/anomaly"
)

var anomalyStrategy string

var anomalyCmd = &cobra.Command{
	Use:   "anomaly",
	Short: "Flag per-sector anomalous contracts",
	Long: `Scores each sector's contracts with an isolation forest (or the
z-score fallback) over the cached feature vectors and retains the
top-N per sector. Sectors below the minimum size are skipped and
counted, not silently scored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		anomalyCfg := cfg.Anomaly
		if anomalyStrategy != "" {
			anomalyCfg.Strategy = anomalyStrategy
		}
		engine, err := anomaly.NewEngine(anomalyCfg, st, st)
		if err != nil {
			return err
		}
		return runStage(ctx, st, engine.Run)
	},
}

func init() {
	anomalyCmd.Flags().StringVar(&anomalyStrategy, "strategy", "", "isolation_forest or zscore (default from config)")
	rootCmd.AddCommand(anomalyCmd)
}
