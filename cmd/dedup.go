package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/transparencia-lab/contratos-cli/internal/dedup"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Rebuild the canonical vendor mapping",
	Long: `Normalizes vendor names, blocks candidate pairs, matches them in
tiers (tax id, normalized name, token overlap, probabilistic linkage),
clusters matches, and replaces the vendor mapping wholesale. Reruns on
an unchanged snapshot produce an identical mapping.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := dedup.NewEngine(cfg.Dedup, st, st)
		return runStage(ctx, st, engine.Run)
	},
}

func init() {
	rootCmd.AddCommand(dedupCmd)
}
