package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs and their coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(cmd.Context(), statusLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no recorded runs")
			return nil
		}

		for _, r := range runs {
			fmt.Printf("%s  %-9s %-8s %-8s %s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Stage, r.Status, r.Duration, shortID(r.RunID))
			if r.Note != "" && r.Status != model.RunStatusFailed {
				fmt.Printf("    %s\n", r.Note)
			}
			if r.Status == model.RunStatusFailed {
				fmt.Printf("    failed: %s\n", r.Note)
			}
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}
