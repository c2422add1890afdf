package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/transparencia-lab/contratos-cli/internal/anomaly"
	"github.com/transparencia-lab/contratos-cli/internal/calibrate"
	"github.com/transparencia-lab/contratos-cli/internal/dedup"
)

var (
	calibrateCandidatesPath string
	calibrateEnsemble       bool
	calibrateReproCheck     bool
)

// candidateFile is the on-disk shape of a weight candidate list.
type candidateFile struct {
	Candidates []struct {
		Name    string             `yaml:"name"`
		Weights map[string]float64 `yaml:"weights"`
		ZRef    float64            `yaml:"z_ref"`
	} `yaml:"candidates"`
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Backtest scoring configurations against ground truth",
	Long: `Ranks the production weight table and any candidates by AUC over the
confirmed-problematic vendor set. Read-only: a candidate clearing the
adoption margin is reported, never applied.

Examples:
  # Baseline AUC only
  contratos calibrate

  # Compare candidate weight tables
  contratos calibrate --candidates weights.yaml

  # Sweep the anomaly ensemble mixing factor
  contratos calibrate --ensemble

  # Verify the dedup partition is reproducible
  contratos calibrate --check-reproducibility`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if calibrateReproCheck {
			engine := dedup.NewEngine(cfg.Dedup, st, st)
			if err := calibrate.CheckReproducibility(ctx, engine); err != nil {
				return err
			}
			fmt.Println("dedup partition is reproducible")
			return nil
		}

		harness := calibrate.NewHarness(cfg.Calibrate, cfg.Risk, st)

		if calibrateEnsemble {
			anomalyModel, err := anomaly.ModelForStrategy(cfg.Anomaly.Strategy)
			if err != nil {
				return err
			}
			result, err := harness.EnsembleSweep(ctx, anomalyModel)
			if err != nil {
				return err
			}
			return printJSON(result)
		}

		candidates, err := loadCandidates(calibrateCandidatesPath)
		if err != nil {
			return err
		}
		report, err := harness.CompareWeights(ctx, candidates)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func loadCandidates(path string) ([]calibrate.Candidate, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "calibrate: read %s", path)
	}
	var file candidateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "calibrate: parse %s", path)
	}

	out := make([]calibrate.Candidate, 0, len(file.Candidates))
	for _, c := range file.Candidates {
		riskCfg := cfg.Risk
		riskCfg.Weights = c.Weights
		if c.ZRef > 0 {
			riskCfg.ZRef = c.ZRef
		}
		out = append(out, calibrate.Candidate{Name: c.Name, Cfg: riskCfg})
	}
	zap.L().Info("candidates loaded", zap.String("path", path), zap.Int("count", len(out)))
	return out, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal report")
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	f := calibrateCmd.Flags()
	f.StringVar(&calibrateCandidatesPath, "candidates", "", "YAML file of candidate weight tables")
	f.BoolVar(&calibrateEnsemble, "ensemble", false, "sweep the anomaly mixing factor instead of comparing weights")
	f.BoolVar(&calibrateReproCheck, "check-reproducibility", false, "rebuild the dedup partition twice and diff")
	rootCmd.AddCommand(calibrateCmd)
}
