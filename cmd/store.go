package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/store"
)

// openStore opens the configured backend. SQLite is the local
// default; Postgres serves shared deployments.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// runStage executes one pipeline stage under a fresh run id and
// records its summary, failed or not, before surfacing the error.
func runStage(ctx context.Context, st store.Store, run func(ctx context.Context, runID string) (model.RunSummary, error)) error {
	runID := uuid.NewString()
	summary, runErr := run(ctx, runID)
	if runErr != nil {
		summary.Status = model.RunStatusFailed
		summary.Note = runErr.Error()
	}
	if summary.Duration == "" && !summary.StartedAt.IsZero() {
		summary.Duration = time.Since(summary.StartedAt).Round(time.Millisecond).String()
	}
	if err := st.RecordRun(ctx, summary); err != nil {
		zap.L().Warn("record run", zap.String("run_id", runID), zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}
	printSummary(summary)
	return nil
}

func printSummary(s model.RunSummary) {
	fmt.Printf("%s %s: %s (%s)\n", s.Stage, s.RunID, s.Status, s.Duration)
	keys := make([]string, 0, len(s.Counters))
	for k := range s.Counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s %d\n", k, s.Counters[k])
	}
	if s.Note != "" {
		fmt.Printf("  %s\n", s.Note)
	}
}
