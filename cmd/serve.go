package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/transparencia-lab/contratos-cli/internal/anomaly"
	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only query API",
	Long: `Serves precomputed tables over HTTP: canonical vendor mappings,
contract risk scores, and per-sector anomaly lists. The API never
computes; stale-but-consistent reads of the last completed run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownServer(srv)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// shutdownGrace bounds how long in-flight requests get to finish.
const shutdownGrace = 10 * time.Second

// shutdownServer drains the server on a fresh context. The signal
// context is already done by the time shutdown starts; reusing it
// would abort in-flight requests immediately.
func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/vendors/{id}/mapping", func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathID(w, req)
		if !ok {
			return
		}
		m, err := st.GetVendorMapping(req.Context(), id)
		if err != nil {
			serverError(w, "vendor mapping", err)
			return
		}
		if m == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown vendor"})
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	r.Get("/contracts/{id}/score", func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathID(w, req)
		if !ok {
			return
		}
		sc, err := st.GetRiskScore(req.Context(), id)
		if err != nil {
			serverError(w, "risk score", err)
			return
		}
		if sc == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "contract not scored"})
			return
		}
		writeJSON(w, http.StatusOK, sc)
	})

	r.Get("/scores", func(w http.ResponseWriter, req *http.Request) {
		filter := store.ScoreFilter{Level: model.RiskLevel(req.URL.Query().Get("level"))}
		if s := req.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			filter.Limit = n
		}
		if s := req.URL.Query().Get("offset"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
				return
			}
			filter.Offset = n
		}
		scores, err := st.ListRiskScores(req.Context(), filter)
		if err != nil {
			serverError(w, "list scores", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
	})

	r.Get("/sectors/{id}/anomalies", func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathID(w, req)
		if !ok {
			return
		}
		anomalyModel, err := anomaly.ModelForStrategy(req.URL.Query().Get("model"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown model"})
			return
		}
		records, err := st.ListSectorAnomalies(req.Context(), id, anomalyModel)
		if err != nil {
			serverError(w, "sector anomalies", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"anomalies": records})
	})

	return r
}

func pathID(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func serverError(w http.ResponseWriter, op string, err error) {
	zap.L().Error(op, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
