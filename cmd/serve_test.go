package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/store"
)

func newServerFixture(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	require.NoError(t, st.ReplaceVendorMappings(ctx, []model.VendorMapping{
		{VendorID: 7, CanonicalID: 3, ClusterID: 2, Method: model.MethodTaxIDExact, Confidence: 1.0},
	}))
	require.NoError(t, st.ReplaceRiskScores(ctx, []model.RiskScore{
		{ContractID: 10, Score: 0.61, Level: model.LevelCritical, ModelVersion: "v4.0",
			Components: map[string]float64{"single_bid": 0.15}},
		{ContractID: 11, Score: 0.34, Level: model.LevelHigh, ModelVersion: "v4.0",
			Components: map[string]float64{}},
	}))
	require.NoError(t, st.ReplaceAnomalies(ctx, model.AnomalyModelForest, []model.AnomalyRecord{
		{ContractID: 10, SectorID: 2, Model: model.AnomalyModelForest, AnomalyScore: 1.0},
		{ContractID: 11, SectorID: 2, Model: model.AnomalyModelForest, AnomalyScore: 0.4},
	}))

	return newRouter(st)
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServe_Health(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_VendorMapping(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/vendors/7/mapping")
	require.Equal(t, http.StatusOK, rec.Code)

	var m model.VendorMapping
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, int64(3), m.CanonicalID)
	assert.Equal(t, model.MethodTaxIDExact, m.Method)
}

func TestServe_VendorMapping_NotFound(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/vendors/404/mapping")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_VendorMapping_BadID(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/vendors/abc/mapping")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_ContractScore(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/contracts/10/score")
	require.Equal(t, http.StatusOK, rec.Code)

	var sc model.RiskScore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sc))
	assert.InDelta(t, 0.61, sc.Score, 1e-9)
	assert.Equal(t, model.LevelCritical, sc.Level)
}

func TestServe_ContractScore_NotFound(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/contracts/999/score")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_ScoresLevelFilter(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/scores?level=high")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Scores []model.RiskScore `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Scores, 1)
	assert.Equal(t, int64(11), body.Scores[0].ContractID)
}

func TestServe_ScoresInvalidLimit(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/scores?limit=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_SectorAnomalies(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/sectors/2/anomalies")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Anomalies []model.AnomalyRecord `json:"anomalies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Anomalies, 2)
	// Highest anomaly first.
	assert.Equal(t, int64(10), body.Anomalies[0].ContractID)
}

func TestServe_SectorAnomalies_EmptyOtherModel(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/sectors/2/anomalies?model=zscore")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"anomalies":null}`, rec.Body.String())
}

func TestServe_SectorAnomalies_UnknownModel(t *testing.T) {
	h := newServerFixture(t)

	rec := doGet(t, h, "/sectors/2/anomalies?model=lda")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShutdownServer_DrainsInFlightRequests(t *testing.T) {
	release := make(chan struct{})
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-release
			w.WriteHeader(http.StatusOK)
		}),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln) //nolint:errcheck

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			done <- result{err: err}
			return
		}
		resp.Body.Close()
		done <- result{code: resp.StatusCode}
	}()

	// Let the request reach the handler, then shut down while it is
	// still in flight. The drain must wait for it.
	time.Sleep(50 * time.Millisecond)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	shutdownServer(srv)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.code)
}
