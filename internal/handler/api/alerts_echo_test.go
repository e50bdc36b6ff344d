package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/internal/repository"
	"AlertGate/internal/service/cache"
	"AlertGate/internal/service/collector"
	"AlertGate/internal/service/smoother"
	"AlertGate/internal/services/bundler"
	"AlertGate/internal/services/detectors"
	"AlertGate/internal/services/scoring"
	"AlertGate/internal/usecase"
	xhttp "AlertGate/pkg/http"
)

type fundingSource struct{}

func (fundingSource) Name() string { return "binance" }

func (fundingSource) Fetch(context.Context) (models.Snapshot, error) {
	return models.Snapshot{FundingRate: models.Float(0.0025), Volume24h: 5e9}, nil
}

var dbSeq atomic.Int64

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	db, err := repository.OpenSQLite(fmt.Sprintf("file:api_%d?mode=memory&cache=shared", dbSeq.Add(1)))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	dedup := repository.NewDedupStore(db, models.DefaultDedupPolicy())
	ds, err := detectors.Select([]string{models.StrategyLiquidationCascade}, detectors.DefaultFloor)
	require.NoError(t, err)

	scorer := scoring.New(scoring.DefaultConfig(), nil)
	history := repository.NewMemoryHistory(100)
	q := usecase.NewDeliveryQueue(repository.NewMemoryQueueStore())
	p := usecase.NewPipeline(usecase.PipelineDeps{
		Collector: collector.New([]drepo.Source{fundingSource{}}, collector.WithTimeout(time.Second)),
		Cache:     cache.NewViewCache(time.Minute),
		Analyzer:  detectors.NewAnalyzer(smoother.New(), nil, 1),
		Registry:  detectors.NewRegistry(nil, ds...),
		Scorer:    scorer,
		Bundler:   bundler.New(3),
		Dedup:     dedup,
		History:   history,
		Queue:     q,
	})
	ops := usecase.NewOperations(p, q, dedup, scorer, history, nil, nil)

	e := echo.New()
	NewAlertsEchoHandler(nil, ops).RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) xhttp.APIResponse {
	t.Helper()
	var raw xhttp.RawEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return xhttp.APIResponse{Status: raw.Status, Message: raw.Message}
}

func TestAlertsAPI_RoundThenStats(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodPost, "/api/rounds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep models.RoundReport
	decode(t, rec, &rep)
	assert.Equal(t, []string{models.StrategyLiquidationCascade}, rep.Accepted)
	assert.Equal(t, 1, rep.Enqueued)

	rec = do(e, http.MethodGet, "/api/stats?days=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.Stats
	decode(t, rec, &st)
	assert.Equal(t, 1, st.Queue.Pending)
	assert.Equal(t, 1, st.Recent.LastHour)
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
}

func TestAlertsAPI_StatsValidation(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodGet, "/api/stats?days=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var verrs []xhttp.ValidationError
	decode(t, rec, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "ERR_LTE", verrs[0].Code)
	assert.Equal(t, "days", verrs[0].Field)
}

func TestAlertsAPI_ResetUnknownStrategy(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodDelete, "/api/strategies/Scalping", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(e, http.MethodPost, "/api/rounds", "")
	rec = do(e, http.MethodDelete, "/api/strategies/"+strings.ReplaceAll(models.StrategyLiquidationCascade, " ", "%20"), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAlertsAPI_Outcomes(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodGet, "/api/effectiveness", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(e, http.MethodPost, "/api/outcomes", `{"candidate_id":"nope","actionable":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodPost, "/api/outcomes", `{"candidate_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/rounds", "")
	var rep models.RoundReport
	decode(t, rec, &rep)
	require.Len(t, rep.Candidates, 1)

	body := fmt.Sprintf(`{"candidate_id":%q,"actionable":false}`, rep.Candidates[0].ID)
	rec = do(e, http.MethodPost, "/api/outcomes", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(e, http.MethodGet, "/api/effectiveness?days=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var eff models.Effectiveness
	decode(t, rec, &eff)
	assert.Equal(t, 1, eff.Total)
	assert.Zero(t, eff.ActionableRate)
}

func TestAlertsAPI_Health(t *testing.T) {
	e := newTestEcho(t)

	rec := do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthBody
	decode(t, rec, &body)
	assert.False(t, body.Halted)
	assert.Empty(t, body.HaltReason)

	rec = do(e, http.MethodPost, "/api/resume", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
