package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundSummary struct {
	Accepted []string `json:"accepted"`
	Enqueued int      `json:"enqueued"`
}

func serve(t *testing.T, h Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRespond_TypedEnvelope(t *testing.T) {
	rec := serve(t, HandlerFunc(func(e *echo.Echo) {
		e.GET("/round", func(c echo.Context) error {
			return AcceptedResponse(c, roundSummary{Accepted: []string{"Scalping"}, Enqueued: 1})
		})
	}), "/round")

	require.Equal(t, http.StatusAccepted, rec.Code)
	env, err := DecodeEnvelope[roundSummary](rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, env.Status)
	assert.Equal(t, "Accepted", env.Message)
	assert.Equal(t, []string{"Scalping"}, env.Data.Accepted)
	assert.Equal(t, 1, env.Data.Enqueued)
}

func TestAppErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "app error keeps its status",
			err:        NotFoundError("strategy not found").WithError(errors.New("sql: no rows")),
			wantStatus: http.StatusNotFound,
			wantCode:   "ERR_NOT_FOUND",
			wantMsg:    "strategy not found",
		},
		{
			name:       "plain error is opaque",
			err:        errors.New("dial tcp 10.0.0.3:5432: refused"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "ERR_INTERNAL",
			wantMsg:    "something went wrong",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, HandlerFunc(func(e *echo.Echo) {
				e.GET("/fail", func(c echo.Context) error { return AppErrorResponse(c, tt.err) })
			}), "/fail")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotContains(t, rec.Body.String(), "10.0.0.3")
			assert.NotContains(t, rec.Body.String(), "no rows")
			env, err := DecodeEnvelope[[]AppError](rec.Body.Bytes())
			require.NoError(t, err)
			require.Len(t, env.Data, 1)
			assert.Equal(t, tt.wantCode, env.Data[0].Code)
			assert.Equal(t, tt.wantMsg, env.Data[0].Message)
		})
	}
}

func TestHandlers_SkipNilAndMountMetrics(t *testing.T) {
	hs := Handlers{nil, MetricsHandler()}

	rec := serve(t, hs, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHasData(t *testing.T) {
	assert.False(t, HasData(nil))
	assert.False(t, HasData([]byte("null")))
	assert.True(t, HasData([]byte(`{"a":1}`)))
}
