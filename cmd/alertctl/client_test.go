package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
)

func TestAPIClient_DecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stats", r.URL.Path)
		assert.Equal(t, "14", r.URL.Query().Get("days"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"message":"OK","data":{"queue":{"pending":2},"halted":true,"halt_reason":"corrupt"}}`))
	}))
	defer srv.Close()

	var st models.Stats
	c := newAPIClient(srv.URL+"/", time.Second)
	require.NoError(t, c.call(context.Background(), http.MethodGet, "/api/stats", map[string][]string{"days": {"14"}}, nil, &st))
	assert.Equal(t, 2, st.Queue.Pending)
	assert.True(t, st.Halted)
	assert.Equal(t, "corrupt", st.HaltReason)
}

func TestAPIClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"message":"Not Found","data":[{"code":"ERR_NOT_FOUND","message":"strategy not found","field":"name"}]}`))
	}))
	defer srv.Close()

	err := newAPIClient(srv.URL, time.Second).call(context.Background(), http.MethodDelete, "/api/strategies/x", nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "name: strategy not found")
}

func TestResetCommand(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--addr", srv.URL, "reset", "Liquidation Cascade Risk"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "/api/strategies/Liquidation%20Cascade%20Risk", gotPath)
	assert.Contains(t, out.String(), "Liquidation Cascade Risk")
}
