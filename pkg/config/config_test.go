package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	require.Len(t, c.Collector.Sources, 3)
	assert.Equal(t, "bybit", c.Collector.Sources[1].Kind)
	assert.Equal(t, 2*time.Hour, c.Dedup.CooldownCritical)
	assert.Equal(t, 8*time.Hour, c.Dedup.CooldownBackground)
	assert.Equal(t, 20, c.Dedup.MinConfidenceDelta)
	assert.Equal(t, 3, c.Dedup.MaxPerDay)
	assert.Equal(t, 10, c.Dedup.MaxPerHour)
	assert.Equal(t, "sqlite", c.Queue.Backend)
	assert.Equal(t, time.Minute, c.Queue.BaseBackoff)
	assert.Equal(t, 3, c.Queue.MaxFailures)
	assert.Equal(t, 1e6, c.Stream.LiquidationUSD)
	assert.Equal(t, []string{"binance", "bybit", "okx"}, c.Stream.Exchanges)
	assert.False(t, c.Sinks.Kafka)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 9090
collector:
  sources:
    - name: local
      kind: json
      base_url: http://127.0.0.1:8000/snapshot
dedup:
  max_per_hour: 4
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, 9090, c.Server.Port)
	require.Len(t, c.Collector.Sources, 1)
	assert.Equal(t, "json", c.Collector.Sources[0].Kind)
	assert.Equal(t, 4, c.Dedup.MaxPerHour)
	assert.Equal(t, 3, c.Dedup.MaxPerDay)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad backend":        "queue:\n  backend: postgres\n",
		"redis not enabled":  "queue:\n  backend: redis\n",
		"kafka sink":         "sinks:\n  kafka: true\n",
		"bad source kind":    "collector:\n  sources:\n    - name: x\n      kind: ftx\n",
		"shrinking cooldown": "dedup:\n  cooldown_critical: 10h\n",
		"bad yaml":           "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	env := map[string]string{
		"ALERTGATE_ENV":           "staging",
		"ALERTGATE_HTTP_PORT":     "7000",
		"ALERTGATE_WEBHOOK_URL":   "https://hooks.example.com/x",
		"ALERTGATE_QUEUE_BACKEND": "redis",
		"REDIS_ADDR":              "redis:6379",
		"KAFKA_BROKERS":           "k1:9092, k2:9092",
		"CLICKHOUSE_HOST":         "ch",
		"ALERTGATE_DB_PATH":       "/var/lib/alertgate/state.db",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	require.NoError(t, c.applyEnv(lookup))
	require.NoError(t, c.Validate())

	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, 7000, c.Server.Port)
	assert.Equal(t, "https://hooks.example.com/x", c.Sinks.Webhook.URL)
	assert.Equal(t, "redis", c.Queue.Backend)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.ClickHouse.Enabled)
	assert.Equal(t, "ch", c.ClickHouse.Host)
	assert.Equal(t, "/var/lib/alertgate/state.db", c.Dedup.DBPath)

	env["ALERTGATE_HTTP_PORT"] = "http"
	assert.Error(t, c.applyEnv(lookup))
}
