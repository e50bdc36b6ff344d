package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
)

const binanceFrame = `{"e":"forceOrder","E":1717200000000,"o":{"s":"BTCUSDT","S":"SELL","o":"LIMIT","f":"IOC","q":"50","p":"68000","ap":"68000","X":"FILLED","l":"50","z":"50","T":1717200000000}}`

func TestParseBinance(t *testing.T) {
	evs, err := ParseBinance([]byte(binanceFrame))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "BTCUSDT", evs[0].Symbol)
	assert.Equal(t, models.Long, evs[0].LiquidatedSide)
	assert.InDelta(t, 3_400_000, evs[0].SizeUSD, 1e-6)
	assert.Equal(t, int64(1717200000000), evs[0].At.UnixMilli())
}

func TestParseBybit(t *testing.T) {
	frame := `{"topic":"liquidation.BTCUSDT","type":"snapshot","ts":1717200000000,
		"data":{"symbol":"BTCUSDT","side":"Sell","price":"70000","size":"20","updatedTime":1717200000100}}`
	evs, err := ParseBybit([]byte(frame))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, models.Short, evs[0].LiquidatedSide)
	assert.InDelta(t, 1_400_000, evs[0].SizeUSD, 1e-6)

	evs, err = ParseBybit([]byte(`{"op":"subscribe","success":true}`))
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestParseOKX(t *testing.T) {
	frame := `{"arg":{"channel":"liquidation-orders","instType":"SWAP"},"data":[{"instId":"BTC-USDT-SWAP",
		"details":[{"side":"sell","sz":"30","bkPx":"50000","ts":"1717200000000"},{"side":"buy","sz":"1","bkPx":"50000","ts":"1717200000000"}]}]}`
	evs, err := ParseOKX([]byte(frame))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, models.Long, evs[0].LiquidatedSide)
	assert.InDelta(t, 1_500_000, evs[0].SizeUSD, 1e-6)
	assert.Equal(t, models.Short, evs[1].LiquidatedSide)

	_, err = ParseOKX([]byte(`not json`))
	assert.Error(t, err)
}

func TestCascadeCandidate(t *testing.T) {
	ev := models.LiquidationEvent{Exchange: Binance, Symbol: "BTCUSDT", LiquidatedSide: models.Long, SizeUSD: 4_000_000}
	c, ok := CascadeCandidate(ev, 1_000_000)
	require.True(t, ok)
	assert.Equal(t, models.StrategyLiquidationCascade, c.Strategy)
	assert.Equal(t, models.TierCritical, c.Tier)
	assert.Equal(t, models.Short, c.Direction)
	assert.Equal(t, 80, c.Confidence)
	assert.Equal(t, models.OriginStream, c.Origin)
	assert.NotEmpty(t, c.ID)

	ev.SizeUSD = 1e10
	c, ok = CascadeCandidate(ev, 1_000_000)
	require.True(t, ok)
	assert.Equal(t, 100, c.Confidence)

	ev.SizeUSD = 999_999
	_, ok = CascadeCandidate(ev, 1_000_000)
	assert.False(t, ok)
}

func TestMonitor_Backoff(t *testing.T) {
	m := NewMonitor(nil, nil)
	assert.Equal(t, time.Duration(0), m.Backoff(0))
	assert.Equal(t, 2*time.Second, m.Backoff(1))
	assert.Equal(t, 32*time.Second, m.Backoff(5))
	assert.Equal(t, 60*time.Second, m.Backoff(6))
}

func wsServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMonitor_InjectsLargeLiquidation(t *testing.T) {
	srv := wsServer(t, `{"op":"pong"}`, binanceFrame)
	ex := Exchange{Name: Binance, URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Parse: ParseBinance}
	client := NewClient(ex)

	got := make(chan models.Candidate, 1)
	m := NewMonitor([]drepo.MarketStream{client}, InjectorFunc(func(_ context.Context, c models.Candidate) error {
		got <- c
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case c := <-got:
		assert.Equal(t, models.Short, c.Direction)
		assert.Equal(t, models.TierCritical, c.Tier)
		assert.Equal(t, []string{Binance}, c.Sources)
	case <-time.After(5 * time.Second):
		t.Fatal("no candidate injected")
	}

	st := m.Status()
	require.Len(t, st, 1)
	assert.True(t, st[0].Connected)
	assert.False(t, st[0].LastHeartbeat.IsZero())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

type fakeStream struct {
	connectErr error
	heartbeat  time.Time
	connects   atomic.Int32

	mu     sync.Mutex
	closed int
}

func (f *fakeStream) Exchange() string { return "fake" }

func (f *fakeStream) Connect(context.Context) error {
	f.connects.Add(1)
	return f.connectErr
}

func (f *fakeStream) Read(context.Context) (<-chan models.LiquidationEvent, <-chan error) {
	return make(chan models.LiquidationEvent), make(chan error)
}

func (f *fakeStream) LastHeartbeat() time.Time { return f.heartbeat }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func noInject(context.Context, models.Candidate) error { return nil }

func TestMonitor_GivesUpAfterAttempts(t *testing.T) {
	fs := &fakeStream{connectErr: errors.New("refused")}
	m := NewMonitor([]drepo.MarketStream{fs}, InjectorFunc(noInject),
		WithReconnect(time.Millisecond, 4*time.Millisecond, 3))

	m.Run(context.Background())

	assert.Equal(t, int32(4), fs.connects.Load())
	st := m.Status()
	require.Len(t, st, 1)
	assert.True(t, st[0].GaveUp)
	assert.False(t, st[0].Connected)
	assert.Equal(t, 3, st[0].ReconnectAttempts)
}

func TestMonitor_WatchdogForcesReconnect(t *testing.T) {
	fs := &fakeStream{heartbeat: time.Now().Add(-time.Hour)}
	m := NewMonitor([]drepo.MarketStream{fs}, InjectorFunc(noInject),
		WithReconnect(time.Millisecond, time.Millisecond, 1),
		WithWatchdog(5*time.Millisecond, time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	// each successful connect resets the attempt counter, so a stale feed keeps cycling
	assert.GreaterOrEqual(t, fs.connects.Load(), int32(2))
	fs.mu.Lock()
	assert.GreaterOrEqual(t, fs.closed, 2)
	fs.mu.Unlock()
	assert.False(t, m.Status()[0].GaveUp)
}
