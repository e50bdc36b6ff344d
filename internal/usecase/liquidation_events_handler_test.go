package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/service/stream"
	"AlertGate/pkg/metrics"
)

type sourceErrorCounter struct {
	metrics.Nop
	errors []string
}

func (c *sourceErrorCounter) RecordSourceError(source string) { c.errors = append(c.errors, source) }

func TestLiquidationEventsHandler_Handle(t *testing.T) {
	wantAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	injectErr := errors.New("emission halted")

	tests := []struct {
		name      string
		payload   string
		injectErr error
		wantErr   error
		wantCand  bool
		wantDir   models.Direction
		wantAt    time.Time
	}{
		{
			name:     "millisecond timestamp",
			payload:  `{"exchange":"binance","symbol":"BTCUSDT","side":"LONG","size_usd":2500000,"price":64000,"t":1717236000000}`,
			wantCand: true,
			wantDir:  models.Short,
			wantAt:   wantAt,
		},
		{
			name:     "second timestamp",
			payload:  `{"exchange":"bybit","symbol":"BTCUSDT","side":"SHORT","size_usd":1500000,"price":64000,"t":1717236000}`,
			wantCand: true,
			wantDir:  models.Long,
			wantAt:   wantAt,
		},
		{
			name:     "lower case side",
			payload:  `{"exchange":"okx","symbol":"BTC-USDT","side":"long","size_usd":3000000,"price":64000,"t":1717236000}`,
			wantCand: true,
			wantDir:  models.Short,
			wantAt:   wantAt,
		},
		{
			name:    "below threshold",
			payload: `{"exchange":"binance","symbol":"BTCUSDT","side":"LONG","size_usd":999999,"price":64000,"t":1717236000}`,
		},
		{
			name:    "unknown side",
			payload: `{"exchange":"binance","symbol":"BTCUSDT","side":"BOTH","size_usd":5000000,"price":64000,"t":1717236000}`,
		},
		{
			name:      "inject error propagates",
			payload:   `{"exchange":"binance","symbol":"BTCUSDT","side":"SHORT","size_usd":2000000,"price":64000,"t":1717236000}`,
			injectErr: injectErr,
			wantErr:   injectErr,
			wantCand:  true,
			wantDir:   models.Long,
			wantAt:    wantAt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []models.Candidate
			inj := stream.InjectorFunc(func(_ context.Context, c models.Candidate) error {
				got = append(got, c)
				return tt.injectErr
			})
			h := NewLiquidationEventsHandler("liquidations", 1_000_000, inj, metrics.Nop{})

			err := h.Handle(context.Background(), []byte(tt.payload))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			if !tt.wantCand {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			c := got[0]
			assert.Equal(t, models.StrategyLiquidationCascade, c.Strategy)
			assert.Equal(t, models.TierCritical, c.Tier)
			assert.Equal(t, models.OriginStream, c.Origin)
			assert.Equal(t, tt.wantDir, c.Direction)
			assert.True(t, tt.wantAt.Equal(c.DetectedAt), "detected at %s", c.DetectedAt)
		})
	}
}

func TestLiquidationEventsHandler_MalformedPayload(t *testing.T) {
	m := &sourceErrorCounter{}
	called := false
	h := NewLiquidationEventsHandler("liquidations", 1_000_000, stream.InjectorFunc(func(context.Context, models.Candidate) error {
		called = true
		return nil
	}), m)

	assert.Error(t, h.Handle(context.Background(), []byte(`{"size_usd":`)))
	assert.False(t, called)
	assert.Equal(t, []string{"kafka:liquidations"}, m.errors)
	assert.Equal(t, "liquidations", h.Topic())
}
