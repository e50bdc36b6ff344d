package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"AlertGate/internal/domain/models"
	domrepo "AlertGate/internal/domain/repository"
	"AlertGate/internal/service/stream"
	pkgkafka "AlertGate/pkg/kafka"
)

// LiquidationEventsHandler consumes liquidation events relayed over Kafka and feeds large ones
// to the same injector as the live streams.
type LiquidationEventsHandler struct {
	topic     string
	threshold float64
	injector  stream.Injector
	metrics   domrepo.Metrics
}

func NewLiquidationEventsHandler(topic string, threshold float64, injector stream.Injector, metrics domrepo.Metrics) *LiquidationEventsHandler {
	return &LiquidationEventsHandler{topic: topic, threshold: threshold, injector: injector, metrics: metrics}
}

func (h *LiquidationEventsHandler) Topic() string { return h.topic }

// incoming message schema: {exchange, symbol, side, size_usd, price, t}
// side is the liquidated position, LONG or SHORT; t is unix seconds or ms.
func (h *LiquidationEventsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Exchange string  `json:"exchange"`
		Symbol   string  `json:"symbol"`
		Side     string  `json:"side"`
		SizeUSD  float64 `json:"size_usd"`
		Price    float64 `json:"price"`
		T        int64   `json:"t"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordSourceError("kafka:" + h.topic)
		return fmt.Errorf("liquidation event: %w", err)
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	at := time.Now().UTC()
	if m.T > 0 {
		at = time.Unix(m.T, 0).UTC()
		h.metrics.RecordLatency("event_ingest", time.Since(at))
	}

	ev := models.LiquidationEvent{
		Exchange:       m.Exchange,
		Symbol:         m.Symbol,
		LiquidatedSide: models.Direction(strings.ToUpper(m.Side)),
		Price:          m.Price,
		SizeUSD:        m.SizeUSD,
		At:             at,
	}
	c, ok := stream.CascadeCandidate(ev, h.threshold)
	if !ok {
		return nil
	}
	if err := h.injector.Inject(ctx, c); err != nil {
		return fmt.Errorf("inject %s liquidation: %w", m.Exchange, err)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*LiquidationEventsHandler)(nil)
