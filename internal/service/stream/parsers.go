package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"AlertGate/internal/domain/models"
)

// Exchange describes how to talk to one liquidation feed.
type Exchange struct {
	Name      string
	URL       string
	Subscribe []any
	Parse     func(b []byte) ([]models.LiquidationEvent, error)
}

const (
	Binance = "binance"
	Bybit   = "bybit"
	OKX     = "okx"
)

// Known returns the built-in exchange definition for name. symbol is used by feeds
// that subscribe per instrument.
func Known(name, symbol string) (Exchange, error) {
	if symbol == "" {
		symbol = "BTCUSDT"
	}
	switch strings.ToLower(name) {
	case Binance:
		return Exchange{Name: Binance, URL: "wss://fstream.binance.com/ws/!forceOrder@arr", Parse: ParseBinance}, nil
	case Bybit:
		return Exchange{
			Name:      Bybit,
			URL:       "wss://stream.bybit.com/v5/public/linear",
			Subscribe: []any{map[string]any{"op": "subscribe", "args": []string{"liquidation." + symbol}}},
			Parse:     ParseBybit,
		}, nil
	case OKX:
		return Exchange{
			Name: OKX,
			URL:  "wss://ws.okx.com:8443/ws/v5/public",
			Subscribe: []any{map[string]any{"op": "subscribe", "args": []map[string]string{
				{"channel": "liquidation-orders", "instType": "SWAP"},
			}}},
			Parse: ParseOKX,
		}, nil
	}
	return Exchange{}, fmt.Errorf("unknown exchange %q", name)
}

// num accepts JSON numbers and numeric strings.
type num float64

func (n *num) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = num(v)
	return nil
}

func msTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// ParseBinance reads a !forceOrder@arr frame. A SELL order closes a long.
func ParseBinance(b []byte) ([]models.LiquidationEvent, error) {
	var m struct {
		O struct {
			Symbol string `json:"s"`
			Side   string `json:"S"`
			Price  num    `json:"p"`
			Qty    num    `json:"q"`
			AvgPx  num    `json:"ap"`
			Time   int64  `json:"T"`
		} `json:"o"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("binance frame: %w", err)
	}
	if m.O.Symbol == "" {
		return nil, nil
	}
	price := float64(m.O.Price)
	if m.O.AvgPx > 0 {
		price = float64(m.O.AvgPx)
	}
	side := models.Short
	if strings.EqualFold(m.O.Side, "SELL") {
		side = models.Long
	}
	return []models.LiquidationEvent{{
		Exchange:       Binance,
		Symbol:         m.O.Symbol,
		LiquidatedSide: side,
		Price:          price,
		SizeUSD:        price * float64(m.O.Qty),
		At:             msTime(m.O.Time),
	}}, nil
}

// ParseBybit reads a liquidation.<symbol> frame. Side is the liquidated position: Buy means longs.
func ParseBybit(b []byte) ([]models.LiquidationEvent, error) {
	var m struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
		TS    int64           `json:"ts"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("bybit frame: %w", err)
	}
	if !strings.HasPrefix(m.Topic, "liquidation") || len(m.Data) == 0 {
		return nil, nil
	}
	type item struct {
		Symbol string `json:"symbol"`
		Side   string `json:"side"`
		Price  num    `json:"price"`
		Size   num    `json:"size"`
		Time   int64  `json:"updatedTime"`
	}
	var items []item
	if m.Data[0] == '[' {
		if err := json.Unmarshal(m.Data, &items); err != nil {
			return nil, fmt.Errorf("bybit data: %w", err)
		}
	} else {
		var one item
		if err := json.Unmarshal(m.Data, &one); err != nil {
			return nil, fmt.Errorf("bybit data: %w", err)
		}
		items = append(items, one)
	}
	out := make([]models.LiquidationEvent, 0, len(items))
	for _, it := range items {
		side := models.Short
		if strings.EqualFold(it.Side, "Buy") {
			side = models.Long
		}
		ts := it.Time
		if ts == 0 {
			ts = m.TS
		}
		out = append(out, models.LiquidationEvent{
			Exchange:       Bybit,
			Symbol:         it.Symbol,
			LiquidatedSide: side,
			Price:          float64(it.Price),
			SizeUSD:        float64(it.Price) * float64(it.Size),
			At:             msTime(ts),
		})
	}
	return out, nil
}

// ParseOKX reads a liquidation-orders push. A sell order closes a long. When the bankruptcy
// price is present the size is converted to USD, otherwise sz is taken as USD.
func ParseOKX(b []byte) ([]models.LiquidationEvent, error) {
	type detail struct {
		Side string `json:"side"`
		Sz   num    `json:"sz"`
		BkPx num    `json:"bkPx"`
		TS   num    `json:"ts"`
	}
	var m struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstID  string   `json:"instId"`
			Side    string   `json:"side"`
			Sz      num      `json:"sz"`
			Details []detail `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("okx frame: %w", err)
	}
	if m.Arg.Channel != "liquidation-orders" {
		return nil, nil
	}
	var out []models.LiquidationEvent
	for _, d := range m.Data {
		details := d.Details
		if len(details) == 0 {
			details = []detail{{Side: d.Side, Sz: d.Sz}}
		}
		for _, x := range details {
			side := models.Short
			if strings.EqualFold(x.Side, "sell") {
				side = models.Long
			}
			size := float64(x.Sz)
			if x.BkPx > 0 {
				size *= float64(x.BkPx)
			}
			out = append(out, models.LiquidationEvent{
				Exchange:       OKX,
				Symbol:         d.InstID,
				LiquidatedSide: side,
				Price:          float64(x.BkPx),
				SizeUSD:        size,
				At:             msTime(int64(x.TS)),
			})
		}
	}
	return out, nil
}
