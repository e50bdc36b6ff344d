package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"AlertGate/internal/domain/models"
	"AlertGate/internal/domain/repository"
	apphttp "AlertGate/pkg/http"
)

// Kind selects the wire format of an upstream.
type Kind string

const (
	KindBinance Kind = "binance"
	KindBybit   Kind = "bybit"
	KindOKX     Kind = "okx"
	// KindJSON reads a Snapshot document as-is, for internal aggregators and tests.
	KindJSON Kind = "json"
)

var defaultBaseURL = map[Kind]string{
	KindBinance: "https://fapi.binance.com",
	KindBybit:   "https://api.bybit.com",
	KindOKX:     "https://www.okx.com",
}

type Config struct {
	Name    string `yaml:"name" validate:"required"`
	Kind    Kind   `yaml:"kind" validate:"required,oneof=binance bybit okx json"`
	BaseURL string `yaml:"base_url"`
	Symbol  string `yaml:"symbol"`
}

// ExchangeSource fetches one Snapshot per call from a public REST API.
type ExchangeSource struct {
	cfg    Config
	client *apphttp.Client
	now    func() time.Time
}

var _ repository.Source = (*ExchangeSource)(nil)

func New(cfg Config, client *apphttp.Client) (*ExchangeSource, error) {
	if cfg.Name == "" {
		cfg.Name = string(cfg.Kind)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL[cfg.Kind]
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("source %s: base_url required for kind %q", cfg.Name, cfg.Kind)
	}
	if cfg.Symbol == "" {
		switch cfg.Kind {
		case KindOKX:
			cfg.Symbol = "BTC-USDT-SWAP"
		default:
			cfg.Symbol = "BTCUSDT"
		}
	}
	if client == nil {
		client = apphttp.NewClient(apphttp.WithTimeout(10 * time.Second))
	}
	return &ExchangeSource{cfg: cfg, client: client, now: time.Now}, nil
}

func (s *ExchangeSource) Name() string { return s.cfg.Name }

func (s *ExchangeSource) Fetch(ctx context.Context) (models.Snapshot, error) {
	var (
		snap models.Snapshot
		err  error
	)
	switch s.cfg.Kind {
	case KindBinance:
		snap, err = s.fetchBinance(ctx)
	case KindBybit:
		snap, err = s.fetchBybit(ctx)
	case KindOKX:
		snap, err = s.fetchOKX(ctx)
	case KindJSON:
		err = s.get(ctx, "", nil, &snap)
	default:
		err = fmt.Errorf("unsupported source kind %q", s.cfg.Kind)
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("fetch %s: %w", s.cfg.Name, err)
	}
	snap.Source = s.cfg.Name
	if snap.Symbol == "" {
		snap.Symbol = s.cfg.Symbol
	}
	snap.FetchedAt = s.now()
	return snap, nil
}

func (s *ExchangeSource) get(ctx context.Context, path string, query map[string][]string, dest any) error {
	return s.client.SendAndParse(ctx, &apphttp.RequestOptions{
		Method:      apphttp.MethodGet,
		URL:         s.cfg.BaseURL + path,
		QueryParams: query,
	}, dest)
}

func (s *ExchangeSource) fetchBinance(ctx context.Context) (models.Snapshot, error) {
	q := map[string][]string{"symbol": {s.cfg.Symbol}}

	var premium struct {
		LastFundingRate string `json:"lastFundingRate"`
		MarkPrice       string `json:"markPrice"`
		IndexPrice      string `json:"indexPrice"`
	}
	if err := s.get(ctx, "/fapi/v1/premiumIndex", q, &premium); err != nil {
		return models.Snapshot{}, fmt.Errorf("premium index: %w", err)
	}
	var ticker struct {
		QuoteVolume        string `json:"quoteVolume"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := s.get(ctx, "/fapi/v1/ticker/24hr", q, &ticker); err != nil {
		return models.Snapshot{}, fmt.Errorf("ticker: %w", err)
	}

	snap := models.Snapshot{
		Volume24h:      value(parse(ticker.QuoteVolume)),
		FundingRate:    parse(premium.LastFundingRate),
		PriceChangePct: parse(ticker.PriceChangePercent),
		BasisPct:       basis(parse(premium.MarkPrice), parse(premium.IndexPrice)),
	}

	// open interest is optional
	var oi struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := s.get(ctx, "/fapi/v1/openInterest", q, &oi); err == nil {
		contracts, price := parse(oi.OpenInterest), parse(ticker.LastPrice)
		if contracts != nil && price != nil {
			snap.OpenInterest = models.Float(*contracts * *price)
		}
	}
	return snap, nil
}

func (s *ExchangeSource) fetchBybit(ctx context.Context) (models.Snapshot, error) {
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				FundingRate       string `json:"fundingRate"`
				Turnover24h       string `json:"turnover24h"`
				OpenInterestValue string `json:"openInterestValue"`
				Price24hPcnt      string `json:"price24hPcnt"`
				MarkPrice         string `json:"markPrice"`
				IndexPrice        string `json:"indexPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	q := map[string][]string{"category": {"linear"}, "symbol": {s.cfg.Symbol}}
	if err := s.get(ctx, "/v5/market/tickers", q, &resp); err != nil {
		return models.Snapshot{}, fmt.Errorf("tickers: %w", err)
	}
	if resp.RetCode != 0 {
		return models.Snapshot{}, fmt.Errorf("tickers: code %d: %s", resp.RetCode, resp.RetMsg)
	}
	if len(resp.Result.List) == 0 {
		return models.Snapshot{}, fmt.Errorf("tickers: symbol %s not found", s.cfg.Symbol)
	}
	t := resp.Result.List[0]
	snap := models.Snapshot{
		Volume24h:    value(parse(t.Turnover24h)),
		FundingRate:  parse(t.FundingRate),
		OpenInterest: parse(t.OpenInterestValue),
		BasisPct:     basis(parse(t.MarkPrice), parse(t.IndexPrice)),
	}
	if p := parse(t.Price24hPcnt); p != nil {
		snap.PriceChangePct = models.Float(*p * 100)
	}
	return snap, nil
}

type okxEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func (s *ExchangeSource) fetchOKX(ctx context.Context) (models.Snapshot, error) {
	q := map[string][]string{"instId": {s.cfg.Symbol}}

	var funding okxEnvelope[struct {
		FundingRate string `json:"fundingRate"`
	}]
	if err := s.get(ctx, "/api/v5/public/funding-rate", q, &funding); err != nil {
		return models.Snapshot{}, fmt.Errorf("funding rate: %w", err)
	}
	if funding.Code != "0" || len(funding.Data) == 0 {
		return models.Snapshot{}, fmt.Errorf("funding rate: code %s: %s", funding.Code, funding.Msg)
	}

	var ticker okxEnvelope[struct {
		Last     string `json:"last"`
		Open24h  string `json:"open24h"`
		VolCcy24 string `json:"volCcy24h"`
	}]
	if err := s.get(ctx, "/api/v5/market/ticker", q, &ticker); err != nil {
		return models.Snapshot{}, fmt.Errorf("ticker: %w", err)
	}

	snap := models.Snapshot{FundingRate: parse(funding.Data[0].FundingRate)}
	if len(ticker.Data) > 0 {
		t := ticker.Data[0]
		last, open, vol := parse(t.Last), parse(t.Open24h), parse(t.VolCcy24)
		if last != nil && vol != nil {
			snap.Volume24h = *vol * *last
		}
		if last != nil && open != nil && *open != 0 {
			snap.PriceChangePct = models.Float((*last - *open) / *open * 100)
		}
	}
	return snap, nil
}

func parse(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func basis(mark, index *float64) *float64 {
	if mark == nil || index == nil || *index == 0 {
		return nil
	}
	return models.Float((*mark - *index) / *index * 100)
}
