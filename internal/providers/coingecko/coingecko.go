// Package coingecko quotes crypto symbols from the CoinGecko markets API.
// The free tier needs no credentials; an optional demo key raises the quota.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pricefeed/internal/httpx"
	"pricefeed/internal/pricing"
	"pricefeed/internal/provider"
)

// defaultIDs maps common ticker symbols to CoinGecko coin ids.
var defaultIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"ADA":  "cardano",
	"XRP":  "ripple",
	"DOGE": "dogecoin",
	"DOT":  "polkadot",
	"LTC":  "litecoin",
	"LINK": "chainlink",
	"AVAX": "avalanche-2",
}

type Config struct {
	Name              string
	URL               string
	Currency          string
	APIKey            string            // optional demo key
	SymbolMap         map[string]string // overrides/extends the built-in id map
	RequestsPerMinute int
}

type Provider struct {
	cfg    Config
	client httpx.Doer
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "CoinGecko"
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.coingecko.com/api/v3/coins/markets"
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 10
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string           { return p.cfg.Name }
func (p *Provider) RequestsPerMinute() int { return p.cfg.RequestsPerMinute }

// CredentialsValid is always true: the public endpoint works without a key.
func (p *Provider) CredentialsValid() bool { return true }

func (p *Provider) coinID(symbol string) string {
	if v := p.cfg.SymbolMap[symbol]; v != "" {
		return v
	}
	if v := defaultIDs[strings.ToUpper(symbol)]; v != "" {
		return v
	}
	return strings.ToLower(symbol)
}

func (p *Provider) FetchCrypto(ctx context.Context, symbol string) (*pricing.Quote, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("vs_currency", p.cfg.Currency)
	q.Set("ids", p.coinID(symbol))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("%w: GET %s -> %d: %s", provider.ErrBadStatus, u.Path, resp.StatusCode, string(b))
	}

	var markets []market
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if len(markets) == 0 || markets[0].CurrentPrice == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrSymbolNotFound, symbol)
	}

	m := markets[0]
	return &pricing.Quote{
		Price:      *m.CurrentPrice,
		Change24h:  m.ChangePct24h,
		DayHigh:    m.High24h,
		DayLow:     m.Low24h,
		Volume:     m.TotalVolume,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

type market struct {
	ID           string   `json:"id"`
	CurrentPrice *float64 `json:"current_price"`
	High24h      *float64 `json:"high_24h"`
	Low24h       *float64 `json:"low_24h"`
	ChangePct24h *float64 `json:"price_change_percentage_24h"`
	TotalVolume  *float64 `json:"total_volume"`
}
