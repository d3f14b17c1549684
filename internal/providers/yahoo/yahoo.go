// Package yahoo quotes ETF and stock symbols from the Yahoo Finance chart
// API, which is keyless.
package yahoo

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

type Config struct {
	Name              string
	URL               string // base, symbol is appended as a path element
	RequestsPerMinute int
}

type Provider struct {
	cfg    Config
	client httpx.Doer
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "YahooFinance"
	}
	if cfg.URL == "" {
		cfg.URL = "https://query1.finance.yahoo.com/v8/finance/chart"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string           { return p.cfg.Name }
func (p *Provider) RequestsPerMinute() int { return p.cfg.RequestsPerMinute }
func (p *Provider) CredentialsValid() bool { return true }

func (p *Provider) FetchETF(ctx context.Context, symbol string) (*pricing.Quote, error) {
	u := strings.TrimRight(p.cfg.URL, "/") + "/" + url.PathEscape(strings.ToUpper(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", provider.ErrSymbolNotFound, symbol)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("%w: GET %s -> %d: %s", provider.ErrBadStatus, u, resp.StatusCode, string(b))
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	if body.Chart.Error != nil {
		return nil, fmt.Errorf("provider error: %s", body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 || body.Chart.Result[0].Meta.RegularMarketPrice == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrSymbolNotFound, symbol)
	}

	meta := body.Chart.Result[0].Meta
	q := &pricing.Quote{
		Price:         *meta.RegularMarketPrice,
		DayHigh:       meta.RegularMarketDayHigh,
		DayLow:        meta.RegularMarketDayLow,
		PreviousClose: meta.ChartPreviousClose,
		Volume:        meta.RegularMarketVolume,
		ReceivedAt:    time.Now().UTC(),
	}
	if meta.ChartPreviousClose != nil && *meta.ChartPreviousClose != 0 {
		q.Change24h = pricing.Float((q.Price - *meta.ChartPreviousClose) / *meta.ChartPreviousClose * 100)
	}
	return q, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice   *float64 `json:"regularMarketPrice"`
				RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
				ChartPreviousClose   *float64 `json:"chartPreviousClose"`
				RegularMarketVolume  *float64 `json:"regularMarketVolume"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}
