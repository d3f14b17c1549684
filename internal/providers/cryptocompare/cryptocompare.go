// Package cryptocompare quotes crypto symbols from the CryptoCompare
// pricemultifull API. An API key is required and sent on every request.
package cryptocompare

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
	URL               string
	Currency          string
	APIKey            string // required; typically CRYPTOCOMPARE_API_KEY
	RequestsPerMinute int
}

type Provider struct {
	cfg    Config
	client httpx.Doer
}

func New(cfg Config, hc httpx.Doer) *Provider {
	if cfg.Name == "" {
		cfg.Name = "CryptoCompare"
	}
	if cfg.URL == "" {
		cfg.URL = "https://min-api.cryptocompare.com/data/pricemultifull"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 20
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string           { return p.cfg.Name }
func (p *Provider) RequestsPerMinute() int { return p.cfg.RequestsPerMinute }
func (p *Provider) CredentialsValid() bool { return p.cfg.APIKey != "" }

func (p *Provider) FetchCrypto(ctx context.Context, symbol string) (*pricing.Quote, error) {
	if p.cfg.APIKey == "" {
		return nil, provider.ErrMissingAPIKey
	}
	sym := strings.ToUpper(symbol)

	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("fsyms", sym)
	q.Set("tsyms", p.cfg.Currency)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Apikey "+p.cfg.APIKey)

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("%w: GET %s -> %d: %s", provider.ErrBadStatus, u.Path, resp.StatusCode, string(b))
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrMalformedPayload, err)
	}
	// CryptoCompare reports some errors as 200s with a Response field.
	if body.Response == "Error" {
		return nil, fmt.Errorf("provider error: %s", body.Message)
	}
	raw, ok := body.Raw[sym][p.cfg.Currency]
	if !ok || raw.Price == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrSymbolNotFound, symbol)
	}

	return &pricing.Quote{
		Price:      *raw.Price,
		Change24h:  raw.ChangePct24h,
		DayHigh:    raw.High24h,
		DayLow:     raw.Low24h,
		Volume:     raw.Volume24h,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

type apiResponse struct {
	Response string                        `json:"Response"`
	Message  string                        `json:"Message"`
	Raw      map[string]map[string]rawTick `json:"RAW"`
}

type rawTick struct {
	Price        *float64 `json:"PRICE"`
	High24h      *float64 `json:"HIGH24HOUR"`
	Low24h       *float64 `json:"LOW24HOUR"`
	ChangePct24h *float64 `json:"CHANGEPCT24HOUR"`
	Volume24h    *float64 `json:"VOLUME24HOUR"`
}
