// Package alphavantage quotes both asset classes from Alpha Vantage:
// GLOBAL_QUOTE for ETFs/stocks and CURRENCY_EXCHANGE_RATE for crypto.
// An API key is required for either.
package alphavantage

import (
	"context"
	"fmt"
	"time"

	"pricefeed/internal/pricing"
	"pricefeed/internal/provider"
)

type Config struct {
	Name              string
	Currency          string // quote currency for crypto pairs
	RequestsPerMinute int
}

type Provider struct {
	cfg    Config
	client *Client
}

func NewProvider(cfg Config, client *Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "AlphaVantage"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.RequestsPerMinute <= 0 {
		// The free tier is tiny; stay conservative by default.
		cfg.RequestsPerMinute = 5
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string           { return p.cfg.Name }
func (p *Provider) RequestsPerMinute() int { return p.cfg.RequestsPerMinute }
func (p *Provider) CredentialsValid() bool { return p.client.HasKey() }

func (p *Provider) FetchCrypto(ctx context.Context, symbol string) (*pricing.Quote, error) {
	if !p.client.HasKey() {
		return nil, provider.ErrMissingAPIKey
	}
	rate, err := p.client.ExchangeRate(ctx, symbol, p.cfg.Currency)
	if err != nil {
		return nil, err
	}
	if rate.Rate == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrSymbolNotFound, symbol)
	}
	return &pricing.Quote{
		Price:      *rate.Rate,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

func (p *Provider) FetchETF(ctx context.Context, symbol string) (*pricing.Quote, error) {
	if !p.client.HasKey() {
		return nil, provider.ErrMissingAPIKey
	}
	gq, err := p.client.GlobalQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if gq.Price == nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrSymbolNotFound, symbol)
	}
	return &pricing.Quote{
		Price:         *gq.Price,
		Change24h:     gq.ChangePercent,
		DayHigh:       gq.High,
		DayLow:        gq.Low,
		PreviousClose: gq.PreviousClose,
		Volume:        gq.Volume,
		ReceivedAt:    time.Now().UTC(),
	}, nil
}
