package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pricefeed/internal/cache"
	"pricefeed/internal/config"
	"pricefeed/internal/httpx"
	"pricefeed/internal/pricefeed"
	"pricefeed/internal/pricing"
	"pricefeed/internal/providers/alphavantage"
	"pricefeed/internal/providers/coingecko"
	"pricefeed/internal/providers/cryptocompare"
	"pricefeed/internal/providers/yahoo"
	"pricefeed/internal/ratelimit"
)

// fetch is a one-shot lookup tool: it assembles the same provider chain as
// the server, fetches one symbol, prints the quote as JSON and exits.
func main() {
	var symbol string
	var class string
	var timeout int
	var configPath string
	var noCache bool

	flag.StringVar(&symbol, "symbol", "BTC", "symbol to quote")
	flag.StringVar(&class, "class", "crypto", "asset class: crypto or etf")
	flag.IntVar(&timeout, "timeout", 15, "request timeout seconds")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
	flag.BoolVar(&noCache, "no-cache", false, "skip the durable cache tier")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	log.Logger = logger

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}

	assetClass, err := pricing.ParseAssetClass(class)
	if err != nil {
		logger.Fatal().Err(err).Msg("class")
	}

	var durable cache.DurableStore
	if !noCache {
		durable, err = cache.NewFSStore(cfg.Cache.Dir)
		if err != nil {
			logger.Warn().Err(err).Msg("durable cache unavailable, continuing without it")
			durable = nil
		}
	}
	responseCache := cache.New(cache.Options{
		CryptoMaxAge:       cfg.Cache.CryptoMaxAge(),
		ETFMaxAge:          cfg.Cache.ETFMaxAge(),
		EvictionMultiplier: cfg.Cache.EvictionMultiplier,
	}, durable, logger)

	to := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	mgr := pricefeed.New(pricefeed.Options{
		CryptoMaxAge: cfg.Cache.CryptoMaxAge(),
		ETFMaxAge:    cfg.Cache.ETFMaxAge(),
		FetchTimeout: to,
	}, responseCache, ratelimit.New(), logger)

	hc := httpx.New(to)
	if p := cfg.Providers.CoinGecko; p.Enabled {
		mgr.RegisterProvider(coingecko.New(coingecko.Config{APIKey: p.APIKey, RequestsPerMinute: p.RequestsPerMinute}, hc))
	}
	if p := cfg.Providers.Yahoo; p.Enabled {
		mgr.RegisterProvider(yahoo.New(yahoo.Config{RequestsPerMinute: p.RequestsPerMinute}, hc))
	}
	if p := cfg.Providers.CryptoCompare; p.Enabled {
		mgr.RegisterProvider(cryptocompare.New(cryptocompare.Config{APIKey: p.APIKey, RequestsPerMinute: p.RequestsPerMinute}, hc))
	}
	if p := cfg.Providers.AlphaVantage; p.Enabled {
		client := alphavantage.NewClient(p.APIKey, alphavantage.WithHTTPClient(hc.HTTP))
		mgr.RegisterProvider(alphavantage.NewProvider(alphavantage.Config{RequestsPerMinute: p.RequestsPerMinute}, client))
	}

	ctx, cancel := context.WithTimeout(context.Background(), to+5*time.Second)
	defer cancel()
	q, err := mgr.FetchPrice(ctx, symbol, assetClass)
	if err != nil {
		logger.Fatal().Err(err).Str("symbol", symbol).Msg("fetch failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(q)
}
