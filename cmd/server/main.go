package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
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

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	level, err := zerolog.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, responseCache, err := buildManager(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup")
	}

	// Background expiry sweep, stopped with the process.
	go responseCache.Run(ctx, cfg.Cache.SweepInterval())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/price", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handlePrice(w, r, mgr)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(recoverPanic(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildManager(cfg config.Config, logger zerolog.Logger) (*pricefeed.Manager, *cache.Cache, error) {
	var durable cache.DurableStore
	var err error
	if cfg.Cache.RedisAddr != "" {
		durable, err = cache.NewRedisStore(
			redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB}),
			cfg.Cache.Retention(),
		)
	} else {
		durable, err = cache.NewFSStore(cfg.Cache.Dir)
	}
	if err != nil {
		return nil, nil, err
	}

	responseCache := cache.New(cache.Options{
		CryptoMaxAge:       cfg.Cache.CryptoMaxAge(),
		ETFMaxAge:          cfg.Cache.ETFMaxAge(),
		EvictionMultiplier: cfg.Cache.EvictionMultiplier,
	}, durable, logger)

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	mgr := pricefeed.New(pricefeed.Options{
		CryptoMaxAge: cfg.Cache.CryptoMaxAge(),
		ETFMaxAge:    cfg.Cache.ETFMaxAge(),
		FetchTimeout: timeout,
	}, responseCache, ratelimit.New(), logger)

	httpClient := httpx.New(timeout)
	registerProviders(cfg, mgr, httpClient, logger)
	return mgr, responseCache, nil
}

// registerProviders wires every enabled provider in priority order: keyless
// sources first so a missing key never blocks the common path.
func registerProviders(cfg config.Config, mgr *pricefeed.Manager, hc *httpx.Client, logger zerolog.Logger) {
	if p := cfg.Providers.CoinGecko; p.Enabled {
		mgr.RegisterProvider(coingecko.New(coingecko.Config{
			APIKey:            p.APIKey,
			RequestsPerMinute: p.RequestsPerMinute,
		}, hc))
	}
	if p := cfg.Providers.Yahoo; p.Enabled {
		mgr.RegisterProvider(yahoo.New(yahoo.Config{
			RequestsPerMinute: p.RequestsPerMinute,
		}, hc))
	}
	if p := cfg.Providers.CryptoCompare; p.Enabled {
		if p.APIKey == "" {
			logger.Warn().Msg("cryptocompare enabled but CRYPTOCOMPARE_API_KEY not set; it will be skipped")
		}
		mgr.RegisterProvider(cryptocompare.New(cryptocompare.Config{
			APIKey:            p.APIKey,
			RequestsPerMinute: p.RequestsPerMinute,
		}, hc))
	}
	if p := cfg.Providers.AlphaVantage; p.Enabled {
		if p.APIKey == "" {
			logger.Warn().Msg("alphavantage enabled but ALPHAVANTAGE_API_KEY not set; it will be skipped")
		}
		client := alphavantage.NewClient(p.APIKey, alphavantage.WithHTTPClient(hc.HTTP))
		mgr.RegisterProvider(alphavantage.NewProvider(alphavantage.Config{
			RequestsPerMinute: p.RequestsPerMinute,
		}, client))
	}
}

type priceResponse struct {
	Symbol string         `json:"symbol"`
	Class  string         `json:"class"`
	Quote  *pricing.Quote `json:"quote"`
}

func handlePrice(w http.ResponseWriter, r *http.Request, mgr *pricefeed.Manager) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	class, err := pricing.ParseAssetClass(r.URL.Query().Get("class"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, err := mgr.FetchPrice(r.Context(), symbol, class)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, pricefeed.ErrNoProviders) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(priceResponse{Symbol: symbol, Class: string(class), Quote: q})
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
