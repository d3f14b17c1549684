package coingecko_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricefeed/internal/httpx"
	"pricefeed/internal/provider"
	"pricefeed/internal/providers/coingecko"
)

func TestFetchCrypto_MapsSymbolAndParsesMarket(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		require.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"id": "bitcoin",
			"current_price": 64250.12,
			"high_24h": 65000,
			"low_24h": 63120.5,
			"price_change_percentage_24h": -1.25,
			"total_volume": 28123456789
		}]`))
	}))
	defer srv.Close()

	p := coingecko.New(coingecko.Config{URL: srv.URL}, httpx.New(5*time.Second))
	q, err := p.FetchCrypto(context.Background(), "BTC")
	require.NoError(t, err)
	require.InDelta(t, 64250.12, q.Price, 1e-9)
	require.InDelta(t, -1.25, *q.Change24h, 1e-9)
	require.InDelta(t, 65000, *q.DayHigh, 1e-9)
	require.InDelta(t, 63120.5, *q.DayLow, 1e-9)
	require.Nil(t, q.PreviousClose, "coingecko markets payload has no previous close")
}

func TestFetchCrypto_UnknownSymbolFallsThroughLowercased(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "pepecoin", r.URL.Query().Get("ids"))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := coingecko.New(coingecko.Config{URL: srv.URL}, httpx.New(5*time.Second))
	_, err := p.FetchCrypto(context.Background(), "PEPECOIN")
	require.ErrorIs(t, err, provider.ErrSymbolNotFound)
}

func TestFetchCrypto_BadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := coingecko.New(coingecko.Config{URL: srv.URL}, httpx.New(5*time.Second))
	_, err := p.FetchCrypto(context.Background(), "BTC")
	require.ErrorIs(t, err, provider.ErrBadStatus)
}

func TestFetchCrypto_MalformedPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": "shape"`))
	}))
	defer srv.Close()

	p := coingecko.New(coingecko.Config{URL: srv.URL}, httpx.New(5*time.Second))
	_, err := p.FetchCrypto(context.Background(), "BTC")
	require.ErrorIs(t, err, provider.ErrMalformedPayload)
}

func TestConfig_SymbolMapOverridesBuiltins(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "wrapped-bitcoin", r.URL.Query().Get("ids"))
		w.Write([]byte(`[{"id":"wrapped-bitcoin","current_price":64000}]`))
	}))
	defer srv.Close()

	p := coingecko.New(coingecko.Config{
		URL:       srv.URL,
		SymbolMap: map[string]string{"BTC": "wrapped-bitcoin"},
	}, httpx.New(5*time.Second))
	q, err := p.FetchCrypto(context.Background(), "BTC")
	require.NoError(t, err)
	require.InDelta(t, 64000, q.Price, 1e-9)
}
