package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"pricefeed/internal/cache"
	"pricefeed/internal/pricing"
	"pricefeed/internal/provider"
	"pricefeed/internal/ratelimit"
)

// ErrNoProviders is returned when an asset class has zero credentialed
// providers; no network attempt and no rate-limiter call happens in that case.
var ErrNoProviders = errors.New("no providers available")

// FailoverError reports that every candidate provider was tried and failed.
// It carries only the last candidate's error; earlier failures are logged as
// they happen but not aggregated.
type FailoverError struct {
	Symbol   string
	Class    pricing.AssetClass
	Attempts int
	Last     error
}

func (e *FailoverError) Error() string {
	return fmt.Sprintf("all %d providers failed for %s/%s: %v", e.Attempts, e.Class, e.Symbol, e.Last)
}

func (e *FailoverError) Unwrap() error { return e.Last }

// Options fix the manager's freshness and timeout policy.
type Options struct {
	// CryptoMaxAge and ETFMaxAge bound how old a cached quote may be and
	// still satisfy a FetchPrice call. Crypto gets the shorter window.
	CryptoMaxAge time.Duration
	ETFMaxAge    time.Duration
	// FetchTimeout boxes each individual provider call so a hung upstream
	// degrades to one failed candidate instead of stalling the failover.
	FetchTimeout time.Duration
}

func (o *Options) normalize() {
	if o.CryptoMaxAge <= 0 {
		o.CryptoMaxAge = 5 * time.Minute
	}
	if o.ETFMaxAge <= 0 {
		o.ETFMaxAge = time.Hour
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
}

// Manager orchestrates cache lookups, rate-limited dispatch and ordered
// failover across registered providers. All dependencies are injected; there
// is no ambient global state, so tests build fresh instances freely.
type Manager struct {
	opts    Options
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	log     zerolog.Logger

	mu     sync.Mutex
	crypto []provider.CryptoFetcher
	etf    []provider.ETFFetcher

	sf singleflight.Group
}

func New(opts Options, c *cache.Cache, l *ratelimit.Limiter, log zerolog.Logger) *Manager {
	opts.normalize()
	return &Manager{opts: opts, cache: c, limiter: l, log: log}
}

// RegisterProvider adds p to the ordered list of every asset class it can
// serve, in call order. Registering a name already present in a list is a
// no-op for that list. The provider's declared quota is pushed into the
// rate limiter.
func (m *Manager) RegisterProvider(p provider.Provider) {
	m.limiter.Configure(p.Name(), p.RequestsPerMinute())

	m.mu.Lock()
	defer m.mu.Unlock()
	if cf, ok := p.(provider.CryptoFetcher); ok {
		if !hasName(m.crypto, p.Name()) {
			m.crypto = append(m.crypto, cf)
		}
	}
	if ef, ok := p.(provider.ETFFetcher); ok {
		if !hasName(m.etf, p.Name()) {
			m.etf = append(m.etf, ef)
		}
	}
}

// RemoveProvider drops the named provider from both lists. Idempotent.
func (m *Manager) RemoveProvider(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crypto = removeName(m.crypto, name)
	m.etf = removeName(m.etf, name)
}

func hasName[P provider.Provider](list []P, name string) bool {
	for _, p := range list {
		if p.Name() == name {
			return true
		}
	}
	return false
}

func removeName[P provider.Provider](list []P, name string) []P {
	out := list[:0]
	for _, p := range list {
		if p.Name() != name {
			out = append(out, p)
		}
	}
	return out
}

// candidate is one entry of the per-request failover snapshot.
type candidate struct {
	name  string
	fetch func(ctx context.Context, symbol string) (*pricing.Quote, error)
}

// candidates copies the credential-filtered provider list for class under the
// registry lock, so a concurrent Register/Remove never races an in-flight
// iteration.
func (m *Manager) candidates(class pricing.AssetClass) []candidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []candidate
	switch class {
	case pricing.Crypto:
		for _, p := range m.crypto {
			if p.CredentialsValid() {
				out = append(out, candidate{name: p.Name(), fetch: p.FetchCrypto})
			}
		}
	case pricing.ETF:
		for _, p := range m.etf {
			if p.CredentialsValid() {
				out = append(out, candidate{name: p.Name(), fetch: p.FetchETF})
			}
		}
	}
	return out
}

func (m *Manager) maxAge(class pricing.AssetClass) time.Duration {
	if class == pricing.Crypto {
		return m.opts.CryptoMaxAge
	}
	return m.opts.ETFMaxAge
}

// FetchPrice returns a quote for symbol, serving from cache when fresh enough
// and otherwise trying providers strictly in registration order until one
// succeeds. The winning quote is written back to both cache tiers.
func (m *Manager) FetchPrice(ctx context.Context, symbol string, class pricing.AssetClass) (*pricing.Quote, error) {
	if payload := m.cache.Fetch(ctx, symbol, class, m.maxAge(class)); payload != nil {
		q, err := pricing.DecodeQuote(payload)
		if err == nil {
			return q, nil
		}
		// A corrupt cache entry is a miss, never a hard failure.
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("cache entry undecodable, refetching")
	}

	// Concurrent misses for the same symbol collapse into one provider run.
	v, err, _ := m.sf.Do(string(class)+":"+symbol, func() (any, error) {
		return m.fetchLive(ctx, symbol, class)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pricing.Quote), nil
}

func (m *Manager) fetchLive(ctx context.Context, symbol string, class pricing.AssetClass) (*pricing.Quote, error) {
	cands := m.candidates(class)
	if len(cands) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, c := range cands {
		if err := m.limiter.Wait(ctx, c.name); err != nil {
			// Context gone; the whole request is over, not just this
			// candidate.
			return nil, err
		}

		fetchCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
		q, err := c.fetch(fetchCtx, symbol)
		cancel()
		if err != nil {
			lastErr = provider.Wrap(c.name, err)
			m.log.Warn().Err(err).Str("provider", c.name).Str("symbol", symbol).
				Str("class", string(class)).Msg("provider fetch failed, trying next")
			continue
		}

		q.Source = c.name
		if q.ReceivedAt.IsZero() {
			q.ReceivedAt = time.Now().UTC()
		}
		if payload, err := q.Encode(); err == nil {
			m.cache.Store(ctx, symbol, class, payload)
		}
		return q, nil
	}

	return nil, &FailoverError{Symbol: symbol, Class: class, Attempts: len(cands), Last: lastErr}
}
