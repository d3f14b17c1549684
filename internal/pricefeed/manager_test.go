package pricefeed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"pricefeed/internal/cache"
	"pricefeed/internal/pricing"
	"pricefeed/internal/provider"
	"pricefeed/internal/ratelimit"
)

// stub is a scriptable provider for both asset classes.
type stub struct {
	name  string
	rpm   int
	creds bool
	quote *pricing.Quote
	err   error
	block bool // sit on ctx until it expires
	calls atomic.Int64
}

func (s *stub) Name() string           { return s.name }
func (s *stub) RequestsPerMinute() int { return s.rpm }
func (s *stub) CredentialsValid() bool { return s.creds }

func (s *stub) fetch(ctx context.Context) (*pricing.Quote, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	q := *s.quote
	return &q, nil
}

func (s *stub) FetchCrypto(ctx context.Context, _ string) (*pricing.Quote, error) {
	return s.fetch(ctx)
}

func (s *stub) FetchETF(ctx context.Context, _ string) (*pricing.Quote, error) {
	return s.fetch(ctx)
}

// cryptoStub exposes no FetchETF, so it registers for crypto only.
// It must not embed stub or the promoted FetchETF would leak through.
type cryptoStub struct{ s *stub }

func (c cryptoStub) Name() string           { return c.s.name }
func (c cryptoStub) RequestsPerMinute() int { return c.s.rpm }
func (c cryptoStub) CredentialsValid() bool { return c.s.creds }
func (c cryptoStub) FetchCrypto(ctx context.Context, sym string) (*pricing.Quote, error) {
	return c.s.FetchCrypto(ctx, sym)
}

func ok(name string, price float64) *stub {
	return &stub{name: name, rpm: 600, creds: true, quote: &pricing.Quote{Price: price}}
}

func failing(name string, err error) *stub {
	return &stub{name: name, rpm: 600, creds: true, err: err}
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	c := cache.New(cache.Options{CryptoMaxAge: time.Minute, ETFMaxAge: time.Minute}, nil, zerolog.Nop())
	return New(Options{CryptoMaxAge: time.Minute, ETFMaxAge: time.Minute, FetchTimeout: 100 * time.Millisecond},
		c, ratelimit.New(), zerolog.Nop())
}

func TestFetchPrice_FailoverToThirdProviderAndCacheWrite(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	a := failing("A", errors.New("boom a"))
	b := failing("B", errors.New("boom b"))
	c := ok("C", 42000.5)
	m.RegisterProvider(a)
	m.RegisterProvider(b)
	m.RegisterProvider(c)

	q, err := m.FetchPrice(context.Background(), "BTC", pricing.Crypto)
	require.NoError(t, err)
	require.Equal(t, 42000.5, q.Price)
	require.Equal(t, "C", q.Source)
	require.EqualValues(t, 1, a.calls.Load())
	require.EqualValues(t, 1, b.calls.Load())
	require.EqualValues(t, 1, c.calls.Load())

	// Immediate repeat is a cache hit: nobody is called again.
	q2, err := m.FetchPrice(context.Background(), "BTC", pricing.Crypto)
	require.NoError(t, err)
	require.Equal(t, q.Price, q2.Price)
	require.EqualValues(t, 1, a.calls.Load())
	require.EqualValues(t, 1, b.calls.Load())
	require.EqualValues(t, 1, c.calls.Load())
}

func TestFetchPrice_AllFailedCarriesLastError(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	errA := errors.New("a down")
	errC := errors.New("c down")
	m.RegisterProvider(failing("A", errA))
	m.RegisterProvider(failing("B", errors.New("b down")))
	m.RegisterProvider(failing("C", errC))

	_, err := m.FetchPrice(context.Background(), "VOO", pricing.ETF)
	var fe *FailoverError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, 3, fe.Attempts)
	require.ErrorIs(t, err, errC)
	require.NotErrorIs(t, err, errA)

	var pe *provider.Error
	require.ErrorAs(t, fe.Last, &pe)
	require.Equal(t, "C", pe.Provider)
}

func TestFetchPrice_NoCredentialedProviders(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	locked := ok("locked", 1)
	locked.creds = false
	m.RegisterProvider(locked)

	_, err := m.FetchPrice(context.Background(), "BTC", pricing.Crypto)
	require.ErrorIs(t, err, ErrNoProviders)
	require.EqualValues(t, 0, locked.calls.Load(), "no network attempt may happen")
}

func TestFetchPrice_UnknownClassHasNoProviders(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.RegisterProvider(ok("A", 1))

	_, err := m.FetchPrice(context.Background(), "X", pricing.AssetClass("bond"))
	require.ErrorIs(t, err, ErrNoProviders)
}

func TestFetchPrice_HungProviderTimesOutAndFailsOver(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	hung := &stub{name: "hung", rpm: 600, creds: true, block: true}
	good := ok("good", 7.5)
	m.RegisterProvider(hung)
	m.RegisterProvider(good)

	start := time.Now()
	q, err := m.FetchPrice(context.Background(), "ETH", pricing.Crypto)
	require.NoError(t, err)
	require.Equal(t, "good", q.Source)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchPrice_CorruptCacheEntryIsRefetched(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.Options{CryptoMaxAge: time.Minute, ETFMaxAge: time.Minute}, nil, zerolog.Nop())
	m := New(Options{CryptoMaxAge: time.Minute, ETFMaxAge: time.Minute}, c, ratelimit.New(), zerolog.Nop())
	p := ok("P", 3.25)
	m.RegisterProvider(p)

	c.Store(context.Background(), "DOGE", pricing.Crypto, []byte("{definitely not json"))

	q, err := m.FetchPrice(context.Background(), "DOGE", pricing.Crypto)
	require.NoError(t, err)
	require.Equal(t, 3.25, q.Price)
	require.EqualValues(t, 1, p.calls.Load())
}

func TestRegisterProvider_DuplicateNameIsNoOp(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.RegisterProvider(ok("A", 1))
	m.RegisterProvider(ok("A", 2))

	require.Len(t, m.candidates(pricing.Crypto), 1)
	require.Len(t, m.candidates(pricing.ETF), 1)
}

func TestRegisterProvider_CapabilitySplit(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.RegisterProvider(cryptoStub{s: ok("crypto-only", 1)})
	m.RegisterProvider(ok("both", 2))

	require.Len(t, m.candidates(pricing.Crypto), 2)
	require.Len(t, m.candidates(pricing.ETF), 1)
}

func TestRemoveProvider_Idempotent(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.RegisterProvider(ok("A", 1))
	m.RegisterProvider(ok("B", 2))

	m.RemoveProvider("A")
	m.RemoveProvider("A")
	m.RemoveProvider("never-registered")

	cands := m.candidates(pricing.Crypto)
	require.Len(t, cands, 1)
	require.Equal(t, "B", cands[0].name)
}

func TestFetchPrice_PriorityOrderIsRegistrationOrder(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	first := ok("first", 1)
	second := ok("second", 2)
	m.RegisterProvider(first)
	m.RegisterProvider(second)

	q, err := m.FetchPrice(context.Background(), "BTC", pricing.Crypto)
	require.NoError(t, err)
	require.Equal(t, "first", q.Source)
	require.EqualValues(t, 0, second.calls.Load(), "later candidates must not be tried after a success")
}
