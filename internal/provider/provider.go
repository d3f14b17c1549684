package provider

import (
	"context"
	"errors"
	"fmt"

	"pricefeed/internal/pricing"
)

// Provider is the base contract every data source implements.
// Name doubles as the rate-limiter endpoint key and the dedup key in the
// manager's provider lists, so it must be stable.
type Provider interface {
	Name() string
	// RequestsPerMinute is the quota this source tolerates.
	RequestsPerMinute() int
	// CredentialsValid reports whether the provider has what it needs to
	// make calls. It must be pure and fast: no network, just a check that
	// required keys are present.
	CredentialsValid() bool
}

// CryptoFetcher is implemented by providers that can quote crypto symbols.
type CryptoFetcher interface {
	Provider
	FetchCrypto(ctx context.Context, symbol string) (*pricing.Quote, error)
}

// ETFFetcher is implemented by providers that can quote ETF/stock symbols.
type ETFFetcher interface {
	Provider
	FetchETF(ctx context.Context, symbol string) (*pricing.Quote, error)
}

// Error wraps a single provider's fetch failure with the provider name.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Provider, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a provider Error from a formatted cause.
func Errorf(name, format string, args ...any) *Error {
	return &Error{Provider: name, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches the provider name to err, passing nil through.
func Wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Provider: name, Err: err}
}

// Common fetch failure causes, usable as errors.Is targets through Error.
var (
	ErrBadStatus        = errors.New("unexpected status code")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrSymbolNotFound   = errors.New("symbol not found")
	ErrMissingAPIKey    = errors.New("missing api key")
)
