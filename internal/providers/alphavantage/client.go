package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const baseURL = "https://www.alphavantage.co"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Alpha Vantage query API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	header     http.Header
	apiKey     string
}

// ClientOption is a configuration option for the Alpha Vantage client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Alpha Vantage client.
func NewClient(key string, options ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		apiKey:     key,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// HasKey reports whether the client was built with an API key.
func (c *Client) HasKey() bool { return c.apiKey != "" }

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", c.apiKey)
	u := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("unauthorized")
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited")
	default:
		return fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// GlobalQuote retrieves the GLOBAL_QUOTE snapshot for an equity/ETF symbol.
func (c *Client) GlobalQuote(ctx context.Context, symbol string) (*GlobalQuote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	var body struct {
		Quote       map[string]string `json:"Global Quote"`
		Note        string            `json:"Note"`
		Information string            `json:"Information"`
	}
	if err := c.get(ctx, params, &body); err != nil {
		return nil, err
	}
	if len(body.Quote) == 0 {
		// Alpha Vantage reports throttling and bad keys as 200s with a note.
		if body.Note != "" {
			return nil, fmt.Errorf("rate limited: %s", body.Note)
		}
		if body.Information != "" {
			return nil, fmt.Errorf("provider notice: %s", body.Information)
		}
		return nil, fmt.Errorf("empty quote")
	}

	gq := &GlobalQuote{Symbol: body.Quote["01. symbol"]}
	gq.Price = parseFloat(body.Quote["05. price"])
	gq.High = parseFloat(body.Quote["03. high"])
	gq.Low = parseFloat(body.Quote["04. low"])
	gq.PreviousClose = parseFloat(body.Quote["08. previous close"])
	gq.Volume = parseFloat(body.Quote["06. volume"])
	gq.ChangePercent = parseFloat(strings.TrimSuffix(body.Quote["10. change percent"], "%"))
	return gq, nil
}

// ExchangeRate retrieves CURRENCY_EXCHANGE_RATE for a crypto/fiat pair.
func (c *Client) ExchangeRate(ctx context.Context, from, to string) (*ExchangeRate, error) {
	params := url.Values{}
	params.Set("function", "CURRENCY_EXCHANGE_RATE")
	params.Set("from_currency", from)
	params.Set("to_currency", to)

	var body struct {
		Rate        map[string]string `json:"Realtime Currency Exchange Rate"`
		Note        string            `json:"Note"`
		Information string            `json:"Information"`
	}
	if err := c.get(ctx, params, &body); err != nil {
		return nil, err
	}
	if len(body.Rate) == 0 {
		if body.Note != "" {
			return nil, fmt.Errorf("rate limited: %s", body.Note)
		}
		if body.Information != "" {
			return nil, fmt.Errorf("provider notice: %s", body.Information)
		}
		return nil, fmt.Errorf("empty exchange rate")
	}

	return &ExchangeRate{
		From: body.Rate["1. From_Currency Code"],
		To:   body.Rate["3. To_Currency Code"],
		Rate: parseFloat(body.Rate["5. Exchange Rate"]),
	}, nil
}

// GlobalQuote is a parsed GLOBAL_QUOTE payload. Fields the API omitted or
// sent unparseable are nil.
type GlobalQuote struct {
	Symbol        string
	Price         *float64
	High          *float64
	Low           *float64
	PreviousClose *float64
	Volume        *float64
	ChangePercent *float64
}

// ExchangeRate is a parsed CURRENCY_EXCHANGE_RATE payload.
type ExchangeRate struct {
	From string
	To   string
	Rate *float64
}

func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
