package pricing

import (
	"encoding/json"
	"fmt"
	"time"
)

// AssetClass selects the cache-freshness policy and provider list for a symbol.
type AssetClass string

const (
	Crypto AssetClass = "crypto"
	ETF    AssetClass = "etf"
)

// ParseAssetClass maps user input to an AssetClass.
// "stock" is accepted as an alias for ETF because several upstream APIs
// make no distinction.
func ParseAssetClass(s string) (AssetClass, error) {
	switch AssetClass(s) {
	case Crypto:
		return Crypto, nil
	case ETF, "stock":
		return ETF, nil
	}
	return "", fmt.Errorf("unknown asset class %q", s)
}

// Quote is the normalized price snapshot returned by all providers.
// Price is always set; the remaining fields are optional because not every
// upstream API reports them.
type Quote struct {
	Price         float64  `json:"price"`
	Change24h     *float64 `json:"change_24h,omitempty"`
	DayHigh       *float64 `json:"day_high,omitempty"`
	DayLow        *float64 `json:"day_low,omitempty"`
	PreviousClose *float64 `json:"previous_close,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`

	// Provenance, filled in by the manager.
	Source     string    `json:"source,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Encode serializes a quote for cache storage.
func (q *Quote) Encode() ([]byte, error) {
	return json.Marshal(q)
}

// DecodeQuote is the inverse of Encode.
func DecodeQuote(b []byte) (*Quote, error) {
	var q Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return &q, nil
}

// Float is a convenience for building optional fields.
func Float(v float64) *float64 { return &v }
