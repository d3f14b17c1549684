package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAssetClass(t *testing.T) {
	t.Parallel()

	c, err := ParseAssetClass("crypto")
	require.NoError(t, err)
	require.Equal(t, Crypto, c)

	c, err = ParseAssetClass("etf")
	require.NoError(t, err)
	require.Equal(t, ETF, c)

	// "stock" aliases to ETF.
	c, err = ParseAssetClass("stock")
	require.NoError(t, err)
	require.Equal(t, ETF, c)

	_, err = ParseAssetClass("bond")
	require.Error(t, err)
	_, err = ParseAssetClass("")
	require.Error(t, err)
}

func TestQuote_EncodeDecodePreservesOptionalFields(t *testing.T) {
	t.Parallel()

	q := &Quote{
		Price:     64250.12,
		Change24h: Float(-1.25),
		DayLow:    Float(63120.5),
		Source:    "CoinGecko",
	}
	b, err := q.Encode()
	require.NoError(t, err)

	got, err := DecodeQuote(b)
	require.NoError(t, err)
	require.Equal(t, q.Price, got.Price)
	require.Equal(t, *q.Change24h, *got.Change24h)
	require.Nil(t, got.DayHigh)
	require.Nil(t, got.Volume)
	require.Equal(t, "CoinGecko", got.Source)
}

func TestDecodeQuote_Garbage(t *testing.T) {
	t.Parallel()

	_, err := DecodeQuote([]byte("{nope"))
	require.Error(t, err)
}
