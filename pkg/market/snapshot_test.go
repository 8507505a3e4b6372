package market

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataUnavailableError(t *testing.T) {
	err := NewDataUnavailableError("BTC", "only 3 candles, need at least 10")
	require.Error(t, err)
	require.Contains(t, err.Error(), "BTC")
	require.Contains(t, err.Error(), "only 3 candles")
}

func TestCanonicalBasket(t *testing.T) {
	require.ElementsMatch(t, []string{"BTC", "ETH", "SOL", "BNB", "DOGE", "XRP"}, CanonicalBasket)
}
