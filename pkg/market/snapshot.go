package market

import (
	"context"
	"fmt"
	"time"
)

// SnapshotBuilder is implemented by providers that can assemble the full
// structured MarketSnapshot for a cycle, rather than a single coin's Snapshot.
type SnapshotBuilder interface {
	BuildMarketSnapshot(ctx context.Context, cycleID int64, basket []string) (*MarketSnapshot, error)
}

// CanonicalBasket is the fixed set of coins every decision cycle evaluates.
var CanonicalBasket = []string{"BTC", "ETH", "SOL", "BNB", "DOGE", "XRP"}

// SeriesPoint3m is one row of the 3-minute structured series handed to agents.
type SeriesPoint3m struct {
	Close float64
	EMA20 float64
	MACD  float64
	RSI7  float64
	RSI14 float64
}

// SeriesPoint4h is one row of the 4-hour structured series handed to agents.
type SeriesPoint4h struct {
	EMA20 float64
	EMA50 float64
	ATR3  float64
	ATR14 float64
	MACD  float64
	RSI14 float64
}

// CoinView is the per-symbol slice of a MarketSnapshot.
type CoinView struct {
	Symbol       string
	MidPrice     float64
	OpenInterest float64
	FundingRate  float64
	// Series3m and Series4h are ordered oldest to newest and always exactly
	// SeriesLength rows once a CoinView has been produced by BuildMarketSnapshot.
	Series3m []SeriesPoint3m
	Series4h []SeriesPoint4h
}

// SeriesLength is the fixed number of trailing rows kept in each structured series.
const SeriesLength = 10

// MarketSnapshot is the frozen market view a decision cycle hands to every agent.
type MarketSnapshot struct {
	CycleID    int64
	CapturedAt time.Time
	Coins      map[string]CoinView
}

// DataUnavailableError reports that a coin could not be assembled into a
// CoinView because the venue did not return enough candles or metadata to
// satisfy the structured series contract. The cycle must abort rather than
// send agents a snapshot with a missing or truncated coin.
type DataUnavailableError struct {
	Symbol string
	Reason string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("market: data unavailable for %s: %s", e.Symbol, e.Reason)
}

// NewDataUnavailableError constructs a DataUnavailableError.
func NewDataUnavailableError(symbol, reason string) *DataUnavailableError {
	return &DataUnavailableError{Symbol: symbol, Reason: reason}
}
