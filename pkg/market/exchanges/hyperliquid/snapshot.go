package hyperliquid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"nof0-api/pkg/llm"
	"nof0-api/pkg/market"
	"nof0-api/pkg/market/indicators"
)

const (
	snapshot3mFetchLimit = 200
	snapshot4hFetchLimit = 100
	snapshotFetchRetries = 3
)

// snapshotRetry wraps each per-coin fetch in the same exponential backoff the
// LLM client uses, so a single dropped request does not abort the cycle.
var snapshotRetry = llm.NewRetryHandler(llm.RetryConfig{
	MaxRetries:     snapshotFetchRetries,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2.0,
})

// BuildMarketSnapshot assembles the structured, fixed-length market view the
// decision cycle hands to every agent. Every coin in basket is fetched
// concurrently; any coin that cannot produce a full SeriesLength series
// aborts the whole snapshot with a *market.DataUnavailableError, since a
// partial snapshot would silently starve one agent's prompt of context the
// others have.
func (c *Client) BuildMarketSnapshot(ctx context.Context, cycleID int64, basket []string) (*market.MarketSnapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(basket) == 0 {
		basket = market.CanonicalBasket
	}

	type result struct {
		symbol string
		view   market.CoinView
		err    error
	}

	results := make(chan result, len(basket))
	var wg sync.WaitGroup
	for _, symbol := range basket {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			view, err := c.buildCoinViewWithRetry(ctx, symbol)
			results <- result{symbol: symbol, view: view, err: err}
		}(symbol)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	coins := make(map[string]market.CoinView, len(basket))
	var firstErr error
	for r := range results {
		if r.err != nil {
			logx.WithContext(ctx).Errorf("hyperliquid: build coin view symbol=%s err=%v", r.symbol, r.err)
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		coins[r.symbol] = r.view
	}
	if firstErr != nil {
		return nil, firstErr
	}

	return &market.MarketSnapshot{
		CycleID:    cycleID,
		CapturedAt: time.Now().UTC(),
		Coins:      coins,
	}, nil
}

func (c *Client) buildCoinViewWithRetry(ctx context.Context, symbol string) (market.CoinView, error) {
	var view market.CoinView
	err := snapshotRetry.Do(ctx, func() error {
		v, err := c.buildCoinView(ctx, symbol)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return market.CoinView{}, market.NewDataUnavailableError(symbol, err.Error())
	}
	return view, nil
}

func (c *Client) buildCoinView(ctx context.Context, symbol string) (market.CoinView, error) {
	info, err := c.GetMarketInfo(ctx, symbol)
	if err != nil {
		return market.CoinView{}, fmt.Errorf("market info: %w", err)
	}

	klines3m, err := c.GetKlines(ctx, symbol, "3m", snapshot3mFetchLimit)
	if err != nil {
		return market.CoinView{}, fmt.Errorf("3m klines: %w", err)
	}
	klines4h, err := c.GetKlines(ctx, symbol, "4h", snapshot4hFetchLimit)
	if err != nil {
		return market.CoinView{}, fmt.Errorf("4h klines: %w", err)
	}

	series3m, err := build3mSeries(klines3m)
	if err != nil {
		return market.CoinView{}, err
	}
	series4h, err := build4hSeries(klines4h)
	if err != nil {
		return market.CoinView{}, err
	}

	return market.CoinView{
		Symbol:       info.Symbol,
		MidPrice:     info.MidPrice,
		OpenInterest: info.OpenInterest,
		FundingRate:  info.FundingRate,
		Series3m:     series3m,
		Series4h:     series4h,
	}, nil
}

func build3mSeries(klines []Kline) ([]market.SeriesPoint3m, error) {
	if len(klines) < market.SeriesLength {
		return nil, fmt.Errorf("only %d candles, need at least %d", len(klines), market.SeriesLength)
	}
	closes := extractCloses(klines)
	ema20 := indicators.EMA(closes, 20)
	macd, _, _ := indicators.MACD(closes)
	rsi7 := indicators.RSI(closes, 7)
	rsi14 := indicators.RSI(closes, 14)

	start := len(closes) - market.SeriesLength
	rows := make([]market.SeriesPoint3m, market.SeriesLength)
	for i := 0; i < market.SeriesLength; i++ {
		idx := start + i
		rows[i] = market.SeriesPoint3m{
			Close: closes[idx],
			EMA20: nanToZero(ema20[idx]),
			MACD:  nanToZero(macd[idx]),
			RSI7:  nanToZero(rsi7[idx]),
			RSI14: nanToZero(rsi14[idx]),
		}
	}
	return rows, nil
}

func build4hSeries(klines []Kline) ([]market.SeriesPoint4h, error) {
	if len(klines) < market.SeriesLength {
		return nil, fmt.Errorf("only %d candles, need at least %d", len(klines), market.SeriesLength)
	}
	closes := extractCloses(klines)
	ema20 := indicators.EMA(closes, 20)
	ema50 := indicators.EMA(closes, 50)
	macd, _, _ := indicators.MACD(closes)
	rsi14 := indicators.RSI(closes, 14)

	atrInput := convertForATR(klines)
	atr3 := indicators.ATR(atrInput, 3)
	atr14 := indicators.ATR(atrInput, 14)

	start := len(closes) - market.SeriesLength
	rows := make([]market.SeriesPoint4h, market.SeriesLength)
	for i := 0; i < market.SeriesLength; i++ {
		idx := start + i
		rows[i] = market.SeriesPoint4h{
			EMA20: nanToZero(ema20[idx]),
			EMA50: nanToZero(ema50[idx]),
			ATR3:  nanToZero(atr3[idx]),
			ATR14: nanToZero(atr14[idx]),
			MACD:  nanToZero(macd[idx]),
			RSI14: nanToZero(rsi14[idx]),
		}
	}
	return rows, nil
}

func nanToZero(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	return v
}
