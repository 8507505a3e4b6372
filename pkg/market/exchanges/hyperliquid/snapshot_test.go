package hyperliquid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nof0-api/pkg/market"
)

func TestClientBuildCoinView(t *testing.T) {
	server, client := newMockHyperliquidServer(t)
	defer server.Close()

	ctx := context.Background()
	view, err := client.buildCoinView(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, "BTC", view.Symbol)
	require.InDelta(t, 150.0, view.MidPrice, 1e-9)
	require.InDelta(t, 0.000125, view.FundingRate, 1e-9)
	require.Len(t, view.Series3m, market.SeriesLength)
	require.Len(t, view.Series4h, market.SeriesLength)
	require.InDelta(t, 150.0, view.Series3m[market.SeriesLength-1].Close, 1e-9)
}

func TestClientBuildMarketSnapshot(t *testing.T) {
	server, client := newMockHyperliquidServer(t)
	defer server.Close()

	ctx := context.Background()
	snap, err := client.BuildMarketSnapshot(ctx, 7, []string{"BTC"})
	require.NoError(t, err)
	require.Equal(t, int64(7), snap.CycleID)
	require.Contains(t, snap.Coins, "BTC")
	require.Len(t, snap.Coins["BTC"].Series3m, market.SeriesLength)
}

func TestBuild3mSeriesInsufficientCandles(t *testing.T) {
	short := []Kline{{Close: 1}, {Close: 2}, {Close: 3}}
	_, err := build3mSeries(short)
	require.Error(t, err)
}

func TestBuild4hSeriesInsufficientCandles(t *testing.T) {
	short := []Kline{{Close: 1}, {Close: 2}, {Close: 3}}
	_, err := build4hSeries(short)
	require.Error(t, err)
}
