package executor

import "testing"

func baseCfg() *Config {
	return &Config{
		MajorCoinLeverage:      20,
		AltcoinLeverage:        10,
		MinConfidence:          75,
		MinRiskReward:          3.0,
		MaxPositions:           2,
		DecisionIntervalRaw:    "3m",
		DecisionTimeoutRaw:     "60s",
		MaxConcurrentDecisions: 1,
	}
}

func assertAccepted(t *testing.T, cfg *Config, ctx *Context, d Decision) Decision {
	t.Helper()
	out := ValidateDecisions(cfg, ctx, []Decision{d})
	if out[0].Rejected {
		t.Fatalf("expected acceptance, got reject reason=%s detail=%s", out[0].RejectReason, out[0].RejectDetail)
	}
	return out[0]
}

func assertRejected(t *testing.T, cfg *Config, ctx *Context, d Decision, want RejectReason) Decision {
	t.Helper()
	out := ValidateDecisions(cfg, ctx, []Decision{d})
	if !out[0].Rejected {
		t.Fatalf("expected rejection %s, got acceptance", want)
	}
	if want != "" && out[0].RejectReason != want {
		t.Fatalf("expected reject reason %s, got %s (%s)", want, out[0].RejectReason, out[0].RejectDetail)
	}
	return out[0]
}

func TestValidateDecisions_OpenLong_OK(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{Positions: nil}
	d := Decision{
		Symbol:          "BTC",
		Action:          "open_long",
		Leverage:        10,
		PositionSizeUSD: 100,
		EntryPrice:      100,
		StopLoss:        95,
		TakeProfit:      115,
		Confidence:      80,
	}
	assertAccepted(t, cfg, ctx, d)
}

func TestValidateDecisions_RR_Fails(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{}
	d := Decision{
		Symbol:          "ETH",
		Action:          "open_long",
		Leverage:        5,
		PositionSizeUSD: 100,
		EntryPrice:      100,
		StopLoss:        90,
		TakeProfit:      105, // RR = 0.5 < 3.0
		Confidence:      90,
	}
	assertRejected(t, cfg, ctx, d, RejectRiskReward)
}

func TestValidateDecisions_LeverageCap_Fails(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{}
	d := Decision{
		Symbol:          "PEPE",
		Action:          "open_long",
		Leverage:        50, // exceeds alt cap
		PositionSizeUSD: 100,
		EntryPrice:      1,
		StopLoss:        0.9,
		TakeProfit:      1.5,
		Confidence:      90,
	}
	assertRejected(t, cfg, ctx, d, RejectMaxLeverage)
}

func TestValidateDecisions_GlobalLeverageCap_Fails(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{GlobalMaxLeverage: 5}
	d := Decision{
		Symbol:          "BTC",
		Action:          "open_long",
		Leverage:        10, // within major cap (20), above global cap (5)
		PositionSizeUSD: 100,
		EntryPrice:      100,
		StopLoss:        95,
		TakeProfit:      115,
		Confidence:      90,
	}
	assertRejected(t, cfg, ctx, d, RejectMaxLeverage)
}

func TestValidateDecisions_MaxPositions_Fails(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{Positions: []PositionInfo{{Symbol: "A"}, {Symbol: "B"}}} // already 2
	d := Decision{
		Symbol:          "C",
		Action:          "open_long",
		Leverage:        2,
		PositionSizeUSD: 100,
		EntryPrice:      10,
		StopLoss:        9,
		TakeProfit:      13,
		Confidence:      80,
	}
	assertRejected(t, cfg, ctx, d, RejectMaxPositions)
}

func TestValidateDecisions_NoAddOrHedge(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{Positions: []PositionInfo{{Symbol: "BTC", Side: "long"}}}
	d := Decision{
		Symbol:          "BTC",
		Action:          "open_short",
		Leverage:        2,
		PositionSizeUSD: 100,
		EntryPrice:      10,
		StopLoss:        11,
		TakeProfit:      7,
		Confidence:      80,
	}
	assertRejected(t, cfg, ctx, d, RejectPyramiding)
}

func TestValidateDecisions_RiskAndSizeCaps(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{Account: AccountInfo{TotalEquity: 10000}, MaxRiskPct: 2, MaxPositionSizeUSD: 150}
	// risk within 2% of equity (=200), size within 150
	ok := Decision{Symbol: "ETH", Action: "open_short", Leverage: 3, PositionSizeUSD: 150, EntryPrice: 100, StopLoss: 110, TakeProfit: 70, Confidence: 90, RiskUSD: 100}
	assertAccepted(t, cfg, ctx, ok)

	badRisk := ok
	badRisk.RiskUSD = 500
	assertRejected(t, cfg, ctx, badRisk, RejectReason("MAX_RISK_PCT"))

	badSize := ok
	badSize.PositionSizeUSD = 151
	assertRejected(t, cfg, ctx, badSize, RejectPositionFraction)
}

func TestValidateDecisions_GrossExposure_Fails(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{
		Account:                  AccountInfo{TotalEquity: 1000, GrossExposure: 750},
		MaxGrossExposureFraction: 0.8,
	}
	d := Decision{Symbol: "ETH", Action: "open_long", Leverage: 2, PositionSizeUSD: 100, EntryPrice: 100, StopLoss: 95, TakeProfit: 115, Confidence: 90}
	assertRejected(t, cfg, ctx, d, RejectGrossExposure)
}

func TestValidateDecisions_InsufficientFreeCash_Fails(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{Account: AccountInfo{TotalEquity: 1000, FreeCash: 10}}
	d := Decision{Symbol: "ETH", Action: "open_long", Leverage: 2, PositionSizeUSD: 100, EntryPrice: 100, StopLoss: 95, TakeProfit: 115, Confidence: 90}
	assertRejected(t, cfg, ctx, d, RejectInsufficientMargin)
}

func TestValidateDecisions_Close_NoPosition_Fails(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{Positions: nil}
	d := Decision{Symbol: "BTC", Action: "close_long"}
	assertRejected(t, cfg, ctx, d, RejectNoPosition)
}

func TestValidateDecisions_Close_WithMatching_Passes(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{Positions: []PositionInfo{{Symbol: "BTC", Side: "long"}}}
	d := Decision{Symbol: "BTC", Action: "close_long"}
	assertAccepted(t, cfg, ctx, d)
}

func TestValidateDecisions_ContinuesPastRejection(t *testing.T) {
	cfg := baseCfg()
	ctx := &Context{}
	bad := Decision{Symbol: "PEPE", Action: "open_long", Leverage: 50, PositionSizeUSD: 100, EntryPrice: 1, StopLoss: 0.9, TakeProfit: 1.5, Confidence: 90}
	good := Decision{Symbol: "BTC", Action: "open_long", Leverage: 10, PositionSizeUSD: 100, EntryPrice: 100, StopLoss: 95, TakeProfit: 115, Confidence: 90}
	out := ValidateDecisions(cfg, ctx, []Decision{bad, good})
	if !out[0].Rejected {
		t.Fatal("expected first decision to be rejected")
	}
	if out[1].Rejected {
		t.Fatalf("expected second decision to be accepted independently of the first, got reject reason=%s", out[1].RejectReason)
	}
}
