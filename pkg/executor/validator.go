package executor

import (
	"strings"
	"time"
)

// ValidateDecisions applies the risk gate to each decision independently: a
// failing check rejects that intent (Decision.Rejected/RejectReason/RejectDetail
// are populated) without aborting validation of the remaining intents. The
// returned slice is the same slice passed in, mutated in place.
func ValidateDecisions(cfg *Config, ctx *Context, decisions []Decision) []Decision {
	for i := range decisions {
		validateOne(cfg, ctx, &decisions[i])
	}
	return decisions
}

func reject(d *Decision, reason RejectReason, detail string) {
	d.Rejected = true
	d.RejectReason = reason
	d.RejectDetail = detail
}

func validateOne(cfg *Config, ctx *Context, d *Decision) {
	action := strings.TrimSpace(d.Action)
	symbol := strings.TrimSpace(d.Symbol)

	switch action {
	case "open_long", "open_short":
		validateOpen(cfg, ctx, d, action, symbol)
	case "close_long", "close_short":
		validateClose(ctx, d, action, symbol)
	case "hold", "wait":
		// always passes
	default:
		reject(d, RejectReason("UNKNOWN_ACTION"), "unknown action "+action)
	}
}

func validateOpen(cfg *Config, ctx *Context, d *Decision, action, symbol string) {
	if symbol == "" || d.Leverage <= 0 || d.PositionSizeUSD <= 0 ||
		d.StopLoss <= 0 || d.TakeProfit <= 0 || d.EntryPrice <= 0 {
		reject(d, RejectReason("MISSING_FIELDS"), "required fields missing or non-positive")
		return
	}
	if d.Confidence < 0 || d.Confidence > 100 || d.Confidence < cfg.MinConfidence {
		reject(d, RejectReason("MIN_CONFIDENCE"), "confidence below threshold")
		return
	}

	// Price relationship & RR check
	if action == "open_long" {
		if !(d.TakeProfit > d.EntryPrice && d.EntryPrice > d.StopLoss) {
			reject(d, RejectRiskReward, "long requires take_profit>entry>stop_loss")
			return
		}
		rr := (d.TakeProfit - d.EntryPrice) / (d.EntryPrice - d.StopLoss)
		if rr < cfg.MinRiskReward {
			reject(d, RejectRiskReward, "reward/risk below minimum")
			return
		}
	} else {
		if !(d.StopLoss > d.EntryPrice && d.EntryPrice > d.TakeProfit) {
			reject(d, RejectRiskReward, "short requires stop_loss>entry>take_profit")
			return
		}
		rr := (d.EntryPrice - d.TakeProfit) / (d.StopLoss - d.EntryPrice)
		if rr < cfg.MinRiskReward {
			reject(d, RejectRiskReward, "reward/risk below minimum")
			return
		}
	}

	if ctx != nil && ctx.StopLossRequired && d.StopLoss <= 0 {
		reject(d, RejectStopLossRequired, "stop_loss is required")
		return
	}

	// Leverage caps: global cap, config major/alt cap, and per-asset venue cap; take the minimum.
	capLev := cfg.AltcoinLeverage
	if isBTCETH(symbol) {
		capLev = cfg.MajorCoinLeverage
	}
	if ctx != nil && ctx.GlobalMaxLeverage > 0 && ctx.GlobalMaxLeverage < capLev {
		capLev = ctx.GlobalMaxLeverage
	}
	if ctx != nil && ctx.AssetMeta != nil {
		if meta, ok := ctx.AssetMeta[symbol]; ok && meta.MaxLeverage > 0 {
			if ml := int(meta.MaxLeverage); ml < capLev {
				capLev = ml
			}
		}
	}
	if d.Leverage > capLev {
		reject(d, RejectMaxLeverage, "leverage exceeds cap")
		return
	}

	if ctx == nil {
		return
	}

	// Liquidity threshold: OI * price >= threshold.
	if ctx.LiquidityThresholdUSD > 0 && ctx.MarketDataMap != nil {
		if snap, ok := ctx.MarketDataMap[symbol]; ok && snap != nil && snap.OpenInterest != nil && snap.Price.Last > 0 {
			oiValueUSD := snap.OpenInterest.Latest * snap.Price.Last
			if oiValueUSD+1e-9 < ctx.LiquidityThresholdUSD {
				reject(d, RejectIlliquid, "open interest notional below liquidity threshold")
				return
			}
		}
	}

	// Position value band by category (equity multiples).
	if ctx.Account.TotalEquity > 0 {
		equity := ctx.Account.TotalEquity
		minMult, maxMult := ctx.AltPositionValueMinMultiple, ctx.AltPositionValueMaxMultiple
		if isBTCETH(symbol) {
			minMult, maxMult = ctx.BTCETHPositionValueMinMultiple, ctx.BTCETHPositionValueMaxMultiple
		}
		if minMult > 0 && d.PositionSizeUSD+1e-9 < equity*minMult {
			reject(d, RejectPositionValueBand, "position value below minimum equity multiple")
			return
		}
		if maxMult > 0 && d.PositionSizeUSD-1e-9 > equity*maxMult {
			reject(d, RejectPositionValueBand, "position value exceeds maximum equity multiple")
			return
		}
		if ctx.MaxPositionFraction > 0 && d.PositionSizeUSD-1e-9 > equity*ctx.MaxPositionFraction {
			reject(d, RejectPositionFraction, "position size exceeds max fraction of equity")
			return
		}
	}

	// Gross exposure across all coins: existing positions + this new notional.
	if ctx.MaxGrossExposureFraction > 0 && ctx.Account.TotalEquity > 0 {
		gross := ctx.Account.GrossExposure + d.PositionSizeUSD
		if gross-1e-9 > ctx.Account.TotalEquity*ctx.MaxGrossExposureFraction {
			reject(d, RejectGrossExposure, "gross exposure exceeds cap")
			return
		}
	}

	// Margin usage cap after the new position's margin, and free-cash sufficiency.
	if d.Leverage > 0 {
		newMargin := d.PositionSizeUSD / float64(d.Leverage)
		if ctx.MaxMarginUsagePct > 0 && ctx.Account.TotalEquity > 0 {
			usagePct := 100 * ((ctx.Account.MarginUsed + newMargin) / ctx.Account.TotalEquity)
			if usagePct > ctx.MaxMarginUsagePct+1e-9 {
				reject(d, RejectMarginUsage, "margin usage exceeds cap after new position")
				return
			}
		}
		if ctx.Account.FreeCash > 0 && newMargin-1e-9 > ctx.Account.FreeCash {
			reject(d, RejectInsufficientMargin, "initial margin exceeds available free cash")
			return
		}
	}

	// Cooldown after close.
	if ctx.CooldownAfterClose > 0 && ctx.RecentlyClosed != nil {
		if ts, ok := ctx.RecentlyClosed[symbol]; ok && !ts.IsZero() && time.Since(ts) < ctx.CooldownAfterClose {
			reject(d, RejectCooldown, "symbol in cooldown window after recent close")
			return
		}
	}

	if cfg.MaxPositions > 0 && len(ctx.Positions) >= cfg.MaxPositions {
		reject(d, RejectMaxPositions, "max_positions reached")
		return
	}

	// No pyramiding / hedging: disallow opening if any position already exists on the symbol.
	for _, p := range ctx.Positions {
		if strings.EqualFold(p.Symbol, symbol) {
			reject(d, RejectPyramiding, "position already exists on symbol")
			return
		}
	}

	if ctx.Account.TotalEquity > 0 && ctx.MaxRiskPct > 0 {
		maxRiskUSD := ctx.Account.TotalEquity * (ctx.MaxRiskPct / 100.0)
		if d.RiskUSD > maxRiskUSD+1e-9 {
			reject(d, RejectReason("MAX_RISK_PCT"), "risk_usd exceeds max risk pct of equity")
			return
		}
	}
	if ctx.MaxPositionSizeUSD > 0 && d.PositionSizeUSD > ctx.MaxPositionSizeUSD+1e-9 {
		reject(d, RejectPositionFraction, "position_size_usd exceeds absolute cap")
		return
	}
}

func validateClose(ctx *Context, d *Decision, action, symbol string) {
	if symbol == "" {
		reject(d, RejectReason("MISSING_FIELDS"), "symbol is required")
		return
	}
	if ctx == nil {
		reject(d, RejectNoPosition, "context required to validate close action")
		return
	}
	wantSide := "long"
	if action == "close_short" {
		wantSide = "short"
	}
	for _, p := range ctx.Positions {
		if strings.EqualFold(p.Symbol, symbol) && strings.EqualFold(p.Side, wantSide) {
			return
		}
	}
	reject(d, RejectNoPosition, "no matching "+wantSide+" position to close")
}
