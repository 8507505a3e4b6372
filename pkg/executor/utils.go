package executor

import (
	"strings"
)

// sanitizeResponse performs minimal cleanup prior to parsing.
func sanitizeResponse(s string) string {
	s = strings.TrimSpace(s)
	// strip UTF-8 BOM if present
	s = strings.TrimPrefix(s, "﻿")
	return s
}

// decisionContract mirrors the structured JSON contract expected from the LLM for
// a single action. size_fraction is spec.md's primary sizing field; position_size_usd
// is accepted as a denormalized convenience the LLM may emit instead/alongside it.
type decisionContract struct {
	Signal                string  `json:"signal"`
	Symbol                string  `json:"symbol"`
	Leverage              int     `json:"leverage"`
	SizeFraction          float64 `json:"size_fraction"`
	PositionSizeUSD       float64 `json:"position_size_usd"`
	EntryPrice            float64 `json:"entry_price"`
	StopLoss              float64 `json:"stop_loss"`
	TakeProfit            float64 `json:"take_profit"`
	RiskUSD               float64 `json:"risk_usd"`
	Confidence            int     `json:"confidence"`
	InvalidationCondition string  `json:"invalidation_condition"`
	Reasoning             string  `json:"reasoning"`
}

// actionsContract is the top-level shape the validator extracts from free-form
// model text: {"actions": [decisionContract, ...]}.
type actionsContract struct {
	Actions []decisionContract `json:"actions"`
}

// mapDecisionContract converts one LLM contract entry into the internal Decision
// shape. equity resolves size_fraction into an absolute USD notional when present;
// a size_fraction of zero leaves PositionSizeUSD as whatever the model reported
// directly (teacher's original single-field contract).
func mapDecisionContract(d decisionContract, positions []PositionInfo, equity float64) Decision {
	action := strings.ToLower(strings.TrimSpace(d.Signal))
	mapped := "hold"
	switch action {
	case "buy_to_enter", "open_long":
		mapped = "open_long"
	case "sell_to_enter", "open_short":
		mapped = "open_short"
	case "hold", "wait":
		mapped = "hold"
	case "close":
		// Infer side from current positions
		side := inferSide(positions, d.Symbol)
		if side == "short" {
			mapped = "close_short"
		} else {
			mapped = "close_long"
		}
	default:
		// leave as hold
	}

	positionSizeUSD := d.PositionSizeUSD
	sizeFraction := d.SizeFraction
	if sizeFraction > 0 && equity > 0 {
		positionSizeUSD = sizeFraction * equity
	} else if positionSizeUSD > 0 && equity > 0 {
		sizeFraction = positionSizeUSD / equity
	}

	return Decision{
		Symbol:                strings.ToUpper(strings.TrimSpace(d.Symbol)),
		Action:                mapped,
		SizeFraction:          sizeFraction,
		Leverage:              d.Leverage,
		PositionSizeUSD:       positionSizeUSD,
		EntryPrice:            d.EntryPrice,
		StopLoss:              d.StopLoss,
		TakeProfit:            d.TakeProfit,
		Confidence:            d.Confidence,
		RiskUSD:               d.RiskUSD,
		Reasoning:             d.Reasoning,
		InvalidationCondition: d.InvalidationCondition,
	}
}

func inferSide(positions []PositionInfo, symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, sym) {
			s := strings.ToLower(p.Side)
			if s == "short" {
				return "short"
			}
			return "long"
		}
	}
	return ""
}

func isBTCETH(sym string) bool {
	s := strings.ToUpper(strings.TrimSpace(sym))
	return s == "BTC" || s == "ETH"
}
