package executor

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"nof0-api/pkg/market"
)

// fencedJSONPattern matches a ```json ... ``` or bare ``` ... ``` fenced code block.
var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\}|\\[.*?\\])\\s*```")

// CanonicalBasket is the fixed set of coins this core trades, derived from
// market.CanonicalBasket (the DataCollector's basket) so the two never drift.
var CanonicalBasket = canonicalBasketSet()

func canonicalBasketSet() map[string]bool {
	set := make(map[string]bool, len(market.CanonicalBasket))
	for _, sym := range market.CanonicalBasket {
		set[sym] = true
	}
	return set
}

// parseFullDecisionResponse implements the DecisionValidator (spec.md §4.4):
// locate the first JSON object in free-form model text, schema-check it, type
// coerce, normalize coins to the canonical basket, and report parse_status.
//
// equity resolves size_fraction into an absolute USD notional for downstream
// consumers; positions lets CLOSE actions infer which side to close, mirroring
// the teacher's inferSide helper.
func parseFullDecisionResponse(raw string, positions []PositionInfo, equity float64) (*FullDecision, error) {
	cleaned := sanitizeResponse(raw)
	if cleaned == "" {
		return &FullDecision{RawResponse: raw, ParseStatus: ParseStatusEmpty}, nil
	}

	jsonText, found := extractJSONObject(cleaned)
	if !found {
		return &FullDecision{RawResponse: raw, ParseStatus: ParseStatusMalformed}, nil
	}

	contracts, ok := decodeActions(jsonText)
	if !ok {
		return &FullDecision{RawResponse: raw, ParseStatus: ParseStatusMalformed}, nil
	}

	decisions := make([]Decision, 0, len(contracts))
	for _, c := range contracts {
		symbol := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if symbol == "" {
			continue
		}
		if !CanonicalBasket[symbol] {
			// Unknown coin: drop the action with a warning.
			logx.Slowf("executor: dropping action for unknown coin symbol=%s", symbol)
			continue
		}
		c.Symbol = symbol
		decisions = append(decisions, mapDecisionContract(c, positions, equity))
	}

	return &FullDecision{
		RawResponse: raw,
		Decisions:   decisions,
		ParseStatus: ParseStatusOK,
	}, nil
}

// extractJSONObject locates the first JSON object or array, preferring a fenced
// code block (```json ... ```) and falling back to the first balanced {...} span.
func extractJSONObject(text string) (string, bool) {
	if m := fencedJSONPattern.FindStringSubmatch(text); len(m) == 2 {
		return strings.TrimSpace(m[1]), true
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	open, close := byte('{'), byte('}')
	if text[start] == '[' {
		open, close = '[', ']'
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// decodeActions type-coerces the extracted JSON text into a slice of action
// contracts. It accepts a bare array of actions, an object with an "actions"
// key (the shape the frozen prompt, §6, asks the model to emit), or a single
// action object with a non-empty "signal".
func decodeActions(jsonText string) ([]decisionContract, bool) {
	var wrapped actionsContract
	if err := json.Unmarshal([]byte(jsonText), &wrapped); err == nil && wrapped.Actions != nil {
		return wrapped.Actions, true
	}
	var bare []decisionContract
	if err := json.Unmarshal([]byte(jsonText), &bare); err == nil {
		return bare, true
	}
	var single decisionContract
	if err := json.Unmarshal([]byte(jsonText), &single); err == nil && strings.TrimSpace(single.Signal) != "" {
		return []decisionContract{single}, true
	}
	return nil, false
}
