package executor

import (
	"time"

	market "nof0-api/pkg/market"
)

// PositionInfo holds a normalized view of an open position.
type PositionInfo struct {
	Symbol           string
	Side             string // "long" or "short"
	EntryPrice       float64
	MarkPrice        float64
	Quantity         float64
	Leverage         int
	UnrealizedPnL    float64
	UnrealizedPnLPct float64
	LiquidationPrice float64
	MarginUsed       float64
	UpdateTime       int64
}

// AccountInfo summarizes account-level state.
type AccountInfo struct {
	TotalEquity      float64
	AvailableBalance float64
	FreeCash         float64
	TotalPnL         float64
	TotalPnLPct      float64
	MarginUsed       float64
	MarginUsedPct    float64
	GrossExposure    float64
	PositionCount    int
}

// CandidateCoin is a pre-filtered candidate symbol with provenance labels.
type CandidateCoin struct {
	Symbol  string
	Sources []string
}

// OpenInterest is a placeholder for optional OI enrichment not covered by market.Snapshot.
type OpenInterest struct {
	Latest  float64
	Average float64
}

// AssetMeta carries per-symbol venue metadata used by the risk gate and executor.
type AssetMeta struct {
	MaxLeverage  float64
	Precision    int
	OnlyIsolated bool
}

// PerformanceView is a read-only summary provided by Manager.
type PerformanceView struct {
	SharpeRatio      float64
	WinRate          float64
	TotalTrades      int
	RecentTradesRate float64
	UpdatedAt        time.Time
}

// Context aggregates all inputs required to form and validate a decision for one
// agent in one cycle (spec.md MarketSnapshot + AgentConfig.risk_profile, flattened).
type Context struct {
	CycleID         int64
	AgentID         string
	CurrentTime     string
	RuntimeMinutes  int
	CallCount       int
	Account         AccountInfo
	Positions       []PositionInfo
	CandidateCoins  []CandidateCoin
	MarketDataMap   map[string]*market.Snapshot
	Snapshot        *market.MarketSnapshot // structured series_3m/series_4h view built once per cycle
	OpenInterestMap map[string]*OpenInterest
	AssetMeta       map[string]AssetMeta
	Performance     *PerformanceView
	MajorCoinLeverage int
	AltcoinLeverage   int
	GlobalMaxLeverage int // spec §4.5 rule 1: global_max_leverage, default 10

	// Optional per-trader risk guards injected by Manager; zero value disables the guard.
	MaxRiskPct                     float64
	MaxPositionSizeUSD             float64
	MaxPositionFraction            float64 // spec §4.5 rule 2, default 0.20
	MaxGrossExposureFraction       float64 // spec §4.5 rule 3, default 0.80
	LiquidityThresholdUSD          float64
	MaxMarginUsagePct              float64
	CooldownAfterClose             time.Duration
	RecentlyClosed                 map[string]time.Time
	BTCETHPositionValueMinMultiple float64
	BTCETHPositionValueMaxMultiple float64
	AltPositionValueMinMultiple    float64
	AltPositionValueMaxMultiple    float64
	StopLossRequired               bool
}

// RejectReason enumerates RiskGate rejection codes (spec.md §4.5 / §7 RiskRejected).
type RejectReason string

const (
	RejectNone               RejectReason = ""
	RejectMaxLeverage        RejectReason = "MAX_LEVERAGE"
	RejectPositionFraction   RejectReason = "POSITION_FRACTION"
	RejectGrossExposure      RejectReason = "GROSS_EXPOSURE"
	RejectInsufficientMargin RejectReason = "INSUFFICIENT_MARGIN"
	RejectStopLossRequired   RejectReason = "STOP_LOSS_REQUIRED"
	RejectNoPosition         RejectReason = "NO_POSITION"
	RejectIlliquid           RejectReason = "ILLIQUID"
	RejectPositionValueBand  RejectReason = "POSITION_VALUE_BAND"
	RejectMarginUsage        RejectReason = "MARGIN_USAGE"
	RejectCooldown           RejectReason = "COOLDOWN"
	RejectMaxPositions       RejectReason = "MAX_POSITIONS"
	RejectPyramiding         RejectReason = "PYRAMIDING"
	RejectRiskReward         RejectReason = "RISK_REWARD"
)

// Decision is a single structured action suggested by an agent for one coin
// (spec.md's TradeIntent). Action is one of "open_long", "open_short",
// "close_long", "close_short", "hold" — the teacher's lower-case action
// vocabulary, which maps onto spec.md's OPEN_LONG/OPEN_SHORT/CLOSE/HOLD via
// ActionOperation below (CLOSE splits into close_long/close_short once the
// side of the existing position is known, same as the teacher's inferSide).
type Decision struct {
	Symbol                string
	Action                string
	SizeFraction          float64 // fraction of account equity in (0,1], spec.md TradeIntent.size_fraction
	Leverage              int
	PositionSizeUSD       float64
	EntryPrice            float64
	StopLoss              float64
	TakeProfit            float64
	Confidence            int // 0..100, stored as a percentage of spec.md's 0..1 confidence
	RiskUSD               float64
	Reasoning             string
	InvalidationCondition string

	// Populated by the RiskGate; zero value means the intent passed.
	Rejected     bool
	RejectReason RejectReason
	RejectDetail string
}

// Operation returns the spec.md-canonical operation name for this decision's action.
func (d Decision) Operation() string {
	switch d.Action {
	case "open_long":
		return "OPEN_LONG"
	case "open_short":
		return "OPEN_SHORT"
	case "close_long", "close_short":
		return "CLOSE"
	default:
		return "HOLD"
	}
}

// ParseStatus reports how DecisionValidator handled the raw model response
// (spec.md AgentDecision.parse_status).
type ParseStatus string

const (
	ParseStatusOK        ParseStatus = "OK"
	ParseStatusMalformed ParseStatus = "MALFORMED"
	ParseStatusEmpty     ParseStatus = "EMPTY"
)

// FullDecision is one AgentDecision: the full response produced for one agent in
// one cycle (spec.md §3 AgentDecision).
type FullDecision struct {
	DecisionID        string
	CycleID           int64
	AgentID           string
	CreatedAt         time.Time
	ModelUsed         string
	PromptFingerprint string
	UserPrompt        string
	RawResponse       string
	CoTTrace          string
	Decisions         []Decision
	ParseStatus       ParseStatus
	Timestamp         time.Time
}
