package domain

import "time"

type StrategyMode string

const (
	ModeSafe       StrategyMode = "SAFE"
	ModeAggressive StrategyMode = "AGGRESSIVE"
)

func (m StrategyMode) IsValid() bool {
	return m == ModeSafe || m == ModeAggressive
}

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Outcome is the closed set of evaluation results. Every consumer switches
// exhaustively over these; there is no "other" bucket.
type Outcome string

const (
	OutcomeStopHit   Outcome = "STOP_HIT"
	OutcomeTargetHit Outcome = "TARGET_HIT"
	OutcomeWin       Outcome = "WIN"
	OutcomeLoss      Outcome = "LOSS"
	OutcomeBreakeven Outcome = "BREAKEVEN"
)

func (o Outcome) IsWinning() bool {
	return o == OutcomeWin || o == OutcomeTargetHit
}

func (o Outcome) IsLosing() bool {
	return o == OutcomeLoss || o == OutcomeStopHit
}

// Horizon is a named forward-looking evaluation window. MinAge/MaxAge bound
// the signal ages (since generation) eligible for evaluation at this horizon.
type Horizon struct {
	Label  string
	MinAge time.Duration
	MaxAge time.Duration
}

var Horizons = []Horizon{
	{Label: "30m", MinAge: 25 * time.Minute, MaxAge: 120 * time.Minute},
	{Label: "2h", MinAge: 2 * time.Hour, MaxAge: 6 * time.Hour},
	{Label: "EOD", MinAge: 4 * time.Hour, MaxAge: 24 * time.Hour},
	{Label: "1d", MinAge: 24 * time.Hour, MaxAge: 48 * time.Hour},
	{Label: "2d", MinAge: 48 * time.Hour, MaxAge: 96 * time.Hour},
}

func HorizonByLabel(label string) (Horizon, bool) {
	for _, h := range Horizons {
		if h.Label == label {
			return h, true
		}
	}
	return Horizon{}, false
}

type PeriodKind string

const (
	PeriodDaily   PeriodKind = "DAILY"
	PeriodWeekly  PeriodKind = "WEEKLY"
	PeriodMonthly PeriodKind = "MONTHLY"
	PeriodAllTime PeriodKind = "ALL_TIME"
)

// AggregationHorizon picks the evaluation horizon used when rolling a period
// up: intraday horizons are too noisy for monthly/all-time windows.
func (p PeriodKind) AggregationHorizon() string {
	switch p {
	case PeriodDaily, PeriodWeekly:
		return "EOD"
	default:
		return "2d"
	}
}

// Signal is immutable once created.
type Signal struct {
	ID           int64
	GeneratedAt  time.Time
	Mode         StrategyMode
	Symbol       string
	Side         Side
	Features     FeatureSet
	Score        float64
	EntryPrice   float64
	StopPrice    float64
	Targets      []float64
	TimeStopMin  int
	SizeShares   int
	RiskPerTrade float64
	CreatedAt    time.Time
}

// FeatureSet is an ordered feature snapshot. Order matters for model input;
// keep names aligned with FeatureNames in ml/common.
type FeatureSet map[string]float64

type SignalPerformance struct {
	ID             int64
	SignalID       int64
	Horizon        string
	EvaluatedAt    time.Time
	PriceAtHorizon float64
	PnL            float64
	PnLPercent     float64
	HitStop        bool
	HitTarget1     bool
	HitTarget2     bool
	HitTimeStop    bool
	Outcome        Outcome
	MaxFavorable   *float64
	MaxAdverse     *float64
	CreatedAt      time.Time
}

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

type StrategyPerformance struct {
	ID               int64
	Mode             StrategyMode
	PeriodKind       PeriodKind
	PeriodStart      time.Time
	PeriodEnd        time.Time
	TotalSignals     int
	SignalsEvaluated int
	Winning          int
	Losing           int
	Breakeven        int
	WinRate          *float64
	TotalPnLPercent  float64
	AvgPnLPercent    *float64
	Sharpe           *float64
	Sortino          *float64
	Calmar           *float64
	MaxDrawdown      *float64
	MaxDrawdownDays  *float64
	WorstLossPercent *float64
	BestWinPercent   *float64
	EquityCurve      []EquityPoint
	UpdatedAt        time.Time
}

type RiskBudget struct {
	AccountID        string
	Equity           float64
	PerTradeRiskPct  float64
	DailyRiskCapPct  float64
	WeeklyRiskCapPct float64
	DailyRiskUsed    float64
	WeeklyRiskUsed   float64
	MaxDailyLossPct  float64
	DailyLossUsed    float64
	TradingPaused    bool
	PausedUntil      *time.Time
	PauseReason      string
	MinShares        int
	MaxShares        int
	VolatilitySizing bool
	RolloverDate     time.Time
	UpdatedAt        time.Time
}

type ModelState struct {
	ID              int64
	ModelKey        string
	Version         int
	Weights         map[string]float64
	TrainedAt       time.Time
	TrainScore      float64
	HoldoutScore    float64
	OverfitDetected bool
	RecordsUsed     int
	ArtifactFormat  string
	ArtifactBlob    []byte
	IsActive        bool
	ActivatedAt     *time.Time
	CreatedAt       time.Time
}

// LabeledExample joins a signal's feature snapshot with its realized outcome
// at one horizon; the trainer's unit of work.
type LabeledExample struct {
	SignalID    int64
	GeneratedAt time.Time
	Features    FeatureSet
	Outcome     Outcome
}

type SignalFilter struct {
	Symbol string
	Mode   StrategyMode
	From   time.Time
	To     time.Time
	Limit  int
}

// AlertEvent is the structured payload handed to the alert sink. Used for
// "overfit detected" and "trading paused", delivery mechanism pluggable.
type AlertEvent struct {
	Symbol   string
	Severity string
	Message  string
	At       time.Time
}

const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)
