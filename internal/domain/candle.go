package domain

import "time"

type Candle struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Quote is a point-in-time price used by evaluation and scanning. Prev fields
// may be zero when the provider does not supply them.
type Quote struct {
	Symbol        string
	Price         float64
	PrevClose     float64
	DayHigh       float64
	DayLow        float64
	DayVolume     float64
	AvgVolume     float64
	MarketCap     float64
	Timestamp     time.Time
	ChangePercent float64
}

type Regime string

const (
	RegimeExpansion      Regime = "EXPANSION"
	RegimeCorrection     Regime = "CORRECTION"
	RegimeHighVolatility Regime = "HIGH_VOLATILITY"
	RegimeCrisis         Regime = "CRISIS"
	RegimeUnknown        Regime = "UNKNOWN"
)

// CashOut reports whether new entries should be suppressed in this regime.
// Unknown intentionally does not cash out: a short history window is not
// evidence of a crisis.
func (r Regime) CashOut() bool {
	return r == RegimeCrisis
}
