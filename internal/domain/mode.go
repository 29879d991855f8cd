package domain

// ModeParams are the per-mode gates and risk parameters. SAFE trades large
// liquid names with tight risk; AGGRESSIVE loosens every gate in exchange
// for a shorter leash on time.
type ModeParams struct {
	MinMarketCap     float64
	MaxPreMovePct    float64
	MinDollarVolume  float64
	MinShareVolume   float64
	MaxSpreadBps     float64
	TimeStopMinutes  int
	RiskPerTradePct  float64
	StopATRMult      float64
	TargetRMultiples []float64
	MinScore         float64
}

var modeParams = map[StrategyMode]ModeParams{
	ModeSafe: {
		MinMarketCap:     50_000_000_000,
		MaxPreMovePct:    3.0,
		MinDollarVolume:  50_000_000,
		MinShareVolume:   5_000_000,
		MaxSpreadBps:     10,
		TimeStopMinutes:  45,
		RiskPerTradePct:  0.5,
		StopATRMult:      1.5,
		TargetRMultiples: []float64{2, 3},
		MinScore:         0.55,
	},
	ModeAggressive: {
		MinMarketCap:     1_000_000_000,
		MaxPreMovePct:    8.0,
		MinDollarVolume:  5_000_000,
		MinShareVolume:   1_000_000,
		MaxSpreadBps:     40,
		TimeStopMinutes:  25,
		RiskPerTradePct:  1.2,
		StopATRMult:      2.0,
		TargetRMultiples: []float64{2, 3},
		MinScore:         0.45,
	},
}

func ParamsFor(mode StrategyMode) ModeParams {
	if p, ok := modeParams[mode]; ok {
		return p
	}
	return modeParams[ModeSafe]
}
