// Package regime labels the broad-market state from trailing index returns
// and volatility. The label gates signal emission and drives the cash-out
// overlay in backtests.
package regime

import (
	"math"

	"marketpulse/internal/domain"
	"marketpulse/internal/ta"
)

// Thresholds are expressed on the trailing window's total return (fraction),
// the annualized return volatility (fraction), and the raw volatility-index
// level when one is supplied.
type Config struct {
	LookbackPeriods  int
	VolPeriods       int
	CrisisReturn     float64
	CrisisVol        float64
	CrisisVIX        float64
	CorrectionReturn float64
	HighVol          float64
	HighVIX          float64
	PeriodsPerYear   float64
}

func DefaultConfig() Config {
	return Config{
		LookbackPeriods:  200,
		VolPeriods:       20,
		CrisisReturn:     -0.15,
		CrisisVol:        0.30,
		CrisisVIX:        35,
		CorrectionReturn: -0.08,
		HighVol:          0.25,
		HighVIX:          28,
		PeriodsPerYear:   252,
	}
}

type Classifier struct {
	cfg Config
}

func NewClassifier(cfg Config) *Classifier {
	if cfg.LookbackPeriods <= 0 {
		cfg = DefaultConfig()
	}
	return &Classifier{cfg: cfg}
}

// Classify labels the market from an index close series (oldest first) and an
// optional volatility-index series. A window shorter than the lookback yields
// Unknown: too little history is not evidence of calm markets, and Unknown
// does not cash out.
func (c *Classifier) Classify(indexCloses, vixLevels []float64) domain.Regime {
	if len(indexCloses) < c.cfg.LookbackPeriods {
		return domain.RegimeUnknown
	}

	window := indexCloses[len(indexCloses)-c.cfg.LookbackPeriods:]
	trailingReturn := window[len(window)-1]/window[0] - 1

	vol := c.annualizedVol(indexCloses)
	vix := 0.0
	if len(vixLevels) > 0 {
		vix = vixLevels[len(vixLevels)-1]
	}
	highVol := vol > c.cfg.HighVol || vix > c.cfg.HighVIX
	crisisVol := vol > c.cfg.CrisisVol || vix > c.cfg.CrisisVIX

	// Priority order is fixed: Crisis beats Correction beats HighVolatility.
	switch {
	case trailingReturn < c.cfg.CrisisReturn && crisisVol:
		return domain.RegimeCrisis
	case trailingReturn < c.cfg.CorrectionReturn:
		return domain.RegimeCorrection
	case highVol:
		return domain.RegimeHighVolatility
	default:
		return domain.RegimeExpansion
	}
}

func (c *Classifier) annualizedVol(closes []float64) float64 {
	returns := ta.ReturnSeries(closes)
	if len(returns) < c.cfg.VolPeriods {
		return 0
	}
	recent := returns[len(returns)-c.cfg.VolPeriods:]
	_, sd := ta.MeanStd(recent)
	return sd * math.Sqrt(c.cfg.PeriodsPerYear)
}

// Settings adjusts signal parameters per regime: defensive regimes shorten
// the time-stop and haircut conviction.
type Settings struct {
	TimeStopScale  float64
	ConvictionMult float64
}

func SettingsFor(r domain.Regime) Settings {
	switch r {
	case domain.RegimeCrisis:
		return Settings{TimeStopScale: 0.5, ConvictionMult: 0.5}
	case domain.RegimeCorrection:
		return Settings{TimeStopScale: 0.75, ConvictionMult: 0.75}
	case domain.RegimeHighVolatility:
		return Settings{TimeStopScale: 0.75, ConvictionMult: 0.85}
	default:
		return Settings{TimeStopScale: 1, ConvictionMult: 1}
	}
}
