// Package backtest replays the scoring logic over historical panels:
// periodic top-N rebalances with transaction costs, an optional regime-aware
// cash-out overlay, forward-horizon Information Coefficients, and the
// safety-alpha comparison between the two variants.
package backtest

import (
	"context"
	"errors"
	"sort"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/stats"

	"go.opentelemetry.io/otel/trace"
)

// Panel is a historical price/score matrix. All per-symbol slices align with
// Dates; Regimes and Benchmark are optional and, when present, align too.
type Panel struct {
	Dates     []time.Time
	Prices    map[string][]float64
	Scores    map[string][]float64
	Regimes   []domain.Regime
	Benchmark []float64
}

func (p *Panel) validate() error {
	if len(p.Dates) < 2 {
		return errors.New("panel needs at least two dates")
	}
	if len(p.Prices) == 0 {
		return errors.New("panel has no symbols")
	}
	for sym, prices := range p.Prices {
		if len(prices) != len(p.Dates) {
			return errors.New("price series misaligned for " + sym)
		}
	}
	if p.Regimes != nil && len(p.Regimes) != len(p.Dates) {
		return errors.New("regime series misaligned")
	}
	if p.Benchmark != nil && len(p.Benchmark) != len(p.Dates) {
		return errors.New("benchmark series misaligned")
	}
	return nil
}

type Config struct {
	TopN           int
	RebalanceEvery int
	CostBps        float64
	RiskFreeAnnual float64
	PeriodsPerYear float64
	RegimeAware    bool
}

func (c *Config) defaults() {
	if c.TopN <= 0 {
		c.TopN = 5
	}
	if c.RebalanceEvery <= 0 {
		c.RebalanceEvery = 21
	}
	if c.CostBps <= 0 {
		c.CostBps = 5
	}
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = 252
	}
}

type Result struct {
	AnnualizedReturn float64
	Sharpe           *float64
	MaxDrawdown      *float64
	Alpha            *float64
	EquityCurve      []float64
	PeriodReturns    []float64
	Rebalances       int
	CrisisPeriods    int
}

type Backtester struct {
	tracer trace.Tracer
}

func New(tracer trace.Tracer) *Backtester {
	return &Backtester{tracer: tracer}
}

// Run replays the panel strictly in chronological order. Cancellation is
// checked between periods; on cancel the partial result is discarded.
func (b *Backtester) Run(ctx context.Context, panel *Panel, cfg Config) (*Result, error) {
	ctx, span := b.tracer.Start(ctx, "backtest.run")
	defer span.End()

	cfg.defaults()
	if err := panel.validate(); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(panel.Prices))
	for sym := range panel.Prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	rfPeriod := cfg.RiskFreeAnnual / cfg.PeriodsPerYear
	costFrac := cfg.CostBps / 10_000

	result := &Result{}
	var holdings map[string]bool
	invested := true
	returns := make([]float64, 0, len(panel.Dates)-1)

	for i := 1; i < len(panel.Dates); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// The holdings schedule is identical for both variants: selection
		// happens on fixed rebalance dates regardless of regime, so the
		// cash-out overlay changes returns only inside crisis periods.
		turnover := 0.0
		if holdings == nil || (i-1)%cfg.RebalanceEvery == 0 {
			selected := topNByScore(panel, symbols, i-1, cfg.TopN)
			turnover = turnoverFraction(holdings, selected)
			holdings = selected
			result.Rebalances++
		}

		inCrisis := cfg.RegimeAware && panel.Regimes != nil && panel.Regimes[i] == domain.RegimeCrisis
		if inCrisis {
			result.CrisisPeriods++
			r := rfPeriod
			// Exit cost on entering cash; the re-entry cost is charged
			// inside the final crisis period rather than after it.
			if invested {
				r -= costFrac
				invested = false
			}
			lastCrisis := i == len(panel.Dates)-1 || panel.Regimes[i+1] != domain.RegimeCrisis
			if lastCrisis {
				r -= costFrac
			}
			returns = append(returns, r)
			continue
		}
		invested = true

		r := portfolioReturn(panel, holdings, i)
		r -= turnover * costFrac
		returns = append(returns, r)
	}

	result.PeriodReturns = returns
	result.AnnualizedReturn = stats.AnnualizedReturn(returns, cfg.PeriodsPerYear)
	result.Sharpe = stats.Sharpe(returns, cfg.PeriodsPerYear)

	curve := make([]float64, 0, len(returns)+1)
	equity := 100.0
	curve = append(curve, equity)
	for _, r := range returns {
		equity *= 1 + r
		curve = append(curve, equity)
	}
	result.EquityCurve = curve
	if dd := stats.MaxDrawdown(curve); dd != nil {
		result.MaxDrawdown = stats.Float64Ptr(dd.Percent)
	}

	if panel.Benchmark != nil {
		benchReturns := make([]float64, 0, len(panel.Dates)-1)
		for i := 1; i < len(panel.Benchmark); i++ {
			if panel.Benchmark[i-1] == 0 {
				benchReturns = append(benchReturns, 0)
				continue
			}
			benchReturns = append(benchReturns, panel.Benchmark[i]/panel.Benchmark[i-1]-1)
		}
		alpha := result.AnnualizedReturn - stats.AnnualizedReturn(benchReturns, cfg.PeriodsPerYear)
		result.Alpha = &alpha
	}

	return result, nil
}

// SafetyAlphaReport is the headline comparison: how much annualized return
// and drawdown the crisis cash-out overlay buys.
type SafetyAlphaReport struct {
	Baseline            *Result
	RegimeAware         *Result
	SafetyAlpha         float64
	DrawdownImprovement float64
}

func (b *Backtester) CompareRegimeAware(ctx context.Context, panel *Panel, cfg Config) (*SafetyAlphaReport, error) {
	ctx, span := b.tracer.Start(ctx, "backtest.compare-regime-aware")
	defer span.End()

	base := cfg
	base.RegimeAware = false
	baseline, err := b.Run(ctx, panel, base)
	if err != nil {
		return nil, err
	}

	aware := cfg
	aware.RegimeAware = true
	regimeAware, err := b.Run(ctx, panel, aware)
	if err != nil {
		return nil, err
	}

	report := &SafetyAlphaReport{
		Baseline:    baseline,
		RegimeAware: regimeAware,
		SafetyAlpha: regimeAware.AnnualizedReturn - baseline.AnnualizedReturn,
	}
	if baseline.MaxDrawdown != nil && regimeAware.MaxDrawdown != nil {
		report.DrawdownImprovement = *baseline.MaxDrawdown - *regimeAware.MaxDrawdown
	}
	return report, nil
}

// InformationCoefficient computes the rank correlation between each date's
// scores and the forward return at the given horizons, averaged across
// dates. Nil for a horizon with no computable dates.
func (b *Backtester) InformationCoefficient(panel *Panel, horizons []int) map[int]*float64 {
	out := make(map[int]*float64, len(horizons))

	symbols := make([]string, 0, len(panel.Prices))
	for sym := range panel.Prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, h := range horizons {
		var ics []float64
		for i := 0; i+h < len(panel.Dates); i++ {
			scores := make([]float64, 0, len(symbols))
			fwd := make([]float64, 0, len(symbols))
			for _, sym := range symbols {
				scoreSeries, ok := panel.Scores[sym]
				if !ok || len(scoreSeries) != len(panel.Dates) {
					continue
				}
				p0 := panel.Prices[sym][i]
				p1 := panel.Prices[sym][i+h]
				if p0 == 0 {
					continue
				}
				scores = append(scores, scoreSeries[i])
				fwd = append(fwd, p1/p0-1)
			}
			if ic := stats.SpearmanIC(scores, fwd); ic != nil {
				ics = append(ics, *ic)
			}
		}
		if len(ics) == 0 {
			out[h] = nil
			continue
		}
		var sum float64
		for _, v := range ics {
			sum += v
		}
		avg := sum / float64(len(ics))
		out[h] = &avg
	}
	return out
}

func topNByScore(panel *Panel, symbols []string, idx, n int) map[string]bool {
	type scored struct {
		sym   string
		score float64
	}
	candidates := make([]scored, 0, len(symbols))
	for _, sym := range symbols {
		series, ok := panel.Scores[sym]
		if !ok || len(series) != len(panel.Dates) {
			continue
		}
		candidates = append(candidates, scored{sym: sym, score: series[idx]})
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].sym < candidates[b].sym
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		out[c.sym] = true
	}
	return out
}

func turnoverFraction(prev, next map[string]bool) float64 {
	if len(next) == 0 {
		if len(prev) == 0 {
			return 0
		}
		return 1
	}
	changed := 0
	for sym := range next {
		if !prev[sym] {
			changed++
		}
	}
	return float64(changed) / float64(len(next))
}

func portfolioReturn(panel *Panel, holdings map[string]bool, idx int) float64 {
	if len(holdings) == 0 {
		return 0
	}
	var sum float64
	var count int
	for sym := range holdings {
		prices := panel.Prices[sym]
		if prices[idx-1] == 0 {
			continue
		}
		sum += prices[idx]/prices[idx-1] - 1
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
