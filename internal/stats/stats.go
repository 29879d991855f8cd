// Package stats holds the risk/return math shared by the aggregator and the
// backtester. Ratios that are undefined for a sample (too few points, zero
// variance) come back as nil pointers rather than NaN so callers can persist
// them as SQL NULLs directly.
package stats

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization base for daily-frequency returns.
const TradingDaysPerYear = 252

func Float64Ptr(v float64) *float64 { return &v }

// Sharpe annualizes mean/stdev of the given per-period returns. Returns nil
// for fewer than 2 points or zero variance.
func Sharpe(returns []float64, periodsPerYear float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	mean := stat.Mean(returns, nil)
	sd := stat.StdDev(returns, nil)
	if sd == 0 || math.IsNaN(sd) {
		return nil
	}
	v := mean / sd * math.Sqrt(periodsPerYear)
	return &v
}

// Sortino is Sharpe with the denominator restricted to negative returns.
func Sortino(returns []float64, periodsPerYear float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return nil
	}
	sd := stat.StdDev(downside, nil)
	if sd == 0 || math.IsNaN(sd) {
		return nil
	}
	mean := stat.Mean(returns, nil)
	v := mean / sd * math.Sqrt(periodsPerYear)
	return &v
}

// EquityCurve compounds percent returns onto a starting equity of 100. The
// first point is always the starting equity itself, so the result has
// len(returns)+1 entries.
func EquityCurve(pnlPercents []float64) []float64 {
	curve := make([]float64, 0, len(pnlPercents)+1)
	equity := 100.0
	curve = append(curve, equity)
	for _, p := range pnlPercents {
		equity *= 1 + p/100
		curve = append(curve, equity)
	}
	return curve
}

// Drawdown describes the largest peak-to-trough decline along an equity
// curve. Percent is positive (10 means a 10% decline).
type Drawdown struct {
	Percent     float64
	PeakIndex   int
	TroughIndex int
}

// MaxDrawdown scans the curve once, tracking the running peak. Returns nil
// for curves shorter than 2 points.
func MaxDrawdown(curve []float64) *Drawdown {
	if len(curve) < 2 {
		return nil
	}
	peak := curve[0]
	peakIdx := 0
	dd := Drawdown{}
	for i, v := range curve {
		if v > peak {
			peak = v
			peakIdx = i
		}
		if peak <= 0 {
			continue
		}
		decline := (peak - v) / peak * 100
		if decline > dd.Percent {
			dd.Percent = decline
			dd.PeakIndex = peakIdx
			dd.TroughIndex = i
		}
	}
	return &dd
}

// DrawdownDuration converts the peak/trough indices into elapsed days given
// the timestamps that produced the curve. Timestamps align with curve[1:].
func DrawdownDuration(dd *Drawdown, timestamps []time.Time) *float64 {
	if dd == nil || dd.TroughIndex <= dd.PeakIndex {
		return nil
	}
	peakT := indexTime(timestamps, dd.PeakIndex)
	troughT := indexTime(timestamps, dd.TroughIndex)
	if peakT.IsZero() || troughT.IsZero() {
		return nil
	}
	days := troughT.Sub(peakT).Hours() / 24
	return &days
}

func indexTime(timestamps []time.Time, curveIdx int) time.Time {
	// curve index 0 is the synthetic starting point, which carries the first
	// trade's timestamp.
	i := curveIdx - 1
	if i < 0 {
		i = 0
	}
	if i >= len(timestamps) {
		return time.Time{}
	}
	return timestamps[i]
}

// Calmar is |mean return / max drawdown|, nil when drawdown is zero or the
// sample is degenerate.
func Calmar(returns []float64, maxDrawdownPct float64) *float64 {
	if len(returns) < 2 || maxDrawdownPct == 0 {
		return nil
	}
	mean := stat.Mean(returns, nil)
	v := math.Abs(mean / maxDrawdownPct)
	return &v
}

// AnnualizedReturn compounds per-period returns and scales to a year.
func AnnualizedReturn(returns []float64, periodsPerYear float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	exponent := periodsPerYear / float64(len(returns))
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, exponent) - 1
}

// SpearmanIC is the rank correlation between scores and forward returns,
// the Information Coefficient. Returns nil when fewer than 3 pairs or when
// either side is constant.
func SpearmanIC(scores, forwardReturns []float64) *float64 {
	n := len(scores)
	if n != len(forwardReturns) || n < 3 {
		return nil
	}
	rs := ranks(scores)
	rf := ranks(forwardReturns)
	if constant(rs) || constant(rf) {
		return nil
	}
	v := stat.Correlation(rs, rf, nil)
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// ranks assigns average ranks, handling ties the conventional way.
func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
