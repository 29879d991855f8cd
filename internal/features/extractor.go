// Package features turns a bounded OHLCV window into the named numeric
// snapshot the scorer and the success-probability model consume. Missing
// inputs degrade to neutral values instead of erroring so a thin window
// never blocks a scan.
package features

import (
	"math"

	"marketpulse/internal/domain"
	"marketpulse/internal/ta"
)

// Canonical feature order. Model training and inference both index feature
// vectors by this slice, so the order is load-bearing.
var Names = []string{
	"momentum",
	"volume_ratio",
	"vwap_distance",
	"atr_percent",
	"breakout_pct",
	"rsi",
	"macd_hist",
	"spread_bps",
	"catalyst_score",
}

const (
	momentumBars = 5
	volumeBars   = 20
	rangeBars    = 20
	atrPeriod    = 14
	rsiPeriod    = 14
	macdFast     = 12
	macdSlow     = 26
	macdSignal   = 9
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Compute derives the feature snapshot from the candle window and the latest
// quote. The window is oldest-first. A window shorter than a feature's
// lookback leaves that feature at its neutral zero.
func (e *Extractor) Compute(window []domain.Candle, quote *domain.Quote) domain.FeatureSet {
	fs := domain.FeatureSet{}
	for _, name := range Names {
		fs[name] = 0
	}
	// RSI is bounded 0-100; its neutral point is the midline, not zero.
	fs["rsi"] = 50
	if len(window) == 0 {
		return fs
	}

	closes := make([]float64, len(window))
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	last := closes[len(closes)-1]

	if len(closes) > momentumBars {
		base := closes[len(closes)-1-momentumBars]
		if base != 0 {
			fs["momentum"] = (last/base - 1) * 100
		}
	}

	if len(volumes) > volumeBars {
		hist := volumes[len(volumes)-1-volumeBars : len(volumes)-1]
		mean, _ := ta.MeanStd(hist)
		if mean > 0 {
			fs["volume_ratio"] = volumes[len(volumes)-1] / mean
		}
	}

	if vwap := ta.VWAP(highs, lows, closes, volumes); vwap > 0 && last > 0 {
		fs["vwap_distance"] = (last/vwap - 1) * 100
	}

	if atr := ta.ATRSeries(highs, lows, closes, atrPeriod); len(atr) > 0 {
		v := atr[len(atr)-1]
		if !math.IsNaN(v) && last > 0 {
			fs["atr_percent"] = v / last * 100
		}
	}

	if len(highs) >= rangeBars {
		prior := highs[len(highs)-rangeBars : len(highs)-1]
		var rangeHigh float64
		for _, h := range prior {
			if h > rangeHigh {
				rangeHigh = h
			}
		}
		if rangeHigh > 0 {
			fs["breakout_pct"] = (last/rangeHigh - 1) * 100
		}
	}

	if rsi := ta.RSISeries(closes, rsiPeriod); len(rsi) > 0 {
		v := rsi[len(rsi)-1]
		if !math.IsNaN(v) {
			fs["rsi"] = v
		}
	}

	if macd, signal := ta.MACDSeries(closes, macdFast, macdSlow, macdSignal); len(macd) > 0 && last > 0 {
		// Histogram as a percent of price so symbols at different price
		// levels stay comparable.
		fs["macd_hist"] = (macd[len(macd)-1] - signal[len(signal)-1]) / last * 100
	}

	if quote != nil {
		fs["spread_bps"] = spreadBps(quote)
	}

	return fs
}

// ATRValue is the raw ATR in price units, used to place stops. Zero when the
// window is too short.
func (e *Extractor) ATRValue(window []domain.Candle) float64 {
	if len(window) <= atrPeriod {
		return 0
	}
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	closes := make([]float64, len(window))
	for i, c := range window {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	atr := ta.ATRSeries(highs, lows, closes, atrPeriod)
	if len(atr) == 0 {
		return 0
	}
	v := atr[len(atr)-1]
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// spreadBps estimates the effective spread from the day range when explicit
// bid/ask is unavailable: wide intraday ranges on low volume trade wide.
func spreadBps(q *domain.Quote) float64 {
	if q.Price <= 0 || q.DayHigh <= 0 || q.DayLow <= 0 || q.DayHigh < q.DayLow {
		return 0
	}
	rangePct := (q.DayHigh - q.DayLow) / q.Price
	bps := rangePct * 10000 / 20
	return math.Min(bps, 500)
}

// Vector orders a snapshot into the canonical model input. Absent names read
// as zero.
func Vector(fs domain.FeatureSet) []float64 {
	out := make([]float64, len(Names))
	for i, name := range Names {
		out[i] = fs[name]
	}
	return out
}
