package features

import (
	"math"
	"testing"
	"time"

	"marketpulse/internal/domain"
)

func syntheticWindow(n int, startClose, step float64) []domain.Candle {
	base := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	window := make([]domain.Candle, n)
	for i := range window {
		c := startClose + step*float64(i)
		window[i] = domain.Candle{
			Symbol:    "TEST",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      c - 0.1,
			High:      c + 0.2,
			Low:       c - 0.2,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	return window
}

func TestComputeEmptyWindowIsNeutral(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	fs := e.Compute(nil, nil)
	if len(fs) != len(Names) {
		t.Fatalf("expected %d features, got %d", len(Names), len(fs))
	}
	for _, name := range Names {
		want := 0.0
		if name == "rsi" {
			want = 50 // midline, not oversold
		}
		if fs[name] != want {
			t.Fatalf("expected neutral %s=%.0f, got %f", name, want, fs[name])
		}
	}
}

func TestComputeMomentum(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	window := syntheticWindow(30, 100, 0.5)
	fs := e.Compute(window, nil)

	// last close 114.5, 5 bars back 112.0
	want := (114.5/112.0 - 1) * 100
	if math.Abs(fs["momentum"]-want) > 1e-9 {
		t.Fatalf("expected momentum %.4f, got %.4f", want, fs["momentum"])
	}
	if fs["atr_percent"] <= 0 {
		t.Fatalf("expected positive atr_percent, got %f", fs["atr_percent"])
	}
}

func TestComputeVolumeRatio(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	window := syntheticWindow(30, 100, 0)
	window[len(window)-1].Volume = 3_000_000
	fs := e.Compute(window, nil)
	if math.Abs(fs["volume_ratio"]-3.0) > 1e-9 {
		t.Fatalf("expected volume_ratio 3.0, got %f", fs["volume_ratio"])
	}
}

func TestComputeShortWindowDegradesGracefully(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	fs := e.Compute(syntheticWindow(3, 100, 1), nil)
	if fs["momentum"] != 0 || fs["volume_ratio"] != 0 || fs["atr_percent"] != 0 {
		t.Fatalf("expected neutral lookback features, got %+v", fs)
	}
	if fs["vwap_distance"] == 0 {
		t.Fatal("vwap distance should still compute on a short window")
	}
	if fs["rsi"] != 50 {
		t.Fatalf("short window should leave rsi at the midline, got %f", fs["rsi"])
	}
}

func TestComputeRSIAndMACD(t *testing.T) {
	t.Parallel()

	e := NewExtractor()

	up := e.Compute(syntheticWindow(40, 100, 0.5), nil)
	if up["rsi"] != 100 {
		t.Fatalf("monotonic gains should saturate rsi at 100, got %f", up["rsi"])
	}
	if up["macd_hist"] <= 0 {
		t.Fatalf("uptrend should give a positive macd histogram, got %f", up["macd_hist"])
	}

	down := e.Compute(syntheticWindow(40, 100, -0.5), nil)
	if down["rsi"] != 0 {
		t.Fatalf("monotonic losses should pin rsi at 0, got %f", down["rsi"])
	}
	if down["macd_hist"] >= 0 {
		t.Fatalf("downtrend should give a negative macd histogram, got %f", down["macd_hist"])
	}
}

func TestATRValue(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	if v := e.ATRValue(syntheticWindow(5, 100, 0)); v != 0 {
		t.Fatalf("expected 0 for short window, got %f", v)
	}
	v := e.ATRValue(syntheticWindow(30, 100, 0))
	// flat closes, constant 0.4 high-low range
	if math.Abs(v-0.4) > 1e-9 {
		t.Fatalf("expected ATR 0.4, got %f", v)
	}
}

func TestVectorOrderingMatchesNames(t *testing.T) {
	t.Parallel()

	fs := domain.FeatureSet{}
	for i, name := range Names {
		fs[name] = float64(i + 1)
	}
	vec := Vector(fs)
	for i := range Names {
		if vec[i] != float64(i+1) {
			t.Fatalf("position %d: expected %d, got %f", i, i+1, vec[i])
		}
	}
}

func TestSpreadBpsBounded(t *testing.T) {
	t.Parallel()

	q := &domain.Quote{Price: 10, DayHigh: 20, DayLow: 5}
	if bps := spreadBps(q); bps != 500 {
		t.Fatalf("expected cap at 500, got %f", bps)
	}
	if bps := spreadBps(&domain.Quote{Price: 0}); bps != 0 {
		t.Fatalf("expected 0 for missing price, got %f", bps)
	}
}
