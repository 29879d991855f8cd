package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

// syntheticPanel builds a 3-symbol panel: GOOD trends up, FLAT goes nowhere,
// BAD trends down, and scores rank them accordingly.
func syntheticPanel(n int) *Panel {
	dates := make([]time.Time, n)
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}

	prices := map[string][]float64{
		"GOOD": make([]float64, n),
		"FLAT": make([]float64, n),
		"BAD":  make([]float64, n),
	}
	scores := map[string][]float64{
		"GOOD": make([]float64, n),
		"FLAT": make([]float64, n),
		"BAD":  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		prices["GOOD"][i] = 100 * math.Pow(1.002, float64(i))
		prices["FLAT"][i] = 100
		prices["BAD"][i] = 100 * math.Pow(0.998, float64(i))
		scores["GOOD"][i] = 0.9
		scores["FLAT"][i] = 0.5
		scores["BAD"][i] = 0.1
	}
	return &Panel{Dates: dates, Prices: prices, Scores: scores}
}

func TestRunSelectsTopScores(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	panel := syntheticPanel(100)
	res, err := bt.Run(context.Background(), panel, Config{TopN: 1, RebalanceEvery: 21})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AnnualizedReturn <= 0 {
		t.Fatalf("picking the trending name should be profitable, got %.4f", res.AnnualizedReturn)
	}
	if res.Rebalances == 0 {
		t.Fatal("expected scheduled rebalances")
	}
	if len(res.PeriodReturns) != 99 {
		t.Fatalf("expected 99 period returns, got %d", len(res.PeriodReturns))
	}
}

func TestRunChargesTransactionCosts(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	panel := syntheticPanel(50)

	cheap, err := bt.Run(context.Background(), panel, Config{TopN: 1, CostBps: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expensive, err := bt.Run(context.Background(), panel, Config{TopN: 1, CostBps: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expensive.AnnualizedReturn >= cheap.AnnualizedReturn {
		t.Fatalf("higher costs must not help: %.4f vs %.4f", expensive.AnnualizedReturn, cheap.AnnualizedReturn)
	}
}

func TestRunRejectsMisalignedPanel(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	panel := syntheticPanel(10)
	panel.Prices["GOOD"] = panel.Prices["GOOD"][:5]
	if _, err := bt.Run(context.Background(), panel, Config{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunIsCancellable(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := bt.Run(ctx, syntheticPanel(50), Config{}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestRegimeAwareDiffersOnlyInCrisis(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	panel := syntheticPanel(80)
	panel.Regimes = make([]domain.Regime, 80)
	for i := range panel.Regimes {
		panel.Regimes[i] = domain.RegimeExpansion
	}
	for i := 40; i < 50; i++ {
		panel.Regimes[i] = domain.RegimeCrisis
	}

	baseline, err := bt.Run(context.Background(), panel, Config{TopN: 2, RegimeAware: false})
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	aware, err := bt.Run(context.Background(), panel, Config{TopN: 2, RegimeAware: true})
	if err != nil {
		t.Fatalf("regime-aware: %v", err)
	}

	if aware.CrisisPeriods != 10 {
		t.Fatalf("expected 10 crisis periods, got %d", aware.CrisisPeriods)
	}
	for i := range baseline.PeriodReturns {
		inCrisis := panel.Regimes[i+1] == domain.RegimeCrisis
		same := baseline.PeriodReturns[i] == aware.PeriodReturns[i]
		if !inCrisis && !same {
			t.Fatalf("period %d differs outside crisis: %.6f vs %.6f", i, baseline.PeriodReturns[i], aware.PeriodReturns[i])
		}
	}
}

func TestCompareRegimeAwareReportsSafetyAlpha(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	n := 80
	panel := syntheticPanel(n)
	panel.Regimes = make([]domain.Regime, n)
	for i := range panel.Regimes {
		panel.Regimes[i] = domain.RegimeExpansion
	}
	// crash the whole market mid-sample and label it a crisis
	for i := 40; i < 50; i++ {
		panel.Regimes[i] = domain.RegimeCrisis
		for _, sym := range []string{"GOOD", "FLAT", "BAD"} {
			panel.Prices[sym][i] = panel.Prices[sym][39] * math.Pow(0.97, float64(i-39))
		}
	}

	report, err := bt.CompareRegimeAware(context.Background(), panel, Config{TopN: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.SafetyAlpha <= 0 {
		t.Fatalf("sitting out a crash should add return, got %.4f", report.SafetyAlpha)
	}
	if report.DrawdownImprovement <= 0 {
		t.Fatalf("sitting out a crash should cut drawdown, got %.4f", report.DrawdownImprovement)
	}
}

func TestInformationCoefficientRanksPredictiveScores(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	panel := syntheticPanel(60)
	ics := bt.InformationCoefficient(panel, []int{1, 5, 21})

	for _, h := range []int{1, 5, 21} {
		ic := ics[h]
		if ic == nil {
			t.Fatalf("horizon %d: expected an IC", h)
		}
		if *ic < 0.9 {
			t.Fatalf("horizon %d: scores perfectly rank forward returns, got %.4f", h, *ic)
		}
	}
}

func TestInformationCoefficientDegenerate(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	panel := syntheticPanel(60)
	// constant scores carry no ranking information
	for _, sym := range []string{"GOOD", "FLAT", "BAD"} {
		for i := range panel.Scores[sym] {
			panel.Scores[sym][i] = 0.5
		}
	}
	ics := bt.InformationCoefficient(panel, []int{1})
	if ics[1] != nil {
		t.Fatalf("expected nil IC for constant scores, got %v", *ics[1])
	}
}

func TestRunComputesAlphaAgainstBenchmark(t *testing.T) {
	t.Parallel()

	bt := New(testTracer)
	panel := syntheticPanel(50)
	panel.Benchmark = make([]float64, 50)
	for i := range panel.Benchmark {
		panel.Benchmark[i] = 100 // flat benchmark
	}
	res, err := bt.Run(context.Background(), panel, Config{TopN: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Alpha == nil {
		t.Fatal("expected alpha against a benchmark")
	}
	if math.Abs(*res.Alpha-res.AnnualizedReturn) > 1e-9 {
		t.Fatalf("flat benchmark alpha should equal annualized return: %.4f vs %.4f", *res.Alpha, res.AnnualizedReturn)
	}
}
