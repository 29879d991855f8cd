package aggregator

import (
	"context"
	"math"
	"testing"
	"time"

	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func perfRecords(pnls []float64, outcomes []domain.Outcome) []domain.SignalPerformance {
	base := time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)
	out := make([]domain.SignalPerformance, len(pnls))
	for i := range pnls {
		out[i] = domain.SignalPerformance{
			SignalID:    int64(i + 1),
			Horizon:     "EOD",
			EvaluatedAt: base.AddDate(0, 0, i),
			PnLPercent:  pnls[i],
			Outcome:     outcomes[i],
		}
	}
	return out
}

func TestComputeEquityCurveAndDrawdown(t *testing.T) {
	t.Parallel()

	records := perfRecords(
		[]float64{5, -10, 3},
		[]domain.Outcome{domain.OutcomeWin, domain.OutcomeLoss, domain.OutcomeWin},
	)
	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	out := Compute(domain.ModeSafe, domain.PeriodWeekly, start, start.AddDate(0, 0, 7), 5, records)

	if out.SignalsEvaluated != 3 || out.TotalSignals != 5 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.Winning != 2 || out.Losing != 1 {
		t.Fatalf("unexpected win/loss split: %+v", out)
	}
	if *out.WinRate != 2.0/3.0 {
		t.Fatalf("unexpected win rate %.4f", *out.WinRate)
	}

	wantCurve := []float64{100, 105, 94.5, 97.335}
	if len(out.EquityCurve) != len(wantCurve) {
		t.Fatalf("expected %d curve points, got %d", len(wantCurve), len(out.EquityCurve))
	}
	for i, want := range wantCurve {
		if math.Abs(out.EquityCurve[i].Equity-want) > 1e-9 {
			t.Fatalf("curve point %d: expected %.4f, got %.4f", i, want, out.EquityCurve[i].Equity)
		}
	}
	if out.MaxDrawdown == nil || math.Abs(*out.MaxDrawdown-10.0) > 1e-9 {
		t.Fatalf("expected 10%% drawdown, got %v", out.MaxDrawdown)
	}
	if out.MaxDrawdownDays == nil || *out.MaxDrawdownDays != 1 {
		t.Fatalf("expected 1-day drawdown, got %v", out.MaxDrawdownDays)
	}
	if out.WorstLossPercent == nil || *out.WorstLossPercent != -10 {
		t.Fatalf("unexpected worst loss: %v", out.WorstLossPercent)
	}
	if out.BestWinPercent == nil || *out.BestWinPercent != 5 {
		t.Fatalf("unexpected best win: %v", out.BestWinPercent)
	}
}

func TestComputeDegenerateSamples(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	empty := Compute(domain.ModeSafe, domain.PeriodDaily, start, start.AddDate(0, 0, 1), 0, nil)
	if empty.WinRate != nil || empty.Sharpe != nil || empty.MaxDrawdown != nil {
		t.Fatalf("expected nil statistics for empty sample: %+v", empty)
	}

	single := Compute(domain.ModeSafe, domain.PeriodDaily, start, start.AddDate(0, 0, 1), 1,
		perfRecords([]float64{2}, []domain.Outcome{domain.OutcomeWin}))
	if single.Sharpe != nil || single.Sortino != nil {
		t.Fatalf("ratios must be nil for one record: %+v", single)
	}
	if single.WinRate == nil || *single.WinRate != 1 {
		t.Fatalf("win rate still computes for one record: %v", single.WinRate)
	}

	flat := Compute(domain.ModeSafe, domain.PeriodDaily, start, start.AddDate(0, 0, 1), 3,
		perfRecords([]float64{1, 1, 1}, []domain.Outcome{domain.OutcomeWin, domain.OutcomeWin, domain.OutcomeWin}))
	if flat.Sharpe != nil {
		t.Fatalf("zero-variance sharpe must be nil, got %v", *flat.Sharpe)
	}
}

func TestPeriodBounds(t *testing.T) {
	t.Parallel()

	asOf := time.Date(2025, 6, 4, 15, 30, 0, 0, time.UTC) // a Wednesday

	start, end := PeriodBounds(domain.PeriodDaily, asOf)
	if !start.Equal(time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)) || !end.Equal(start.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected daily bounds: %v %v", start, end)
	}

	start, end = PeriodBounds(domain.PeriodWeekly, asOf)
	if !start.Equal(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("weeks start Monday, got %v", start)
	}
	if !end.Equal(start.AddDate(0, 0, 7)) {
		t.Fatalf("unexpected weekly end: %v", end)
	}

	start, _ = PeriodBounds(domain.PeriodMonthly, asOf)
	if !start.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected monthly start: %v", start)
	}

	start, _ = PeriodBounds(domain.PeriodAllTime, asOf)
	if !start.IsZero() {
		t.Fatalf("all-time starts at zero, got %v", start)
	}
}

type fakePerfSource struct {
	records     []domain.SignalPerformance
	count       int
	lastHorizon string
}

func (f *fakePerfSource) ListPerformanceByMode(ctx context.Context, mode domain.StrategyMode, horizon string, from, to time.Time) ([]domain.SignalPerformance, error) {
	f.lastHorizon = horizon
	return f.records, nil
}

func (f *fakePerfSource) CountSignals(ctx context.Context, mode domain.StrategyMode, from, to time.Time) (int, error) {
	return f.count, nil
}

type fakeStrategyStore struct {
	upserts []domain.StrategyPerformance
}

func (f *fakeStrategyStore) UpsertStrategyPerformance(ctx context.Context, perf domain.StrategyPerformance) (*domain.StrategyPerformance, error) {
	f.upserts = append(f.upserts, perf)
	return &perf, nil
}

func TestAggregateSelectsHorizonByPeriod(t *testing.T) {
	t.Parallel()

	source := &fakePerfSource{count: 2}
	store := &fakeStrategyStore{}
	agg := New(testTracer, source, store, Config{})

	if _, err := agg.Aggregate(context.Background(), domain.ModeSafe, domain.PeriodDaily, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.lastHorizon != "EOD" {
		t.Fatalf("daily periods aggregate the EOD horizon, got %s", source.lastHorizon)
	}

	if _, err := agg.Aggregate(context.Background(), domain.ModeSafe, domain.PeriodAllTime, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.lastHorizon != "2d" {
		t.Fatalf("all-time periods aggregate the 2d horizon, got %s", source.lastHorizon)
	}
	if len(store.upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(store.upserts))
	}
}

func TestAggregateDryRunSkipsStore(t *testing.T) {
	t.Parallel()

	store := &fakeStrategyStore{}
	agg := New(testTracer, &fakePerfSource{}, store, Config{DryRun: true})

	if _, err := agg.Aggregate(context.Background(), domain.ModeSafe, domain.PeriodDaily, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.upserts) != 0 {
		t.Fatal("dry run must not upsert")
	}
}
