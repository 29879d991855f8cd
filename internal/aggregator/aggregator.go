// Package aggregator rolls evaluated signal outcomes into period-level
// risk/return statistics. Rows are unique per (mode, period kind, start,
// end); recomputation overwrites in place.
package aggregator

import (
	"context"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/stats"

	"go.opentelemetry.io/otel/trace"
)

type PerformanceSource interface {
	// ListPerformanceByMode returns evaluated records for one mode and
	// horizon inside the window, ordered by evaluation time.
	ListPerformanceByMode(ctx context.Context, mode domain.StrategyMode, horizon string, from, to time.Time) ([]domain.SignalPerformance, error)
	CountSignals(ctx context.Context, mode domain.StrategyMode, from, to time.Time) (int, error)
}

type StrategyStore interface {
	UpsertStrategyPerformance(ctx context.Context, perf domain.StrategyPerformance) (*domain.StrategyPerformance, error)
}

type Config struct {
	DryRun bool
}

type Aggregator struct {
	tracer trace.Tracer
	perfs  PerformanceSource
	store  StrategyStore
	cfg    Config
}

func New(tracer trace.Tracer, perfs PerformanceSource, store StrategyStore, cfg Config) *Aggregator {
	return &Aggregator{tracer: tracer, perfs: perfs, store: store, cfg: cfg}
}

// Aggregate computes the statistics for one (mode, period) window ending at
// asOf and upserts the row unless running dry.
func (a *Aggregator) Aggregate(ctx context.Context, mode domain.StrategyMode, kind domain.PeriodKind, asOf time.Time) (*domain.StrategyPerformance, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.aggregate")
	defer span.End()

	start, end := PeriodBounds(kind, asOf)
	horizon := kind.AggregationHorizon()

	records, err := a.perfs.ListPerformanceByMode(ctx, mode, horizon, start, end)
	if err != nil {
		return nil, err
	}
	total, err := a.perfs.CountSignals(ctx, mode, start, end)
	if err != nil {
		return nil, err
	}

	out := Compute(mode, kind, start, end, total, records)
	if a.cfg.DryRun {
		return out, nil
	}
	return a.store.UpsertStrategyPerformance(ctx, *out)
}

// AggregateAll recomputes every period kind for a mode.
func (a *Aggregator) AggregateAll(ctx context.Context, mode domain.StrategyMode, asOf time.Time) ([]*domain.StrategyPerformance, error) {
	kinds := []domain.PeriodKind{domain.PeriodDaily, domain.PeriodWeekly, domain.PeriodMonthly, domain.PeriodAllTime}
	out := make([]*domain.StrategyPerformance, 0, len(kinds))
	for _, kind := range kinds {
		row, err := a.Aggregate(ctx, mode, kind, asOf)
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Compute is the pure rollup. Degenerate samples (0 or 1 records, zero
// variance) yield nil ratios, never NaN.
func Compute(mode domain.StrategyMode, kind domain.PeriodKind, start, end time.Time, totalSignals int, records []domain.SignalPerformance) *domain.StrategyPerformance {
	out := &domain.StrategyPerformance{
		Mode:             mode,
		PeriodKind:       kind,
		PeriodStart:      start,
		PeriodEnd:        end,
		TotalSignals:     totalSignals,
		SignalsEvaluated: len(records),
		UpdatedAt:        time.Now().UTC(),
	}
	if len(records) == 0 {
		return out
	}

	pnls := make([]float64, 0, len(records))
	timestamps := make([]time.Time, 0, len(records))
	for _, r := range records {
		switch {
		case r.Outcome.IsWinning():
			out.Winning++
		case r.Outcome.IsLosing():
			out.Losing++
		default:
			out.Breakeven++
		}
		out.TotalPnLPercent += r.PnLPercent
		pnls = append(pnls, r.PnLPercent)
		timestamps = append(timestamps, r.EvaluatedAt)

		if out.WorstLossPercent == nil || r.PnLPercent < *out.WorstLossPercent {
			out.WorstLossPercent = stats.Float64Ptr(r.PnLPercent)
		}
		if out.BestWinPercent == nil || r.PnLPercent > *out.BestWinPercent {
			out.BestWinPercent = stats.Float64Ptr(r.PnLPercent)
		}
	}

	winRate := float64(out.Winning) / float64(len(records))
	out.WinRate = &winRate
	avg := out.TotalPnLPercent / float64(len(records))
	out.AvgPnLPercent = &avg

	out.Sharpe = stats.Sharpe(pnls, stats.TradingDaysPerYear)
	out.Sortino = stats.Sortino(pnls, stats.TradingDaysPerYear)

	curve := stats.EquityCurve(pnls)
	out.EquityCurve = make([]domain.EquityPoint, len(curve))
	for i, eq := range curve {
		ts := start
		if i > 0 {
			ts = timestamps[i-1]
		}
		out.EquityCurve[i] = domain.EquityPoint{Timestamp: ts, Equity: eq}
	}

	if dd := stats.MaxDrawdown(curve); dd != nil && dd.Percent > 0 {
		out.MaxDrawdown = stats.Float64Ptr(dd.Percent)
		out.MaxDrawdownDays = stats.DrawdownDuration(dd, timestamps)
		out.Calmar = stats.Calmar(pnls, dd.Percent)
	}

	return out
}

// PeriodBounds resolves a period kind to its [start, end) window containing
// asOf. Weeks start Monday; ALL_TIME starts at the zero time.
func PeriodBounds(kind domain.PeriodKind, asOf time.Time) (time.Time, time.Time) {
	t := asOf.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch kind {
	case domain.PeriodDaily:
		return day, day.AddDate(0, 0, 1)
	case domain.PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case domain.PeriodMonthly:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	default:
		return time.Time{}, day.AddDate(0, 0, 1)
	}
}
