package repository

import (
	"context"
	"encoding/json"
	"errors"

	"marketpulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createStrategyTable = `
CREATE TABLE IF NOT EXISTS strategy_performance (
    id                 BIGSERIAL PRIMARY KEY,
    mode               TEXT NOT NULL,
    period_kind        TEXT NOT NULL,
    period_start       TIMESTAMPTZ NOT NULL,
    period_end         TIMESTAMPTZ NOT NULL,
    total_signals      INTEGER NOT NULL DEFAULT 0,
    signals_evaluated  INTEGER NOT NULL DEFAULT 0,
    winning            INTEGER NOT NULL DEFAULT 0,
    losing             INTEGER NOT NULL DEFAULT 0,
    breakeven          INTEGER NOT NULL DEFAULT 0,
    win_rate           DOUBLE PRECISION,
    total_pnl_percent  DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_pnl_percent    DOUBLE PRECISION,
    sharpe             DOUBLE PRECISION,
    sortino            DOUBLE PRECISION,
    calmar             DOUBLE PRECISION,
    max_drawdown       DOUBLE PRECISION,
    max_drawdown_days  DOUBLE PRECISION,
    worst_loss_percent DOUBLE PRECISION,
    best_win_percent   DOUBLE PRECISION,
    equity_curve       JSONB NOT NULL DEFAULT '[]',
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (mode, period_kind, period_start, period_end)
);
`

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("not found")

type StrategyRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewStrategyRepository(pool PgxPool, tracer trace.Tracer) *StrategyRepository {
	return &StrategyRepository{pool: pool, tracer: tracer}
}

func (r *StrategyRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "strategy-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createStrategyTable)
	return err
}

const strategyColumns = `id, mode, period_kind, period_start, period_end,
       total_signals, signals_evaluated, winning, losing, breakeven, win_rate,
       total_pnl_percent, avg_pnl_percent, sharpe, sortino, calmar,
       max_drawdown, max_drawdown_days, worst_loss_percent, best_win_percent,
       equity_curve, updated_at`

// UpsertStrategyPerformance overwrites the aggregate row for one
// (mode, period) in place so re-aggregation always reflects the latest
// evaluations.
func (r *StrategyRepository) UpsertStrategyPerformance(ctx context.Context, perf domain.StrategyPerformance) (*domain.StrategyPerformance, error) {
	_, span := r.tracer.Start(ctx, "strategy-repo.upsert")
	defer span.End()

	curve, err := json.Marshal(perf.EquityCurve)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO strategy_performance (mode, period_kind, period_start,
		     period_end, total_signals, signals_evaluated, winning, losing,
		     breakeven, win_rate, total_pnl_percent, avg_pnl_percent, sharpe,
		     sortino, calmar, max_drawdown, max_drawdown_days,
		     worst_loss_percent, best_win_percent, equity_curve, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         $15, $16, $17, $18, $19, $20, now())
		 ON CONFLICT (mode, period_kind, period_start, period_end) DO UPDATE SET
		     total_signals = EXCLUDED.total_signals,
		     signals_evaluated = EXCLUDED.signals_evaluated,
		     winning = EXCLUDED.winning,
		     losing = EXCLUDED.losing,
		     breakeven = EXCLUDED.breakeven,
		     win_rate = EXCLUDED.win_rate,
		     total_pnl_percent = EXCLUDED.total_pnl_percent,
		     avg_pnl_percent = EXCLUDED.avg_pnl_percent,
		     sharpe = EXCLUDED.sharpe,
		     sortino = EXCLUDED.sortino,
		     calmar = EXCLUDED.calmar,
		     max_drawdown = EXCLUDED.max_drawdown,
		     max_drawdown_days = EXCLUDED.max_drawdown_days,
		     worst_loss_percent = EXCLUDED.worst_loss_percent,
		     best_win_percent = EXCLUDED.best_win_percent,
		     equity_curve = EXCLUDED.equity_curve,
		     updated_at = now()
		 RETURNING id, updated_at`,
		perf.Mode, perf.PeriodKind, perf.PeriodStart, perf.PeriodEnd,
		perf.TotalSignals, perf.SignalsEvaluated, perf.Winning, perf.Losing,
		perf.Breakeven, perf.WinRate, perf.TotalPnLPercent, perf.AvgPnLPercent,
		perf.Sharpe, perf.Sortino, perf.Calmar, perf.MaxDrawdown,
		perf.MaxDrawdownDays, perf.WorstLossPercent, perf.BestWinPercent,
		curve,
	)
	if err := row.Scan(&perf.ID, &perf.UpdatedAt); err != nil {
		return nil, err
	}
	return &perf, nil
}

// GetLatest returns the most recently updated aggregate for one mode and
// period kind, or ErrNotFound.
func (r *StrategyRepository) GetLatest(ctx context.Context, mode domain.StrategyMode, kind domain.PeriodKind) (*domain.StrategyPerformance, error) {
	_, span := r.tracer.Start(ctx, "strategy-repo.get-latest")
	defer span.End()

	row := r.pool.QueryRow(ctx,
		`SELECT `+strategyColumns+`
		 FROM strategy_performance
		 WHERE mode = $1 AND period_kind = $2
		 ORDER BY period_start DESC
		 LIMIT 1`,
		mode, kind,
	)
	perf, err := scanStrategy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return perf, err
}

// ListByKind returns the most recent aggregates for one period kind across
// both modes, newest period first.
func (r *StrategyRepository) ListByKind(ctx context.Context, kind domain.PeriodKind, limit int) ([]domain.StrategyPerformance, error) {
	_, span := r.tracer.Start(ctx, "strategy-repo.list-by-kind")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+strategyColumns+`
		 FROM strategy_performance
		 WHERE period_kind = $1
		 ORDER BY period_start DESC, mode
		 LIMIT $2`,
		kind, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perfs []domain.StrategyPerformance
	for rows.Next() {
		perf, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		perfs = append(perfs, *perf)
	}
	return perfs, rows.Err()
}

func scanStrategy(row pgx.Row) (*domain.StrategyPerformance, error) {
	var perf domain.StrategyPerformance
	var curve []byte
	if err := row.Scan(&perf.ID, &perf.Mode, &perf.PeriodKind, &perf.PeriodStart,
		&perf.PeriodEnd, &perf.TotalSignals, &perf.SignalsEvaluated,
		&perf.Winning, &perf.Losing, &perf.Breakeven, &perf.WinRate,
		&perf.TotalPnLPercent, &perf.AvgPnLPercent, &perf.Sharpe, &perf.Sortino,
		&perf.Calmar, &perf.MaxDrawdown, &perf.MaxDrawdownDays,
		&perf.WorstLossPercent, &perf.BestWinPercent, &curve,
		&perf.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(curve, &perf.EquityCurve); err != nil {
		return nil, err
	}
	perf.PeriodStart = perf.PeriodStart.UTC()
	perf.PeriodEnd = perf.PeriodEnd.UTC()
	return &perf, nil
}
