package repository

import (
	"context"
	"time"

	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const createPerformanceTable = `
CREATE TABLE IF NOT EXISTS signal_performance (
    id               BIGSERIAL PRIMARY KEY,
    signal_id        BIGINT NOT NULL REFERENCES signals(id) ON DELETE CASCADE,
    horizon          TEXT NOT NULL,
    evaluated_at     TIMESTAMPTZ NOT NULL,
    price_at_horizon DOUBLE PRECISION NOT NULL,
    pnl              DOUBLE PRECISION NOT NULL,
    pnl_percent      DOUBLE PRECISION NOT NULL,
    hit_stop         BOOLEAN NOT NULL DEFAULT FALSE,
    hit_target1      BOOLEAN NOT NULL DEFAULT FALSE,
    hit_target2      BOOLEAN NOT NULL DEFAULT FALSE,
    hit_time_stop    BOOLEAN NOT NULL DEFAULT FALSE,
    outcome          TEXT NOT NULL,
    max_favorable    DOUBLE PRECISION,
    max_adverse      DOUBLE PRECISION,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (signal_id, horizon)
);

CREATE INDEX IF NOT EXISTS idx_signal_performance_horizon_evaluated
    ON signal_performance (horizon, evaluated_at DESC);
`

type PerformanceRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPerformanceRepository(pool PgxPool, tracer trace.Tracer) *PerformanceRepository {
	return &PerformanceRepository{pool: pool, tracer: tracer}
}

func (r *PerformanceRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "performance-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createPerformanceTable)
	return err
}

// UpsertPerformance inserts or overwrites the evaluation for one
// (signal, horizon) pair. Re-running an evaluation batch is safe: the
// uniqueness constraint makes the write idempotent.
func (r *PerformanceRepository) UpsertPerformance(ctx context.Context, perf domain.SignalPerformance) (*domain.SignalPerformance, error) {
	_, span := r.tracer.Start(ctx, "performance-repo.upsert-performance")
	defer span.End()

	row := r.pool.QueryRow(ctx,
		`INSERT INTO signal_performance (signal_id, horizon, evaluated_at,
		     price_at_horizon, pnl, pnl_percent, hit_stop, hit_target1,
		     hit_target2, hit_time_stop, outcome, max_favorable, max_adverse)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (signal_id, horizon) DO UPDATE SET
		     evaluated_at = EXCLUDED.evaluated_at,
		     price_at_horizon = EXCLUDED.price_at_horizon,
		     pnl = EXCLUDED.pnl,
		     pnl_percent = EXCLUDED.pnl_percent,
		     hit_stop = EXCLUDED.hit_stop,
		     hit_target1 = EXCLUDED.hit_target1,
		     hit_target2 = EXCLUDED.hit_target2,
		     hit_time_stop = EXCLUDED.hit_time_stop,
		     outcome = EXCLUDED.outcome,
		     max_favorable = EXCLUDED.max_favorable,
		     max_adverse = EXCLUDED.max_adverse
		 RETURNING id, created_at`,
		perf.SignalID, perf.Horizon, perf.EvaluatedAt, perf.PriceAtHorizon,
		perf.PnL, perf.PnLPercent, perf.HitStop, perf.HitTarget1,
		perf.HitTarget2, perf.HitTimeStop, perf.Outcome, perf.MaxFavorable,
		perf.MaxAdverse,
	)
	if err := row.Scan(&perf.ID, &perf.CreatedAt); err != nil {
		return nil, err
	}
	return &perf, nil
}

// ListPerformanceByMode returns evaluations at one horizon for signals of one
// mode generated inside [from, to], ordered by evaluation time.
func (r *PerformanceRepository) ListPerformanceByMode(ctx context.Context, mode domain.StrategyMode, horizon string, from, to time.Time) ([]domain.SignalPerformance, error) {
	_, span := r.tracer.Start(ctx, "performance-repo.list-by-mode")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.signal_id, p.horizon, p.evaluated_at, p.price_at_horizon,
		        p.pnl, p.pnl_percent, p.hit_stop, p.hit_target1, p.hit_target2,
		        p.hit_time_stop, p.outcome, p.max_favorable, p.max_adverse, p.created_at
		 FROM signal_performance p
		 JOIN signals s ON s.id = p.signal_id
		 WHERE s.mode = $1 AND p.horizon = $2
		   AND s.generated_at >= $3 AND s.generated_at < $4
		 ORDER BY p.evaluated_at`,
		mode, horizon, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perfs []domain.SignalPerformance
	for rows.Next() {
		var p domain.SignalPerformance
		if err := rows.Scan(&p.ID, &p.SignalID, &p.Horizon, &p.EvaluatedAt,
			&p.PriceAtHorizon, &p.PnL, &p.PnLPercent, &p.HitStop, &p.HitTarget1,
			&p.HitTarget2, &p.HitTimeStop, &p.Outcome, &p.MaxFavorable,
			&p.MaxAdverse, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.EvaluatedAt = p.EvaluatedAt.UTC()
		perfs = append(perfs, p)
	}
	return perfs, rows.Err()
}

// CountSignals counts all signals of one mode generated inside [from, to),
// evaluated or not.
func (r *PerformanceRepository) CountSignals(ctx context.Context, mode domain.StrategyMode, from, to time.Time) (int, error) {
	_, span := r.tracer.Start(ctx, "performance-repo.count-signals")
	defer span.End()

	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM signals
		 WHERE mode = $1 AND generated_at >= $2 AND generated_at < $3`,
		mode, from, to,
	).Scan(&count)
	return count, err
}
