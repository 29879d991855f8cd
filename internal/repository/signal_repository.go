package repository

import (
	"context"
	"encoding/json"
	"time"

	"marketpulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createSignalsTable = `
CREATE TABLE IF NOT EXISTS signals (
    id             BIGSERIAL PRIMARY KEY,
    generated_at   TIMESTAMPTZ NOT NULL,
    mode           TEXT NOT NULL,
    symbol         TEXT NOT NULL,
    side           TEXT NOT NULL,
    features       JSONB NOT NULL DEFAULT '{}',
    score          DOUBLE PRECISION NOT NULL,
    entry_price    DOUBLE PRECISION NOT NULL,
    stop_price     DOUBLE PRECISION NOT NULL,
    targets        DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
    time_stop_min  INTEGER NOT NULL,
    size_shares    INTEGER NOT NULL DEFAULT 0,
    risk_per_trade DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_signals_generated_at
    ON signals (generated_at DESC);

CREATE INDEX IF NOT EXISTS idx_signals_mode_generated_at
    ON signals (mode, generated_at DESC);

CREATE INDEX IF NOT EXISTS idx_signals_symbol_generated_at
    ON signals (symbol, generated_at DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type SignalRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSignalRepository(pool PgxPool, tracer trace.Tracer) *SignalRepository {
	return &SignalRepository{pool: pool, tracer: tracer}
}

func (r *SignalRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "signal-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createSignalsTable)
	return err
}

const signalColumns = `id, generated_at, mode, symbol, side, features, score,
       entry_price, stop_price, targets, time_stop_min, size_shares,
       risk_per_trade, created_at`

// InsertSignal persists a new signal and returns it with ID and CreatedAt set.
// Signals are never updated afterwards.
func (r *SignalRepository) InsertSignal(ctx context.Context, sig domain.Signal) (*domain.Signal, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.insert-signal")
	defer span.End()

	features, err := json.Marshal(sig.Features)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO signals (generated_at, mode, symbol, side, features, score,
		                      entry_price, stop_price, targets, time_stop_min,
		                      size_shares, risk_per_trade)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at`,
		sig.GeneratedAt, sig.Mode, sig.Symbol, sig.Side, features, sig.Score,
		sig.EntryPrice, sig.StopPrice, sig.Targets, sig.TimeStopMin,
		sig.SizeShares, sig.RiskPerTrade,
	)
	if err := row.Scan(&sig.ID, &sig.CreatedAt); err != nil {
		return nil, err
	}
	return &sig, nil
}

// ListUnevaluated returns signals generated inside [from, to] that have no
// performance row for the given horizon yet, oldest first.
func (r *SignalRepository) ListUnevaluated(ctx context.Context, horizon string, generatedFrom, generatedTo time.Time) ([]domain.Signal, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.list-unevaluated")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT `+signalColumns+`
		 FROM signals s
		 WHERE s.generated_at >= $2 AND s.generated_at <= $3
		   AND NOT EXISTS (
		       SELECT 1 FROM signal_performance p
		       WHERE p.signal_id = s.id AND p.horizon = $1)
		 ORDER BY s.generated_at`,
		horizon, generatedFrom, generatedTo,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSignals(rows)
}

// ListSignals returns signals matching the filter, newest first.
func (r *SignalRepository) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.list-signals")
	defer span.End()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	to := filter.To
	if to.IsZero() {
		to = time.Now().UTC()
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+signalColumns+`
		 FROM signals
		 WHERE ($1 = '' OR symbol = $1)
		   AND ($2 = '' OR mode = $2)
		   AND generated_at >= $3 AND generated_at <= $4
		 ORDER BY generated_at DESC
		 LIMIT $5`,
		filter.Symbol, string(filter.Mode), filter.From, to, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSignals(rows)
}

// ListLabeledExamples joins feature snapshots with realized outcomes at one
// horizon, ordered chronologically for time-respecting train/holdout splits.
func (r *SignalRepository) ListLabeledExamples(ctx context.Context, horizon string, from, to time.Time) ([]domain.LabeledExample, error) {
	_, span := r.tracer.Start(ctx, "signal-repo.list-labeled-examples")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.generated_at, s.features, p.outcome
		 FROM signals s
		 JOIN signal_performance p ON p.signal_id = s.id AND p.horizon = $1
		 WHERE s.generated_at >= $2 AND s.generated_at <= $3
		 ORDER BY s.generated_at`,
		horizon, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var examples []domain.LabeledExample
	for rows.Next() {
		var ex domain.LabeledExample
		var features []byte
		if err := rows.Scan(&ex.SignalID, &ex.GeneratedAt, &features, &ex.Outcome); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(features, &ex.Features); err != nil {
			return nil, err
		}
		ex.GeneratedAt = ex.GeneratedAt.UTC()
		examples = append(examples, ex)
	}
	return examples, rows.Err()
}

func scanSignals(rows pgx.Rows) ([]domain.Signal, error) {
	var signals []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var features []byte
		if err := rows.Scan(&sig.ID, &sig.GeneratedAt, &sig.Mode, &sig.Symbol,
			&sig.Side, &features, &sig.Score, &sig.EntryPrice, &sig.StopPrice,
			&sig.Targets, &sig.TimeStopMin, &sig.SizeShares, &sig.RiskPerTrade,
			&sig.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(features, &sig.Features); err != nil {
			return nil, err
		}
		sig.GeneratedAt = sig.GeneratedAt.UTC()
		sig.CreatedAt = sig.CreatedAt.UTC()
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}
