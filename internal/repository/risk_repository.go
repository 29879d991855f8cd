package repository

import (
	"context"
	"errors"

	"marketpulse/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createRiskBudgetsTable = `
CREATE TABLE IF NOT EXISTS risk_budgets (
    account_id          TEXT PRIMARY KEY,
    equity              DOUBLE PRECISION NOT NULL,
    per_trade_risk_pct  DOUBLE PRECISION NOT NULL,
    daily_risk_cap_pct  DOUBLE PRECISION NOT NULL,
    weekly_risk_cap_pct DOUBLE PRECISION NOT NULL,
    daily_risk_used     DOUBLE PRECISION NOT NULL DEFAULT 0,
    weekly_risk_used    DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_daily_loss_pct  DOUBLE PRECISION NOT NULL DEFAULT 0,
    daily_loss_used     DOUBLE PRECISION NOT NULL DEFAULT 0,
    trading_paused      BOOLEAN NOT NULL DEFAULT FALSE,
    paused_until        TIMESTAMPTZ,
    pause_reason        TEXT NOT NULL DEFAULT '',
    min_shares          INTEGER NOT NULL DEFAULT 0,
    max_shares          INTEGER NOT NULL DEFAULT 0,
    volatility_sizing   BOOLEAN NOT NULL DEFAULT FALSE,
    rollover_date       TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type RiskRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRiskRepository(pool PgxPool, tracer trace.Tracer) *RiskRepository {
	return &RiskRepository{pool: pool, tracer: tracer}
}

func (r *RiskRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "risk-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createRiskBudgetsTable)
	return err
}

// GetBudget returns the budget for one account, or (nil, nil) when the
// account has none configured yet.
func (r *RiskRepository) GetBudget(ctx context.Context, accountID string) (*domain.RiskBudget, error) {
	_, span := r.tracer.Start(ctx, "risk-repo.get-budget")
	defer span.End()

	row := r.pool.QueryRow(ctx,
		`SELECT account_id, equity, per_trade_risk_pct, daily_risk_cap_pct,
		        weekly_risk_cap_pct, daily_risk_used, weekly_risk_used,
		        max_daily_loss_pct, daily_loss_used, trading_paused,
		        paused_until, pause_reason,
		        min_shares, max_shares, volatility_sizing, rollover_date,
		        updated_at
		 FROM risk_budgets
		 WHERE account_id = $1`,
		accountID,
	)

	var b domain.RiskBudget
	err := row.Scan(&b.AccountID, &b.Equity, &b.PerTradeRiskPct,
		&b.DailyRiskCapPct, &b.WeeklyRiskCapPct, &b.DailyRiskUsed,
		&b.WeeklyRiskUsed, &b.MaxDailyLossPct, &b.DailyLossUsed,
		&b.TradingPaused, &b.PausedUntil, &b.PauseReason, &b.MinShares, &b.MaxShares,
		&b.VolatilitySizing, &b.RolloverDate, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.RolloverDate = b.RolloverDate.UTC()
	return &b, nil
}

// SaveBudget upserts the budget row for one account.
func (r *RiskRepository) SaveBudget(ctx context.Context, budget *domain.RiskBudget) error {
	_, span := r.tracer.Start(ctx, "risk-repo.save-budget")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO risk_budgets (account_id, equity, per_trade_risk_pct,
		     daily_risk_cap_pct, weekly_risk_cap_pct, daily_risk_used,
		     weekly_risk_used, max_daily_loss_pct, daily_loss_used,
		     trading_paused, paused_until, pause_reason, min_shares,
		     max_shares, volatility_sizing, rollover_date, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         $15, $16, $17)
		 ON CONFLICT (account_id) DO UPDATE SET
		     equity = EXCLUDED.equity,
		     per_trade_risk_pct = EXCLUDED.per_trade_risk_pct,
		     daily_risk_cap_pct = EXCLUDED.daily_risk_cap_pct,
		     weekly_risk_cap_pct = EXCLUDED.weekly_risk_cap_pct,
		     daily_risk_used = EXCLUDED.daily_risk_used,
		     weekly_risk_used = EXCLUDED.weekly_risk_used,
		     max_daily_loss_pct = EXCLUDED.max_daily_loss_pct,
		     daily_loss_used = EXCLUDED.daily_loss_used,
		     trading_paused = EXCLUDED.trading_paused,
		     paused_until = EXCLUDED.paused_until,
		     pause_reason = EXCLUDED.pause_reason,
		     min_shares = EXCLUDED.min_shares,
		     max_shares = EXCLUDED.max_shares,
		     volatility_sizing = EXCLUDED.volatility_sizing,
		     rollover_date = EXCLUDED.rollover_date,
		     updated_at = EXCLUDED.updated_at`,
		budget.AccountID, budget.Equity, budget.PerTradeRiskPct,
		budget.DailyRiskCapPct, budget.WeeklyRiskCapPct, budget.DailyRiskUsed,
		budget.WeeklyRiskUsed, budget.MaxDailyLossPct, budget.DailyLossUsed,
		budget.TradingPaused, budget.PausedUntil, budget.PauseReason, budget.MinShares,
		budget.MaxShares, budget.VolatilitySizing, budget.RolloverDate,
		budget.UpdatedAt,
	)
	return err
}
