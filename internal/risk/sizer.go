// Package risk turns candidate signals into concrete position sizes against
// an account-level budget. Sizing decisions for the same account are
// serialized so two concurrent signals cannot both pass a cap check that
// only one of them should.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var (
	ErrTradingPaused  = errors.New("trading paused for account")
	ErrBudgetExceeded = errors.New("risk budget exceeded")
	ErrInvalidStop    = errors.New("stop must differ from entry")
)

type BudgetStore interface {
	GetBudget(ctx context.Context, accountID string) (*domain.RiskBudget, error)
	SaveBudget(ctx context.Context, budget *domain.RiskBudget) error
}

type Sizer struct {
	tracer trace.Tracer
	store  BudgetStore
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSizer(tracer trace.Tracer, store BudgetStore) *Sizer {
	return &Sizer{
		tracer: tracer,
		store:  store,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

type Decision struct {
	Shares     int
	RiskAmount float64
	Reduced    bool
}

// Size computes the share count for a signal such that the loss at the stop
// never exceeds equity x per-trade risk, then charges the amount against the
// daily and weekly budgets. SAFE mode rejects when a cap would be breached;
// AGGRESSIVE shrinks the position into the remaining budget.
func (s *Sizer) Size(ctx context.Context, accountID string, sig *domain.Signal) (*Decision, error) {
	ctx, span := s.tracer.Start(ctx, "risk-sizer.size")
	defer span.End()

	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	budget, err := s.store.GetBudget(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load risk budget: %w", err)
	}
	if budget == nil {
		return nil, fmt.Errorf("no risk budget for account %s", accountID)
	}
	s.rollover(budget)

	if budget.TradingPaused {
		if budget.PausedUntil == nil || s.now().Before(*budget.PausedUntil) {
			return nil, fmt.Errorf("%w: %s", ErrTradingPaused, budget.PauseReason)
		}
		budget.TradingPaused = false
		budget.PausedUntil = nil
		budget.PauseReason = ""
	}

	perShareRisk := math.Abs(sig.EntryPrice - sig.StopPrice)
	if perShareRisk <= 0 {
		return nil, ErrInvalidStop
	}

	riskPct := sig.RiskPerTrade
	if riskPct <= 0 {
		riskPct = budget.PerTradeRiskPct
	}
	maxRisk := budget.Equity * riskPct / 100
	shares := int(math.Floor(maxRisk / perShareRisk))
	if budget.MaxShares > 0 && shares > budget.MaxShares {
		shares = budget.MaxShares
	}
	if shares < budget.MinShares || shares <= 0 {
		return nil, fmt.Errorf("%w: size %d below minimum", ErrBudgetExceeded, shares)
	}

	riskAmount := float64(shares) * perShareRisk
	dailyRemaining := budget.Equity*budget.DailyRiskCapPct/100 - budget.DailyRiskUsed
	weeklyRemaining := budget.Equity*budget.WeeklyRiskCapPct/100 - budget.WeeklyRiskUsed
	remaining := math.Min(dailyRemaining, weeklyRemaining)

	reduced := false
	if riskAmount > remaining {
		if sig.Mode == domain.ModeSafe {
			return nil, fmt.Errorf("%w: need %.2f, remaining %.2f", ErrBudgetExceeded, riskAmount, remaining)
		}
		shares = int(math.Floor(remaining / perShareRisk))
		if shares < budget.MinShares || shares <= 0 {
			return nil, fmt.Errorf("%w: remaining budget %.2f too small", ErrBudgetExceeded, remaining)
		}
		riskAmount = float64(shares) * perShareRisk
		reduced = true
	}

	budget.DailyRiskUsed += riskAmount
	budget.WeeklyRiskUsed += riskAmount
	budget.UpdatedAt = s.now().UTC()
	if err := s.store.SaveBudget(ctx, budget); err != nil {
		return nil, fmt.Errorf("save risk budget: %w", err)
	}

	return &Decision{Shares: shares, RiskAmount: riskAmount, Reduced: reduced}, nil
}

// RecordLoss deducts a realized loss from equity, accumulates it against
// the daily max-loss cap and pauses the account until the next day when the
// accumulated losses breach the cap. The pause is what the alert sink
// reports as "trading paused".
func (s *Sizer) RecordLoss(ctx context.Context, accountID string, lossAmount float64) (paused bool, err error) {
	ctx, span := s.tracer.Start(ctx, "risk-sizer.record-loss")
	defer span.End()

	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	budget, err := s.store.GetBudget(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("load risk budget: %w", err)
	}
	if budget == nil {
		return false, fmt.Errorf("no risk budget for account %s", accountID)
	}
	s.rollover(budget)

	budget.Equity -= lossAmount
	budget.DailyLossUsed += lossAmount
	maxLoss := budget.Equity * budget.MaxDailyLossPct / 100
	if budget.MaxDailyLossPct > 0 && budget.DailyLossUsed >= maxLoss {
		until := nextMidnightUTC(s.now())
		budget.TradingPaused = true
		budget.PausedUntil = &until
		budget.PauseReason = fmt.Sprintf("daily loss cap %.1f%% breached", budget.MaxDailyLossPct)
		paused = true
	}
	budget.UpdatedAt = s.now().UTC()
	if err := s.store.SaveBudget(ctx, budget); err != nil {
		return paused, fmt.Errorf("save risk budget: %w", err)
	}
	return paused, nil
}

// rollover resets used-budget counters across day and ISO-week boundaries.
func (s *Sizer) rollover(budget *domain.RiskBudget) {
	now := s.now().UTC()
	today := now.Truncate(24 * time.Hour)
	last := budget.RolloverDate.UTC().Truncate(24 * time.Hour)
	if last.Equal(today) {
		return
	}
	budget.DailyRiskUsed = 0
	budget.DailyLossUsed = 0
	ly, lw := budget.RolloverDate.UTC().ISOWeek()
	ny, nw := now.ISOWeek()
	if ly != ny || lw != nw {
		budget.WeeklyRiskUsed = 0
	}
	budget.RolloverDate = today
}

func (s *Sizer) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	return lock
}

func nextMidnightUTC(now time.Time) time.Time {
	t := now.UTC().Truncate(24 * time.Hour)
	return t.Add(24 * time.Hour)
}
