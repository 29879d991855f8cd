// Package evaluator scores signals against realized prices at each horizon.
// Writes are upserts keyed by (signal, horizon), so re-running a window is
// idempotent and concurrent runs cannot duplicate work.
package evaluator

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"marketpulse/internal/alert"
	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// BreakevenBandPct bounds the WIN/LOSS classification: PnL inside the band
// is BREAKEVEN. Fixed rather than volatility-scaled for now.
const BreakevenBandPct = 0.1

type SignalStore interface {
	ListUnevaluated(ctx context.Context, horizon string, generatedFrom, generatedTo time.Time) ([]domain.Signal, error)
}

type PerformanceStore interface {
	UpsertPerformance(ctx context.Context, perf domain.SignalPerformance) (*domain.SignalPerformance, error)
}

type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// LossRecorder charges a realized loss against the account's daily max-loss
// cap and reports whether the account got paused as a result.
type LossRecorder interface {
	RecordLoss(ctx context.Context, accountID string, lossAmount float64) (bool, error)
}

type Config struct {
	Concurrency int
	DryRun      bool
}

type Evaluator struct {
	tracer    trace.Tracer
	signals   SignalStore
	perfs     PerformanceStore
	prices    PriceSource
	losses    LossRecorder
	alerts    alert.Sink
	accountID string
	cfg       Config
	now       func() time.Time
}

func New(tracer trace.Tracer, signals SignalStore, perfs PerformanceStore, prices PriceSource, cfg Config) *Evaluator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Evaluator{
		tracer:  tracer,
		signals: signals,
		perfs:   perfs,
		prices:  prices,
		cfg:     cfg,
		now:     time.Now,
	}
}

// lossChargeHorizon is the single horizon whose losing outcomes are charged
// against the risk budget, so one signal never pays twice.
const lossChargeHorizon = "EOD"

// SetLossRecorder feeds realized losses back into the account's risk budget.
// Without it evaluation is pure bookkeeping.
func (e *Evaluator) SetLossRecorder(recorder LossRecorder, accountID string) {
	e.losses = recorder
	e.accountID = accountID
}

// SetAlertSink makes trading-pause events visible outside the process log.
func (e *Evaluator) SetAlertSink(sink alert.Sink) {
	e.alerts = sink
}

type Summary struct {
	Horizon   string
	Attempted int
	Evaluated int
	Failed    int
}

// EvaluateHorizon processes every eligible unevaluated signal for one
// horizon. Price fetches run concurrently with a bounded worker count; one
// symbol's failure never blocks the rest.
func (e *Evaluator) EvaluateHorizon(ctx context.Context, horizon domain.Horizon) (*Summary, error) {
	ctx, span := e.tracer.Start(ctx, "evaluator.evaluate-horizon")
	defer span.End()

	now := e.now().UTC()
	from := now.Add(-horizon.MaxAge)
	to := now.Add(-horizon.MinAge)

	signals, err := e.signals.ListUnevaluated(ctx, horizon.Label, from, to)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Horizon: horizon.Label, Attempted: len(signals)}
	var mu sync.Mutex
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := range signals {
		sig := signals[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			price, err := e.prices.LatestPrice(ctx, sig.Symbol)
			if err != nil {
				log.Printf("evaluator: price for %s unavailable, skipping: %v", sig.Symbol, err)
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				return
			}
			perf := Evaluate(&sig, horizon.Label, price, now)
			if !e.cfg.DryRun {
				if _, err := e.perfs.UpsertPerformance(ctx, perf); err != nil {
					log.Printf("evaluator: persist %s/%s failed: %v", sig.Symbol, horizon.Label, err)
					mu.Lock()
					summary.Failed++
					mu.Unlock()
					return
				}
				e.chargeLoss(ctx, perf)
			}
			mu.Lock()
			summary.Evaluated++
			mu.Unlock()
		}()
	}
	wg.Wait()

	return summary, nil
}

// chargeLoss feeds a losing outcome into the risk budget. ListUnevaluated
// hands out each (signal, horizon) pair exactly once, so re-runs cannot
// double-charge.
func (e *Evaluator) chargeLoss(ctx context.Context, perf domain.SignalPerformance) {
	if e.losses == nil || perf.Horizon != lossChargeHorizon || !perf.Outcome.IsLosing() || perf.PnL >= 0 {
		return
	}
	paused, err := e.losses.RecordLoss(ctx, e.accountID, -perf.PnL)
	if err != nil {
		log.Printf("evaluator: record loss for signal %d failed: %v", perf.SignalID, err)
		return
	}
	if paused {
		log.Printf("evaluator: account %s paused, daily loss cap breached", e.accountID)
		if e.alerts != nil {
			_ = e.alerts.Notify(ctx, domain.AlertEvent{
				Severity: domain.SeverityCritical,
				Message:  fmt.Sprintf("trading paused for account %s: daily loss cap breached", e.accountID),
				At:       e.now().UTC(),
			})
		}
	}
}

// EvaluateAll runs every defined horizon in sequence and returns the
// per-horizon summaries. A horizon-level failure stops the run; per-symbol
// failures do not.
func (e *Evaluator) EvaluateAll(ctx context.Context) ([]Summary, error) {
	out := make([]Summary, 0, len(domain.Horizons))
	for _, h := range domain.Horizons {
		s, err := e.EvaluateHorizon(ctx, h)
		if err != nil {
			return out, err
		}
		out = append(out, *s)
	}
	return out, nil
}

// Evaluate is the pure outcome computation: side-aware P&L, stop/target
// crossing, time-stop, and the fixed outcome priority. Exposed so the
// backtester can reuse the exact live semantics.
func Evaluate(sig *domain.Signal, horizon string, price float64, evaluatedAt time.Time) domain.SignalPerformance {
	perf := domain.SignalPerformance{
		SignalID:       sig.ID,
		Horizon:        horizon,
		EvaluatedAt:    evaluatedAt.UTC(),
		PriceAtHorizon: price,
	}

	var pnlPerShare float64
	if sig.Side == domain.SideLong {
		pnlPerShare = price - sig.EntryPrice
		perf.HitStop = price <= sig.StopPrice
		if len(sig.Targets) > 0 {
			perf.HitTarget1 = price >= sig.Targets[0]
		}
		if len(sig.Targets) > 1 {
			perf.HitTarget2 = price >= sig.Targets[1]
		}
	} else {
		pnlPerShare = sig.EntryPrice - price
		perf.HitStop = price >= sig.StopPrice
		if len(sig.Targets) > 0 {
			perf.HitTarget1 = price <= sig.Targets[0]
		}
		if len(sig.Targets) > 1 {
			perf.HitTarget2 = price <= sig.Targets[1]
		}
	}

	perf.PnL = pnlPerShare * float64(sig.SizeShares)
	if sig.EntryPrice != 0 {
		perf.PnLPercent = pnlPerShare / sig.EntryPrice * 100
	}

	elapsed := evaluatedAt.Sub(sig.GeneratedAt)
	perf.HitTimeStop = sig.TimeStopMin > 0 && elapsed >= time.Duration(sig.TimeStopMin)*time.Minute

	// Priority: a path that crossed both the stop and a target counts as a
	// stop-out, never a target hit.
	switch {
	case perf.HitStop:
		perf.Outcome = domain.OutcomeStopHit
	case perf.HitTarget1 || perf.HitTarget2:
		perf.Outcome = domain.OutcomeTargetHit
	case perf.PnLPercent > BreakevenBandPct:
		perf.Outcome = domain.OutcomeWin
	case perf.PnLPercent < -BreakevenBandPct:
		perf.Outcome = domain.OutcomeLoss
	default:
		perf.Outcome = domain.OutcomeBreakeven
	}

	if math.IsNaN(perf.PnLPercent) {
		perf.PnLPercent = 0
	}
	return perf
}
