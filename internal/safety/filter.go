// Package safety gates candidate symbols before any signal is scored.
// Rejections carry human-readable reasons so a scan summary can say exactly
// why a name was excluded.
package safety

import (
	"fmt"

	"marketpulse/internal/domain"
)

type Result struct {
	Passed  bool
	Reasons []string
}

type Filter struct{}

func NewFilter() *Filter {
	return &Filter{}
}

// Check runs every gate and accumulates all failures rather than stopping at
// the first, so operators see the full picture for a rejected symbol.
func (f *Filter) Check(quote *domain.Quote, spreadBps float64, mode domain.StrategyMode) Result {
	p := domain.ParamsFor(mode)
	var reasons []string

	if quote == nil || quote.Price <= 0 {
		return Result{Passed: false, Reasons: []string{"no quote available"}}
	}

	if quote.MarketCap > 0 && quote.MarketCap < p.MinMarketCap {
		reasons = append(reasons, fmt.Sprintf("market cap $%.0fM below $%.0fM minimum",
			quote.MarketCap/1e6, p.MinMarketCap/1e6))
	}

	dollarVolume := quote.DayVolume * quote.Price
	if dollarVolume < p.MinDollarVolume {
		reasons = append(reasons, fmt.Sprintf("dollar volume $%.1fM below $%.1fM minimum",
			dollarVolume/1e6, p.MinDollarVolume/1e6))
	}
	if quote.DayVolume < p.MinShareVolume {
		reasons = append(reasons, fmt.Sprintf("share volume %.1fM below %.1fM minimum",
			quote.DayVolume/1e6, p.MinShareVolume/1e6))
	}

	if spreadBps > p.MaxSpreadBps {
		reasons = append(reasons, fmt.Sprintf("spread %.1fbps above %.1fbps maximum",
			spreadBps, p.MaxSpreadBps))
	}

	// Chasing is disallowed: a name that already ran past the pre-move cap is
	// excluded even if every liquidity gate passes.
	if preMove := preMovePercent(quote); preMove > p.MaxPreMovePct {
		reasons = append(reasons, fmt.Sprintf("already moved %.1f%% (max %.1f%%)",
			preMove, p.MaxPreMovePct))
	}

	return Result{Passed: len(reasons) == 0, Reasons: reasons}
}

func preMovePercent(q *domain.Quote) float64 {
	if q.ChangePercent != 0 {
		if q.ChangePercent < 0 {
			return -q.ChangePercent
		}
		return q.ChangePercent
	}
	if q.PrevClose <= 0 {
		return 0
	}
	move := (q.Price/q.PrevClose - 1) * 100
	if move < 0 {
		return -move
	}
	return move
}
