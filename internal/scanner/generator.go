// Package scanner runs the signal pipeline: feature extraction, regime and
// safety gating, scoring, risk parameter derivation, and sizing. One failed
// symbol never aborts the scan; every run ends with a summary of what was
// attempted, emitted, and rejected.
package scanner

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/features"
	"marketpulse/internal/regime"
	"marketpulse/internal/risk"
	"marketpulse/internal/safety"

	"go.opentelemetry.io/otel/trace"
)

type MarketData interface {
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	Candles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error)
	IndexHistory(ctx context.Context) (closes []float64, vix []float64, err error)
}

type SignalStore interface {
	InsertSignal(ctx context.Context, sig domain.Signal) (*domain.Signal, error)
}

type ProbabilityModel interface {
	EnhanceScore(ctx context.Context, baseScore float64, fs domain.FeatureSet) float64
}

// CatalystSource rates news flow for one symbol in [0, 1]. Optional.
type CatalystSource interface {
	Score(ctx context.Context, symbol string) (float64, error)
}

type Config struct {
	AccountID    string
	CandleWindow int
	TopN         int
	DryRun       bool
}

type Generator struct {
	tracer     trace.Tracer
	market     MarketData
	store      SignalStore
	extractor  *features.Extractor
	classifier *regime.Classifier
	filter     *safety.Filter
	model      ProbabilityModel
	catalyst   CatalystSource
	sizer      *risk.Sizer
	cfg        Config
	now        func() time.Time
}

// SetCatalystSource enables news-driven catalyst scoring. Without it the
// catalyst feature stays at its neutral zero.
func (g *Generator) SetCatalystSource(source CatalystSource) {
	g.catalyst = source
}

func NewGenerator(
	tracer trace.Tracer,
	market MarketData,
	store SignalStore,
	classifier *regime.Classifier,
	model ProbabilityModel,
	sizer *risk.Sizer,
	cfg Config,
) *Generator {
	if cfg.CandleWindow <= 0 {
		cfg.CandleWindow = 120
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	return &Generator{
		tracer:     tracer,
		market:     market,
		store:      store,
		extractor:  features.NewExtractor(),
		classifier: classifier,
		filter:     safety.NewFilter(),
		model:      model,
		sizer:      sizer,
		cfg:        cfg,
		now:        time.Now,
	}
}

type Summary struct {
	Mode       domain.StrategyMode
	Regime     domain.Regime
	Attempted  int
	Emitted    int
	Rejected   int
	Failed     int
	Signals    []*domain.Signal
	Rejections map[string][]string
}

// Scan walks the universe for one mode. During a Crisis regime no new
// entries are emitted at all; the summary still reports what would have
// been attempted.
func (g *Generator) Scan(ctx context.Context, mode domain.StrategyMode, universe []string) (*Summary, error) {
	ctx, span := g.tracer.Start(ctx, "scanner.scan")
	defer span.End()

	summary := &Summary{Mode: mode, Rejections: make(map[string][]string)}

	closes, vix, err := g.market.IndexHistory(ctx)
	if err != nil {
		log.Printf("scanner: index history unavailable, regime unknown: %v", err)
	}
	summary.Regime = g.classifier.Classify(closes, vix)
	if summary.Regime.CashOut() {
		summary.Attempted = len(universe)
		summary.Rejected = len(universe)
		log.Printf("scanner: %s regime active, suppressing all new entries", summary.Regime)
		return summary, nil
	}
	regimeSettings := regime.SettingsFor(summary.Regime)
	params := domain.ParamsFor(mode)

	type candidate struct {
		signal    *domain.Signal
		spreadBps float64
	}
	var candidates []candidate

	for _, symbol := range universe {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}
		summary.Attempted++

		sig, spreadBps, reasons, err := g.evaluateSymbol(ctx, symbol, mode, params, regimeSettings)
		if err != nil {
			summary.Failed++
			log.Printf("scanner: %s failed, skipping: %v", symbol, err)
			continue
		}
		if sig == nil {
			summary.Rejected++
			if len(reasons) > 0 {
				summary.Rejections[symbol] = reasons
			}
			continue
		}
		candidates = append(candidates, candidate{signal: sig, spreadBps: spreadBps})
	}

	// Rank by score, tie-broken by tighter spread.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].signal.Score != candidates[j].signal.Score {
			return candidates[i].signal.Score > candidates[j].signal.Score
		}
		return candidates[i].spreadBps < candidates[j].spreadBps
	})
	if len(candidates) > g.cfg.TopN {
		for _, c := range candidates[g.cfg.TopN:] {
			summary.Rejected++
			summary.Rejections[c.signal.Symbol] = []string{"below top-N cutoff"}
		}
		candidates = candidates[:g.cfg.TopN]
	}

	for _, c := range candidates {
		sig := c.signal
		decision, err := g.sizer.Size(ctx, g.cfg.AccountID, sig)
		if err != nil {
			summary.Rejected++
			summary.Rejections[sig.Symbol] = []string{err.Error()}
			continue
		}
		sig.SizeShares = decision.Shares

		if !g.cfg.DryRun {
			stored, err := g.store.InsertSignal(ctx, *sig)
			if err != nil {
				summary.Failed++
				log.Printf("scanner: persist %s failed: %v", sig.Symbol, err)
				continue
			}
			sig = stored
		}
		summary.Emitted++
		summary.Signals = append(summary.Signals, sig)
	}

	return summary, nil
}

func (g *Generator) evaluateSymbol(
	ctx context.Context,
	symbol string,
	mode domain.StrategyMode,
	params domain.ModeParams,
	regimeSettings regime.Settings,
) (*domain.Signal, float64, []string, error) {
	quote, err := g.market.Quote(ctx, symbol)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("quote: %w", err)
	}
	window, err := g.market.Candles(ctx, symbol, g.cfg.CandleWindow)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("candles: %w", err)
	}

	fs := g.extractor.Compute(window, quote)
	if g.catalyst != nil {
		if score, err := g.catalyst.Score(ctx, symbol); err == nil {
			fs["catalyst_score"] = score
		} else {
			log.Printf("scanner: catalyst score %s unavailable: %v", symbol, err)
		}
	}
	spreadBps := fs["spread_bps"]

	if res := g.filter.Check(quote, spreadBps, mode); !res.Passed {
		return nil, spreadBps, res.Reasons, nil
	}

	base := baseScore(fs)
	score := g.model.EnhanceScore(ctx, base, fs) * regimeSettings.ConvictionMult
	if score < params.MinScore {
		return nil, spreadBps, []string{fmt.Sprintf("score %.2f below %.2f threshold", score, params.MinScore)}, nil
	}

	side := domain.SideLong
	if fs["momentum"] < 0 {
		side = domain.SideShort
	}

	atr := g.extractor.ATRValue(window)
	if atr <= 0 {
		// Without ATR there is no sane stop distance; fall back to 1% of price.
		atr = quote.Price * 0.01 / params.StopATRMult
	}
	entry := quote.Price
	stopDistance := atr * params.StopATRMult

	var stop float64
	targets := make([]float64, 0, len(params.TargetRMultiples))
	if side == domain.SideLong {
		stop = entry - stopDistance
		for _, r := range params.TargetRMultiples {
			targets = append(targets, entry+stopDistance*r)
		}
	} else {
		stop = entry + stopDistance
		for _, r := range params.TargetRMultiples {
			targets = append(targets, entry-stopDistance*r)
		}
	}
	if stop <= 0 {
		return nil, spreadBps, []string{"stop distance exceeds price"}, nil
	}

	timeStop := int(math.Round(float64(params.TimeStopMinutes) * regimeSettings.TimeStopScale))
	if timeStop < 5 {
		timeStop = 5
	}

	return &domain.Signal{
		GeneratedAt:  g.now().UTC(),
		Mode:         mode,
		Symbol:       symbol,
		Side:         side,
		Features:     fs,
		Score:        score,
		EntryPrice:   entry,
		StopPrice:    stop,
		Targets:      targets,
		TimeStopMin:  timeStop,
		RiskPerTrade: params.RiskPerTradePct,
	}, spreadBps, nil, nil
}

// baseScore is the rule-based component on [0,1]: momentum quality, volume
// confirmation, breakout strength, and position relative to VWAP.
func baseScore(fs domain.FeatureSet) float64 {
	score := 0.0

	m := math.Abs(fs["momentum"])
	switch {
	case m > 3:
		score += 0.30
	case m > 2:
		score += 0.25
	case m > 1:
		score += 0.15
	case m > 0.5:
		score += 0.05
	}

	vr := fs["volume_ratio"]
	switch {
	case vr > 2.5:
		score += 0.25
	case vr > 2:
		score += 0.20
	case vr > 1.5:
		score += 0.10
	}

	b := fs["breakout_pct"]
	if b > 0 && b <= 15 {
		score += math.Min(b/15, 1) * 0.25
	}

	// trading above VWAP confirms the move without chasing
	vd := fs["vwap_distance"]
	if vd > 0 && vd < 2 {
		score += 0.20
	}

	return math.Min(score, 1)
}
