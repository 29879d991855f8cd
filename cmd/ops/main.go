package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"marketpulse/internal/aggregator"
	"marketpulse/internal/backtest"
	"marketpulse/internal/cache"
	"marketpulse/internal/catalyst"
	"marketpulse/internal/config"
	"marketpulse/internal/db"
	"marketpulse/internal/domain"
	"marketpulse/internal/evaluator"
	"marketpulse/internal/ml/inference"
	"marketpulse/internal/ml/registry"
	"marketpulse/internal/ml/training"
	"marketpulse/internal/provider"
	"marketpulse/internal/regime"
	"marketpulse/internal/repository"
	"marketpulse/internal/risk"
	"marketpulse/internal/scanner"
	"marketpulse/internal/service"
	"marketpulse/pkg/tracing"

	"github.com/joho/godotenv"
)

// One-shot operational commands sharing the server's wiring: run a scan or
// evaluation cycle by hand, trigger training, roll a model back, or replay
// the scorer over recent history.
func main() {
	op := flag.String("op", "", "operation: scan | evaluate | aggregate | retrain | rollback | backtest")
	mode := flag.String("mode", "SAFE", "strategy mode for scan/aggregate")
	modelKey := flag.String("model", "", "model key for rollback")
	days := flag.Int("days", 250, "daily bars for backtest")
	topN := flag.Int("top-n", 5, "portfolio size for backtest")
	regimeAware := flag.Bool("regime-aware", false, "apply the crisis cash-out overlay in backtest")
	dryRun := flag.Bool("dry-run", false, "compute without persisting")
	flag.Parse()

	if *op == "" {
		flag.Usage()
		os.Exit(2)
	}

	godotenv.Load()
	cfg := config.Load()
	cfg.DryRun = cfg.DryRun || *dryRun

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	db.InitPostgres(ctx)
	cache.InitRedis(ctx)

	tp, tracer, err := tracing.InitTracer(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer tp.Shutdown(ctx)

	signalRepo := repository.NewSignalRepository(db.Pool, tracer)
	perfRepo := repository.NewPerformanceRepository(db.Pool, tracer)
	strategyRepo := repository.NewStrategyRepository(db.Pool, tracer)
	riskRepo := repository.NewRiskRepository(db.Pool, tracer)
	modelRepo := registry.NewRepository(db.Pool, tracer)

	sources := []provider.MarketSource{provider.NewYahooProvider(tracer)}
	if cfg.FinnhubToken != "" {
		sources = append(sources, provider.NewFinnhubProvider(cfg.FinnhubToken, tracer))
	}
	chain := provider.NewChain(tracer, sources...)
	market := service.NewMarketService(tracer, chain, cache.Client)

	switch *op {
	case "scan":
		m := domain.StrategyMode(*mode)
		if !m.IsValid() {
			log.Fatalf("invalid mode %q", *mode)
		}
		classifier := regime.NewClassifier(regime.DefaultConfig())
		enhancer := inference.NewService(tracer, modelRepo)
		sizer := risk.NewSizer(tracer, riskRepo)
		gen := scanner.NewGenerator(tracer, market, signalRepo, classifier, enhancer, sizer, scanner.Config{
			AccountID: cfg.AccountID,
			DryRun:    cfg.DryRun,
		})
		gen.SetCatalystSource(catalyst.NewScorer(tracer, catalyst.NewRSSHeadlineSource(tracer), cfg.OpenAIAPIKey, cfg.OpenAIModel))

		summary, err := gen.Scan(ctx, m, cfg.Universe)
		if err != nil {
			log.Fatalf("scan: %v", err)
		}
		log.Printf("scan %s: regime=%s attempted=%d emitted=%d rejected=%d failed=%d",
			m, summary.Regime, summary.Attempted, summary.Emitted, summary.Rejected, summary.Failed)

	case "evaluate":
		eval := evaluator.New(tracer, signalRepo, perfRepo, market, evaluator.Config{DryRun: cfg.DryRun})
		if !cfg.DryRun {
			eval.SetLossRecorder(risk.NewSizer(tracer, riskRepo), cfg.AccountID)
		}
		summaries, err := eval.EvaluateAll(ctx)
		if err != nil {
			log.Fatalf("evaluate: %v", err)
		}
		for _, s := range summaries {
			log.Printf("evaluate %s: attempted=%d evaluated=%d failed=%d", s.Horizon, s.Attempted, s.Evaluated, s.Failed)
		}

	case "aggregate":
		m := domain.StrategyMode(*mode)
		if !m.IsValid() {
			log.Fatalf("invalid mode %q", *mode)
		}
		agg := aggregator.New(tracer, perfRepo, strategyRepo, aggregator.Config{DryRun: cfg.DryRun})
		rows, err := agg.AggregateAll(ctx, m, time.Now().UTC())
		if err != nil {
			log.Fatalf("aggregate: %v", err)
		}
		for _, row := range rows {
			log.Printf("aggregate %s %s: signals=%d evaluated=%d pnl=%.2f%%",
				row.Mode, row.PeriodKind, row.TotalSignals, row.SignalsEvaluated, row.TotalPnLPercent)
		}

	case "retrain":
		trainer := training.NewService(tracer, signalRepo, modelRepo, training.Config{
			TrainWindowDays: cfg.TrainWindowDays,
			MinSamples:      cfg.MinTrainSamples,
			OverfitDelta:    cfg.OverfitDelta,
			DryRun:          cfg.DryRun,
		})
		results, err := trainer.TrainAll(ctx, time.Now().UTC())
		if err != nil {
			log.Fatalf("retrain: %v", err)
		}
		for _, r := range results {
			log.Printf("retrain %s: v%d samples=%d train=%.3f holdout=%.3f overfit=%v promoted=%v",
				r.ModelKey, r.Version, r.SampleCount, r.TrainScore, r.HoldoutScore, r.Overfit, r.Promoted)
		}

	case "rollback":
		if *modelKey == "" {
			log.Fatal("rollback requires -model")
		}
		trainer := training.NewService(tracer, signalRepo, modelRepo, training.Config{})
		state, err := trainer.Rollback(ctx, *modelKey)
		if err != nil {
			log.Fatalf("rollback: %v", err)
		}
		log.Printf("rollback %s: active version is now v%d", state.ModelKey, state.Version)

	case "backtest":
		panel, err := buildPanel(ctx, chain, cfg, *days)
		if err != nil {
			log.Fatalf("backtest panel: %v", err)
		}
		bt := backtest.New(tracer)
		result, err := bt.Run(ctx, panel, backtest.Config{TopN: *topN, RegimeAware: *regimeAware})
		if err != nil {
			log.Fatalf("backtest: %v", err)
		}
		log.Printf("backtest over %d periods: annualized=%.2f%% rebalances=%d crisis=%d",
			len(panel.Dates), result.AnnualizedReturn*100, result.Rebalances, result.CrisisPeriods)
		if result.Sharpe != nil {
			log.Printf("  sharpe=%.2f", *result.Sharpe)
		}
		if result.MaxDrawdown != nil {
			log.Printf("  max drawdown=%.2f%%", *result.MaxDrawdown)
		}
		if result.Alpha != nil {
			log.Printf("  alpha vs %s=%.2f%%", cfg.IndexSymbol, *result.Alpha*100)
		}

		report, err := bt.CompareRegimeAware(ctx, panel, backtest.Config{TopN: *topN})
		if err != nil {
			log.Fatalf("safety alpha: %v", err)
		}
		log.Printf("  safety alpha=%.2f%% drawdown improvement=%.2f pts",
			report.SafetyAlpha*100, report.DrawdownImprovement)

		ics := bt.InformationCoefficient(panel, icHorizons)
		for _, h := range icHorizons {
			if ic := ics[h]; ic != nil {
				log.Printf("  ic[%dd]=%.4f", h, *ic)
			} else {
				log.Printf("  ic[%dd]=n/a", h)
			}
		}

	default:
		log.Fatalf("unknown operation %q", *op)
	}
}

const momentumLookback = 20

// icHorizons are the forward-return horizons, in trading days, reported for
// the Information Coefficient.
var icHorizons = []int{1, 5, 21}

// buildPanel assembles an aligned daily price/score panel from the provider
// chain. Scores are trailing momentum, the same base ranking the scanner
// starts from before model enhancement.
func buildPanel(ctx context.Context, chain *provider.Chain, cfg *config.Config, days int) (*backtest.Panel, error) {
	bench, err := chain.Candles(ctx, cfg.IndexSymbol, "1d", days)
	if err != nil {
		return nil, fmt.Errorf("benchmark %s: %w", cfg.IndexSymbol, err)
	}
	if len(bench) < momentumLookback+2 {
		return nil, fmt.Errorf("only %d benchmark bars", len(bench))
	}

	n := len(bench)
	panel := &backtest.Panel{
		Dates:     make([]time.Time, n),
		Prices:    make(map[string][]float64),
		Scores:    make(map[string][]float64),
		Benchmark: make([]float64, n),
	}
	for i, c := range bench {
		panel.Dates[i] = c.Timestamp
		panel.Benchmark[i] = c.Close
	}
	panel.Regimes = regimeSeries(regime.NewClassifier(regime.DefaultConfig()), panel.Benchmark)

	for _, symbol := range cfg.Universe {
		candles, err := chain.Candles(ctx, symbol, "1d", days)
		if err != nil {
			log.Printf("backtest: skipping %s: %v", symbol, err)
			continue
		}
		if len(candles) != n {
			log.Printf("backtest: skipping %s: %d bars, want %d", symbol, len(candles), n)
			continue
		}

		prices := make([]float64, n)
		scores := make([]float64, n)
		for i, c := range candles {
			prices[i] = c.Close
			if i >= momentumLookback && candles[i-momentumLookback].Close > 0 {
				scores[i] = c.Close/candles[i-momentumLookback].Close - 1
			}
		}
		panel.Prices[symbol] = prices
		panel.Scores[symbol] = scores
	}

	if len(panel.Prices) == 0 {
		return nil, fmt.Errorf("no symbols with %d aligned bars", n)
	}
	return panel, nil
}

// regimeSeries labels every date from the benchmark closes seen up to that
// date, the same walk-forward view the live classifier gets. Early dates
// with too little history come back Unknown and stay invested.
func regimeSeries(classifier *regime.Classifier, closes []float64) []domain.Regime {
	out := make([]domain.Regime, len(closes))
	for i := range closes {
		out[i] = classifier.Classify(closes[:i+1], nil)
	}
	return out
}
