package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketpulse/internal/aggregator"
	"marketpulse/internal/alert"
	"marketpulse/internal/cache"
	"marketpulse/internal/catalyst"
	"marketpulse/internal/config"
	"marketpulse/internal/db"
	"marketpulse/internal/domain"
	"marketpulse/internal/evaluator"
	"marketpulse/internal/handler"
	"marketpulse/internal/job"
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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	initRedisFunc    = cache.InitRedis
	initTracerFunc   = tracing.InitTracer
	newRouterFunc    = gin.Default
	startJobFunc     = func(start func(context.Context), ctx context.Context) { go start(ctx) }

	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	signalRepo := repository.NewSignalRepository(db.Pool, tracer)
	perfRepo := repository.NewPerformanceRepository(db.Pool, tracer)
	strategyRepo := repository.NewStrategyRepository(db.Pool, tracer)
	riskRepo := repository.NewRiskRepository(db.Pool, tracer)
	modelRepo := registry.NewRepository(db.Pool, tracer)

	if db.Pool != nil {
		for _, migrate := range []func(context.Context) error{
			signalRepo.RunMigrations,
			perfRepo.RunMigrations,
			strategyRepo.RunMigrations,
			riskRepo.RunMigrations,
			modelRepo.RunMigrations,
		} {
			if err := migrate(ctx); err != nil {
				log.Fatalf("failed to run migrations: %v", err)
			}
		}
		if err := seedRiskBudget(ctx, riskRepo, cfg); err != nil {
			log.Fatalf("failed to seed risk budget: %v", err)
		}
	}

	// Market data: Yahoo first, Finnhub as fallback when a token is set.
	sources := []provider.MarketSource{provider.NewYahooProvider(tracer)}
	if cfg.FinnhubToken != "" {
		sources = append(sources, provider.NewFinnhubProvider(cfg.FinnhubToken, tracer))
	}
	chain := provider.NewChain(tracer, sources...)
	marketService := service.NewMarketService(tracer, chain, cache.Client)

	alerts := buildAlertSink(cfg)

	classifier := regime.NewClassifier(regime.DefaultConfig())
	enhancer := inference.NewService(tracer, modelRepo)
	sizer := risk.NewSizer(tracer, riskRepo)

	generator := scanner.NewGenerator(tracer, marketService, signalRepo, classifier, enhancer, sizer, scanner.Config{
		AccountID: cfg.AccountID,
		DryRun:    cfg.DryRun,
	})
	generator.SetCatalystSource(catalyst.NewScorer(tracer, catalyst.NewRSSHeadlineSource(tracer), cfg.OpenAIAPIKey, cfg.OpenAIModel))

	eval := evaluator.New(tracer, signalRepo, perfRepo, marketService, evaluator.Config{DryRun: cfg.DryRun})
	eval.SetLossRecorder(sizer, cfg.AccountID)
	eval.SetAlertSink(alerts)
	agg := aggregator.New(tracer, perfRepo, strategyRepo, aggregator.Config{DryRun: cfg.DryRun})
	trainer := training.NewService(tracer, signalRepo, modelRepo, training.Config{
		TrainWindowDays: cfg.TrainWindowDays,
		MinSamples:      cfg.MinTrainSamples,
		OverfitDelta:    cfg.OverfitDelta,
		DryRun:          cfg.DryRun,
	})

	scanJob := job.NewScanJob(tracer, generator, cfg.Universe, time.Duration(cfg.ScanPollSecs)*time.Second)
	evalJob := job.NewEvaluationJob(tracer, eval, time.Duration(cfg.EvalPollSecs)*time.Second)
	aggJob := job.NewAggregationJob(tracer, agg, time.Duration(cfg.AggregatePollSecs)*time.Second)
	quoteJob := job.NewQuoteRefreshJob(tracer, marketService, cfg.Universe, time.Duration(cfg.QuotePollSecs)*time.Second)
	retrainJob := job.NewRetrainJob(tracer, trainer, alerts, cfg.TrainHourUTC)

	startJobFunc(scanJob.Start, ctx)
	startJobFunc(evalJob.Start, ctx)
	startJobFunc(aggJob.Start, ctx)
	startJobFunc(quoteJob.Start, ctx)
	startJobFunc(retrainJob.Start, ctx)

	h := handler.New(tracer, signalRepo, strategyRepo, modelRepo, trainer)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("marketpulse"))
	h.RegisterRoutes(r, cfg.APIKey)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

// seedRiskBudget creates the account's budget row on first boot so the sizer
// has caps to charge against. An existing row is left untouched.
func seedRiskBudget(ctx context.Context, repo *repository.RiskRepository, cfg *config.Config) error {
	existing, err := repo.GetBudget(ctx, cfg.AccountID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	now := time.Now().UTC()
	return repo.SaveBudget(ctx, &domain.RiskBudget{
		AccountID:        cfg.AccountID,
		Equity:           cfg.AccountEquity,
		PerTradeRiskPct:  cfg.PerTradeRiskPct,
		DailyRiskCapPct:  cfg.PerTradeRiskPct * 3,
		WeeklyRiskCapPct: cfg.PerTradeRiskPct * 6,
		MaxDailyLossPct:  cfg.MaxDailyLossPct,
		MinShares:        1,
		VolatilitySizing: true,
		RolloverDate:     now,
		UpdatedAt:        now,
	})
}

func buildAlertSink(cfg *config.Config) alert.Sink {
	sinks := alert.Fanout{alert.LogSink{}}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := alert.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("telegram alerts disabled: %v", err)
		} else {
			sinks = append(sinks, tg)
		}
	}
	return sinks
}
