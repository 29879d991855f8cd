package main

import (
	"context"
	"log"
	"os"
	"strings"

	"marketpulse/internal/ml/registry"
	"marketpulse/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc = godotenv.Load
	openPool    = pgxpool.New
	fatalf      = log.Fatalf
)

func main() {
	loadEnvFunc()

	dsn := os.Getenv("DATABASE_URL")
	if strings.TrimSpace(dsn) == "" {
		fatalf("DATABASE_URL is required")
		return
	}

	ctx := context.Background()
	pool, err := openPool(ctx, dsn)
	if err != nil {
		fatalf("connect to postgres: %v", err)
		return
	}
	defer pool.Close()

	if err := runAll(ctx, pool); err != nil {
		fatalf("migrate: %v", err)
		return
	}
	log.Println("migrations complete")
}

func runAll(ctx context.Context, pool *pgxpool.Pool) error {
	tracer := trace.NewNoopTracerProvider().Tracer("migrate")

	migrations := []struct {
		name string
		run  func(context.Context) error
	}{
		{"signals", repository.NewSignalRepository(pool, tracer).RunMigrations},
		{"signal_performance", repository.NewPerformanceRepository(pool, tracer).RunMigrations},
		{"strategy_performance", repository.NewStrategyRepository(pool, tracer).RunMigrations},
		{"risk_budgets", repository.NewRiskRepository(pool, tracer).RunMigrations},
		{"model_versions", registry.NewRepository(pool, tracer).RunMigrations},
	}

	for _, m := range migrations {
		if err := m.run(ctx); err != nil {
			return err
		}
		log.Printf("applied %s", m.name)
	}
	return nil
}
