package job

import (
	"context"
	"log"
	"time"

	"marketpulse/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type AggregationRunner interface {
	AggregateAll(ctx context.Context, mode domain.StrategyMode, asOf time.Time) ([]*domain.StrategyPerformance, error)
}

type AggregationJob struct {
	tracer       trace.Tracer
	runner       AggregationRunner
	pollInterval time.Duration
}

func NewAggregationJob(tracer trace.Tracer, runner AggregationRunner, pollInterval time.Duration) *AggregationJob {
	if pollInterval <= 0 {
		pollInterval = time.Hour
	}
	return &AggregationJob{tracer: tracer, runner: runner, pollInterval: pollInterval}
}

func (j *AggregationJob) Start(ctx context.Context) {
	if j.runner == nil {
		log.Println("Aggregation job disabled: no runner")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *AggregationJob) runOnce(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "aggregation-job.run-once")
	defer span.End()

	asOf := time.Now().UTC()
	for _, mode := range []domain.StrategyMode{domain.ModeSafe, domain.ModeAggressive} {
		perfs, err := j.runner.AggregateAll(ctx, mode, asOf)
		if err != nil {
			log.Printf("Aggregation cycle error mode=%s: %v", mode, err)
			continue
		}
		log.Printf("Aggregation cycle complete mode=%s periods=%d", mode, len(perfs))
	}
}
