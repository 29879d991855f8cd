// Package job holds the ticker loops that drive the pipeline: scanning,
// evaluation, aggregation, retraining, quote refresh. Every job is a
// Start(ctx) loop that exits on cancellation and logs a run summary.
package job

import (
	"context"
	"log"
	"time"

	"marketpulse/internal/domain"
	"marketpulse/internal/scanner"

	"go.opentelemetry.io/otel/trace"
)

type Scanner interface {
	Scan(ctx context.Context, mode domain.StrategyMode, universe []string) (*scanner.Summary, error)
}

type ScanJob struct {
	tracer       trace.Tracer
	scanner      Scanner
	universe     []string
	modes        []domain.StrategyMode
	pollInterval time.Duration
}

func NewScanJob(tracer trace.Tracer, sc Scanner, universe []string, pollInterval time.Duration) *ScanJob {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &ScanJob{
		tracer:       tracer,
		scanner:      sc,
		universe:     universe,
		modes:        []domain.StrategyMode{domain.ModeSafe, domain.ModeAggressive},
		pollInterval: pollInterval,
	}
}

func (j *ScanJob) Start(ctx context.Context) {
	if j.scanner == nil || len(j.universe) == 0 {
		log.Println("Scan job disabled: no scanner or empty universe")
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

func (j *ScanJob) runOnce(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "scan-job.run-once")
	defer span.End()

	for _, mode := range j.modes {
		summary, err := j.scanner.Scan(ctx, mode, j.universe)
		if err != nil {
			log.Printf("Scan cycle error mode=%s: %v", mode, err)
			continue
		}
		log.Printf("Scan cycle complete mode=%s regime=%s attempted=%d emitted=%d rejected=%d failed=%d",
			mode, summary.Regime, summary.Attempted, summary.Emitted, summary.Rejected, summary.Failed)
	}
}
