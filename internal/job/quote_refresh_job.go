package job

import (
	"context"
	"log"
	"time"

	"marketpulse/internal/service"

	"go.opentelemetry.io/otel/trace"
)

type QuoteRefresher interface {
	RefreshQuotes(ctx context.Context, symbols []string) *service.RefreshSummary
}

// QuoteRefreshJob keeps the quote cache warm so scans read mostly from Redis.
type QuoteRefreshJob struct {
	tracer       trace.Tracer
	refresher    QuoteRefresher
	universe     []string
	pollInterval time.Duration
}

func NewQuoteRefreshJob(tracer trace.Tracer, refresher QuoteRefresher, universe []string, pollInterval time.Duration) *QuoteRefreshJob {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &QuoteRefreshJob{tracer: tracer, refresher: refresher, universe: universe, pollInterval: pollInterval}
}

func (j *QuoteRefreshJob) Start(ctx context.Context) {
	if j.refresher == nil || len(j.universe) == 0 {
		log.Println("Quote refresh job disabled: no refresher or empty universe")
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

func (j *QuoteRefreshJob) runOnce(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "quote-refresh-job.run-once")
	defer span.End()

	summary := j.refresher.RefreshQuotes(ctx, j.universe)
	if len(summary.Failed) > 0 {
		log.Printf("Quote refresh: %d/%d failed: %v", len(summary.Failed), summary.Attempted, summary.Failed)
	}
}
