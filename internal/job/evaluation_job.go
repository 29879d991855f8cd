package job

import (
	"context"
	"log"
	"time"

	"marketpulse/internal/evaluator"

	"go.opentelemetry.io/otel/trace"
)

type EvaluationRunner interface {
	EvaluateAll(ctx context.Context) ([]evaluator.Summary, error)
}

type EvaluationJob struct {
	tracer       trace.Tracer
	runner       EvaluationRunner
	pollInterval time.Duration
}

func NewEvaluationJob(tracer trace.Tracer, runner EvaluationRunner, pollInterval time.Duration) *EvaluationJob {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Minute
	}
	return &EvaluationJob{tracer: tracer, runner: runner, pollInterval: pollInterval}
}

func (j *EvaluationJob) Start(ctx context.Context) {
	if j.runner == nil {
		log.Println("Evaluation job disabled: no runner")
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

func (j *EvaluationJob) runOnce(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "evaluation-job.run-once")
	defer span.End()

	summaries, err := j.runner.EvaluateAll(ctx)
	if err != nil {
		log.Printf("Evaluation cycle error: %v", err)
		return
	}
	for _, s := range summaries {
		if s.Attempted == 0 {
			continue
		}
		log.Printf("Evaluation cycle horizon=%s attempted=%d evaluated=%d failed=%d",
			s.Horizon, s.Attempted, s.Evaluated, s.Failed)
	}
}
