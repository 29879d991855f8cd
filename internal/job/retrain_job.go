package job

import (
	"context"
	"fmt"
	"log"
	"time"

	"marketpulse/internal/alert"
	"marketpulse/internal/domain"
	"marketpulse/internal/ml/training"

	"go.opentelemetry.io/otel/trace"
)

type Trainer interface {
	TrainAll(ctx context.Context, now time.Time) ([]training.TrainResult, error)
}

// RetrainJob fires once a day at a fixed UTC hour. Overfit detections raise
// an alert; the training service itself already refused to promote them.
type RetrainJob struct {
	tracer    trace.Tracer
	trainer   Trainer
	alerts    alert.Sink
	trainHour int
}

func NewRetrainJob(tracer trace.Tracer, trainer Trainer, alerts alert.Sink, trainHourUTC int) *RetrainJob {
	if trainHourUTC < 0 || trainHourUTC > 23 {
		trainHourUTC = 0
	}
	return &RetrainJob{tracer: tracer, trainer: trainer, alerts: alerts, trainHour: trainHourUTC}
}

func (j *RetrainJob) Start(ctx context.Context) {
	if j.trainer == nil {
		log.Println("Retrain job disabled: no trainer")
		<-ctx.Done()
		return
	}
	for {
		next := nextRunUTC(time.Now().UTC(), j.trainHour)
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *RetrainJob) RunOnce(ctx context.Context) {
	_, span := j.tracer.Start(ctx, "retrain-job.run-once")
	defer span.End()

	results, err := j.trainer.TrainAll(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("Retrain cycle error: %v", err)
		return
	}
	for _, r := range results {
		log.Printf("Retrain result model=%s version=%d train=%.4f holdout=%.4f overfit=%v promoted=%v",
			r.ModelKey, r.Version, r.TrainScore, r.HoldoutScore, r.Overfit, r.Promoted)
		if r.Overfit && j.alerts != nil {
			_ = j.alerts.Notify(ctx, domain.AlertEvent{
				Severity: domain.SeverityWarning,
				Message: fmt.Sprintf("model %s v%d overfit (train %.2f vs holdout %.2f), previous version kept active",
					r.ModelKey, r.Version, r.TrainScore, r.HoldoutScore),
				At: time.Now().UTC(),
			})
		}
		if r.PromoteError != nil && j.alerts != nil {
			_ = j.alerts.Notify(ctx, domain.AlertEvent{
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("model %s v%d trained but activation failed: %v", r.ModelKey, r.Version, r.PromoteError),
				At:       time.Now().UTC(),
			})
		}
	}
}

func nextRunUTC(now time.Time, hour int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !run.After(now) {
		run = run.Add(24 * time.Hour)
	}
	return run
}
