// Package alert delivers operational notifications: overfit detections,
// trading pauses, provider outages. Delivery is best-effort; a failed send
// never fails the job that raised it.
package alert

import (
	"context"
	"log"

	"marketpulse/internal/domain"
)

// Sink receives alert events.
type Sink interface {
	Notify(ctx context.Context, event domain.AlertEvent) error
}

// LogSink writes alerts to the process log. The fallback when no Telegram
// token is configured.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, event domain.AlertEvent) error {
	log.Printf("ALERT [%s] %s %s", event.Severity, event.Symbol, event.Message)
	return nil
}

// Fanout forwards each event to every sink, logging per-sink failures.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, event domain.AlertEvent) error {
	for _, sink := range f {
		if err := sink.Notify(ctx, event); err != nil {
			log.Printf("alert sink error: %v", err)
		}
	}
	return nil
}
