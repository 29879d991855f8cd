package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketpulse/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type fakeSender struct {
	sent    []string
	sendErr error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, what.(string))
	return &tele.Message{}, nil
}

func TestTelegramSinkFormatsMessage(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	sink := &TelegramSink{bot: sender, chatID: 42}

	err := sink.Notify(context.Background(), domain.AlertEvent{
		Severity: domain.SeverityCritical,
		Symbol:   "SAFE",
		Message:  "trading paused: daily loss limit reached",
		At:       time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	want := "[CRITICAL] SAFE: trading paused: daily loss limit reached"
	if sender.sent[0] != want {
		t.Fatalf("unexpected message: %q", sender.sent[0])
	}
}

func TestTelegramSinkOmitsEmptySymbol(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	sink := &TelegramSink{bot: sender, chatID: 42}

	_ = sink.Notify(context.Background(), domain.AlertEvent{
		Severity: domain.SeverityWarning,
		Message:  "model overfit detected, previous version kept active",
	})
	want := "[WARNING] model overfit detected, previous version kept active"
	if sender.sent[0] != want {
		t.Fatalf("unexpected message: %q", sender.sent[0])
	}
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	t.Parallel()

	broken := &fakeSender{sendErr: errors.New("telegram down")}
	working := &fakeSender{}
	fanout := Fanout{
		&TelegramSink{bot: broken, chatID: 1},
		&TelegramSink{bot: working, chatID: 2},
	}

	err := fanout.Notify(context.Background(), domain.AlertEvent{
		Severity: domain.SeverityInfo,
		Message:  "retrain finished",
	})
	if err != nil {
		t.Fatalf("fanout must not propagate sink errors: %v", err)
	}
	if len(working.sent) != 1 {
		t.Fatalf("second sink should still receive the event")
	}
}
