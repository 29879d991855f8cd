package alert

import (
	"context"
	"fmt"

	"marketpulse/internal/domain"

	tele "gopkg.in/telebot.v3"
)

// telebotSender is the slice of *tele.Bot the sink needs; tests swap it out.
type telebotSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink pushes alerts to one chat.
type TelegramSink struct {
	bot    telebotSender
	chatID int64
}

// NewTelegramSink creates the sink. The bot is created without a poller:
// this sink only sends.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID}, nil
}

func (s *TelegramSink) Notify(_ context.Context, event domain.AlertEvent) error {
	msg := fmt.Sprintf("[%s] %s", event.Severity, event.Message)
	if event.Symbol != "" {
		msg = fmt.Sprintf("[%s] %s: %s", event.Severity, event.Symbol, event.Message)
	}
	_, err := s.bot.Send(&tele.Chat{ID: s.chatID}, msg)
	return err
}
