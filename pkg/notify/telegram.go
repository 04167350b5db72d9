package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/smith3v/wa-word-reminder/pkg/metrics"
)

const telegramMessageLimit = 4096

// TelegramNotifier posts reports to an operator chat.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64, opts ...bot.Option) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram notifier needs a token and chat id")
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b, chatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, r Report) error {
	text := r.Subject + "\n\n" + r.Body
	if r.Alert {
		text = "⚠️ " + text
	}
	if runes := []rune(text); len(runes) > telegramMessageLimit {
		text = string(runes[:telegramMessageLimit-1]) + "…"
	}
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	metrics.RecordNotification("telegram", err)
	if err != nil {
		return fmt.Errorf("send telegram report: %w", err)
	}
	return nil
}
