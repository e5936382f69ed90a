package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing_bot/internal/model"
)

const (
	cbTrial     = "trial"
	cbSubscribe = "subscribe"
	cbRun       = "run"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	b.ackCallback(cb.ID, "")
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	b.log.Info("callback",
		"action", cb.Data,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch cb.Data {
	case cbTrial:
		b.handleTrial(ctx, chatID)
	case cbSubscribe:
		// Paying from the status card starts monitoring.
		b.sendInvoice(chatID, model.StatusRunning)
	case cbRun:
		b.handleRun(ctx, chatID)
	}
}

func (b *Bot) ackCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}
