package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing_bot/internal/metrics"
	"listing_bot/internal/model"
)

// sendInvoice issues a subscription invoice. status is applied to the user
// when the payment succeeds.
func (b *Bot) sendInvoice(chatID int64, status model.Status) {
	days := int(b.cfg.SubscriptionTerm.Hours() / 24)
	inv := tgbotapi.NewInvoice(
		chatID,
		"Listing notifications",
		fmt.Sprintf("%d days of instant notifications about new listings for your search.", days),
		FormatPayload(chatID, status),
		b.cfg.PaymentProviderToken,
		"",
		b.cfg.PaymentCurrency,
		[]tgbotapi.LabeledPrice{{Label: fmt.Sprintf("Subscription, %d days", days), Amount: b.cfg.SubscriptionPrice}},
	)
	// A nil slice is sent as null, which the API rejects.
	inv.SuggestedTipAmounts = []int{}
	b.sendLogged(inv)
}

// handlePreCheckout approves only invoices this bot issued for the paying chat.
func (b *Bot) handlePreCheckout(q *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}

	chatID, _, err := ParsePayload(q.InvoicePayload)
	switch {
	case err != nil:
		answer.OK, answer.ErrorMessage = false, "Unknown invoice."
	case q.From == nil || chatID != q.From.ID:
		answer.OK, answer.ErrorMessage = false, "This invoice was issued for another account."
	case q.Currency != b.cfg.PaymentCurrency || q.TotalAmount != b.cfg.SubscriptionPrice:
		answer.OK, answer.ErrorMessage = false, "The price has changed, please request a new invoice with /subscribe."
	}
	if !answer.OK {
		b.log.Warn("pre-checkout rejected", "payload", q.InvoicePayload, "reason", answer.ErrorMessage)
	}

	if _, err := b.api.Request(answer); err != nil {
		b.log.Error("answer pre-checkout", "error", err)
	}
}

func (b *Bot) handlePayment(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	p := msg.SuccessfulPayment

	_, status, err := ParsePayload(p.InvoicePayload)
	if err != nil {
		b.log.Error("parse payment payload", "chat_id", chatID, "payload", p.InvoicePayload, "error", err)
		b.paymentFailed(ctx, chatID, p, err)
		return
	}

	end, err := b.access.ExtendOnPayment(ctx, chatID, status)
	if err != nil {
		b.log.Error("extend subscription", "chat_id", chatID, "error", err)
		b.paymentFailed(ctx, chatID, p, err)
		return
	}
	metrics.RecordAccessEvent("payment")
	b.log.Info("payment applied", "chat_id", chatID, "amount", p.TotalAmount, "currency", p.Currency,
		"charge_id", p.TelegramPaymentChargeID)

	text := fmt.Sprintf("Payment received, thank you! Subscription active until %s.", formatTime(end))
	if status == model.StatusRunning {
		text += " Monitoring is running."
	} else {
		text += " Use /run to start monitoring."
	}
	if u, err := b.access.Profile(ctx, chatID); err == nil && !u.HasFilter() {
		text += "\n\n" + noFiltersHint
	}
	b.reply(chatID, text)
}

func (b *Bot) paymentFailed(ctx context.Context, chatID int64, p *tgbotapi.SuccessfulPayment, cause error) {
	b.reply(chatID, "Payment received, but the subscription could not be updated. Support has been notified.")
	alert := fmt.Sprintf("Payment from %d not applied (charge %s, %d %s): %v",
		chatID, p.TelegramPaymentChargeID, p.TotalAmount, p.Currency, cause)
	if err := b.Alert(ctx, alert); err != nil {
		b.log.Error("send payment alert", "chat_id", chatID, "error", err)
	}
}
