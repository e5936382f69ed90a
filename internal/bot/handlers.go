package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing_bot/internal/access"
	"listing_bot/internal/metrics"
	"listing_bot/internal/model"
)

const (
	cmdStart     = "start"
	cmdHelp      = "help"
	cmdRun       = "run"
	cmdStop      = "stop"
	cmdTrial     = "trial"
	cmdStatus    = "status"
	cmdSubscribe = "subscribe"
	cmdFilters   = "filters"
	cmdSupport   = "support"
)

func (b *Bot) handleStart(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, `Welcome to Listing Notify Bot!

I watch a property search for you and send every new listing as soon as it appears.

Quick start:
1. Open the search on the site, set your filters and send me the page URL
2. /trial — try it free for 48 hours, or /subscribe
3. /run — start monitoring

Use /help for the full command reference.`)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = mainKeyboard()
	b.sendLogged(msg)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Monitoring:
/run — start monitoring
/stop — pause monitoring (the subscription keeps running)
/status — subscription and filter details

Filters:
/filters <url> — set the search URL (or just send the URL)
/filters — show the current search URL

Subscription:
/trial — one-time free trial
/subscribe — pay for a subscription term

Other:
/support <text> — message the support team`)
}

func (b *Bot) handleRun(ctx context.Context, chatID int64) {
	err := b.access.Start(ctx, chatID)
	switch {
	case errors.Is(err, access.ErrPaymentRequired):
		b.offerSubscription(ctx, chatID)
		return
	case err != nil:
		b.log.Error("start monitoring", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}
	metrics.RecordAccessEvent("start")

	text := "Monitoring started. New listings will arrive here."
	if u, err := b.access.Profile(ctx, chatID); err == nil && !u.HasFilter() {
		text += "\n\n" + noFiltersHint
	}
	b.reply(chatID, text)
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	if err := b.access.Stop(ctx, chatID); err != nil {
		b.log.Error("stop monitoring", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}
	metrics.RecordAccessEvent("stop")
	b.reply(chatID, "Monitoring stopped. Use /run to resume.")
}

func (b *Bot) handleTrial(ctx context.Context, chatID int64) {
	end, err := b.access.GrantTrial(ctx, chatID)
	switch {
	case errors.Is(err, access.ErrTrialAlreadyUsed):
		b.reply(chatID, "You have already used the free trial. Use /subscribe to continue.")
		return
	case errors.Is(err, access.ErrAlreadyActive):
		b.reply(chatID, "Your subscription is already active. Use /status for details.")
		return
	case err != nil:
		b.log.Error("grant trial", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}
	metrics.RecordAccessEvent("trial")

	text := fmt.Sprintf("Free trial activated until %s. Monitoring is running.", formatTime(end))
	if u, err := b.access.Profile(ctx, chatID); err == nil && !u.HasFilter() {
		text += "\n\n" + noFiltersHint
	}
	b.reply(chatID, text)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	u, err := b.access.Profile(ctx, chatID)
	if err != nil {
		b.log.Error("load profile", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}
	now := b.now()
	msg := tgbotapi.NewMessage(chatID, FormatStatus(u, now))
	msg.DisableWebPagePreview = true
	switch {
	case !u.SubscriptionActive(now):
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Subscribe", cbSubscribe),
		))
	case u.Status == model.StatusStopped:
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Start monitoring", cbRun),
		))
	}
	b.sendLogged(msg)
}

func (b *Bot) handleSubscribe(ctx context.Context, chatID int64) {
	status := model.StatusStopped
	if u, err := b.access.Profile(ctx, chatID); err == nil {
		status = u.Status
	}
	b.sendInvoice(chatID, status)
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64, args string) {
	if args == "" {
		u, err := b.access.Profile(ctx, chatID)
		if err != nil || u.FilterURL == "" {
			b.reply(chatID, "No filters yet.\n\n"+noFiltersHint)
			return
		}
		b.reply(chatID, fmt.Sprintf("Current search URL:\n%s\n\nSend a new URL to replace it.", u.FilterURL))
		return
	}

	rawURL, ok := ParseFilterURL(args)
	if !ok {
		b.reply(chatID, "Usage: /filters <url>")
		return
	}
	err := b.access.SaveFilters(ctx, chatID, rawURL)
	switch {
	case errors.Is(err, access.ErrInvalidFilter):
		b.reply(chatID, "That does not look like a search URL. Copy the address of the search results page and send it again.")
		return
	case err != nil:
		b.log.Error("save filters", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong, please try again later.")
		return
	}
	metrics.RecordAccessEvent("filters")
	b.reply(chatID, "Filters saved. Listings published from now on will be sent to you while monitoring is running.")
}

func (b *Bot) handleSupport(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	if args == "" {
		b.reply(chatID, "Usage: /support <your message>")
		return
	}
	if b.cfg.AdminChatID == 0 {
		b.reply(chatID, "Support is not available right now, please try again later.")
		return
	}

	text := fmt.Sprintf("Support message from %d", chatID)
	if msg.From.UserName != "" {
		text += " (@" + msg.From.UserName + ")"
	}
	text += ":\n\n" + args
	if err := b.Alert(ctx, text); err != nil {
		b.log.Error("forward support message", "chat_id", chatID, "error", err)
		b.reply(chatID, "Could not deliver your message, please try again later.")
		return
	}
	b.reply(chatID, "Your message has been sent to support.")
}

// offerSubscription explains that access is missing, offers the trial when it
// is still available and sends an invoice that starts monitoring once paid.
func (b *Bot) offerSubscription(ctx context.Context, chatID int64) {
	trialUsed := true
	if u, err := b.access.Profile(ctx, chatID); err == nil {
		trialUsed = u.TrialUsed
	}

	msg := tgbotapi.NewMessage(chatID, "Monitoring needs an active subscription.")
	if !trialUsed {
		msg.Text += " You can also try it free first."
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Free trial", cbTrial),
		))
	}
	b.sendLogged(msg)
	b.sendInvoice(chatID, model.StatusRunning)
}
