package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"listing_bot/internal/config"
	"listing_bot/internal/model"
)

// captionLimit is the Telegram limit on photo captions, in characters.
const captionLimit = 1024

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Access is the subscription state machine the bot drives.
type Access interface {
	Profile(ctx context.Context, chatID int64) (*model.User, error)
	Start(ctx context.Context, chatID int64) error
	Stop(ctx context.Context, chatID int64) error
	GrantTrial(ctx context.Context, chatID int64) (time.Time, error)
	ExtendOnPayment(ctx context.Context, chatID int64, status model.Status) (time.Time, error)
	SaveFilters(ctx context.Context, chatID int64, rawURL string) error
}

// Bot is the Telegram bot that handles user commands, payments and listing notifications.
type Bot struct {
	api     telegramAPI
	access  Access
	cfg     *config.Config
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Bot with the given Telegram token, access controller and config.
func New(token string, access Access, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("authorized on telegram", "username", api.Self.UserName)

	return &Bot{
		api:     api,
		access:  access,
		cfg:     cfg,
		limiter: newLimiter(cfg.SendRate),
		log:     log,
		now:     time.Now,
	}, nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(update.PreCheckoutQuery)
		return
	case update.CallbackQuery != nil:
		if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
			b.ackCallback(update.CallbackQuery.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	// A captured payment is applied even if the allow list changed since the invoice.
	if msg.SuccessfulPayment != nil {
		b.handlePayment(ctx, msg)
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.handleText(ctx, msg)
}

// SendListing delivers a listing to a user: a photo with caption when the
// listing has an image, a text message otherwise or when the photo is rejected.
func (b *Bot) SendListing(ctx context.Context, chatID int64, d *model.Detail) error {
	text := FormatListing(d)

	if len(d.Images) > 0 && utf8.RuneCountInString(text) <= captionLimit {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(d.Images[0]))
		photo.Caption = text
		photo.ParseMode = tgbotapi.ModeHTML
		err := b.send(ctx, photo)
		if err == nil {
			return nil
		}
		b.log.Warn("send photo failed, falling back to text", "chat_id", chatID, "link", d.Link, "error", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	return b.send(ctx, msg)
}

// Alert sends an operator message to the admin chat. Without an admin chat the
// alert is only logged.
func (b *Bot) Alert(ctx context.Context, text string) error {
	if b.cfg.AdminChatID == 0 {
		b.log.Warn("no admin chat configured, alert dropped", "text", text)
		return nil
	}
	msg := tgbotapi.NewMessage(b.cfg.AdminChatID, text)
	msg.DisableWebPagePreview = true
	return b.send(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.sendLogged(msg)
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) sendLogged(c tgbotapi.Chattable) {
	if err := b.send(context.Background(), c); err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	if _, err := b.api.Send(c); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case cmdStart:
		b.handleStart(chatID)
	case cmdHelp:
		b.handleHelp(chatID)
	case cmdRun:
		b.handleRun(ctx, chatID)
	case cmdStop:
		b.handleStop(ctx, chatID)
	case cmdTrial:
		b.handleTrial(ctx, chatID)
	case cmdStatus:
		b.handleStatus(ctx, chatID)
	case cmdSubscribe:
		b.handleSubscribe(ctx, chatID)
	case cmdFilters:
		b.handleFilters(ctx, chatID, args)
	case cmdSupport:
		b.handleSupport(ctx, msg, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// handleText maps reply keyboard buttons to commands and treats a bare search
// URL as new filters.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	switch text {
	case btnRun:
		b.handleRun(ctx, chatID)
	case btnStop:
		b.handleStop(ctx, chatID)
	case btnStatus:
		b.handleStatus(ctx, chatID)
	case btnSubscribe:
		b.handleSubscribe(ctx, chatID)
	case btnHelp:
		b.handleHelp(chatID)
	default:
		if _, ok := ParseFilterURL(text); ok {
			b.handleFilters(ctx, chatID, text)
			return
		}
		b.reply(chatID, "Send a search URL to set your filters, or use /help.")
	}
}
