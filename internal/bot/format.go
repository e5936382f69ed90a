package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing_bot/internal/model"
)

const timeLayout = "2006-01-02 15:04 UTC"

const noFiltersHint = "You have no filters yet: open the search on the site, set your filters and send me the page URL."

// Reply keyboard labels.
const (
	btnRun       = "Run"
	btnStop      = "Stop"
	btnStatus    = "Status"
	btnSubscribe = "Subscribe"
	btnHelp      = "Help"
)

func mainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnRun),
			tgbotapi.NewKeyboardButton(btnStop),
			tgbotapi.NewKeyboardButton(btnStatus),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSubscribe),
			tgbotapi.NewKeyboardButton(btnHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

// FormatListing formats a listing as an HTML message or photo caption.
func FormatListing(d *model.Detail) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(escape(d.Title))
	b.WriteString("</b>\n")

	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "\n%s: %s", label, escape(value))
		}
	}
	field("Price", d.Price)
	field("Area", d.Area)
	field("Rooms", d.Rooms)
	field("Floor", d.Floor)
	field("Owner", d.Owner)
	field("Phone", d.Phone)

	if d.Link != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">Open listing</a>", escape(d.Link))
	}
	return b.String()
}

// FormatStatus formats the user's subscription and monitoring state.
func FormatStatus(u *model.User, now time.Time) string {
	var b strings.Builder

	if u.Status == model.StatusRunning {
		b.WriteString("Monitoring: running\n")
	} else {
		b.WriteString("Monitoring: stopped\n")
	}

	switch {
	case u.SubscriptionActive(now):
		fmt.Fprintf(&b, "Subscription: active until %s\n", formatTime(u.SubscriptionEnd))
	case !u.SubscriptionEnd.IsZero():
		fmt.Fprintf(&b, "Subscription: expired on %s\n", formatTime(u.SubscriptionEnd))
	default:
		b.WriteString("Subscription: none\n")
	}

	if u.TrialUsed {
		b.WriteString("Free trial: used\n")
	} else {
		b.WriteString("Free trial: available, use /trial\n")
	}

	if u.HasFilter() {
		fmt.Fprintf(&b, "\nSearch URL:\n%s\nSet at %s", u.FilterURL, formatTime(u.FilterSetAt))
	} else {
		b.WriteString("\n" + noFiltersHint)
	}
	if !u.LastDeliveredAt.IsZero() {
		fmt.Fprintf(&b, "\nLast listing sent at %s", formatTime(u.LastDeliveredAt))
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeHTML, s)
}
