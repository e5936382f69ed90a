// Package dedup delivers scan candidates and advances each user's delivery
// watermark so no listing is sent twice across cycles.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"listing_bot/internal/metrics"
	"listing_bot/internal/model"
	"listing_bot/internal/render"
	"listing_bot/internal/scanner"
)

// Extractor fetches listing details.
type Extractor interface {
	FetchDetail(ctx context.Context, d render.Driver, link string) (*model.Detail, error)
}

// Notifier sends one listing to one user. A nil error means the message was
// accepted by the messaging service.
type Notifier interface {
	SendListing(ctx context.Context, chatID int64, d *model.Detail) error
}

// WatermarkStore persists the delivery watermark.
type WatermarkStore interface {
	SetLastDelivered(ctx context.Context, chatID int64, at time.Time) error
}

// Gate delivers candidates and advances watermarks.
type Gate struct {
	ext           Extractor
	notifier      Notifier
	store         WatermarkStore
	detailTimeout time.Duration
	log           *slog.Logger
	now           func() time.Time
}

// New creates a Gate. detailTimeout bounds each detail fetch.
func New(ext Extractor, notifier Notifier, store WatermarkStore, detailTimeout time.Duration, log *slog.Logger) *Gate {
	return &Gate{
		ext:           ext,
		notifier:      notifier,
		store:         store,
		detailTimeout: detailTimeout,
		log:           log,
		now:           time.Now,
	}
}

// SetClock overrides the clock used for watermark writes (useful for testing).
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// Threshold returns the watermark of a session.
func (g *Gate) Threshold(u model.User) time.Time {
	return u.Threshold()
}

// Deliver sends candidates in order and returns how many were delivered. A
// failed item is logged and skipped. Only a fatal driver error stops delivery
// and is returned.
func (g *Gate) Deliver(ctx context.Context, d render.Driver, u model.User, threshold time.Time, cands []scanner.Candidate) (int, error) {
	log := g.log.With("chat_id", u.ChatID)
	delivered := 0

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		detail, err := g.fetch(ctx, d, c.Link)
		if err != nil {
			if errors.Is(err, render.ErrFatal) {
				return delivered, err
			}
			metrics.RecordDelivery("detail_error")
			log.Warn("listing detail not fetched, skipping", "link", c.Link, "error", err)
			continue
		}

		if err := g.notifier.SendListing(ctx, u.ChatID, detail); err != nil {
			metrics.RecordDelivery("send_error")
			log.Warn("listing not delivered, skipping", "link", c.Link, "error", err)
			continue
		}
		metrics.RecordDelivery("sent")
		delivered++

		candidate := threshold
		if c.PublishedAt.After(candidate) {
			candidate = c.PublishedAt
		}
		if !candidate.After(u.LastDeliveredAt) {
			continue
		}
		// The wall clock rather than the publish time keeps the watermark
		// monotonic when publish times are out of order.
		if err := g.store.SetLastDelivered(ctx, u.ChatID, g.now()); err != nil {
			log.Error("watermark not saved", "link", c.Link, "error", err)
		}
	}

	if delivered > 0 {
		log.Info("listings delivered", "delivered", delivered, "candidates", len(cands))
	}
	return delivered, nil
}

func (g *Gate) fetch(ctx context.Context, d render.Driver, link string) (*model.Detail, error) {
	if g.detailTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.detailTimeout)
		defer cancel()
	}
	detail, err := g.ext.FetchDetail(ctx, d, link)
	if err != nil {
		return nil, fmt.Errorf("fetch detail: %w", err)
	}
	if detail.Link == "" {
		detail.Link = link
	}
	return detail, nil
}
