// Package scanner runs one user's scan session: it pages through the user's
// filtered result list and collects the listings published after the user's
// watermark.
//
// Result pages pin promoted listings (higher tiers) above the chronological
// ones. Each tier is time-ordered within itself, so a tier is done once one of
// its listings is at or below the watermark. The chronological tier is ordered
// across pages as well: its first stale listing ends the whole session.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"

	"listing_bot/internal/metrics"
	"listing_bot/internal/model"
	"listing_bot/internal/render"
)

// ErrSessionAborted is returned when a result page could not be fetched after
// all retries. Only the current user's session is lost.
var ErrSessionAborted = errors.New("scan session aborted")

// Extractor reads the listings of a result page.
type Extractor interface {
	ListItems(p *render.Page) ([]model.Listing, error)
}

// Options bounds a session.
type Options struct {
	// MaxPages caps the pages fetched per session.
	MaxPages int
	// PageTimeout bounds a single page fetch attempt.
	PageTimeout time.Duration
	// Retries is the number of extra attempts per page.
	Retries uint64
	// RetryBase is the first backoff delay; later delays double.
	RetryBase time.Duration
}

// DefaultOptions are the session bounds used when nothing is configured.
var DefaultOptions = Options{
	MaxPages:    20,
	PageTimeout: 45 * time.Second,
	Retries:     3,
	RetryBase:   2 * time.Second,
}

// Candidate is a listing published after the watermark.
type Candidate struct {
	Link        string
	Tier        model.Tier
	PublishedAt time.Time
}

// Scanner runs scan sessions.
type Scanner struct {
	ext      Extractor
	opts     Options
	validate *validator.Validate
	log      *slog.Logger
}

// New creates a Scanner.
func New(ext Extractor, opts Options, log *slog.Logger) *Scanner {
	return &Scanner{
		ext:      ext,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Scan pages through the user's results with d and returns the candidates in
// discovery order. On error no candidates are returned: delivering part of a
// session would move the watermark past listings on the pages not yet read.
func (s *Scanner) Scan(ctx context.Context, d render.Driver, user model.User, threshold time.Time) ([]Candidate, error) {
	log := s.log.With("chat_id", user.ChatID)
	sess := newSession(threshold)

	for page := 1; ; page++ {
		if s.opts.MaxPages > 0 && page > s.opts.MaxPages {
			log.Warn("page limit reached, stopping", "max_pages", s.opts.MaxPages)
			break
		}

		pageURL, err := PageURL(user.FilterURL, page)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSessionAborted, err)
		}

		p, err := s.open(ctx, d, pageURL)
		if err != nil {
			if errors.Is(err, render.ErrFatal) || ctx.Err() != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: page %d: %w", ErrSessionAborted, page, err)
		}

		items, err := s.ext.ListItems(p)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrSessionAborted, page, err)
		}
		if len(items) == 0 {
			log.Debug("empty page, stopping", "page", page)
			break
		}

		if sess.process(items, s.valid(log, page)) {
			log.Debug("stale chronological listing, stopping", "page", page)
			break
		}

		if page == 1 {
			sess.resolveAbsent()
		}
		if sess.complete() && len(sess.pending) == 0 {
			log.Debug("all tiers resolved, stopping", "page", page)
			break
		}
		if !d.HasNextPage(p) {
			log.Debug("no next page, stopping", "page", page)
			break
		}
	}

	log.Info("scan finished", "candidates", len(sess.pending))
	return sess.pending, nil
}

// valid returns a filter that drops malformed listings with a warning.
func (s *Scanner) valid(log *slog.Logger, page int) func(model.Listing) bool {
	return func(l model.Listing) bool {
		if err := s.validate.Struct(l); err != nil {
			log.Warn("skipping malformed listing", "page", page, "link", l.Link, "error", err)
			return false
		}
		return true
	}
}

func (s *Scanner) open(ctx context.Context, d render.Driver, pageURL string) (*render.Page, error) {
	backoff := retry.WithMaxRetries(s.opts.Retries,
		retry.WithJitterPercent(25, retry.NewExponential(s.opts.RetryBase)))

	var page *render.Page
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		fetchCtx := ctx
		if s.opts.PageTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, s.opts.PageTimeout)
			defer cancel()
		}

		p, err := d.Open(fetchCtx, pageURL)
		if err != nil {
			if errors.Is(err, render.ErrFatal) || ctx.Err() != nil {
				metrics.RecordPage("fatal")
				return err
			}
			metrics.RecordPage("error")
			s.log.Warn("page fetch failed", "url", pageURL, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		metrics.RecordPage("ok")
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// PageURL sets the page query parameter of a filter URL. Page 1 keeps the URL
// as saved unless it already names a page.
func PageURL(filterURL string, page int) (string, error) {
	u, err := url.Parse(filterURL)
	if err != nil {
		return "", fmt.Errorf("parse filter url: %w", err)
	}
	q := u.Query()
	if page == 1 && !q.Has("page") {
		return u.String(), nil
	}
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
