// Package access owns the subscription and trial state machine and derives the
// set of users eligible for a scan cycle.
//
// Controller is the only writer of status, subscription and trial fields.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"listing_bot/internal/model"
	"listing_bot/internal/storage"
)

// Domain errors returned to the caller, which decides the user-facing message.
var (
	ErrPaymentRequired  = errors.New("payment required")
	ErrAlreadyActive    = errors.New("subscription already active")
	ErrTrialAlreadyUsed = errors.New("trial already used")
	ErrInvalidFilter    = errors.New("invalid filter url")
)

// Policy holds the subscription durations.
type Policy struct {
	Term          time.Duration
	TrialDuration time.Duration
	InactivityTTL time.Duration
}

// DefaultPolicy is a 30-day paid term, a 48-hour trial and a 36-day inactivity window.
var DefaultPolicy = Policy{
	Term:          30 * 24 * time.Hour,
	TrialDuration: 48 * time.Hour,
	InactivityTTL: 36 * 24 * time.Hour,
}

// Controller implements the access operations on top of a Storage.
type Controller struct {
	store  storage.Storage
	policy Policy
	log    *slog.Logger
	now    func() time.Time
}

// New creates a Controller.
func New(store storage.Storage, policy Policy, log *slog.Logger) *Controller {
	return &Controller{
		store:  store,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// SetClock overrides the wall clock (useful for testing).
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// ActiveUsers returns the users to scan this cycle. Users without saved filters
// are logged and skipped.
func (c *Controller) ActiveUsers(ctx context.Context) ([]model.User, error) {
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	now := c.now()
	var active []model.User
	for _, u := range users {
		if u.EffectiveStatus(now) != model.StatusRunning {
			continue
		}
		if !u.HasFilter() {
			c.log.Warn("running user has no filters, skipping", "chat_id", u.ChatID,
				"has_url", u.FilterURL != "", "has_timestamp", !u.FilterSetAt.IsZero())
			continue
		}
		active = append(active, u)
	}
	return active, nil
}

// Profile returns the user's record with the status re-derived at the current time.
func (c *Controller) Profile(ctx context.Context, chatID int64) (*model.User, error) {
	u, err := c.store.GetUser(ctx, chatID)
	if errors.Is(err, model.ErrNotFound) {
		used, terr := c.store.IsTrialUsed(ctx, chatID)
		if terr != nil {
			return nil, terr
		}
		return &model.User{ChatID: chatID, Status: model.StatusStopped, TrialUsed: used}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Status = u.EffectiveStatus(c.now())
	return u, nil
}

// IsSubscriptionActive reports whether the user's subscription end is in the future.
func (c *Controller) IsSubscriptionActive(ctx context.Context, chatID int64) (bool, error) {
	u, err := c.store.GetUser(ctx, chatID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	return u.SubscriptionActive(c.now()), nil
}

// Start resumes monitoring. It returns ErrPaymentRequired when there is no
// active subscription.
func (c *Controller) Start(ctx context.Context, chatID int64) error {
	u, err := c.store.GetUser(ctx, chatID)
	if errors.Is(err, model.ErrNotFound) {
		return ErrPaymentRequired
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	now := c.now()
	if !u.SubscriptionActive(now) {
		return ErrPaymentRequired
	}
	if err := c.store.SetStatus(ctx, chatID, model.StatusRunning, c.expiry(now, u.SubscriptionEnd)); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	c.log.Info("monitoring started", "chat_id", chatID)
	return nil
}

// Stop pauses monitoring and resets the record's inactivity window.
func (c *Controller) Stop(ctx context.Context, chatID int64) error {
	var subEnd time.Time
	u, err := c.store.GetUser(ctx, chatID)
	switch {
	case err == nil:
		subEnd = u.SubscriptionEnd
	case !errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("get user: %w", err)
	}

	expires := c.expiry(c.now(), subEnd)
	if err := c.store.SetStatus(ctx, chatID, model.StatusStopped, expires); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	c.extendTrialFlag(ctx, chatID, expires)
	c.log.Info("monitoring stopped", "chat_id", chatID)
	return nil
}

// GrantTrial activates the one-time free trial and returns its end.
func (c *Controller) GrantTrial(ctx context.Context, chatID int64) (time.Time, error) {
	now := c.now()
	used, err := c.store.IsTrialUsed(ctx, chatID)
	if err != nil {
		return time.Time{}, fmt.Errorf("check trial: %w", err)
	}
	if used {
		return time.Time{}, ErrTrialAlreadyUsed
	}
	active, err := c.IsSubscriptionActive(ctx, chatID)
	if err != nil {
		return time.Time{}, err
	}
	if active {
		return time.Time{}, ErrAlreadyActive
	}

	end := now.Add(c.policy.TrialDuration)
	expires := c.expiry(now, end)
	// The flag goes first: a crash between the writes must not allow a second trial.
	if err := c.store.MarkTrialUsed(ctx, chatID, expires.Add(c.policy.InactivityTTL)); err != nil {
		return time.Time{}, fmt.Errorf("mark trial used: %w", err)
	}
	if err := c.store.SetSubscription(ctx, chatID, model.StatusRunning, end, expires); err != nil {
		return time.Time{}, fmt.Errorf("set subscription: %w", err)
	}
	c.log.Info("trial granted", "chat_id", chatID, "until", end)
	return end, nil
}

// ExtendOnPayment adds one paid term, stacking onto a still-active subscription,
// and returns the new end.
func (c *Controller) ExtendOnPayment(ctx context.Context, chatID int64, status model.Status) (time.Time, error) {
	if status != model.StatusRunning && status != model.StatusStopped {
		return time.Time{}, fmt.Errorf("unknown status %q", status)
	}

	now := c.now()
	var base time.Time
	u, err := c.store.GetUser(ctx, chatID)
	switch {
	case err == nil && u.SubscriptionActive(now):
		base = u.SubscriptionEnd
	case err == nil || errors.Is(err, model.ErrNotFound):
		base = now
	default:
		return time.Time{}, fmt.Errorf("get user: %w", err)
	}

	end := base.Add(c.policy.Term)
	expires := c.expiry(now, end)
	if err := c.store.SetSubscription(ctx, chatID, status, end, expires); err != nil {
		return time.Time{}, fmt.Errorf("set subscription: %w", err)
	}
	c.extendTrialFlag(ctx, chatID, expires)
	c.log.Info("subscription extended", "chat_id", chatID, "status", status, "until", end)
	return end, nil
}

// SaveFilters stores a new filter URL. Anything published before now is treated
// as pre-existing by the next scan.
func (c *Controller) SaveFilters(ctx context.Context, chatID int64, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidFilter
	}

	now := c.now()
	var subEnd time.Time
	existing, err := c.store.GetUser(ctx, chatID)
	switch {
	case err == nil:
		subEnd = existing.SubscriptionEnd
	case !errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("get user: %w", err)
	}

	expires := c.expiry(now, subEnd)
	if err := c.store.SetFilter(ctx, chatID, u.String(), now, expires); err != nil {
		return fmt.Errorf("set filter: %w", err)
	}
	c.extendTrialFlag(ctx, chatID, expires)
	c.log.Info("filters saved", "chat_id", chatID, "host", u.Host)
	return nil
}

// Purge removes expired records and returns how many rows were deleted.
func (c *Controller) Purge(ctx context.Context) (int64, error) {
	n, err := c.store.PurgeExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	return n, nil
}

// expiry keeps the record for the inactivity window, or until the subscription
// ends if that is later.
func (c *Controller) expiry(now, subEnd time.Time) time.Time {
	exp := now.Add(c.policy.InactivityTTL)
	if subEnd.After(exp) {
		return subEnd
	}
	return exp
}

func (c *Controller) extendTrialFlag(ctx context.Context, chatID int64, recordExpiry time.Time) {
	if err := c.store.ExtendTrialFlag(ctx, chatID, recordExpiry.Add(c.policy.InactivityTTL)); err != nil {
		c.log.Warn("extend trial flag", "chat_id", chatID, "error", err)
	}
}
