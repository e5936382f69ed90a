package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"listing_bot/internal/model"
	"listing_bot/internal/storage"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

var testPolicy = Policy{
	Term:          30 * 24 * time.Hour,
	TrialDuration: 48 * time.Hour,
	InactivityTTL: 36 * 24 * time.Hour,
}

func newTestController(t *testing.T) (*Controller, *storage.SQLite, *clock) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	c := &clock{t: time.Unix(1_700_000_000, 0).UTC()}
	store.SetClock(c.now)

	ctrl := New(store, testPolicy, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctrl.SetClock(c.now)
	return ctrl, store, c
}

func TestStartRequiresPayment(t *testing.T) {
	ctx := context.Background()
	ctrl, _, _ := newTestController(t)

	if err := ctrl.Start(ctx, 1); !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("Start without subscription error = %v, want ErrPaymentRequired", err)
	}

	if _, err := ctrl.ExtendOnPayment(ctx, 1, model.StatusStopped); err != nil {
		t.Fatalf("extend: %v", err)
	}
	for range 2 {
		if err := ctrl.Start(ctx, 1); err != nil {
			t.Fatalf("Start with subscription: %v", err)
		}
	}
	p, err := ctrl.Profile(ctx, 1)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Status != model.StatusRunning {
		t.Errorf("status = %q, want running", p.Status)
	}
}

func TestStopKeepsSubscription(t *testing.T) {
	ctx := context.Background()
	ctrl, store, c := newTestController(t)

	end, err := ctrl.ExtendOnPayment(ctx, 1, model.StatusRunning)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if err := ctrl.Stop(ctx, 1); err != nil {
		t.Fatalf("stop: %v", err)
	}

	u, err := store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != model.StatusStopped {
		t.Errorf("status = %q, want stopped", u.Status)
	}
	if !u.SubscriptionEnd.Equal(end) {
		t.Errorf("SubscriptionEnd = %v, want %v", u.SubscriptionEnd, end)
	}
	if want := c.t.Add(testPolicy.InactivityTTL); !u.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", u.ExpiresAt, want)
	}

	// Stopping an unknown user creates a stopped record.
	if err := ctrl.Stop(ctx, 2); err != nil {
		t.Fatalf("stop unknown: %v", err)
	}
}

func TestGrantTrial(t *testing.T) {
	ctx := context.Background()
	ctrl, store, c := newTestController(t)

	end, err := ctrl.GrantTrial(ctx, 1)
	if err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if want := c.t.Add(testPolicy.TrialDuration); !end.Equal(want) {
		t.Errorf("trial end = %v, want %v", end, want)
	}

	c.t = c.t.Add(time.Hour)
	if _, err := ctrl.GrantTrial(ctx, 1); !errors.Is(err, ErrTrialAlreadyUsed) {
		t.Fatalf("second trial error = %v, want ErrTrialAlreadyUsed", err)
	}

	u, err := store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	want := &model.User{
		ChatID:          1,
		Status:          model.StatusRunning,
		SubscriptionEnd: end,
		TrialUsed:       true,
		ExpiresAt:       end.Add(-testPolicy.TrialDuration).Add(testPolicy.InactivityTTL),
	}
	if diff := cmp.Diff(want, u); diff != "" {
		t.Errorf("user after trial mismatch (-want +got):\n%s", diff)
	}
}

func TestGrantTrialWhilePaid(t *testing.T) {
	ctx := context.Background()
	ctrl, _, _ := newTestController(t)

	if _, err := ctrl.ExtendOnPayment(ctx, 1, model.StatusRunning); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if _, err := ctrl.GrantTrial(ctx, 1); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("trial during paid term error = %v, want ErrAlreadyActive", err)
	}
}

func TestTrialSurvivesPurge(t *testing.T) {
	ctx := context.Background()
	ctrl, _, c := newTestController(t)

	if _, err := ctrl.GrantTrial(ctx, 1); err != nil {
		t.Fatalf("trial: %v", err)
	}

	// Past the user record's inactivity window but within the flag's.
	c.t = c.t.Add(testPolicy.InactivityTTL + time.Hour)
	n, err := ctrl.Purge(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}

	p, err := ctrl.Profile(ctx, 1)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !p.TrialUsed {
		t.Error("trial eligibility was reset by the purge")
	}
	if _, err := ctrl.GrantTrial(ctx, 1); !errors.Is(err, ErrTrialAlreadyUsed) {
		t.Errorf("trial after purge error = %v, want ErrTrialAlreadyUsed", err)
	}
}

func TestExtendOnPayment(t *testing.T) {
	tests := []struct {
		name    string
		initial time.Duration // subscription end relative to now; 0 means none
		want    time.Duration // new end relative to now
	}{
		{name: "no subscription", initial: 0, want: testPolicy.Term},
		{name: "active stacks", initial: 10 * 24 * time.Hour, want: 10*24*time.Hour + testPolicy.Term},
		{name: "expired restarts", initial: -time.Hour, want: testPolicy.Term},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ctrl, store, c := newTestController(t)

			if tt.initial != 0 {
				end := c.t.Add(tt.initial)
				if err := store.SetSubscription(ctx, 1, model.StatusRunning, end, c.t.Add(time.Hour)); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			got, err := ctrl.ExtendOnPayment(ctx, 1, model.StatusRunning)
			if err != nil {
				t.Fatalf("extend: %v", err)
			}
			if diff := cmp.Diff(c.t.Add(tt.want), got); diff != "" {
				t.Errorf("new end mismatch (-want +got):\n%s", diff)
			}

			u, err := store.GetUser(ctx, 1)
			if err != nil {
				t.Fatalf("get user: %v", err)
			}
			if !u.SubscriptionEnd.Equal(got) || u.Status != model.StatusRunning {
				t.Errorf("stored user = %+v, want end %v running", u, got)
			}
			wantExpires := c.t.Add(testPolicy.InactivityTTL)
			if got.After(wantExpires) {
				wantExpires = got
			}
			if !u.ExpiresAt.Equal(wantExpires) {
				t.Errorf("ExpiresAt = %v, want %v", u.ExpiresAt, wantExpires)
			}
		})
	}
}

func TestExtendOnPaymentRejectsUnknownStatus(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	if _, err := ctrl.ExtendOnPayment(context.Background(), 1, model.Status("paused")); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestActiveUsers(t *testing.T) {
	ctx := context.Background()
	ctrl, store, c := newTestController(t)
	far := c.t.Add(90 * 24 * time.Hour)

	// 1: running, paid, filters set.
	must(t, store.SetSubscription(ctx, 1, model.StatusRunning, c.t.Add(time.Hour), far))
	must(t, store.SetFilter(ctx, 1, "https://example.com/1", c.t, far))
	// 2: running flag but subscription already over.
	must(t, store.SetSubscription(ctx, 2, model.StatusRunning, c.t.Add(-time.Minute), far))
	must(t, store.SetFilter(ctx, 2, "https://example.com/2", c.t, far))
	// 3: running and paid, no filters.
	must(t, store.SetSubscription(ctx, 3, model.StatusRunning, c.t.Add(time.Hour), far))
	// 4: stopped with a paid subscription.
	must(t, store.SetSubscription(ctx, 4, model.StatusStopped, c.t.Add(time.Hour), far))
	must(t, store.SetFilter(ctx, 4, "https://example.com/4", c.t, far))

	users, err := ctrl.ActiveUsers(ctx)
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	var ids []int64
	for _, u := range users {
		ids = append(ids, u.ChatID)
	}
	if diff := cmp.Diff([]int64{1}, ids); diff != "" {
		t.Errorf("active ids mismatch (-want +got):\n%s", diff)
	}

	// User 2 is demoted on read only; the stored flag is untouched.
	u, err := store.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != model.StatusRunning {
		t.Errorf("stored status of expired user = %q, want running", u.Status)
	}
	p, err := ctrl.Profile(ctx, 2)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Status != model.StatusStopped {
		t.Errorf("effective status of expired user = %q, want stopped", p.Status)
	}
}

func TestSaveFilters(t *testing.T) {
	ctx := context.Background()
	ctrl, store, c := newTestController(t)

	for _, bad := range []string{"", "not a url", "ftp://example.com/x", "/relative/path"} {
		if err := ctrl.SaveFilters(ctx, 1, bad); !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("SaveFilters(%q) error = %v, want ErrInvalidFilter", bad, err)
		}
	}

	must(t, store.SetSubscription(ctx, 1, model.StatusRunning, c.t.Add(time.Hour), c.t.Add(time.Hour)))
	must(t, store.SetLastDelivered(ctx, 1, c.t.Add(-time.Hour)))

	c.t = c.t.Add(time.Minute)
	if err := ctrl.SaveFilters(ctx, 1, "https://www.myhome.ge/s/?deal_types=2"); err != nil {
		t.Fatalf("save filters: %v", err)
	}
	u, err := store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.FilterURL != "https://www.myhome.ge/s/?deal_types=2" {
		t.Errorf("FilterURL = %q", u.FilterURL)
	}
	if !u.Threshold().Equal(c.t) {
		t.Errorf("threshold = %v, want filter save time %v", u.Threshold(), c.t)
	}
	if u.Status != model.StatusRunning {
		t.Errorf("saving filters changed status to %q", u.Status)
	}
}

func TestIsSubscriptionActive(t *testing.T) {
	ctx := context.Background()
	ctrl, _, c := newTestController(t)

	active, err := ctrl.IsSubscriptionActive(ctx, 1)
	if err != nil || active {
		t.Fatalf("unknown user active = %v, err = %v", active, err)
	}

	if _, err := ctrl.GrantTrial(ctx, 1); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if active, _ := ctrl.IsSubscriptionActive(ctx, 1); !active {
		t.Error("expected active subscription during trial")
	}

	c.t = c.t.Add(testPolicy.TrialDuration)
	if active, _ := ctrl.IsSubscriptionActive(ctx, 1); active {
		t.Error("subscription still active at its end time")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
