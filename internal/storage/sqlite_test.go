package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"listing_bot/internal/model"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func newTestDB(t *testing.T) (*SQLite, *clock) {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	c := &clock{t: time.Unix(1_700_000_000, 0).UTC()}
	s.SetClock(c.now)
	return s, c
}

func TestGetUserNotFound(t *testing.T) {
	s, _ := newTestDB(t)
	_, err := s.GetUser(context.Background(), 42)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetUser error = %v, want ErrNotFound", err)
	}
}

func TestUserFieldWrites(t *testing.T) {
	ctx := context.Background()
	s, c := newTestDB(t)
	expires := c.t.Add(30 * 24 * time.Hour)

	if err := s.SetFilter(ctx, 1, "https://example.com/s?deal=rent", c.t, expires); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	if err := s.SetSubscription(ctx, 1, model.StatusRunning, c.t.Add(time.Hour), expires); err != nil {
		t.Fatalf("set subscription: %v", err)
	}

	got, err := s.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	want := &model.User{
		ChatID:          1,
		Status:          model.StatusRunning,
		SubscriptionEnd: c.t.Add(time.Hour),
		FilterURL:       "https://example.com/s?deal=rent",
		FilterSetAt:     c.t,
		ExpiresAt:       expires,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetUser mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetStatus(ctx, 1, model.StatusStopped, expires); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err = s.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Status != model.StatusStopped || got.FilterURL == "" || got.SubscriptionEnd.IsZero() {
		t.Errorf("SetStatus clobbered other fields: %+v", got)
	}
}

func TestExpiredRecordIsInvisibleAndReplaced(t *testing.T) {
	ctx := context.Background()
	s, c := newTestDB(t)

	if err := s.SetFilter(ctx, 7, "https://example.com/a", c.t, c.t.Add(time.Hour)); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	if err := s.SetLastDelivered(ctx, 7, c.t.Add(time.Minute)); err != nil {
		t.Fatalf("set last delivered: %v", err)
	}

	c.t = c.t.Add(2 * time.Hour)

	if _, err := s.GetUser(ctx, 7); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expired record still visible, err = %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("ListUsers returned expired records: %+v", users)
	}

	if err := s.SetStatus(ctx, 7, model.StatusStopped, c.t.Add(time.Hour)); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err := s.GetUser(ctx, 7)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.FilterURL != "" || !got.LastDeliveredAt.IsZero() {
		t.Errorf("expired fields leaked into the new record: %+v", got)
	}
}

func TestSetLastDeliveredIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s, c := newTestDB(t)

	if err := s.SetStatus(ctx, 3, model.StatusStopped, c.t.Add(time.Hour)); err != nil {
		t.Fatalf("set status: %v", err)
	}

	for _, at := range []time.Time{c.t.Add(10 * time.Second), c.t.Add(5 * time.Second)} {
		if err := s.SetLastDelivered(ctx, 3, at); err != nil {
			t.Fatalf("set last delivered: %v", err)
		}
	}

	got, err := s.GetUser(ctx, 3)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if want := c.t.Add(10 * time.Second); !got.LastDeliveredAt.Equal(want) {
		t.Errorf("LastDeliveredAt = %v, want %v", got.LastDeliveredAt, want)
	}

	if err := s.SetLastDelivered(ctx, 999, c.t); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SetLastDelivered on missing user error = %v, want ErrNotFound", err)
	}
}

func TestTrialFlagOutlivesUserRecord(t *testing.T) {
	ctx := context.Background()
	s, c := newTestDB(t)

	if err := s.SetStatus(ctx, 5, model.StatusStopped, c.t.Add(time.Hour)); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := s.MarkTrialUsed(ctx, 5, c.t.Add(3*time.Hour)); err != nil {
		t.Fatalf("mark trial used: %v", err)
	}

	u, err := s.GetUser(ctx, 5)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.TrialUsed {
		t.Error("expected TrialUsed on the user record")
	}

	c.t = c.t.Add(2 * time.Hour)
	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if diff := cmp.Diff(int64(1), n); diff != "" {
		t.Errorf("purged rows mismatch (-want +got):\n%s", diff)
	}

	used, err := s.IsTrialUsed(ctx, 5)
	if err != nil {
		t.Fatalf("is trial used: %v", err)
	}
	if !used {
		t.Error("trial flag was lost together with the user record")
	}
}

func TestExtendTrialFlag(t *testing.T) {
	ctx := context.Background()
	s, c := newTestDB(t)

	// No flag: extending must not create one.
	if err := s.ExtendTrialFlag(ctx, 9, c.t.Add(time.Hour)); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if used, _ := s.IsTrialUsed(ctx, 9); used {
		t.Fatal("ExtendTrialFlag created a flag")
	}

	if err := s.MarkTrialUsed(ctx, 9, c.t.Add(time.Hour)); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.ExtendTrialFlag(ctx, 9, c.t.Add(10*time.Hour)); err != nil {
		t.Fatalf("extend: %v", err)
	}
	// Shorter expiry is ignored.
	if err := s.ExtendTrialFlag(ctx, 9, c.t.Add(2*time.Hour)); err != nil {
		t.Fatalf("extend: %v", err)
	}

	c.t = c.t.Add(5 * time.Hour)
	used, err := s.IsTrialUsed(ctx, 9)
	if err != nil {
		t.Fatalf("is trial used: %v", err)
	}
	if !used {
		t.Error("trial flag expired before the extended deadline")
	}
}
