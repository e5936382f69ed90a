package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"listing_bot/internal/model"
	"listing_bot/migrations"
)

const userColumns = `u.chat_id, u.status, u.subscription_end, u.filter_url, u.filter_set_at,
	u.last_delivered_at, u.expires_at,
	EXISTS(SELECT 1 FROM trial_flags t WHERE t.chat_id = u.chat_id AND t.expires_at > ?)`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// SetClock overrides the clock used to evaluate expiry.
func (s *SQLite) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetUser returns a live user record.
func (s *SQLite) GetUser(ctx context.Context, chatID int64) (*model.User, error) {
	now := s.now().Unix()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.chat_id = ? AND u.expires_at > ?`,
		now, chatID, now,
	)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return u, err
}

// ListUsers returns all live user records ordered by chat ID.
func (s *SQLite) ListUsers(ctx context.Context) ([]model.User, error) {
	now := s.now().Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.expires_at > ? ORDER BY u.chat_id`,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetStatus updates the monitoring status and the record expiry.
func (s *SQLite) SetStatus(ctx context.Context, chatID int64, status model.Status, expiresAt time.Time) error {
	return s.upsert(ctx, chatID, expiresAt, `status = ?`, string(status))
}

// SetSubscription updates the status and subscription end together.
func (s *SQLite) SetSubscription(ctx context.Context, chatID int64, status model.Status, end, expiresAt time.Time) error {
	return s.upsert(ctx, chatID, expiresAt, `status = ?, subscription_end = ?`, string(status), toUnix(end))
}

// SetFilter stores the filter URL and the time it was saved.
func (s *SQLite) SetFilter(ctx context.Context, chatID int64, url string, setAt, expiresAt time.Time) error {
	return s.upsert(ctx, chatID, expiresAt, `filter_url = ?, filter_set_at = ?`, url, toUnix(setAt))
}

// SetLastDelivered advances the delivery watermark of a live record.
func (s *SQLite) SetLastDelivered(ctx context.Context, chatID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_delivered_at = MAX(last_delivered_at, ?)
		 WHERE chat_id = ? AND expires_at > ?`,
		toUnix(at), chatID, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update last delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// MarkTrialUsed records that the trial was granted.
func (s *SQLite) MarkTrialUsed(ctx context.Context, chatID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trial_flags (chat_id, expires_at) VALUES (?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET expires_at = MAX(trial_flags.expires_at, excluded.expires_at)`,
		chatID, expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark trial used: %w", err)
	}
	return nil
}

// ExtendTrialFlag extends a live trial flag. Missing or expired flags are left alone.
func (s *SQLite) ExtendTrialFlag(ctx context.Context, chatID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trial_flags SET expires_at = ?
		 WHERE chat_id = ? AND expires_at > ? AND expires_at < ?`,
		expiresAt.Unix(), chatID, s.now().Unix(), expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("extend trial flag: %w", err)
	}
	return nil
}

// IsTrialUsed reports whether a live trial flag exists.
func (s *SQLite) IsTrialUsed(ctx context.Context, chatID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trial_flags WHERE chat_id = ? AND expires_at > ?`,
		chatID, s.now().Unix(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check trial flag: %w", err)
	}
	return count > 0, nil
}

// PurgeExpired deletes expired user records and trial flags.
func (s *SQLite) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now().Unix()
	var total int64
	for _, q := range []string{
		`DELETE FROM users WHERE expires_at <= ?`,
		`DELETE FROM trial_flags WHERE expires_at <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, now)
		if err != nil {
			return total, fmt.Errorf("purge expired: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// upsert applies set to the user's record, replacing an expired record with a
// fresh one first. set must be a constant SQL fragment.
func (s *SQLite) upsert(ctx context.Context, chatID int64, expiresAt time.Time, set string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM users WHERE chat_id = ? AND expires_at <= ?`, chatID, s.now().Unix(),
	); err != nil {
		return fmt.Errorf("drop expired user: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (chat_id, expires_at) VALUES (?, ?)`, chatID, expiresAt.Unix(),
	); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	args = append(args, expiresAt.Unix(), chatID)
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET `+set+`, expires_at = ? WHERE chat_id = ?`, args...,
	); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return tx.Commit()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var status string
	var subEnd, filterSetAt, lastDelivered, expiresAt int64
	var trialUsed int
	err := row.Scan(&u.ChatID, &status, &subEnd, &u.FilterURL, &filterSetAt, &lastDelivered, &expiresAt, &trialUsed)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Status = model.Status(status)
	u.SubscriptionEnd = fromUnix(subEnd)
	u.FilterSetAt = fromUnix(filterSetAt)
	u.LastDeliveredAt = fromUnix(lastDelivered)
	u.ExpiresAt = fromUnix(expiresAt)
	u.TrialUsed = trialUsed == 1
	return &u, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
